package gfx

import (
	"errors"
	"slices"
	"testing"
)

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("dup-backend", func() (Device, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	Register("dup-backend", func() (Device, error) { return nil, nil })
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("no-such-backend")
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Get() error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestDefaultPrefersWGPU(t *testing.T) {
	wgpuErr := errors.New("no adapter")
	wgpuCalls := 0
	Register("wgpu", func() (Device, error) {
		wgpuCalls++
		return nil, wgpuErr
	})
	nullCalls := 0
	Register("null", func() (Device, error) {
		nullCalls++
		return nil, nil
	})

	// The wgpu factory fails, so Default falls through to null.
	if _, err := Default(); err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if wgpuCalls != 1 {
		t.Errorf("wgpu factory calls = %d, want 1", wgpuCalls)
	}
	if nullCalls != 1 {
		t.Errorf("null factory calls = %d, want 1", nullCalls)
	}
}

func TestListSorted(t *testing.T) {
	Register("backend-b", func() (Device, error) { return nil, nil })
	Register("backend-a", func() (Device, error) { return nil, nil })

	names := List()
	if !slices.IsSorted(names) {
		t.Errorf("List() = %v, want sorted", names)
	}
	for _, want := range []string{"backend-a", "backend-b"} {
		if !slices.Contains(names, want) {
			t.Errorf("List() = %v, missing %q", names, want)
		}
	}
}
