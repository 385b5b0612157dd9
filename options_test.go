package pyre

import "testing"

func TestOptionsMergeKeepsExisting(t *testing.T) {
	o := NewOptions()
	o.Merge(OptionList{"exposure": float32(1.5), "enable": true})
	o.Merge(OptionList{"exposure": float32(9), "samples": uint32(4)})

	if got := GetOption[float32](o, "exposure"); got != 1.5 {
		t.Errorf("exposure = %v, want 1.5", got)
	}
	if got := GetOption[uint32](o, "samples"); got != 4 {
		t.Errorf("samples = %v, want 4", got)
	}
	if o.Len() != 3 {
		t.Errorf("Len() = %d, want 3", o.Len())
	}
}

func TestOptionsSetGet(t *testing.T) {
	o := NewOptions()
	o.Merge(OptionList{"tonemap_exposure": float32(0)})

	SetOption(o, "tonemap_exposure", float32(1.5))
	if got := GetOption[float32](o, "tonemap_exposure"); got != 1.5 {
		t.Errorf("tonemap_exposure = %v, want 1.5", got)
	}
}

func TestOptionsTypeMismatchReadsZero(t *testing.T) {
	o := NewOptions()
	o.Merge(OptionList{"enable": true})

	// Reading a bool as float32 must yield the zero value and leave the
	// stored option untouched.
	if got := GetOption[float32](o, "enable"); got != 0 {
		t.Errorf("GetOption[float32] = %v, want 0", got)
	}
	if got := GetOption[bool](o, "enable"); got != true {
		t.Errorf("option mutated by mistyped read: got %v, want true", got)
	}
}

func TestOptionsTypeMismatchWriteRejected(t *testing.T) {
	o := NewOptions()
	o.Merge(OptionList{"enable": true})

	SetOption(o, "enable", float32(2))
	if got := GetOption[bool](o, "enable"); got != true {
		t.Errorf("mistyped write changed option: got %v, want true", got)
	}
}

func TestOptionsUnknownReadsZero(t *testing.T) {
	o := NewOptions()
	if got := GetOption[uint32](o, "missing"); got != 0 {
		t.Errorf("GetOption on unknown = %v, want 0", got)
	}
	if HasOption[uint32](o, "missing") {
		t.Error("HasOption reported unknown option")
	}
}

func TestOptionsOverride(t *testing.T) {
	o := NewOptions()
	o.Merge(OptionList{"operator": uint32(0), "blend": float32(0.9)})

	o.Override(OptionList{
		"operator": uint32(1),  // valid
		"blend":    true,       // type mismatch, skipped
		"unknown":  float32(2), // unknown name, skipped
	})

	if got := GetOption[uint32](o, "operator"); got != 1 {
		t.Errorf("operator = %v, want 1", got)
	}
	if got := GetOption[float32](o, "blend"); got != 0.9 {
		t.Errorf("blend = %v, want 0.9", got)
	}
	if o.Has("unknown") {
		t.Error("Override created an option for an unknown name")
	}
}

func TestOptionsNamesSorted(t *testing.T) {
	o := NewOptions()
	o.Merge(OptionList{"b": true, "a": true, "c": true})

	names := o.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestOptionsFrameSnapshot(t *testing.T) {
	o := NewOptions()
	o.Merge(OptionList{"exposure": float32(1)})

	o.beginFrame()
	SetOption(o, "exposure", float32(2))
	if got := GetOption[float32](o, "exposure"); got != 1 {
		t.Errorf("mid-frame read = %v, want frozen 1", got)
	}
	SetOption(o, "bloom", true)
	if o.Has("bloom") {
		t.Error("mid-frame write visible before the frame boundary")
	}
	o.endFrame()

	if got := GetOption[float32](o, "exposure"); got != 2 {
		t.Errorf("post-frame read = %v, want 2", got)
	}
	if !o.Has("bloom") {
		t.Error("option created mid-frame missing after the frame boundary")
	}
}
