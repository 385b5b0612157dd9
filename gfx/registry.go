package gfx

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new backend device instance.
type Factory func() (Device, error)

// registry holds registered backend factories.
var registry = struct {
	sync.RWMutex
	factories map[string]Factory
	priority  []string // Order of preference for default selection.
}{
	factories: make(map[string]Factory),
	priority:  []string{"wgpu", "null"},
}

// Register adds a backend factory to the registry.
// It panics if a factory with the same name is already registered.
// Backend packages call this in their init function.
func Register(name string, factory Factory) {
	registry.Lock()
	defer registry.Unlock()

	if _, exists := registry.factories[name]; exists {
		panic(fmt.Sprintf("gfx: backend %q already registered", name))
	}
	registry.factories[name] = factory
}

// Get creates a device by backend name.
// Returns ErrBackendNotAvailable if the backend is not registered.
func Get(name string) (Device, error) {
	registry.RLock()
	factory, ok := registry.factories[name]
	registry.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, List())
	}
	return factory()
}

// Default creates the highest-priority available backend device.
func Default() (Device, error) {
	registry.RLock()
	defer registry.RUnlock()

	for _, name := range registry.priority {
		if factory, ok := registry.factories[name]; ok {
			dev, err := factory()
			if err != nil {
				continue
			}
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: no backend registered", ErrBackendNotAvailable)
}

// MustDefault creates the default backend device or panics.
func MustDefault() Device {
	dev, err := Default()
	if err != nil {
		panic(err)
	}
	return dev
}

// List returns the names of all registered backends, sorted.
func List() []string {
	registry.RLock()
	defer registry.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
