package pyre

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry errors.
var (
	// ErrUnknownRenderer is returned when no renderer is registered
	// under the requested name.
	ErrUnknownRenderer = errors.New("pyre: unknown renderer")

	// ErrUnknownComponent is returned when a technique or component
	// depends on a component name that is not registered.
	ErrUnknownComponent = errors.New("pyre: unknown component")

	// ErrCyclicDependency is returned when component dependencies
	// form a cycle.
	ErrCyclicDependency = errors.New("pyre: cyclic component dependency")

	// ErrUnknownTechnique is returned by NewTechnique for a name with
	// no registered factory.
	ErrUnknownTechnique = errors.New("pyre: unknown technique")
)

// RendererFactory creates a new renderer instance.
type RendererFactory func() Renderer

// ComponentFactory creates a new component instance.
type ComponentFactory func() Component

// TechniqueFactory creates a new technique instance.
type TechniqueFactory func() Technique

var renderers = struct {
	sync.RWMutex
	factories map[string]RendererFactory
}{factories: make(map[string]RendererFactory)}

var components = struct {
	sync.RWMutex
	factories map[string]ComponentFactory
}{factories: make(map[string]ComponentFactory)}

var techniques = struct {
	sync.RWMutex
	factories map[string]TechniqueFactory
}{factories: make(map[string]TechniqueFactory)}

// RegisterRenderer adds a renderer factory under the given name.
// It panics if the name is already taken. Renderer packages call this
// in their init function; applications activate a renderer with
// Engine.SetRenderer.
func RegisterRenderer(name string, factory RendererFactory) {
	renderers.Lock()
	defer renderers.Unlock()

	if _, exists := renderers.factories[name]; exists {
		panic(fmt.Sprintf("pyre: renderer %q already registered", name))
	}
	renderers.factories[name] = factory
}

// RegisterComponent adds a component factory. It panics if the
// component's name is already taken. Component packages call this in
// their init function; instances are constructed on demand when a
// technique or another component names them as a dependency.
func RegisterComponent(name string, factory ComponentFactory) {
	components.Lock()
	defer components.Unlock()

	if _, exists := components.factories[name]; exists {
		panic(fmt.Sprintf("pyre: component %q already registered", name))
	}
	components.factories[name] = factory
}

// RegisterTechnique adds a technique factory. It panics if the
// technique's name is already taken. Technique packages call this in
// their init function; renderers construct instances with NewTechnique.
func RegisterTechnique(name string, factory TechniqueFactory) {
	techniques.Lock()
	defer techniques.Unlock()

	if _, exists := techniques.factories[name]; exists {
		panic(fmt.Sprintf("pyre: technique %q already registered", name))
	}
	techniques.factories[name] = factory
}

// NewTechnique constructs a registered technique by name.
func NewTechnique(name string) (Technique, error) {
	techniques.RLock()
	factory, ok := techniques.factories[name]
	techniques.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownTechnique, name, Techniques())
	}
	return factory(), nil
}

// Renderers returns the names of all registered renderers, sorted.
func Renderers() []string {
	renderers.RLock()
	defer renderers.RUnlock()

	names := make([]string, 0, len(renderers.factories))
	for name := range renderers.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Components returns the names of all registered components, sorted.
func Components() []string {
	components.RLock()
	defer components.RUnlock()

	names := make([]string, 0, len(components.factories))
	for name := range components.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Techniques returns the names of all registered techniques, sorted.
func Techniques() []string {
	techniques.RLock()
	defer techniques.RUnlock()

	names := make([]string, 0, len(techniques.factories))
	for name := range techniques.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newRenderer(name string) (Renderer, error) {
	renderers.RLock()
	factory, ok := renderers.factories[name]
	renderers.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownRenderer, name, Renderers())
	}
	return factory(), nil
}

func newComponent(name string) (Component, error) {
	components.RLock()
	factory, ok := components.factories[name]
	components.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownComponent, name, Components())
	}
	return factory(), nil
}

// resolveComponents builds the full, deduplicated component list for a
// set of techniques. Dependencies are resolved transitively and the
// result is ordered so that every component appears after the
// components it depends on.
func resolveComponents(techniques []Technique) ([]Component, error) {
	resolved := make(map[string]Component)
	var order []Component

	// visiting tracks the current DFS path for cycle detection.
	visiting := make(map[string]bool)

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		if _, done := resolved[name]; done {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("%w: %v", ErrCyclicDependency, append(path, name))
		}

		comp, err := newComponent(name)
		if err != nil {
			return err
		}

		visiting[name] = true
		for _, dep := range comp.Components() {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		visiting[name] = false

		resolved[name] = comp
		order = append(order, comp)
		return nil
	}

	for _, tech := range techniques {
		for _, name := range tech.Components() {
			if err := visit(name, nil); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}
