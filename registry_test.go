package pyre

import (
	"errors"
	"fmt"
	"testing"
)

// testComponent is a minimal component with configurable dependencies.
type testComponent struct {
	ComponentBase
	name string
	deps []string
}

func (c *testComponent) Name() string         { return c.name }
func (c *testComponent) Components() []string { return c.deps }

// testTechnique is a minimal technique with configurable declarations.
type testTechnique struct {
	TechniqueBase
	name     string
	deps     []string
	options  OptionList
	textures []SharedTexture
	buffers  []SharedBuffer
	views    []string

	initErr    error
	initCalls  int
	renderqty  int
	termCalls  int
	renderHook func(*Engine)
}

func (t *testTechnique) Name() string                    { return t.name }
func (t *testTechnique) Components() []string            { return t.deps }
func (t *testTechnique) RenderOptions() OptionList       { return t.options }
func (t *testTechnique) SharedTextures() []SharedTexture { return t.textures }
func (t *testTechnique) SharedBuffers() []SharedBuffer   { return t.buffers }
func (t *testTechnique) DebugViews() []string            { return t.views }

func (t *testTechnique) Init(*Engine) error {
	t.initCalls++
	return t.initErr
}

func (t *testTechnique) Render(eng *Engine) {
	t.renderqty++
	if t.renderHook != nil {
		t.renderHook(eng)
	}
}

func (t *testTechnique) Terminate(*Engine) { t.termCalls++ }

var componentSeq int

// registerTestComponent registers a uniquely named component and
// returns its name. Registrations are process-global, so each test
// component gets a fresh name.
func registerTestComponent(deps ...string) string {
	componentSeq++
	name := fmt.Sprintf("test-component-%d", componentSeq)
	RegisterComponent(name, func() Component {
		return &testComponent{name: name, deps: deps}
	})
	return name
}

func TestRegisterComponentDuplicatePanics(t *testing.T) {
	name := registerTestComponent()
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	RegisterComponent(name, func() Component { return &testComponent{name: name} })
}

func TestResolveComponentsOrder(t *testing.T) {
	leaf := registerTestComponent()
	mid := registerTestComponent(leaf)
	top := registerTestComponent(mid, leaf)

	comps, err := resolveComponents([]Technique{
		&testTechnique{name: "t", deps: []string{top}},
	})
	if err != nil {
		t.Fatalf("resolveComponents: %v", err)
	}
	if len(comps) != 3 {
		t.Fatalf("resolved %d components, want 3", len(comps))
	}
	pos := make(map[string]int)
	for i, c := range comps {
		pos[c.Name()] = i
	}
	if pos[leaf] > pos[mid] || pos[mid] > pos[top] {
		t.Errorf("dependency order violated: %v", pos)
	}
}

func TestResolveComponentsDeduplicates(t *testing.T) {
	shared := registerTestComponent()
	a := registerTestComponent(shared)
	b := registerTestComponent(shared)

	comps, err := resolveComponents([]Technique{
		&testTechnique{name: "t1", deps: []string{a}},
		&testTechnique{name: "t2", deps: []string{b, shared}},
	})
	if err != nil {
		t.Fatalf("resolveComponents: %v", err)
	}
	seen := make(map[string]int)
	for _, c := range comps {
		seen[c.Name()]++
	}
	if seen[shared] != 1 {
		t.Errorf("shared component resolved %d times, want 1", seen[shared])
	}
}

func TestResolveComponentsCycle(t *testing.T) {
	// Manual registration to create a genuine cycle a -> b -> a.
	componentSeq++
	a := fmt.Sprintf("test-component-%d", componentSeq)
	componentSeq++
	b := fmt.Sprintf("test-component-%d", componentSeq)
	RegisterComponent(a, func() Component { return &testComponent{name: a, deps: []string{b}} })
	RegisterComponent(b, func() Component { return &testComponent{name: b, deps: []string{a}} })

	_, err := resolveComponents([]Technique{
		&testTechnique{name: "t", deps: []string{a}},
	})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("err = %v, want ErrCyclicDependency", err)
	}
}

func TestResolveComponentsUnknown(t *testing.T) {
	_, err := resolveComponents([]Technique{
		&testTechnique{name: "t", deps: []string{"no-such-component"}},
	})
	if !errors.Is(err, ErrUnknownComponent) {
		t.Errorf("err = %v, want ErrUnknownComponent", err)
	}
}

func TestNewRendererUnknown(t *testing.T) {
	_, err := newRenderer("no-such-renderer")
	if !errors.Is(err, ErrUnknownRenderer) {
		t.Errorf("err = %v, want ErrUnknownRenderer", err)
	}
}

func TestTechniqueRegistry(t *testing.T) {
	RegisterTechnique("test-technique", func() Technique {
		return &testTechnique{name: "test-technique"}
	})

	tech, err := NewTechnique("test-technique")
	if err != nil {
		t.Fatalf("NewTechnique() error = %v", err)
	}
	if got := tech.Name(); got != "test-technique" {
		t.Errorf("Name() = %q, want %q", got, "test-technique")
	}

	if _, err := NewTechnique("no-such-technique"); !errors.Is(err, ErrUnknownTechnique) {
		t.Errorf("err = %v, want ErrUnknownTechnique", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	RegisterTechnique("test-technique", func() Technique { return nil })
}
