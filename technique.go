package pyre

// Technique is a single stage of a renderer's frame pipeline. Techniques
// declare the options, components, and shared resources they need; the
// engine merges the declarations of all active techniques, allocates the
// shared resources, and then calls Render once per frame in pipeline
// order.
//
// Lifecycle: RenderOptions/Components/SharedTextures/SharedBuffers/
// DebugViews are read once when the technique becomes active, then Init,
// then Render every frame, then Terminate. A technique whose Init fails
// is excluded from the frame loop but still receives Terminate.
type Technique interface {
	// Name returns the technique's unique display name, used as its
	// timing scope and in logs.
	Name() string

	// RenderOptions returns the options the technique exposes with
	// their default values.
	RenderOptions() OptionList

	// Components returns the names of components the technique depends on.
	Components() []string

	// SharedTextures returns the technique's texture declarations.
	SharedTextures() []SharedTexture

	// SharedBuffers returns the technique's buffer declarations.
	SharedBuffers() []SharedBuffer

	// DebugViews returns the names of debug views the technique can
	// render. The engine routes the active debug view to the technique
	// that declared it.
	DebugViews() []string

	// Init creates the technique's GPU resources. Called once after
	// shared resources have been allocated.
	Init(eng *Engine) error

	// Render records the technique's work for the current frame.
	Render(eng *Engine)

	// Terminate releases the technique's GPU resources.
	Terminate(eng *Engine)
}

// Component is a shared building block that techniques depend on by
// name. Components run before all techniques each frame, in dependency
// order, and are constructed transitively: a component's own Components
// list pulls in further components.
type Component interface {
	// Name returns the component's unique registered name.
	Name() string

	// RenderOptions returns the options the component exposes with
	// their default values.
	RenderOptions() OptionList

	// Components returns the names of components this component
	// depends on.
	Components() []string

	// SharedTextures returns the component's texture declarations.
	SharedTextures() []SharedTexture

	// SharedBuffers returns the component's buffer declarations.
	SharedBuffers() []SharedBuffer

	// Init creates the component's GPU resources.
	Init(eng *Engine) error

	// Run executes the component's per-frame work before any technique
	// renders.
	Run(eng *Engine)

	// Terminate releases the component's GPU resources.
	Terminate(eng *Engine)
}

// ProgramReloader is implemented by techniques and components that
// compile shader programs and can rebuild them in place. The engine
// calls ReloadPrograms on every implementer when program reloading is
// requested.
type ProgramReloader interface {
	ReloadPrograms(eng *Engine) error
}

// DebugViewRenderer is implemented by techniques that can present one
// of their declared debug views. When a debug view is active the engine
// calls RenderDebugView after the frame's techniques have run, on the
// technique that declared the view.
type DebugViewRenderer interface {
	RenderDebugView(eng *Engine, view string)
}

// TechniqueBase provides no-op defaults for Technique's declaration
// methods. Embed it and override only what the technique needs.
type TechniqueBase struct{}

func (TechniqueBase) RenderOptions() OptionList       { return nil }
func (TechniqueBase) Components() []string            { return nil }
func (TechniqueBase) SharedTextures() []SharedTexture { return nil }
func (TechniqueBase) SharedBuffers() []SharedBuffer   { return nil }
func (TechniqueBase) DebugViews() []string            { return nil }
func (TechniqueBase) Init(*Engine) error              { return nil }
func (TechniqueBase) Terminate(*Engine)               {}

// ComponentBase provides no-op defaults for Component's declaration
// methods.
type ComponentBase struct{}

func (ComponentBase) RenderOptions() OptionList       { return nil }
func (ComponentBase) Components() []string            { return nil }
func (ComponentBase) SharedTextures() []SharedTexture { return nil }
func (ComponentBase) SharedBuffers() []SharedBuffer   { return nil }
func (ComponentBase) Init(*Engine) error              { return nil }
func (ComponentBase) Run(*Engine)                     {}
func (ComponentBase) Terminate(*Engine)               {}
