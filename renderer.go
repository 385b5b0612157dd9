package pyre

// Renderer assembles an ordered list of techniques into a complete
// frame pipeline. Renderers are registered by name with
// RegisterRenderer and activated with Engine.SetRenderer.
type Renderer interface {
	// Techniques returns fresh technique instances in pipeline order.
	// The options store is available so a renderer can vary its pipeline
	// on pre-seeded configuration, but most renderers ignore it.
	Techniques(opts *Options) []Technique

	// RenderOptions returns option overrides the renderer applies on top
	// of its techniques' defaults. Names must match options declared by
	// the renderer's techniques or components. Nil means no overrides.
	RenderOptions() OptionList
}
