// Package pyre is a real-time rendering framework that composes a
// configurable pipeline of GPU render techniques over a shared set of
// GPU resources.
//
// # Overview
//
// A renderer names an ordered list of techniques (skybox, tone mapping,
// temporal anti-aliasing, ...). Each technique declares the shared
// textures, shared buffers, components, debug views, and render options
// it needs. The Engine resolves those declarations once per renderer
// switch, allocates the backing GPU resources, and drives every frame:
//
//	dev := gfx.MustDefault()
//	eng := pyre.New(dev, pyre.WithWindowSize(1920, 1080))
//	defer eng.Terminate()
//
//	if err := eng.SetRenderer("Forward"); err != nil {
//	    log.Fatal(err)
//	}
//	for running {
//	    eng.Render()
//	}
//
// # Architecture
//
// The module is organized into:
//   - Root package: declarations, option store, factories, component
//     dependency resolution, shared resource allocator, frame engine,
//     timing aggregator.
//   - gfx/: thin graphics backend abstraction (wgpu and null backends).
//   - components/: shared services usable by multiple techniques.
//   - techniques/: the pipeline stages themselves.
//   - renderers/: named pipeline configurations.
//
// Techniques look up shared resources by name every frame and must not
// retain handles across frames: a resize replaces the backing textures
// with a new generation.
package pyre
