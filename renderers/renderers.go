// Package renderers registers the built-in frame pipelines. Importing
// it for side effects makes the Forward and Debug renderers available
// to Engine.SetRenderer:
//
//	import _ "github.com/gogpu/pyre/renderers"
package renderers

import (
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/techniques"
)

// Renderer names accepted by Engine.SetRenderer.
const (
	ForwardName = "Forward"
	DebugName   = "Debug"
)

func init() {
	pyre.RegisterRenderer(ForwardName, func() pyre.Renderer { return forward{} })
	pyre.RegisterRenderer(DebugName, func() pyre.Renderer { return debug{} })
}

// stages constructs registered techniques by name. A name without a
// factory is a wiring bug in this package, so it panics at startup
// rather than returning a crippled pipeline.
func stages(names ...string) []pyre.Technique {
	techs := make([]pyre.Technique, 0, len(names))
	for _, name := range names {
		t, err := pyre.NewTechnique(name)
		if err != nil {
			panic(err)
		}
		techs = append(techs, t)
	}
	return techs
}

// forward is the full pipeline: geometry, sky, reservoir-sampled
// lighting, temporal accumulation, and display mapping.
type forward struct{}

func (forward) Techniques(*pyre.Options) []pyre.Technique {
	return stages(
		techniques.GBufferName,
		techniques.SkyboxName,
		techniques.SSGIName,
		techniques.TAAName,
		techniques.ToneMapName,
		techniques.ColorGradingName,
		techniques.VarianceName,
		techniques.DebugTexturesName,
	)
}

func (forward) RenderOptions() pyre.OptionList { return nil }

// debug is a minimal pipeline for inspecting the geometry buffers:
// no lighting, no temporal accumulation, filmic display mapping.
type debug struct{}

func (debug) Techniques(*pyre.Options) []pyre.Technique {
	return stages(
		techniques.GBufferName,
		techniques.SkyboxName,
		techniques.ToneMapName,
		techniques.DebugTexturesName,
	)
}

func (debug) RenderOptions() pyre.OptionList {
	return pyre.OptionList{
		"tonemap_operator": techniques.ToneMapFilmic,
	}
}
