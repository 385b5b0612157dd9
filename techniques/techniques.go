// Package techniques implements the built-in render pipeline stages:
// geometry buffer fill, sky rendering, screen-space global
// illumination, temporal anti-aliasing, tone mapping, color grading,
// variance estimation, and shared-texture debug views. Each stage is
// registered with pyre by name, so renderers can assemble pipelines
// through pyre.NewTechnique or construct stages directly.
package techniques

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/pyre"
)

func init() {
	pyre.RegisterTechnique(GBufferName, func() pyre.Technique { return NewGBuffer() })
	pyre.RegisterTechnique(SkyboxName, func() pyre.Technique { return NewSkybox() })
	pyre.RegisterTechnique(SSGIName, func() pyre.Technique { return NewSSGI() })
	pyre.RegisterTechnique(TAAName, func() pyre.Technique { return NewTAA() })
	pyre.RegisterTechnique(ToneMapName, func() pyre.Technique { return NewToneMap() })
	pyre.RegisterTechnique(ColorGradingName, func() pyre.Technique { return NewColorGrading() })
	pyre.RegisterTechnique(VarianceName, func() pyre.Technique { return NewVariance() })
	pyre.RegisterTechnique(DebugTexturesName, func() pyre.Technique { return NewDebugTextures() })
}

// groups2D returns dispatch group counts covering a w x h grid with
// 8x8 workgroups.
func groups2D(w, h uint32) (uint32, uint32) {
	return (w + 7) / 8, (h + 7) / 8
}

// mat4Param converts a matrix to the array form device parameters take.
func mat4Param(m mgl32.Mat4) [16]float32 {
	return [16]float32(m)
}
