package techniques

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/gfx"
)

// TAAName is the registered name of the temporal anti-aliasing
// technique.
const TAAName = "TAA"

// taaJitterPhases is the length of the Halton jitter sequence.
const taaJitterPhases = 16

// taaWGSL blends the current frame with the previous frame's color,
// reprojected through the motion vectors. History comes from the
// engine-managed backup of Color, taken before this frame's clears.
const taaWGSL = `
struct Params {
    dims: vec2<f32>,
    blend: f32,
    first_frame: u32,
}

@group(0) @binding(0) var color: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(1) var history: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(2) var motion: texture_storage_2d<rg32float, read_write>;
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dims.x || f32(gid.y) >= params.dims.y) {
        return;
    }
    let px = vec2<i32>(gid.xy);
    let current = textureLoad(color, px);
    if (params.first_frame != 0u) {
        return;
    }
    let uv = (vec2<f32>(gid.xy) + 0.5) / params.dims;
    let mv = textureLoad(motion, px).xy;
    let prev_uv = uv - mv;
    if (prev_uv.x < 0.0 || prev_uv.x >= 1.0 || prev_uv.y < 0.0 || prev_uv.y >= 1.0) {
        return;
    }
    let prev_px = vec2<i32>(prev_uv * params.dims);
    let prev = textureLoad(history, prev_px);
    textureStore(color, px, mix(current, prev, params.blend));
}
`

// NewTAA returns the temporal anti-aliasing technique.
func NewTAA() *TAA { return &TAA{} }

// TAA accumulates Color across frames under sub-pixel camera jitter.
// It declares a backup of Color so the engine snapshots the previous
// frame before per-frame clears run, and enables the camera jitter
// sequence while active.
type TAA struct {
	pyre.TechniqueBase

	program gfx.ProgramID
	kernel  gfx.KernelID

	firstFrame bool
}

// Name implements pyre.Technique.
func (*TAA) Name() string { return TAAName }

// RenderOptions implements pyre.Technique.
func (*TAA) RenderOptions() pyre.OptionList {
	return pyre.OptionList{
		"taa_enable": true,
		"taa_blend":  float32(0.9),
	}
}

// SharedTextures implements pyre.Technique.
func (*TAA) SharedTextures() []pyre.SharedTexture {
	return []pyre.SharedTexture{
		{
			Name:   "Color",
			Access: pyre.AccessReadWrite,
			Format: gputypes.TextureFormatRGBA32Float,
			Backup: "ColorHistory",
		},
		{Name: "MotionVectors", Access: pyre.AccessRead},
	}
}

// Init implements pyre.Technique.
func (t *TAA) Init(eng *pyre.Engine) error {
	if err := t.compile(eng); err != nil {
		return err
	}
	t.firstFrame = true
	eng.SetCameraJitterPhases(taaJitterPhases)
	return nil
}

func (t *TAA) compile(eng *pyre.Engine) error {
	dev := eng.Device()
	prog, err := dev.CreateProgram("taa", taaWGSL)
	if err != nil {
		return fmt.Errorf("techniques: taa program: %w", err)
	}
	kern, err := dev.CreateKernel(prog, "main")
	if err != nil {
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: taa kernel: %w", err)
	}
	t.destroy(eng)
	t.program = prog
	t.kernel = kern
	return nil
}

// ReloadPrograms implements pyre.ProgramReloader.
func (t *TAA) ReloadPrograms(eng *pyre.Engine) error {
	return t.compile(eng)
}

// Render implements pyre.Technique.
func (t *TAA) Render(eng *pyre.Engine) {
	if !pyre.GetOption[bool](eng.Options(), "taa_enable") {
		t.firstFrame = true
		return
	}
	// History is stale after a resize since the backup was reallocated.
	if eng.RenderDimensionsUpdated() || eng.RendererUpdated() {
		t.firstFrame = true
	}

	dev := eng.Device()
	w, h := eng.RenderWidth(), eng.RenderHeight()
	first := uint32(0)
	if t.firstFrame {
		first = 1
	}

	dev.SetParameter(t.program, "color", eng.Texture("Color"))
	dev.SetParameter(t.program, "history", eng.Texture("ColorHistory"))
	dev.SetParameter(t.program, "motion", eng.Texture("MotionVectors"))
	dev.SetParameter(t.program, "dims", [2]float32{float32(w), float32(h)})
	dev.SetParameter(t.program, "blend", pyre.GetOption[float32](eng.Options(), "taa_blend"))
	dev.SetParameter(t.program, "first_frame", first)

	dev.BindKernel(t.kernel)
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)
	t.firstFrame = false
}

// Terminate implements pyre.Technique.
func (t *TAA) Terminate(eng *pyre.Engine) {
	eng.SetCameraJitterPhases(0)
	t.destroy(eng)
}

func (t *TAA) destroy(eng *pyre.Engine) {
	dev := eng.Device()
	if t.kernel.Valid() {
		dev.DestroyKernel(t.kernel)
		t.kernel = gfx.InvalidID
	}
	if t.program.Valid() {
		dev.DestroyProgram(t.program)
		t.program = gfx.InvalidID
	}
}
