package techniques

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/gfx"
)

// DebugTexturesName is the registered name of the shared-texture
// debug view technique.
const DebugTexturesName = "DebugTextures"

// debugViewWGSL visualizes one shared texture into Debug. The storage
// format and the transform mapping a texel to display range are
// substituted per view, since the storage binding format is fixed at
// compile time.
const debugViewWGSL = `
struct Params {
    dims: vec2<f32>,
    scale: f32,
}

@group(0) @binding(0) var src: texture_storage_2d<%s, read_write>;
@group(0) @binding(1) var debug: texture_storage_2d<rgba8unorm, read_write>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dims.x || f32(gid.y) >= params.dims.y) {
        return;
    }
    let px = vec2<i32>(gid.xy);
    let t = textureLoad(src, px);
    let shown = %s;
    textureStore(debug, px, clamp(vec4<f32>(shown, 1.0), vec4<f32>(0.0), vec4<f32>(1.0)));
}
`

// debugView describes how one shared texture is presented.
type debugView struct {
	texture   string
	format    string // WGSL storage format of the source
	transform string // expression mapping texel t to a vec3
	scaled    bool   // scale parameter divides by the camera far plane
}

// debugViewTable lists the shared textures this technique can show.
// The view name matches the texture name.
var debugViewTable = []debugView{
	{texture: "GBufferAlbedo", format: "rgba8unorm", transform: "t.rgb"},
	{texture: "GBufferNormals", format: "rgba32float", transform: "t.xyz * 0.5 + vec3<f32>(0.5)"},
	{texture: "GBufferDepth", format: "r32float", transform: "vec3<f32>(t.x * params.scale)", scaled: true},
	{texture: "MotionVectors", format: "rg32float", transform: "vec3<f32>(abs(t.xy) * 20.0, 0.0)"},
}

// NewDebugTextures returns the shared-texture debug view technique.
func NewDebugTextures() *DebugTextures { return &DebugTextures{} }

// DebugTextures exposes the geometry buffers as debug views. It does
// no work in the regular frame loop; it only renders when one of its
// views is selected.
type DebugTextures struct {
	pyre.TechniqueBase

	programs map[string]gfx.ProgramID
	kernels  map[string]gfx.KernelID
}

// Name implements pyre.Technique.
func (*DebugTextures) Name() string { return DebugTexturesName }

// SharedTextures implements pyre.Technique.
func (*DebugTextures) SharedTextures() []pyre.SharedTexture {
	texs := []pyre.SharedTexture{
		{
			Name:   "Debug",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatRGBA8Unorm,
		},
	}
	for _, v := range debugViewTable {
		texs = append(texs, pyre.SharedTexture{
			Name:   v.texture,
			Access: pyre.AccessRead,
			Flags:  pyre.FlagOptional,
		})
	}
	return texs
}

// DebugViews implements pyre.Technique.
func (*DebugTextures) DebugViews() []string {
	views := make([]string, len(debugViewTable))
	for i, v := range debugViewTable {
		views[i] = v.texture
	}
	return views
}

// Init implements pyre.Technique.
func (t *DebugTextures) Init(eng *pyre.Engine) error {
	return t.compile(eng)
}

func (t *DebugTextures) compile(eng *pyre.Engine) error {
	dev := eng.Device()
	programs := make(map[string]gfx.ProgramID, len(debugViewTable))
	kernels := make(map[string]gfx.KernelID, len(debugViewTable))
	fail := func(err error) error {
		for _, k := range kernels {
			dev.DestroyKernel(k)
		}
		for _, p := range programs {
			dev.DestroyProgram(p)
		}
		return err
	}
	for _, v := range debugViewTable {
		src := fmt.Sprintf(debugViewWGSL, v.format, v.transform)
		prog, err := dev.CreateProgram("debug_view_"+v.texture, src)
		if err != nil {
			return fail(fmt.Errorf("techniques: debug view %s program: %w", v.texture, err))
		}
		programs[v.texture] = prog
		kern, err := dev.CreateKernel(prog, "main")
		if err != nil {
			return fail(fmt.Errorf("techniques: debug view %s kernel: %w", v.texture, err))
		}
		kernels[v.texture] = kern
	}
	t.destroy(eng)
	t.programs = programs
	t.kernels = kernels
	return nil
}

// ReloadPrograms implements pyre.ProgramReloader.
func (t *DebugTextures) ReloadPrograms(eng *pyre.Engine) error {
	return t.compile(eng)
}

// Render implements pyre.Technique.
func (*DebugTextures) Render(*pyre.Engine) {}

// RenderDebugView implements pyre.DebugViewRenderer.
func (t *DebugTextures) RenderDebugView(eng *pyre.Engine, view string) {
	var entry *debugView
	for i := range debugViewTable {
		if debugViewTable[i].texture == view {
			entry = &debugViewTable[i]
			break
		}
	}
	if entry == nil {
		return
	}
	src := eng.Texture(entry.texture)
	if !src.Valid() {
		return
	}

	dev := eng.Device()
	prog := t.programs[view]
	w, h := eng.RenderWidth(), eng.RenderHeight()
	scale := float32(1)
	if entry.scaled {
		if far := eng.Camera().Far; far > 0 {
			scale = 1 / far
		}
	}

	dev.SetParameter(prog, "src", src)
	dev.SetParameter(prog, "debug", eng.Texture("Debug"))
	dev.SetParameter(prog, "dims", [2]float32{float32(w), float32(h)})
	dev.SetParameter(prog, "scale", scale)

	dev.BindKernel(t.kernels[view])
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)
}

// Terminate implements pyre.Technique.
func (t *DebugTextures) Terminate(eng *pyre.Engine) {
	t.destroy(eng)
}

func (t *DebugTextures) destroy(eng *pyre.Engine) {
	dev := eng.Device()
	for _, k := range t.kernels {
		dev.DestroyKernel(k)
	}
	for _, p := range t.programs {
		dev.DestroyProgram(p)
	}
	t.kernels = nil
	t.programs = nil
}
