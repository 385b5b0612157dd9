package techniques

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/gfx"
)

// ToneMapName is the registered name of the tone mapping technique.
const ToneMapName = "ToneMapping"

// ToneMappedOutputView is the debug view showing the tone mapped
// result in display format.
const ToneMappedOutputView = "ToneMappedOutput"

// Tone mapping operators selectable through the tonemap_operator
// option. The operator is compiled into the shader; changing it
// triggers a rebuild.
const (
	ToneMapReinhard uint32 = iota
	ToneMapFilmic
	ToneMapLinear
)

// tonemapWGSL maps HDR color to display range in place. The OPERATOR
// constant is substituted at compile time.
const tonemapWGSL = `
struct Params {
    dims: vec2<f32>,
    exposure: f32,
}

const OPERATOR: u32 = %du;

@group(0) @binding(0) var color: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(1) var<uniform> params: Params;

fn filmic(x: vec3<f32>) -> vec3<f32> {
    let a = x * (2.51 * x + vec3<f32>(0.03));
    let b = x * (2.43 * x + vec3<f32>(0.59)) + vec3<f32>(0.14);
    return clamp(a / b, vec3<f32>(0.0), vec3<f32>(1.0));
}

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dims.x || f32(gid.y) >= params.dims.y) {
        return;
    }
    let px = vec2<i32>(gid.xy);
    var c = textureLoad(color, px).rgb * exp2(params.exposure);
    if (OPERATOR == 0u) {
        c = c / (c + vec3<f32>(1.0));
    } else if (OPERATOR == 1u) {
        c = filmic(c);
    } else {
        c = clamp(c, vec3<f32>(0.0), vec3<f32>(1.0));
    }
    textureStore(color, px, vec4<f32>(c, 1.0));
}
`

// tonemapDebugWGSL converts the tone mapped Color into the display
// format Debug texture for the ToneMappedOutput view.
const tonemapDebugWGSL = `
struct Params {
    dims: vec2<f32>,
}

@group(0) @binding(0) var color: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(1) var debug: texture_storage_2d<rgba8unorm, read_write>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dims.x || f32(gid.y) >= params.dims.y) {
        return;
    }
    let px = vec2<i32>(gid.xy);
    let c = textureLoad(color, px);
    textureStore(debug, px, clamp(c, vec4<f32>(0.0), vec4<f32>(1.0)));
}
`

// NewToneMap returns the tone mapping technique.
func NewToneMap() *ToneMap { return &ToneMap{} }

// ToneMap maps the HDR Color target to display range. The operator is
// baked into the shader and the program is rebuilt when the
// tonemap_operator option changes between frames.
type ToneMap struct {
	pyre.TechniqueBase

	program gfx.ProgramID
	kernel  gfx.KernelID
	debugP  gfx.ProgramID
	debugK  gfx.KernelID

	operator uint32
}

// Name implements pyre.Technique.
func (*ToneMap) Name() string { return ToneMapName }

// RenderOptions implements pyre.Technique.
func (*ToneMap) RenderOptions() pyre.OptionList {
	return pyre.OptionList{
		"tonemap_enable":   true,
		"tonemap_operator": ToneMapReinhard,
		"tonemap_exposure": float32(0),
	}
}

// SharedTextures implements pyre.Technique.
func (*ToneMap) SharedTextures() []pyre.SharedTexture {
	return []pyre.SharedTexture{
		{
			Name:   "Color",
			Access: pyre.AccessReadWrite,
			Format: gputypes.TextureFormatRGBA32Float,
		},
		{
			Name:   "Debug",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatRGBA8Unorm,
		},
	}
}

// DebugViews implements pyre.Technique.
func (*ToneMap) DebugViews() []string {
	return []string{ToneMappedOutputView}
}

// Init implements pyre.Technique.
func (t *ToneMap) Init(eng *pyre.Engine) error {
	t.operator = pyre.GetOption[uint32](eng.Options(), "tonemap_operator")
	return t.compile(eng)
}

func (t *ToneMap) compile(eng *pyre.Engine) error {
	dev := eng.Device()
	prog, err := dev.CreateProgram("tonemap", fmt.Sprintf(tonemapWGSL, t.operator))
	if err != nil {
		return fmt.Errorf("techniques: tonemap program: %w", err)
	}
	kern, err := dev.CreateKernel(prog, "main")
	if err != nil {
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: tonemap kernel: %w", err)
	}
	dbgP, err := dev.CreateProgram("tonemap_debug", tonemapDebugWGSL)
	if err != nil {
		dev.DestroyKernel(kern)
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: tonemap debug program: %w", err)
	}
	dbgK, err := dev.CreateKernel(dbgP, "main")
	if err != nil {
		dev.DestroyProgram(dbgP)
		dev.DestroyKernel(kern)
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: tonemap debug kernel: %w", err)
	}
	t.destroy(eng)
	t.program, t.kernel = prog, kern
	t.debugP, t.debugK = dbgP, dbgK
	return nil
}

// ReloadPrograms implements pyre.ProgramReloader.
func (t *ToneMap) ReloadPrograms(eng *pyre.Engine) error {
	return t.compile(eng)
}

// Render implements pyre.Technique.
func (t *ToneMap) Render(eng *pyre.Engine) {
	opts := eng.Options()
	if !pyre.GetOption[bool](opts, "tonemap_enable") {
		return
	}
	if op := pyre.GetOption[uint32](opts, "tonemap_operator"); op != t.operator {
		t.operator = op
		if err := t.compile(eng); err != nil {
			pyre.Logger().Error("tonemap operator rebuild failed", "err", err)
			return
		}
	}

	dev := eng.Device()
	w, h := eng.RenderWidth(), eng.RenderHeight()
	dev.SetParameter(t.program, "color", eng.Texture("Color"))
	dev.SetParameter(t.program, "dims", [2]float32{float32(w), float32(h)})
	dev.SetParameter(t.program, "exposure", pyre.GetOption[float32](opts, "tonemap_exposure"))

	dev.BindKernel(t.kernel)
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)
}

// RenderDebugView implements pyre.DebugViewRenderer.
func (t *ToneMap) RenderDebugView(eng *pyre.Engine, view string) {
	if view != ToneMappedOutputView {
		return
	}
	dev := eng.Device()
	w, h := eng.RenderWidth(), eng.RenderHeight()
	dev.SetParameter(t.debugP, "color", eng.Texture("Color"))
	dev.SetParameter(t.debugP, "debug", eng.Texture("Debug"))
	dev.SetParameter(t.debugP, "dims", [2]float32{float32(w), float32(h)})

	dev.BindKernel(t.debugK)
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)
}

// Terminate implements pyre.Technique.
func (t *ToneMap) Terminate(eng *pyre.Engine) {
	t.destroy(eng)
}

func (t *ToneMap) destroy(eng *pyre.Engine) {
	dev := eng.Device()
	for _, k := range []gfx.KernelID{t.kernel, t.debugK} {
		if k.Valid() {
			dev.DestroyKernel(k)
		}
	}
	for _, p := range []gfx.ProgramID{t.program, t.debugP} {
		if p.Valid() {
			dev.DestroyProgram(p)
		}
	}
	t.kernel, t.debugK = gfx.InvalidID, gfx.InvalidID
	t.program, t.debugP = gfx.InvalidID, gfx.InvalidID
}
