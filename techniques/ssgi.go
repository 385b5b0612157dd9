package techniques

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/components"
	"github.com/gogpu/pyre/gfx"
)

// SSGIName is the registered name of the screen-space global
// illumination technique.
const SSGIName = "SSGI"

// ssgiWGSL shades the geometry buffers with lights drawn from the
// reservoir buffer and composites the result into Color. Binding order
// follows the parameter set order.
const ssgiWGSL = `
struct Lights { count: u32, pad0: u32, pad1: u32, pad2: u32, data: array<vec4<f32>> }
struct Params {
    inv_view_proj: mat4x4<f32>,
    eye: vec4<f32>,
    dims: vec2<f32>,
    samples: u32,
    reservoir_count: u32,
    far: f32,
}

@group(0) @binding(0) var albedo: texture_storage_2d<rgba8unorm, read_write>;
@group(0) @binding(1) var normals: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(2) var depth: texture_storage_2d<r32float, read_write>;
@group(0) @binding(3) var color: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(4) var<storage, read_write> lights: Lights;
@group(0) @binding(5) var<storage, read_write> reservoirs: array<vec4<f32>>;
@group(0) @binding(6) var<uniform> params: Params;

fn light_position(i: u32) -> vec3<f32> { return lights.data[i * 2u].xyz; }
fn light_radius(i: u32) -> f32 { return lights.data[i * 2u].w; }
fn light_color(i: u32) -> vec3<f32> { return lights.data[i * 2u + 1u].xyz; }
fn light_intensity(i: u32) -> f32 { return lights.data[i * 2u + 1u].w; }

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dims.x || f32(gid.y) >= params.dims.y) {
        return;
    }
    let px = vec2<i32>(gid.xy);
    let d = textureLoad(depth, px).x;
    if (d >= params.far * 0.999) {
        return;
    }
    let uv = (vec2<f32>(gid.xy) + 0.5) / params.dims;
    let ndc = vec2<f32>(uv.x * 2.0 - 1.0, 1.0 - uv.y * 2.0);
    let far4 = params.inv_view_proj * vec4<f32>(ndc, 1.0, 1.0);
    let rd = normalize(far4.xyz / far4.w - params.eye.xyz);
    let p = params.eye.xyz + rd * d;
    let n = textureLoad(normals, px).xyz;
    let base = textureLoad(albedo, px).rgb;

    var lit = vec3<f32>(0.02) * base;
    if (lights.count > 0u && params.reservoir_count > 0u) {
        let cell = (gid.y * u32(params.dims.x) + gid.x) % params.reservoir_count;
        for (var s = 0u; s < params.samples; s = s + 1u) {
            let r = reservoirs[(cell + s) % params.reservoir_count];
            if (r.w <= 0.0) { continue; }
            let i = min(u32(r.x), lights.count - 1u);
            let to_light = light_position(i) - p;
            let dist2 = max(dot(to_light, to_light), 1e-4);
            let l = to_light / sqrt(dist2);
            let ndotl = max(dot(n, l), 0.0);
            let w = r.y / f32(params.samples);
            lit += base * light_color(i) * (light_intensity(i) * ndotl * w / dist2);
        }
    }
    textureStore(color, px, vec4<f32>(lit, 1.0));
}
`

// NewSSGI returns the screen-space global illumination technique.
func NewSSGI() *SSGI { return &SSGI{} }

// SSGI shades the geometry buffers using the light reservoirs produced
// by the LightSampler component and writes the lit result into Color.
type SSGI struct {
	pyre.TechniqueBase

	program gfx.ProgramID
	kernel  gfx.KernelID
}

// Name implements pyre.Technique.
func (*SSGI) Name() string { return SSGIName }

// Components implements pyre.Technique.
func (*SSGI) Components() []string {
	return []string{components.LightSamplerName}
}

// RenderOptions implements pyre.Technique.
func (*SSGI) RenderOptions() pyre.OptionList {
	return pyre.OptionList{
		"ssgi_enable":  true,
		"ssgi_samples": uint32(8),
	}
}

// SharedTextures implements pyre.Technique.
func (*SSGI) SharedTextures() []pyre.SharedTexture {
	return []pyre.SharedTexture{
		{Name: "GBufferAlbedo", Access: pyre.AccessRead},
		{Name: "GBufferNormals", Access: pyre.AccessRead},
		{Name: "GBufferDepth", Access: pyre.AccessRead},
		{
			Name:   "Color",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatRGBA32Float,
		},
	}
}

// SharedBuffers implements pyre.Technique.
func (*SSGI) SharedBuffers() []pyre.SharedBuffer {
	return []pyre.SharedBuffer{
		{Name: "AllLights", Access: pyre.AccessRead},
		{Name: "LightReservoirs", Access: pyre.AccessRead},
	}
}

// Init implements pyre.Technique.
func (t *SSGI) Init(eng *pyre.Engine) error {
	return t.compile(eng)
}

func (t *SSGI) compile(eng *pyre.Engine) error {
	dev := eng.Device()
	prog, err := dev.CreateProgram("ssgi", ssgiWGSL)
	if err != nil {
		return fmt.Errorf("techniques: ssgi program: %w", err)
	}
	kern, err := dev.CreateKernel(prog, "main")
	if err != nil {
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: ssgi kernel: %w", err)
	}
	t.destroy(eng)
	t.program = prog
	t.kernel = kern
	return nil
}

// ReloadPrograms implements pyre.ProgramReloader.
func (t *SSGI) ReloadPrograms(eng *pyre.Engine) error {
	return t.compile(eng)
}

// Render implements pyre.Technique.
func (t *SSGI) Render(eng *pyre.Engine) {
	opts := eng.Options()
	if !pyre.GetOption[bool](opts, "ssgi_enable") {
		return
	}
	dev := eng.Device()
	w, h := eng.RenderWidth(), eng.RenderHeight()
	mats := eng.CameraMatrices()
	cam := eng.Camera()

	dev.SetParameter(t.program, "albedo", eng.Texture("GBufferAlbedo"))
	dev.SetParameter(t.program, "normals", eng.Texture("GBufferNormals"))
	dev.SetParameter(t.program, "depth", eng.Texture("GBufferDepth"))
	dev.SetParameter(t.program, "color", eng.Texture("Color"))
	dev.SetParameter(t.program, "lights", eng.Buffer("AllLights"))
	dev.SetParameter(t.program, "reservoirs", eng.Buffer("LightReservoirs"))
	dev.SetParameter(t.program, "inv_view_proj", mat4Param(mats.InvViewProjection))
	dev.SetParameter(t.program, "eye", [4]float32{cam.Eye.X(), cam.Eye.Y(), cam.Eye.Z(), 1})
	dev.SetParameter(t.program, "dims", [2]float32{float32(w), float32(h)})
	dev.SetParameter(t.program, "samples", pyre.GetOption[uint32](opts, "ssgi_samples"))
	dev.SetParameter(t.program, "reservoir_count", pyre.GetOption[uint32](opts, "light_sampler_reservoirs"))
	dev.SetParameter(t.program, "far", cam.Far)

	dev.BindKernel(t.kernel)
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)
}

// Terminate implements pyre.Technique.
func (t *SSGI) Terminate(eng *pyre.Engine) {
	t.destroy(eng)
}

func (t *SSGI) destroy(eng *pyre.Engine) {
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
