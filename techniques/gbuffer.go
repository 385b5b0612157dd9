package techniques

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/gfx"
)

// GBufferName is the registered name of the geometry buffer technique.
const GBufferName = "GBuffer"

// gbufferWGSL ray-marches a procedural test scene (ground plane plus a
// ring of spheres) and fills the geometry buffers: albedo, world-space
// normals, linear depth, and screen-space motion vectors. Rays are
// reconstructed from the inverse view-projection so the output follows
// the engine camera, including jitter.
const gbufferWGSL = `
struct Params {
    inv_view_proj: mat4x4<f32>,
    prev_view_proj: mat4x4<f32>,
    eye: vec4<f32>,
    dims: vec2<f32>,
    time: f32,
    far: f32,
}

@group(0) @binding(0) var albedo: texture_storage_2d<rgba8unorm, read_write>;
@group(0) @binding(1) var normals: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(2) var depth: texture_storage_2d<r32float, read_write>;
@group(0) @binding(3) var motion: texture_storage_2d<rg32float, read_write>;
@group(0) @binding(4) var<uniform> params: Params;

struct Hit { t: f32, normal: vec3<f32>, albedo: vec3<f32> }

fn sphere(ro: vec3<f32>, rd: vec3<f32>, c: vec3<f32>, r: f32) -> f32 {
    let oc = ro - c;
    let b = dot(oc, rd);
    let h = b * b - (dot(oc, oc) - r * r);
    if (h < 0.0) { return -1.0; }
    let t = -b - sqrt(h);
    if (t < 0.0) { return -1.0; }
    return t;
}

fn trace(ro: vec3<f32>, rd: vec3<f32>) -> Hit {
    var hit: Hit;
    hit.t = -1.0;
    if (rd.y < 0.0) {
        let t = -ro.y / rd.y;
        let p = ro + rd * t;
        let check = f32((i32(floor(p.x)) + i32(floor(p.z))) & 1);
        hit.t = t;
        hit.normal = vec3<f32>(0.0, 1.0, 0.0);
        hit.albedo = vec3<f32>(0.25 + 0.5 * check);
    }
    for (var i = 0u; i < 6u; i = i + 1u) {
        let a = f32(i) * 1.0471975512 + params.time * 0.25;
        let c = vec3<f32>(3.0 * cos(a), 1.0, 3.0 * sin(a));
        let t = sphere(ro, rd, c, 1.0);
        if (t > 0.0 && (hit.t < 0.0 || t < hit.t)) {
            hit.t = t;
            hit.normal = normalize(ro + rd * t - c);
            hit.albedo = vec3<f32>(0.8, 0.3 + 0.1 * f32(i), 0.2);
        }
    }
    return hit;
}

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dims.x || f32(gid.y) >= params.dims.y) {
        return;
    }
    let uv = (vec2<f32>(gid.xy) + 0.5) / params.dims;
    let ndc = vec2<f32>(uv.x * 2.0 - 1.0, 1.0 - uv.y * 2.0);
    let far4 = params.inv_view_proj * vec4<f32>(ndc, 1.0, 1.0);
    let rd = normalize(far4.xyz / far4.w - params.eye.xyz);
    let ro = params.eye.xyz;

    let hit = trace(ro, rd);
    let px = vec2<i32>(gid.xy);
    if (hit.t < 0.0) {
        textureStore(albedo, px, vec4<f32>(0.0));
        textureStore(normals, px, vec4<f32>(0.0));
        textureStore(depth, px, vec4<f32>(params.far, 0.0, 0.0, 0.0));
        textureStore(motion, px, vec4<f32>(0.0));
        return;
    }
    let p = ro + rd * hit.t;
    textureStore(albedo, px, vec4<f32>(hit.albedo, 1.0));
    textureStore(normals, px, vec4<f32>(hit.normal, 1.0));
    textureStore(depth, px, vec4<f32>(hit.t, 0.0, 0.0, 0.0));

    let prev = params.prev_view_proj * vec4<f32>(p, 1.0);
    let prev_ndc = prev.xy / prev.w;
    let prev_uv = vec2<f32>(prev_ndc.x * 0.5 + 0.5, 0.5 - prev_ndc.y * 0.5);
    textureStore(motion, px, vec4<f32>(uv - prev_uv, 0.0, 0.0));
}
`

// NewGBuffer returns the geometry buffer technique.
func NewGBuffer() *GBuffer { return &GBuffer{} }

// GBuffer fills the per-pixel geometry buffers every downstream
// technique samples from. It owns the canonical formats of the
// geometry textures; later declarations of the same names adopt them.
type GBuffer struct {
	pyre.TechniqueBase

	program gfx.ProgramID
	kernel  gfx.KernelID
}

// Name implements pyre.Technique.
func (*GBuffer) Name() string { return GBufferName }

// SharedTextures implements pyre.Technique.
func (*GBuffer) SharedTextures() []pyre.SharedTexture {
	return []pyre.SharedTexture{
		{
			Name:   "GBufferAlbedo",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatRGBA8Unorm,
		},
		{
			Name:   "GBufferNormals",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatRGBA32Float,
		},
		{
			Name:   "GBufferDepth",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatR32Float,
		},
		{
			Name:   "MotionVectors",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatRG32Float,
		},
	}
}

// Init implements pyre.Technique.
func (g *GBuffer) Init(eng *pyre.Engine) error {
	return g.compile(eng)
}

func (g *GBuffer) compile(eng *pyre.Engine) error {
	dev := eng.Device()
	prog, err := dev.CreateProgram("gbuffer", gbufferWGSL)
	if err != nil {
		return fmt.Errorf("techniques: gbuffer program: %w", err)
	}
	kern, err := dev.CreateKernel(prog, "main")
	if err != nil {
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: gbuffer kernel: %w", err)
	}
	g.destroy(eng)
	g.program = prog
	g.kernel = kern
	return nil
}

// ReloadPrograms implements pyre.ProgramReloader.
func (g *GBuffer) ReloadPrograms(eng *pyre.Engine) error {
	return g.compile(eng)
}

// Render implements pyre.Technique.
func (g *GBuffer) Render(eng *pyre.Engine) {
	dev := eng.Device()
	w, h := eng.RenderWidth(), eng.RenderHeight()
	mats := eng.CameraMatrices()
	cam := eng.Camera()

	dev.SetParameter(g.program, "albedo", eng.Texture("GBufferAlbedo"))
	dev.SetParameter(g.program, "normals", eng.Texture("GBufferNormals"))
	dev.SetParameter(g.program, "depth", eng.Texture("GBufferDepth"))
	dev.SetParameter(g.program, "motion", eng.Texture("MotionVectors"))
	dev.SetParameter(g.program, "inv_view_proj", mat4Param(mats.InvViewProjection))
	dev.SetParameter(g.program, "prev_view_proj", mat4Param(mats.PrevViewProjection))
	dev.SetParameter(g.program, "eye", [4]float32{cam.Eye.X(), cam.Eye.Y(), cam.Eye.Z(), 1})
	dev.SetParameter(g.program, "dims", [2]float32{float32(w), float32(h)})
	dev.SetParameter(g.program, "time", float32(eng.Time()))
	dev.SetParameter(g.program, "far", cam.Far)

	dev.BindKernel(g.kernel)
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)
}

// Terminate implements pyre.Technique.
func (g *GBuffer) Terminate(eng *pyre.Engine) {
	g.destroy(eng)
}

func (g *GBuffer) destroy(eng *pyre.Engine) {
	dev := eng.Device()
	if g.kernel.Valid() {
		dev.DestroyKernel(g.kernel)
		g.kernel = gfx.InvalidID
	}
	if g.program.Valid() {
		dev.DestroyProgram(g.program)
		g.program = gfx.InvalidID
	}
}
