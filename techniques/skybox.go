package techniques

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/asset"
	"github.com/gogpu/pyre/gfx"
)

// SkyboxName is the registered name of the sky technique.
const SkyboxName = "Skybox"

// skyboxWGSL writes the environment into Color wherever the depth
// buffer holds the far plane. The environment is an equirectangular
// RGBA float buffer; when it is empty a procedural gradient stands in.
const skyboxWGSL = `
struct Params {
    inv_view_proj: mat4x4<f32>,
    eye: vec4<f32>,
    dims: vec2<f32>,
    env_dims: vec2<f32>,
    intensity: f32,
    far: f32,
}

@group(0) @binding(0) var depth: texture_storage_2d<r32float, read_write>;
@group(0) @binding(1) var color: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(2) var<storage, read_write> env: array<vec4<f32>>;
@group(0) @binding(3) var<uniform> params: Params;

const PI: f32 = 3.14159265358979;

fn sample_env(dir: vec3<f32>) -> vec3<f32> {
    if (params.env_dims.x < 1.0) {
        let t = clamp(dir.y * 0.5 + 0.5, 0.0, 1.0);
        return mix(vec3<f32>(0.8, 0.7, 0.6), vec3<f32>(0.2, 0.4, 0.9), t);
    }
    let u = (atan2(dir.z, dir.x) + PI) / (2.0 * PI);
    let v = acos(clamp(dir.y, -1.0, 1.0)) / PI;
    let x = min(u32(u * params.env_dims.x), u32(params.env_dims.x) - 1u);
    let y = min(u32(v * params.env_dims.y), u32(params.env_dims.y) - 1u);
    return env[y * u32(params.env_dims.x) + x].rgb;
}

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dims.x || f32(gid.y) >= params.dims.y) {
        return;
    }
    let px = vec2<i32>(gid.xy);
    let d = textureLoad(depth, px).x;
    if (d < params.far * 0.999) {
        return;
    }
    let uv = (vec2<f32>(gid.xy) + 0.5) / params.dims;
    let ndc = vec2<f32>(uv.x * 2.0 - 1.0, 1.0 - uv.y * 2.0);
    let far4 = params.inv_view_proj * vec4<f32>(ndc, 1.0, 1.0);
    let dir = normalize(far4.xyz / far4.w - params.eye.xyz);
    textureStore(color, px, vec4<f32>(sample_env(dir) * params.intensity, 1.0));
}
`

// NewSkybox returns the sky technique.
func NewSkybox() *Skybox { return &Skybox{} }

// Skybox fills the background of the Color target from an
// equirectangular environment map set via SetEnvironment, or from a
// procedural gradient when none is set.
type Skybox struct {
	pyre.TechniqueBase

	program gfx.ProgramID
	kernel  gfx.KernelID

	env       *asset.Image
	envBuffer gfx.BufferID
	envW      uint32
	envH      uint32
	envDirty  bool
}

// Name implements pyre.Technique.
func (*Skybox) Name() string { return SkyboxName }

// RenderOptions implements pyre.Technique.
func (*Skybox) RenderOptions() pyre.OptionList {
	return pyre.OptionList{
		"skybox_intensity": float32(1),
	}
}

// SharedTextures implements pyre.Technique.
func (*Skybox) SharedTextures() []pyre.SharedTexture {
	return []pyre.SharedTexture{
		{Name: "GBufferDepth", Access: pyre.AccessRead},
		{
			Name:   "Color",
			Access: pyre.AccessWrite,
			Format: gputypes.TextureFormatRGBA32Float,
		},
	}
}

// SetEnvironment replaces the environment map. A nil image reverts to
// the procedural gradient. The upload happens on the next frame.
func (s *Skybox) SetEnvironment(img *asset.Image) {
	s.env = img
	s.envDirty = true
}

// Init implements pyre.Technique.
func (s *Skybox) Init(eng *pyre.Engine) error {
	s.envDirty = true
	return s.compile(eng)
}

func (s *Skybox) compile(eng *pyre.Engine) error {
	dev := eng.Device()
	prog, err := dev.CreateProgram("skybox", skyboxWGSL)
	if err != nil {
		return fmt.Errorf("techniques: skybox program: %w", err)
	}
	kern, err := dev.CreateKernel(prog, "main")
	if err != nil {
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: skybox kernel: %w", err)
	}
	s.destroyPrograms(eng)
	s.program = prog
	s.kernel = kern
	return nil
}

// ReloadPrograms implements pyre.ProgramReloader.
func (s *Skybox) ReloadPrograms(eng *pyre.Engine) error {
	return s.compile(eng)
}

func (s *Skybox) upload(eng *pyre.Engine) {
	dev := eng.Device()
	if s.envBuffer.Valid() {
		dev.DestroyBuffer(s.envBuffer)
		s.envBuffer = gfx.InvalidID
	}
	s.envW, s.envH = 0, 0
	// A placeholder element keeps the binding valid on the gradient path.
	data := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if s.env != nil {
		data = s.env.Bytes()
	}
	buf, err := dev.CreateBuffer(&gfx.BufferDesc{
		Label:  "skybox_environment",
		Size:   uint64(len(data)),
		Stride: 16,
	})
	if err != nil {
		pyre.Logger().Error("skybox environment upload failed", "err", err)
		return
	}
	dev.WriteBuffer(buf, 0, data)
	s.envBuffer = buf
	if s.env != nil {
		s.envW = uint32(s.env.Width)
		s.envH = uint32(s.env.Height)
	}
}

// Render implements pyre.Technique.
func (s *Skybox) Render(eng *pyre.Engine) {
	if s.envDirty {
		s.upload(eng)
		s.envDirty = false
	}
	dev := eng.Device()
	w, h := eng.RenderWidth(), eng.RenderHeight()
	mats := eng.CameraMatrices()
	cam := eng.Camera()

	dev.SetParameter(s.program, "depth", eng.Texture("GBufferDepth"))
	dev.SetParameter(s.program, "color", eng.Texture("Color"))
	dev.SetParameter(s.program, "env", s.envBuffer)
	dev.SetParameter(s.program, "inv_view_proj", mat4Param(mats.InvViewProjection))
	dev.SetParameter(s.program, "eye", [4]float32{cam.Eye.X(), cam.Eye.Y(), cam.Eye.Z(), 1})
	dev.SetParameter(s.program, "dims", [2]float32{float32(w), float32(h)})
	dev.SetParameter(s.program, "env_dims", [2]float32{float32(s.envW), float32(s.envH)})
	dev.SetParameter(s.program, "intensity", pyre.GetOption[float32](eng.Options(), "skybox_intensity"))
	dev.SetParameter(s.program, "far", cam.Far)

	dev.BindKernel(s.kernel)
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)
}

// Terminate implements pyre.Technique.
func (s *Skybox) Terminate(eng *pyre.Engine) {
	dev := eng.Device()
	if s.envBuffer.Valid() {
		dev.DestroyBuffer(s.envBuffer)
		s.envBuffer = gfx.InvalidID
	}
	s.destroyPrograms(eng)
}

func (s *Skybox) destroyPrograms(eng *pyre.Engine) {
	dev := eng.Device()
	if s.kernel.Valid() {
		dev.DestroyKernel(s.kernel)
		s.kernel = gfx.InvalidID
	}
	if s.program.Valid() {
		dev.DestroyProgram(s.program)
		s.program = gfx.InvalidID
	}
}
