package components

import (
	"fmt"

	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/gfx"
)

// LightSamplerName is the registered name of the light sampler.
const LightSamplerName = "LightSampler"

func init() {
	pyre.RegisterComponent(LightSamplerName, func() pyre.Component {
		return &LightSampler{}
	})
}

// lightSamplerWGSL draws a reservoir of light candidates per cell from
// the packed light buffer. Bindings follow the parameter set order:
// lights, sequence, seed, reservoirs, sample count.
const lightSamplerWGSL = `
struct Lights { count: u32, pad0: u32, pad1: u32, pad2: u32, data: array<vec4<f32>> }
struct Reservoirs { data: array<vec4<f32>> }
struct Seed { value: u32 }
struct Params { samples: u32 }

@group(0) @binding(0) var<storage, read_write> lights: Lights;
@group(0) @binding(1) var<storage, read_write> sequence: array<vec2<f32>>;
@group(0) @binding(2) var<storage, read_write> seed: Seed;
@group(0) @binding(3) var<storage, read_write> reservoirs: Reservoirs;
@group(0) @binding(4) var<uniform> params: Params;

fn pick(u: f32, count: u32) -> u32 {
    return min(u32(u * f32(count)), count - 1u);
}

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let cell = gid.x;
    if (cell >= params.samples) {
        return;
    }
    if (lights.count == 0u) {
        reservoirs.data[cell] = vec4<f32>(0.0);
        return;
    }
    let u = sequence[(cell + seed.value) % 256u];
    let idx = pick(u.x, lights.count);
    let weight = f32(lights.count);
    reservoirs.data[cell] = vec4<f32>(f32(idx), weight, u.y, 1.0);
}
`

// LightSampler builds a per-frame reservoir of light candidates that
// lighting techniques consume instead of iterating every light. It
// depends on LightBuilder for the packed light buffer and on BlueNoise
// for the sampling sequence.
type LightSampler struct {
	pyre.ComponentBase

	program gfx.ProgramID
	kernel  gfx.KernelID
}

// Name implements pyre.Component.
func (*LightSampler) Name() string { return LightSamplerName }

// Components implements pyre.Component.
func (*LightSampler) Components() []string {
	return []string{LightBuilderName, BlueNoiseName}
}

// RenderOptions implements pyre.Component.
func (*LightSampler) RenderOptions() pyre.OptionList {
	return pyre.OptionList{
		"light_sampler_reservoirs": uint32(4096),
	}
}

// SharedBuffers implements pyre.Component.
func (*LightSampler) SharedBuffers() []pyre.SharedBuffer {
	return []pyre.SharedBuffer{
		{
			Name:   "LightReservoirs",
			Access: pyre.AccessWrite,
			Size:   4096 * 16,
			Stride: 16,
		},
		{Name: "AllLights", Access: pyre.AccessRead},
		{Name: "BlueNoiseSequence", Access: pyre.AccessRead},
		{Name: "SampleSeed", Access: pyre.AccessRead},
	}
}

// Init implements pyre.Component.
func (s *LightSampler) Init(eng *pyre.Engine) error {
	dev := eng.Device()
	prog, err := dev.CreateProgram("light_sampler", lightSamplerWGSL)
	if err != nil {
		return fmt.Errorf("components: light sampler program: %w", err)
	}
	kern, err := dev.CreateKernel(prog, "main")
	if err != nil {
		dev.DestroyProgram(prog)
		return fmt.Errorf("components: light sampler kernel: %w", err)
	}
	s.program = prog
	s.kernel = kern
	return nil
}

// Run implements pyre.Component.
func (s *LightSampler) Run(eng *pyre.Engine) {
	dev := eng.Device()
	reservoirs := pyre.GetOption[uint32](eng.Options(), "light_sampler_reservoirs")

	dev.SetParameter(s.program, "lights", eng.Buffer("AllLights"))
	dev.SetParameter(s.program, "sequence", eng.Buffer("BlueNoiseSequence"))
	dev.SetParameter(s.program, "seed", eng.Buffer("SampleSeed"))
	dev.SetParameter(s.program, "reservoirs", eng.Buffer("LightReservoirs"))
	dev.SetParameter(s.program, "samples", reservoirs)

	dev.BindKernel(s.kernel)
	dev.Dispatch((reservoirs+63)/64, 1, 1)
}

// Terminate implements pyre.Component.
func (s *LightSampler) Terminate(eng *pyre.Engine) {
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
