package techniques

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/gfx"
)

// VarianceName is the registered name of the variance estimator.
const VarianceName = "VarianceEstimate"

// varianceWGSL reduces Color to per-workgroup luminance sums. The CPU
// finishes the reduction after readback.
const varianceWGSL = `
struct Sums { data: array<vec2<f32>> }
struct Params {
    dims: vec2<f32>,
}

@group(0) @binding(0) var color: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(1) var<storage, read_write> sums: Sums;
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> lum: array<vec2<f32>, 64>;

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>,
        @builtin(local_invocation_index) lid: u32,
        @builtin(workgroup_id) wid: vec3<u32>,
        @builtin(num_workgroups) nwg: vec3<u32>) {
    var v = vec2<f32>(0.0);
    if (f32(gid.x) < params.dims.x && f32(gid.y) < params.dims.y) {
        let c = textureLoad(color, vec2<i32>(gid.xy)).rgb;
        let l = dot(c, vec3<f32>(0.2126, 0.7152, 0.0722));
        v = vec2<f32>(l, l * l);
    }
    lum[lid] = v;
    workgroupBarrier();
    for (var s = 32u; s > 0u; s = s >> 1u) {
        if (lid < s) {
            lum[lid] += lum[lid + s];
        }
        workgroupBarrier();
    }
    if (lid == 0u) {
        sums.data[wid.y * nwg.x + wid.x] = lum[0];
    }
}
`

// NewVariance returns the variance estimator technique.
func NewVariance() *Variance { return &Variance{} }

// Variance estimates the luminance mean and variance of the rendered
// frame. The GPU reduces Color to per-workgroup partial sums which are
// read back through a slot ring, so Mean and Value trail the rendered
// frame by the in-flight frame count.
type Variance struct {
	pyre.TechniqueBase

	program gfx.ProgramID
	kernel  gfx.KernelID
	sums    gfx.BufferID
	ring    *pyre.Readback

	groups uint32
	pixels float64
	mean   float64
	value  float64
}

// Name implements pyre.Technique.
func (*Variance) Name() string { return VarianceName }

// SharedTextures implements pyre.Technique.
func (*Variance) SharedTextures() []pyre.SharedTexture {
	return []pyre.SharedTexture{
		{Name: "Color", Access: pyre.AccessRead, Format: gputypes.TextureFormatRGBA32Float},
	}
}

// Mean returns the latest resolved luminance mean.
func (t *Variance) Mean() float64 { return t.mean }

// Value returns the latest resolved luminance variance.
func (t *Variance) Value() float64 { return t.value }

// Init implements pyre.Technique.
func (t *Variance) Init(eng *pyre.Engine) error {
	return t.compile(eng)
}

func (t *Variance) compile(eng *pyre.Engine) error {
	dev := eng.Device()
	prog, err := dev.CreateProgram("variance", varianceWGSL)
	if err != nil {
		return fmt.Errorf("techniques: variance program: %w", err)
	}
	kern, err := dev.CreateKernel(prog, "main")
	if err != nil {
		dev.DestroyProgram(prog)
		return fmt.Errorf("techniques: variance kernel: %w", err)
	}
	t.destroyPrograms(eng)
	t.program = prog
	t.kernel = kern
	return nil
}

// ReloadPrograms implements pyre.ProgramReloader.
func (t *Variance) ReloadPrograms(eng *pyre.Engine) error {
	return t.compile(eng)
}

// ensureBuffers sizes the partial sum buffer and readback ring to the
// current render resolution.
func (t *Variance) ensureBuffers(eng *pyre.Engine) error {
	w, h := eng.RenderWidth(), eng.RenderHeight()
	gx, gy := groups2D(w, h)
	groups := gx * gy
	if groups == t.groups && t.sums.Valid() {
		return nil
	}
	t.destroyBuffers(eng)

	dev := eng.Device()
	size := uint64(groups) * 8
	sums, err := dev.CreateBuffer(&gfx.BufferDesc{
		Label:  "variance_sums",
		Size:   size,
		Stride: 8,
	})
	if err != nil {
		return err
	}
	ring, err := pyre.NewReadback(dev, size)
	if err != nil {
		dev.DestroyBuffer(sums)
		return err
	}
	t.sums = sums
	t.ring = ring
	t.groups = groups
	t.pixels = float64(w) * float64(h)
	return nil
}

// Render implements pyre.Technique.
func (t *Variance) Render(eng *pyre.Engine) {
	if err := t.ensureBuffers(eng); err != nil {
		pyre.Logger().Error("variance buffers unavailable", "err", err)
		return
	}
	dev := eng.Device()
	w, h := eng.RenderWidth(), eng.RenderHeight()

	dev.SetParameter(t.program, "color", eng.Texture("Color"))
	dev.SetParameter(t.program, "sums", t.sums)
	dev.SetParameter(t.program, "dims", [2]float32{float32(w), float32(h)})

	dev.BindKernel(t.kernel)
	gx, gy := groups2D(w, h)
	dev.Dispatch(gx, gy, 1)

	t.ring.Copy(t.sums)
	if data, ok := t.ring.Read(); ok {
		t.resolve(data)
	}
}

// resolve finishes the reduction from a frame that completed readback.
func (t *Variance) resolve(data []byte) {
	var sum, sumSq float64
	for i := 0; i+8 <= len(data); i += 8 {
		sum += float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
		sumSq += float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i+4:])))
	}
	if t.pixels == 0 {
		return
	}
	t.mean = sum / t.pixels
	t.value = sumSq/t.pixels - t.mean*t.mean
}

// Terminate implements pyre.Technique.
func (t *Variance) Terminate(eng *pyre.Engine) {
	t.destroyBuffers(eng)
	t.destroyPrograms(eng)
}

func (t *Variance) destroyBuffers(eng *pyre.Engine) {
	if t.ring != nil {
		t.ring.Destroy()
		t.ring = nil
	}
	if t.sums.Valid() {
		eng.Device().DestroyBuffer(t.sums)
		t.sums = gfx.InvalidID
	}
	t.groups = 0
}

func (t *Variance) destroyPrograms(eng *pyre.Engine) {
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
