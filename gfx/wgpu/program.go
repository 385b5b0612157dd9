package wgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pyre/gfx"
)

// param is one named program parameter. Parameters map to bindings in
// group 0; the binding index is the order in which the parameter was
// first set, so WGSL sources declare bindings in that same order.
type param struct {
	name string
	slot uint32

	buffer  gfx.BufferID
	texture gfx.TextureID
	data    []byte // uniform payload for scalar parameters
}

type program struct {
	name   string
	module hal.ShaderModule
	params []*param
	byName map[string]*param
}

func (p *program) destroy(dev hal.Device) {
	dev.DestroyShaderModule(p.module)
}

// kernel is a compiled entry point. The pipeline is built lazily on
// first dispatch, once the program's parameter shape is known, and is
// rebuilt when that shape changes.
type kernel struct {
	prog  *program
	entry string

	pipeline   hal.ComputePipeline
	pipeLayout hal.PipelineLayout
	bindLayout hal.BindGroupLayout
	signature  string
}

func (k *kernel) destroy(dev hal.Device) {
	if k.pipeline != nil {
		dev.DestroyComputePipeline(k.pipeline)
		k.pipeline = nil
	}
	if k.pipeLayout != nil {
		dev.DestroyPipelineLayout(k.pipeLayout)
		k.pipeLayout = nil
	}
	if k.bindLayout != nil {
		dev.DestroyBindGroupLayout(k.bindLayout)
		k.bindLayout = nil
	}
}

// compileWGSL compiles WGSL to SPIR-V words. naga emits little-endian
// bytes.
func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// CreateProgram implements gfx.Device.
func (d *Device) CreateProgram(name, source string) (gfx.ProgramID, error) {
	if d.dev == nil {
		return gfx.InvalidID, gfx.ErrNotInitialized
	}
	words, err := compileWGSL(source)
	if err != nil {
		return gfx.InvalidID, fmt.Errorf("wgpu: compile program %q: %w", name, err)
	}
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return gfx.InvalidID, fmt.Errorf("wgpu: create shader module %q: %w", name, err)
	}
	id := gfx.ProgramID(d.nextID())
	d.programs[id] = &program{
		name:   name,
		module: module,
		byName: make(map[string]*param),
	}
	return id, nil
}

// DestroyProgram implements gfx.Device.
func (d *Device) DestroyProgram(id gfx.ProgramID) {
	p, ok := d.programs[id]
	if !ok {
		gfx.Logger().Error("destroy of unknown program", "id", uint64(id))
		return
	}
	// Kernels referencing the program die with it.
	for kid, k := range d.kernels {
		if k.prog == p {
			k.destroy(d.dev)
			delete(d.kernels, kid)
		}
	}
	delete(d.programs, id)
	p.destroy(d.dev)
}

// SetParameter implements gfx.Device. Accepted values: gfx.BufferID,
// gfx.TextureID, []byte, bool, uint32, int32, float32, [2]float32,
// [4]float32, and [16]float32.
func (d *Device) SetParameter(id gfx.ProgramID, name string, value any) {
	p, ok := d.programs[id]
	if !ok {
		gfx.Logger().Error("parameter on unknown program",
			"program", uint64(id), "parameter", name)
		return
	}
	prm, ok := p.byName[name]
	if !ok {
		prm = &param{name: name, slot: uint32(len(p.params))}
		p.byName[name] = prm
		p.params = append(p.params, prm)
	}
	prm.buffer = gfx.InvalidID
	prm.texture = gfx.InvalidID
	prm.data = nil

	switch v := value.(type) {
	case gfx.BufferID:
		prm.buffer = v
	case gfx.TextureID:
		prm.texture = v
	case []byte:
		prm.data = v
	case bool:
		u := uint32(0)
		if v {
			u = 1
		}
		prm.data = binary.LittleEndian.AppendUint32(nil, u)
	case uint32:
		prm.data = binary.LittleEndian.AppendUint32(nil, v)
	case int32:
		prm.data = binary.LittleEndian.AppendUint32(nil, uint32(v))
	case float32:
		prm.data = binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
	case [2]float32:
		prm.data = appendFloats(nil, v[:])
	case [4]float32:
		prm.data = appendFloats(nil, v[:])
	case [16]float32:
		prm.data = appendFloats(nil, v[:])
	default:
		gfx.Logger().Error("unsupported parameter type",
			"program", p.name, "parameter", name)
		delete(p.byName, name)
		p.params = p.params[:len(p.params)-1]
	}
}

func appendFloats(b []byte, fs []float32) []byte {
	for _, f := range fs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// CreateKernel implements gfx.Device.
func (d *Device) CreateKernel(id gfx.ProgramID, entry string) (gfx.KernelID, error) {
	p, ok := d.programs[id]
	if !ok {
		return gfx.InvalidID, fmt.Errorf("%w: program %d", gfx.ErrUnknownHandle, id)
	}
	kid := gfx.KernelID(d.nextID())
	d.kernels[kid] = &kernel{prog: p, entry: entry}
	return kid, nil
}

// DestroyKernel implements gfx.Device.
func (d *Device) DestroyKernel(id gfx.KernelID) {
	k, ok := d.kernels[id]
	if !ok {
		gfx.Logger().Error("destroy of unknown kernel", "id", uint64(id))
		return
	}
	if d.bound == k {
		d.bound = nil
	}
	delete(d.kernels, id)
	k.destroy(d.dev)
}

// BindKernel implements gfx.Device.
func (d *Device) BindKernel(id gfx.KernelID) {
	k, ok := d.kernels[id]
	if !ok {
		gfx.Logger().Error("bind of unknown kernel", "id", uint64(id))
		return
	}
	d.bound = k
}

// signature captures the parameter shape a pipeline was built against.
func (d *Device) paramSignature(p *program) string {
	sig := ""
	for _, prm := range p.params {
		switch {
		case prm.buffer != gfx.InvalidID:
			sig += "b;"
		case prm.texture != gfx.InvalidID:
			format := gputypes.TextureFormatUndefined
			if t, ok := d.textures[prm.texture]; ok {
				format = t.desc.Format
			}
			sig += fmt.Sprintf("t%d;", format)
		default:
			sig += fmt.Sprintf("u%d;", uniformSize(prm.data))
		}
	}
	return sig
}

// uniformSize pads a payload to the 16-byte uniform alignment.
func uniformSize(data []byte) uint64 {
	n := uint64(len(data))
	if n == 0 {
		n = 4
	}
	return (n + 15) &^ 15
}

// ensurePipeline builds or rebuilds the kernel's pipeline to match the
// program's current parameter shape.
func (d *Device) ensurePipeline(k *kernel) error {
	sig := d.paramSignature(k.prog)
	if k.pipeline != nil && k.signature == sig {
		return nil
	}
	k.destroy(d.dev)

	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(k.prog.params))
	for _, prm := range k.prog.params {
		entry := gputypes.BindGroupLayoutEntry{
			Binding:    prm.slot,
			Visibility: gputypes.ShaderStageCompute,
		}
		switch {
		case prm.buffer != gfx.InvalidID:
			entry.Buffer = &gputypes.BufferBindingLayout{
				Type: gputypes.BufferBindingTypeStorage,
			}
		case prm.texture != gfx.InvalidID:
			format := gputypes.TextureFormatUndefined
			if t, ok := d.textures[prm.texture]; ok {
				format = t.desc.Format
			}
			entry.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadWrite,
				Format:        format,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		default:
			entry.Buffer = &gputypes.BufferBindingLayout{
				Type: gputypes.BufferBindingTypeUniform,
			}
		}
		entries = append(entries, entry)
	}

	bindLayout, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.prog.name + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group layout for %q: %w", k.prog.name, err)
	}
	pipeLayout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.prog.name + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.dev.DestroyBindGroupLayout(bindLayout)
		return fmt.Errorf("wgpu: create pipeline layout for %q: %w", k.prog.name, err)
	}
	pipeline, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  k.prog.name + "_" + k.entry,
		Layout: pipeLayout,
		Compute: hal.ComputeState{
			Module:     k.prog.module,
			EntryPoint: k.entry,
		},
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(pipeLayout)
		d.dev.DestroyBindGroupLayout(bindLayout)
		return fmt.Errorf("wgpu: create compute pipeline for %q: %w", k.prog.name, err)
	}
	k.bindLayout = bindLayout
	k.pipeLayout = pipeLayout
	k.pipeline = pipeline
	k.signature = sig
	return nil
}

// buildBindGroup assembles a transient bind group from the program's
// current parameter values.
func (d *Device) buildBindGroup(k *kernel) (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, 0, len(k.prog.params))
	for _, prm := range k.prog.params {
		entry := gputypes.BindGroupEntry{Binding: prm.slot}
		switch {
		case prm.buffer != gfx.InvalidID:
			b, ok := d.buffers[prm.buffer]
			if !ok {
				return nil, fmt.Errorf("%w: parameter %q buffer", gfx.ErrUnknownHandle, prm.name)
			}
			entry.Resource = gputypes.BufferBinding{
				Buffer: b.buf.NativeHandle(),
				Offset: 0,
				Size:   b.desc.Size,
			}
		case prm.texture != gfx.InvalidID:
			t, ok := d.textures[prm.texture]
			if !ok {
				return nil, fmt.Errorf("%w: parameter %q texture", gfx.ErrUnknownHandle, prm.name)
			}
			entry.Resource = gputypes.TextureViewBinding{
				TextureView: t.view.NativeHandle(),
			}
		default:
			size := uniformSize(prm.data)
			ub, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
				Label: k.prog.name + "_" + prm.name,
				Size:  size,
				Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
			})
			if err != nil {
				return nil, fmt.Errorf("wgpu: create uniform for %q: %w", prm.name, err)
			}
			payload := make([]byte, size)
			copy(payload, prm.data)
			d.queue.WriteBuffer(ub, 0, payload)
			d.transient = append(d.transient, func() { d.dev.DestroyBuffer(ub) })
			entry.Resource = gputypes.BufferBinding{
				Buffer: ub.NativeHandle(),
				Offset: 0,
				Size:   size,
			}
		}
		entries = append(entries, entry)
	}

	bg, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   k.prog.name + "_bind",
		Layout:  k.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group for %q: %w", k.prog.name, err)
	}
	d.transient = append(d.transient, func() { d.dev.DestroyBindGroup(bg) })
	return bg, nil
}

// Dispatch implements gfx.Device.
func (d *Device) Dispatch(x, y, z uint32) {
	if d.bound == nil {
		gfx.Logger().Error("dispatch without a bound kernel")
		return
	}
	k := d.bound
	if err := d.ensurePipeline(k); err != nil {
		gfx.Logger().Error("pipeline build failed",
			"program", k.prog.name, "error", err)
		return
	}
	bg, err := d.buildBindGroup(k)
	if err != nil {
		gfx.Logger().Error("bind group build failed",
			"program", k.prog.name, "error", err)
		return
	}
	enc := d.frameEncoder()
	if enc == nil {
		return
	}
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: k.prog.name})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(x, y, z)
	pass.End()
}

// Draw implements gfx.Device. The compute-only hal path has no graphics
// pipelines; full-screen passes are expressed as compute kernels, so a
// draw request indicates a technique built for a raster backend.
func (d *Device) Draw(vertexCount uint32) {
	gfx.Logger().Error("draw is not supported by the wgpu compute backend")
}
