// Package null provides a graphics backend that performs no GPU work.
// It validates handles and tracks live resources, which makes it useful
// for tests and for running the framework on machines without a GPU.
package null

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pyre/gfx"
)

func init() {
	gfx.Register("null", func() (gfx.Device, error) {
		return New(), nil
	})
}

// Device is a no-op gfx.Device that tracks resource lifetimes.
type Device struct {
	initialized bool
	next        uint64

	textures map[gfx.TextureID]gfx.TextureDesc
	buffers  map[gfx.BufferID]*bufferState
	programs map[gfx.ProgramID]string
	kernels  map[gfx.KernelID]gfx.ProgramID

	timestamps map[gfx.TimestampID]uint64 // frame the query was recorded in
	frame      uint64                     // advanced on Blit

	created   int
	destroyed int
}

type bufferState struct {
	desc gfx.BufferDesc
	data []byte
}

// New creates a null device.
func New() *Device {
	return &Device{
		textures:   make(map[gfx.TextureID]gfx.TextureDesc),
		buffers:    make(map[gfx.BufferID]*bufferState),
		programs:   make(map[gfx.ProgramID]string),
		kernels:    make(map[gfx.KernelID]gfx.ProgramID),
		timestamps: make(map[gfx.TimestampID]uint64),
	}
}

// Name implements gfx.Device.
func (d *Device) Name() string { return "null" }

// Init implements gfx.Device.
func (d *Device) Init() error {
	d.initialized = true
	return nil
}

// Close implements gfx.Device.
func (d *Device) Close() {
	d.initialized = false
	clear(d.textures)
	clear(d.buffers)
	clear(d.programs)
	clear(d.kernels)
}

// AliveTextures returns the number of live textures. Test helper.
func (d *Device) AliveTextures() int { return len(d.textures) }

// AliveBuffers returns the number of live buffers. Test helper.
func (d *Device) AliveBuffers() int { return len(d.buffers) }

// Created returns the total number of resources ever created.
func (d *Device) Created() int { return d.created }

// Destroyed returns the total number of resources ever destroyed.
func (d *Device) Destroyed() int { return d.destroyed }

// TextureDesc returns the descriptor a live texture was created with.
func (d *Device) TextureDesc(id gfx.TextureID) (gfx.TextureDesc, bool) {
	desc, ok := d.textures[id]
	return desc, ok
}

func (d *Device) nextID() uint64 {
	d.next++
	return d.next
}

// CreateTexture implements gfx.Device.
func (d *Device) CreateTexture(desc *gfx.TextureDesc) (gfx.TextureID, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return gfx.InvalidID, fmt.Errorf("%w: %dx%d", gfx.ErrInvalidDimensions, desc.Width, desc.Height)
	}
	id := gfx.TextureID(d.nextID())
	d.textures[id] = *desc
	d.created++
	return id, nil
}

// DestroyTexture implements gfx.Device.
func (d *Device) DestroyTexture(id gfx.TextureID) {
	if _, ok := d.textures[id]; !ok {
		gfx.Logger().Error("destroy of unknown texture", "id", uint64(id))
		return
	}
	delete(d.textures, id)
	d.destroyed++
}

// ClearTexture implements gfx.Device.
func (d *Device) ClearTexture(id gfx.TextureID) { d.checkTexture(id, "clear") }

// CopyTexture implements gfx.Device.
func (d *Device) CopyTexture(src, dst gfx.TextureID) {
	d.checkTexture(src, "copy source")
	d.checkTexture(dst, "copy destination")
}

func (d *Device) checkTexture(id gfx.TextureID, op string) {
	if _, ok := d.textures[id]; !ok {
		gfx.Logger().Error("texture operation on unknown handle",
			"op", op, "id", uint64(id))
	}
}

// CreateBuffer implements gfx.Device.
func (d *Device) CreateBuffer(desc *gfx.BufferDesc) (gfx.BufferID, error) {
	if desc.Size == 0 {
		return gfx.InvalidID, gfx.ErrInvalidSize
	}
	id := gfx.BufferID(d.nextID())
	d.buffers[id] = &bufferState{desc: *desc, data: make([]byte, desc.Size)}
	d.created++
	return id, nil
}

// DestroyBuffer implements gfx.Device.
func (d *Device) DestroyBuffer(id gfx.BufferID) {
	if _, ok := d.buffers[id]; !ok {
		gfx.Logger().Error("destroy of unknown buffer", "id", uint64(id))
		return
	}
	delete(d.buffers, id)
	d.destroyed++
}

// ClearBuffer implements gfx.Device.
func (d *Device) ClearBuffer(id gfx.BufferID) {
	if b, ok := d.buffers[id]; ok {
		clear(b.data)
	}
}

// WriteBuffer implements gfx.Device.
func (d *Device) WriteBuffer(id gfx.BufferID, offset uint64, data []byte) {
	b, ok := d.buffers[id]
	if !ok {
		gfx.Logger().Error("write to unknown buffer", "id", uint64(id))
		return
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		gfx.Logger().Error("buffer write out of range", "id", uint64(id))
		return
	}
	copy(b.data[offset:], data)
}

// CopyBuffer implements gfx.Device.
func (d *Device) CopyBuffer(src, dst gfx.BufferID, size uint64) {
	s, ok := d.buffers[src]
	if !ok {
		gfx.Logger().Error("copy from unknown buffer", "id", uint64(src))
		return
	}
	t, ok := d.buffers[dst]
	if !ok {
		gfx.Logger().Error("copy to unknown buffer", "id", uint64(dst))
		return
	}
	n := min(size, uint64(len(s.data)), uint64(len(t.data)))
	copy(t.data[:n], s.data[:n])
}

// ReadBuffer implements gfx.Device.
func (d *Device) ReadBuffer(id gfx.BufferID) ([]byte, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gfx.ErrUnknownHandle, id)
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

// CreateProgram implements gfx.Device. Source is accepted unchecked.
func (d *Device) CreateProgram(name, source string) (gfx.ProgramID, error) {
	id := gfx.ProgramID(d.nextID())
	d.programs[id] = name
	d.created++
	return id, nil
}

// DestroyProgram implements gfx.Device.
func (d *Device) DestroyProgram(id gfx.ProgramID) {
	if _, ok := d.programs[id]; !ok {
		gfx.Logger().Error("destroy of unknown program", "id", uint64(id))
		return
	}
	delete(d.programs, id)
	d.destroyed++
}

// SetParameter implements gfx.Device.
func (d *Device) SetParameter(id gfx.ProgramID, name string, value any) {
	if _, ok := d.programs[id]; !ok {
		gfx.Logger().Error("parameter on unknown program",
			"program", uint64(id), "parameter", name)
	}
}

// CreateKernel implements gfx.Device.
func (d *Device) CreateKernel(id gfx.ProgramID, entry string) (gfx.KernelID, error) {
	if _, ok := d.programs[id]; !ok {
		return gfx.InvalidID, fmt.Errorf("%w: program %d", gfx.ErrUnknownHandle, id)
	}
	kid := gfx.KernelID(d.nextID())
	d.kernels[kid] = id
	d.created++
	return kid, nil
}

// DestroyKernel implements gfx.Device.
func (d *Device) DestroyKernel(id gfx.KernelID) {
	if _, ok := d.kernels[id]; !ok {
		gfx.Logger().Error("destroy of unknown kernel", "id", uint64(id))
		return
	}
	delete(d.kernels, id)
	d.destroyed++
}

// BindKernel implements gfx.Device.
func (d *Device) BindKernel(id gfx.KernelID) {}

// Dispatch implements gfx.Device.
func (d *Device) Dispatch(x, y, z uint32) {}

// Draw implements gfx.Device.
func (d *Device) Draw(vertexCount uint32) {}

// Blit implements gfx.Device. Blit marks the end of a frame for
// timestamp availability purposes.
func (d *Device) Blit(src gfx.TextureID) {
	d.checkTexture(src, "blit")
	d.frame++
}

// BeginEvent implements gfx.Device.
func (d *Device) BeginEvent(name string) {}

// EndEvent implements gfx.Device.
func (d *Device) EndEvent() {}

// BeginTimestamp implements gfx.Device.
func (d *Device) BeginTimestamp(name string) gfx.TimestampID {
	id := gfx.TimestampID(d.nextID())
	d.timestamps[id] = d.frame
	return id
}

// EndTimestamp implements gfx.Device.
func (d *Device) EndTimestamp(id gfx.TimestampID) {}

// TimestampResult implements gfx.Device. Queries resolve (to zero
// duration) once the recording frame is at least InFlightFrames old.
func (d *Device) TimestampResult(id gfx.TimestampID) (time.Duration, bool) {
	recorded, ok := d.timestamps[id]
	if !ok {
		return 0, false
	}
	if d.frame < recorded+gfx.InFlightFrames {
		return 0, false
	}
	delete(d.timestamps, id)
	return 0, true
}

// BackBufferFormat implements gfx.Device.
func (d *Device) BackBufferFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}

// Flush implements gfx.Device.
func (d *Device) Flush() {}
