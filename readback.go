package pyre

import (
	"fmt"

	"github.com/gogpu/pyre/gfx"
)

// Readback streams GPU buffer contents back to the CPU without
// stalling. It keeps one staging buffer per in-flight frame; each frame
// the caller copies into the current slot and reads the slot that the
// GPU finished several frames ago. Data returned by Read is therefore
// gfx.InFlightFrames frames old.
type Readback struct {
	dev    gfx.Device
	size   uint64
	slots  [gfx.InFlightFrames]gfx.BufferID
	frame  int
	primed int // slots written so far; Read yields nothing until the ring wraps
}

// NewReadback creates a readback ring for size-byte snapshots.
func NewReadback(dev gfx.Device, size uint64) (*Readback, error) {
	r := &Readback{dev: dev, size: size}
	for i := range r.slots {
		id, err := dev.CreateBuffer(&gfx.BufferDesc{
			Label:    fmt.Sprintf("Readback%d", i),
			Size:     size,
			Readback: true,
		})
		if err != nil {
			r.Destroy()
			return nil, fmt.Errorf("pyre: creating readback ring: %w", err)
		}
		r.slots[i] = id
	}
	return r, nil
}

// Copy records a copy of src into the current frame's slot and advances
// the ring. Call once per frame.
func (r *Readback) Copy(src gfx.BufferID) {
	r.dev.CopyBuffer(src, r.slots[r.frame], r.size)
	r.frame = (r.frame + 1) % len(r.slots)
	if r.primed < len(r.slots) {
		r.primed++
	}
}

// Read returns the oldest slot's contents, which the GPU is guaranteed
// to have finished writing. The second result is false until enough
// frames have elapsed for the ring to hold completed data.
func (r *Readback) Read() ([]byte, bool) {
	if r.primed < len(r.slots) {
		return nil, false
	}
	data, err := r.dev.ReadBuffer(r.slots[r.frame])
	if err != nil {
		Logger().Error("readback failed", "error", err)
		return nil, false
	}
	return data, true
}

// Destroy releases the staging buffers.
func (r *Readback) Destroy() {
	for i, id := range r.slots {
		if id.Valid() {
			r.dev.DestroyBuffer(id)
			r.slots[i] = gfx.InvalidID
		}
	}
}
