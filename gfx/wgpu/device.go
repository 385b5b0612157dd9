// Package wgpu implements the gfx.Device interface on the wgpu hardware
// abstraction layer. WGSL programs are compiled to SPIR-V with naga and
// executed as compute pipelines.
//
// The backend can create its own hal instance and device, or attach to
// a device owned by a host application through a gpucontext-style
// provider exposing HalDevice() any and HalQueue() any.
package wgpu

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pyre/gfx"
)

func init() {
	gfx.Register("wgpu", func() (gfx.Device, error) {
		return New(), nil
	})
}

// Backend errors.
var (
	// ErrNoAdapter is returned when no GPU adapter is found.
	ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

	// ErrInvalidProvider is returned when a device provider does not
	// expose hal handles.
	ErrInvalidProvider = errors.New("wgpu: provider does not expose hal device and queue")
)

// halProvider is the duck-typed interface host applications implement
// to share their hal device, avoiding a second GPU initialization.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// Device implements gfx.Device on hal.
type Device struct {
	instance hal.Instance
	dev      hal.Device
	queue    hal.Queue
	owned    bool // instance/device created by Init, destroyed by Close

	adapterName string
	provider    halProvider

	next uint64

	textures map[gfx.TextureID]*texture
	buffers  map[gfx.BufferID]*buffer
	programs map[gfx.ProgramID]*program
	kernels  map[gfx.KernelID]*kernel

	// Per-frame command stream. All recording goes into one encoder,
	// submitted on Blit or Flush.
	encoder   hal.CommandEncoder
	recording bool
	bound     *kernel

	// transient holds hal resources created while recording the current
	// frame (per-dispatch bind groups, scratch uniform buffers). They
	// are released once the frame's submission has completed.
	transient []func()
	retired   [][]func() // one entry per in-flight frame

	timestamps map[gfx.TimestampID]*timestamp
	frame      uint64

	present *texture // blit target, lazily created
}

type texture struct {
	tex  hal.Texture
	view hal.TextureView
	desc gfx.TextureDesc
}

type buffer struct {
	buf  hal.Buffer
	desc gfx.BufferDesc
}

type timestamp struct {
	name  string
	begin time.Time
	dur   time.Duration
	frame uint64 // frame the scope was recorded in
	done  bool
}

// New creates an unattached wgpu device. Init opens the first available
// GPU adapter.
func New() *Device {
	return &Device{
		textures:   make(map[gfx.TextureID]*texture),
		buffers:    make(map[gfx.BufferID]*buffer),
		programs:   make(map[gfx.ProgramID]*program),
		kernels:    make(map[gfx.KernelID]*kernel),
		timestamps: make(map[gfx.TimestampID]*timestamp),
	}
}

// NewWithProvider creates a device that attaches to a host
// application's hal device instead of opening its own. The provider
// must expose HalDevice() any and HalQueue() any.
func NewWithProvider(provider any) (*Device, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrInvalidProvider
	}
	d := New()
	d.provider = hp
	return d, nil
}

// Name implements gfx.Device.
func (d *Device) Name() string { return "wgpu" }

// AdapterName returns the name of the opened GPU adapter.
func (d *Device) AdapterName() string { return d.adapterName }

// Init implements gfx.Device.
func (d *Device) Init() error {
	if d.provider != nil {
		dev, ok := d.provider.HalDevice().(hal.Device)
		if !ok {
			return fmt.Errorf("%w: HalDevice is not hal.Device", ErrInvalidProvider)
		}
		queue, ok := d.provider.HalQueue().(hal.Queue)
		if !ok {
			return fmt.Errorf("%w: HalQueue is not hal.Queue", ErrInvalidProvider)
		}
		d.dev = dev
		d.queue = queue
		d.adapterName = "shared"
		gfx.Logger().Info("wgpu backend attached to host device")
		return nil
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("%w: vulkan backend not available", gfx.ErrBackendNotAvailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("wgpu: open device: %w", err)
	}
	d.instance = instance
	d.dev = openDev.Device
	d.queue = openDev.Queue
	d.owned = true
	d.adapterName = selected.Info.Name
	gfx.Logger().Info("wgpu backend initialized", "adapter", d.adapterName)
	return nil
}

// Close implements gfx.Device.
func (d *Device) Close() {
	if d.dev == nil {
		return
	}
	d.Flush()
	for _, t := range d.textures {
		d.destroyTexture(t)
	}
	clear(d.textures)
	for _, b := range d.buffers {
		d.dev.DestroyBuffer(b.buf)
	}
	clear(d.buffers)
	for _, k := range d.kernels {
		k.destroy(d.dev)
	}
	clear(d.kernels)
	for _, p := range d.programs {
		p.destroy(d.dev)
	}
	clear(d.programs)
	if d.present != nil {
		d.destroyTexture(d.present)
		d.present = nil
	}
	if d.owned {
		d.dev.Destroy()
	}
	d.dev = nil
	d.queue = nil
}

func (d *Device) nextID() uint64 {
	d.next++
	return d.next
}

// textureUsage is the usage set every shared texture gets: compute
// access plus copy in both directions for clears, backups, and blits.
const textureUsage = gputypes.TextureUsageStorageBinding |
	gputypes.TextureUsageTextureBinding |
	gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst

// CreateTexture implements gfx.Device.
func (d *Device) CreateTexture(desc *gfx.TextureDesc) (gfx.TextureID, error) {
	if d.dev == nil {
		return gfx.InvalidID, gfx.ErrNotInitialized
	}
	if desc.Width == 0 || desc.Height == 0 {
		return gfx.InvalidID, fmt.Errorf("%w: %dx%d", gfx.ErrInvalidDimensions, desc.Width, desc.Height)
	}
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: mips,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         textureUsage,
	})
	if err != nil {
		return gfx.InvalidID, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}
	view, err := d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return gfx.InvalidID, fmt.Errorf("wgpu: create texture view %q: %w", desc.Label, err)
	}
	id := gfx.TextureID(d.nextID())
	d.textures[id] = &texture{tex: tex, view: view, desc: *desc}
	return id, nil
}

func (d *Device) destroyTexture(t *texture) {
	if t.view != nil {
		d.dev.DestroyTextureView(t.view)
	}
	d.dev.DestroyTexture(t.tex)
}

// DestroyTexture implements gfx.Device.
func (d *Device) DestroyTexture(id gfx.TextureID) {
	t, ok := d.textures[id]
	if !ok {
		gfx.Logger().Error("destroy of unknown texture", "id", uint64(id))
		return
	}
	delete(d.textures, id)
	d.destroyTexture(t)
}

// formatBytes returns the per-pixel byte size of the formats the
// framework allocates.
func formatBytes(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// copyPitchAlignment is the BytesPerRow alignment WebGPU and DX12
// require for buffer/texture copies.
const copyPitchAlignment = 256

func alignedRow(width uint32, f gputypes.TextureFormat) uint32 {
	row := width * formatBytes(f)
	return (row + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
}

// ClearTexture implements gfx.Device. hal has no dedicated clear
// command, so the clear is a copy from a zero-filled staging buffer.
func (d *Device) ClearTexture(id gfx.TextureID) {
	t, ok := d.textures[id]
	if !ok {
		gfx.Logger().Error("clear of unknown texture", "id", uint64(id))
		return
	}
	enc := d.frameEncoder()
	if enc == nil {
		return
	}
	row := alignedRow(t.desc.Width, t.desc.Format)
	size := uint64(row) * uint64(t.desc.Height)
	zeroBuf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "clear_zero",
		Size:  size,
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		gfx.Logger().Error("create clear buffer failed", "error", err)
		return
	}
	d.queue.WriteBuffer(zeroBuf, 0, make([]byte, size))
	d.transient = append(d.transient, func() { d.dev.DestroyBuffer(zeroBuf) })

	d.transitionTexture(enc, t, textureUsage, gputypes.TextureUsageCopyDst)
	enc.CopyBufferToTexture(zeroBuf, t.tex, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: row, RowsPerImage: t.desc.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
		Size: hal.Extent3D{
			Width:              t.desc.Width,
			Height:             t.desc.Height,
			DepthOrArrayLayers: 1,
		},
	}})
	d.transitionTexture(enc, t, gputypes.TextureUsageCopyDst, textureUsage)
}

// transitionTexture inserts an explicit layout barrier. Required on
// Vulkan when a texture moves between storage and transfer usage; a
// no-op on the other hal backends.
func (d *Device) transitionTexture(enc hal.CommandEncoder, t *texture, from, to gputypes.TextureUsage) {
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: from,
			NewUsage: to,
		},
	}})
}

// CopyTexture implements gfx.Device. Both textures are round-tripped
// through a staging buffer because hal does not expose a direct
// texture-to-texture copy.
func (d *Device) CopyTexture(src, dst gfx.TextureID) {
	s, ok := d.textures[src]
	if !ok {
		gfx.Logger().Error("copy from unknown texture", "id", uint64(src))
		return
	}
	t, ok := d.textures[dst]
	if !ok {
		gfx.Logger().Error("copy to unknown texture", "id", uint64(dst))
		return
	}
	if s.desc.Width != t.desc.Width || s.desc.Height != t.desc.Height || s.desc.Format != t.desc.Format {
		gfx.Logger().Error("texture copy descriptor mismatch",
			"src", s.desc.Label, "dst", t.desc.Label)
		return
	}
	d.copyTextures(s, t)
}

func (d *Device) copyTextures(s, t *texture) {
	enc := d.frameEncoder()
	if enc == nil {
		return
	}
	row := alignedRow(s.desc.Width, s.desc.Format)
	size := uint64(row) * uint64(s.desc.Height)
	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "copy_staging",
		Size:  size,
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		gfx.Logger().Error("create copy staging buffer failed", "error", err)
		return
	}
	d.transient = append(d.transient, func() { d.dev.DestroyBuffer(staging) })

	extent := hal.Extent3D{
		Width:              s.desc.Width,
		Height:             s.desc.Height,
		DepthOrArrayLayers: 1,
	}
	layout := hal.ImageDataLayout{Offset: 0, BytesPerRow: row, RowsPerImage: s.desc.Height}

	d.transitionTexture(enc, s, textureUsage, gputypes.TextureUsageCopySrc)
	enc.CopyTextureToBuffer(s.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: layout,
		TextureBase:  hal.ImageCopyTexture{Texture: s.tex, MipLevel: 0},
		Size:         extent,
	}})
	d.transitionTexture(enc, s, gputypes.TextureUsageCopySrc, textureUsage)

	d.transitionTexture(enc, t, textureUsage, gputypes.TextureUsageCopyDst)
	enc.CopyBufferToTexture(staging, t.tex, []hal.BufferTextureCopy{{
		BufferLayout: layout,
		TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
		Size:         extent,
	}})
	d.transitionTexture(enc, t, gputypes.TextureUsageCopyDst, textureUsage)
}

// bufferUsage derives hal usage flags from a descriptor.
func bufferUsage(desc *gfx.BufferDesc) gputypes.BufferUsage {
	if desc.Readback {
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	return gputypes.BufferUsageStorage |
		gputypes.BufferUsageUniform |
		gputypes.BufferUsageCopySrc |
		gputypes.BufferUsageCopyDst
}

// CreateBuffer implements gfx.Device.
func (d *Device) CreateBuffer(desc *gfx.BufferDesc) (gfx.BufferID, error) {
	if d.dev == nil {
		return gfx.InvalidID, gfx.ErrNotInitialized
	}
	if desc.Size == 0 {
		return gfx.InvalidID, gfx.ErrInvalidSize
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc),
	})
	if err != nil {
		return gfx.InvalidID, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}
	id := gfx.BufferID(d.nextID())
	d.buffers[id] = &buffer{buf: buf, desc: *desc}
	return id, nil
}

// DestroyBuffer implements gfx.Device.
func (d *Device) DestroyBuffer(id gfx.BufferID) {
	b, ok := d.buffers[id]
	if !ok {
		gfx.Logger().Error("destroy of unknown buffer", "id", uint64(id))
		return
	}
	delete(d.buffers, id)
	d.dev.DestroyBuffer(b.buf)
}

// ClearBuffer implements gfx.Device.
func (d *Device) ClearBuffer(id gfx.BufferID) {
	b, ok := d.buffers[id]
	if !ok {
		gfx.Logger().Error("clear of unknown buffer", "id", uint64(id))
		return
	}
	zero := make([]byte, b.desc.Size)
	d.queue.WriteBuffer(b.buf, 0, zero)
}

// WriteBuffer implements gfx.Device.
func (d *Device) WriteBuffer(id gfx.BufferID, offset uint64, data []byte) {
	b, ok := d.buffers[id]
	if !ok {
		gfx.Logger().Error("write to unknown buffer", "id", uint64(id))
		return
	}
	if len(data) == 0 {
		return
	}
	d.queue.WriteBuffer(b.buf, offset, data)
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
	if enc := d.frameEncoder(); enc != nil {
		enc.CopyBufferToBuffer(s.buf, t.buf, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: size},
		})
	}
}

// ReadBuffer implements gfx.Device. The buffer must have been created
// with Readback set. Reads see the data as of the last completed
// submission; callers pace access through a multi-frame ring.
func (d *Device) ReadBuffer(id gfx.BufferID) ([]byte, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gfx.ErrUnknownHandle, id)
	}
	d.queue.PollCompleted()
	mapping, err := d.dev.MapBuffer(b.buf, 0, b.desc.Size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map buffer %q: %w", b.desc.Label, err)
	}
	out := make([]byte, b.desc.Size)
	copy(out, unsafe.Slice((*byte)(mapping.Ptr), b.desc.Size))
	if err := d.dev.UnmapBuffer(b.buf); err != nil {
		return nil, fmt.Errorf("wgpu: unmap buffer %q: %w", b.desc.Label, err)
	}
	return out, nil
}

// frameEncoder returns the current frame's command encoder, starting a
// new one if needed.
func (d *Device) frameEncoder() hal.CommandEncoder {
	if d.recording {
		return d.encoder
	}
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "frame"})
	if err != nil {
		gfx.Logger().Error("create command encoder failed", "error", err)
		return nil
	}
	if err := enc.BeginEncoding("frame"); err != nil {
		gfx.Logger().Error("begin encoding failed", "error", err)
		return nil
	}
	d.encoder = enc
	d.recording = true
	return enc
}

// submit ends the current encoder and submits it. When wait is set the
// call blocks until the GPU has drained the queue.
func (d *Device) submit(wait bool) {
	if !d.recording {
		if wait {
			d.waitIdle()
		}
		return
	}
	d.recording = false
	cmdBuf, err := d.encoder.EndEncoding()
	if err != nil {
		gfx.Logger().Error("end encoding failed", "error", err)
		d.releaseTransient()
		return
	}
	d.encoder = nil

	if _, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		gfx.Logger().Error("submit failed", "error", err)
	}
	d.dev.FreeCommandBuffer(cmdBuf)

	if wait {
		d.waitIdle()
		d.releaseTransient()
		d.retireAll()
		return
	}

	// Transient resources stay alive until this submission is known to
	// have completed, bounded by the in-flight frame count.
	d.retired = append(d.retired, d.transient)
	d.transient = nil
	for len(d.retired) > gfx.InFlightFrames {
		for _, release := range d.retired[0] {
			release()
		}
		d.retired = d.retired[1:]
	}
}

func (d *Device) releaseTransient() {
	for _, release := range d.transient {
		release()
	}
	d.transient = nil
}

func (d *Device) retireAll() {
	for _, frame := range d.retired {
		for _, release := range frame {
			release()
		}
	}
	d.retired = nil
}

func (d *Device) waitIdle() {
	if err := d.dev.WaitIdle(); err != nil {
		gfx.Logger().Error("wait idle failed", "error", err)
	}
	d.queue.PollCompleted()
}

// Blit implements gfx.Device. The source is copied into the backend's
// presentation texture and the frame's command stream is submitted.
func (d *Device) Blit(src gfx.TextureID) {
	s, ok := d.textures[src]
	if !ok {
		gfx.Logger().Error("blit of unknown texture", "id", uint64(src))
		d.submit(false)
		d.frame++
		return
	}
	if d.present != nil && (d.present.desc.Width != s.desc.Width ||
		d.present.desc.Height != s.desc.Height || d.present.desc.Format != s.desc.Format) {
		d.destroyTexture(d.present)
		d.present = nil
	}
	if d.present == nil {
		desc := s.desc
		desc.Label = "Present"
		tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
			Label: desc.Label,
			Size: hal.Extent3D{
				Width:              desc.Width,
				Height:             desc.Height,
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        desc.Format,
			Usage:         textureUsage,
		})
		if err != nil {
			gfx.Logger().Error("create present texture failed", "error", err)
		} else {
			view, verr := d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: "Present_view"})
			if verr != nil {
				d.dev.DestroyTexture(tex)
			} else {
				d.present = &texture{tex: tex, view: view, desc: desc}
			}
		}
	}
	if d.present != nil {
		d.copyTextures(s, d.present)
	}
	d.submit(false)
	d.frame++
	d.resolveTimestamps()
}

// PresentTexture returns the hal texture holding the last blitted
// frame, for host applications that composite it themselves. Returns
// nil before the first Blit.
func (d *Device) PresentTexture() any {
	if d.present == nil {
		return nil
	}
	return d.present.tex
}

// BeginEvent implements gfx.Device. Command-stream debug markers are
// not exposed by hal yet, so events only feed the backend log at debug
// level.
func (d *Device) BeginEvent(name string) {
	gfx.Logger().Debug("begin event", "name", name)
}

// EndEvent implements gfx.Device.
func (d *Device) EndEvent() {}

// BeginTimestamp implements gfx.Device.
//
// Scopes measure the CPU time spent recording and become available
// once the scope's frame has certainly completed on the GPU. TODO:
// record into a hal timestamp query set on adapters that report
// timestamp support instead of CPU clocks.
func (d *Device) BeginTimestamp(name string) gfx.TimestampID {
	id := gfx.TimestampID(d.nextID())
	d.timestamps[id] = &timestamp{
		name:  name,
		begin: time.Now(),
		frame: d.frame,
	}
	return id
}

// EndTimestamp implements gfx.Device.
func (d *Device) EndTimestamp(id gfx.TimestampID) {
	ts, ok := d.timestamps[id]
	if !ok {
		gfx.Logger().Error("end of unknown timestamp", "id", uint64(id))
		return
	}
	ts.dur = time.Since(ts.begin)
}

// resolveTimestamps marks scopes from frames older than the in-flight
// bound as available.
func (d *Device) resolveTimestamps() {
	for _, ts := range d.timestamps {
		if !ts.done && d.frame >= ts.frame+gfx.InFlightFrames {
			ts.done = true
		}
	}
}

// TimestampResult implements gfx.Device.
func (d *Device) TimestampResult(id gfx.TimestampID) (time.Duration, bool) {
	ts, ok := d.timestamps[id]
	if !ok {
		return 0, false
	}
	if !ts.done {
		return 0, false
	}
	delete(d.timestamps, id)
	return ts.dur, true
}

// BackBufferFormat implements gfx.Device.
func (d *Device) BackBufferFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}

// Flush implements gfx.Device.
func (d *Device) Flush() {
	if d.dev == nil {
		return
	}
	d.submit(true)
}
