// Package gfx provides the thin graphics backend abstraction the pyre
// core calls through. It exposes opaque resource handles and a small
// Device interface; backend packages (gfx/wgpu, gfx/null) implement it.
//
// The core never touches a graphics API directly: every texture,
// buffer, program, and kernel is created and destroyed through a Device,
// and GPU read/write hazards between pipeline stages are resolved by the
// backend, not by the caller.
package gfx

import (
	"errors"
	"time"

	"github.com/gogpu/gputypes"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("gfx: backend not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("gfx: not initialized")

	// ErrInvalidDimensions is returned when texture dimensions are invalid.
	ErrInvalidDimensions = errors.New("gfx: invalid dimensions")

	// ErrInvalidSize is returned when a buffer size is invalid.
	ErrInvalidSize = errors.New("gfx: invalid buffer size")

	// ErrUnknownHandle is returned when an operation references a handle
	// the device does not know about.
	ErrUnknownHandle = errors.New("gfx: unknown resource handle")
)

// InFlightFrames is the number of frames that may be in flight on the
// GPU at once. Readback rings and timestamp resolution use this as
// their latency bound.
const InFlightFrames = 3

// Resource IDs
//
// These opaque IDs represent GPU resources. Each backend maintains a
// mapping between IDs and actual API resources. IDs are uint64 to
// accommodate various backend handle sizes.

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// ProgramID is an opaque handle to a compiled shader program.
type ProgramID uint64

// KernelID is an opaque handle to an executable kernel (a program
// entry point bound to pipeline state).
type KernelID uint64

// TimestampID is an opaque handle to a GPU timestamp query.
type TimestampID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// Valid reports whether the handle refers to a live resource.
func (id TextureID) Valid() bool   { return id != InvalidID }
func (id BufferID) Valid() bool    { return id != InvalidID }
func (id ProgramID) Valid() bool   { return id != InvalidID }
func (id KernelID) Valid() bool    { return id != InvalidID }
func (id TimestampID) Valid() bool { return id != InvalidID }

// TextureDesc describes parameters for creating a texture.
type TextureDesc struct {
	// Label is an optional debug label for the texture.
	Label string

	// Width and Height are the texture dimensions in pixels.
	Width  uint32
	Height uint32

	// Format is the texture pixel format.
	Format gputypes.TextureFormat

	// MipLevels is the number of mipmap levels. Zero means 1.
	MipLevels uint32
}

// BufferDesc describes parameters for creating a buffer.
type BufferDesc struct {
	// Label is an optional debug label for the buffer.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Stride is the size in bytes of each element held in the buffer.
	// Zero means the buffer is raw/unstructured.
	Stride uint32

	// Readback marks the buffer as a CPU-readable staging target.
	Readback bool
}

// Device is the interface pyre uses to talk to a graphics backend.
//
// All methods must be called from the single render thread; Device
// implementations are not required to be safe for concurrent command
// recording. Resource creation failures are reported as errors; command
// recording methods on unknown handles log and become no-ops rather
// than fault, matching the framework's soft-failure policy.
type Device interface {
	// Name returns the backend identifier (e.g., "wgpu", "null").
	Name() string

	// Init initializes the backend.
	// This must be called before any resource operations.
	Init() error

	// Close releases all backend resources.
	// The device must not be used after Close is called.
	Close()

	// CreateTexture creates a GPU texture.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a GPU texture.
	DestroyTexture(id TextureID)

	// ClearTexture schedules a clear of the texture to zero.
	ClearTexture(id TextureID)

	// CopyTexture copies the full contents of src into dst.
	// Both textures must have identical dimensions and format.
	CopyTexture(src, dst TextureID)

	// CreateBuffer creates a GPU buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// ClearBuffer schedules a clear of the buffer to zero.
	ClearBuffer(id BufferID)

	// WriteBuffer uploads data into the buffer at the given offset.
	WriteBuffer(id BufferID, offset uint64, data []byte)

	// CopyBuffer copies size bytes from src to dst.
	CopyBuffer(src, dst BufferID, size uint64)

	// ReadBuffer reads back the contents of a readback buffer.
	// The data reflects GPU writes from submissions that have completed;
	// callers pace reads with a multi-frame ring to avoid stalls.
	ReadBuffer(id BufferID) ([]byte, error)

	// CreateProgram compiles a WGSL program.
	CreateProgram(name, source string) (ProgramID, error)

	// DestroyProgram releases a program.
	DestroyProgram(id ProgramID)

	// SetParameter binds a named program parameter. Accepted values are
	// TextureID, BufferID, and fixed-size scalar/vector/matrix data.
	SetParameter(id ProgramID, name string, value any)

	// CreateKernel builds an executable kernel for a program entry point.
	CreateKernel(id ProgramID, entry string) (KernelID, error)

	// DestroyKernel releases a kernel.
	DestroyKernel(id KernelID)

	// BindKernel makes the kernel current for subsequent Dispatch/Draw.
	BindKernel(id KernelID)

	// Dispatch executes the bound compute kernel.
	Dispatch(x, y, z uint32)

	// Draw executes the bound graphics kernel with vertexCount vertices.
	Draw(vertexCount uint32)

	// Blit copies the texture to the back buffer for presentation.
	Blit(src TextureID)

	// BeginEvent opens a named command event scope for GPU debuggers.
	BeginEvent(name string)

	// EndEvent closes the most recent command event scope.
	EndEvent()

	// BeginTimestamp opens a named GPU timestamp query.
	BeginTimestamp(name string) TimestampID

	// EndTimestamp closes a GPU timestamp query.
	EndTimestamp(id TimestampID)

	// TimestampResult returns the measured GPU duration once the query
	// data is available, typically InFlightFrames frames after the query
	// was recorded. The second result reports availability. Querying a
	// timestamp never blocks.
	TimestampResult(id TimestampID) (time.Duration, bool)

	// BackBufferFormat returns the presentation surface format.
	BackBufferFormat() gputypes.TextureFormat

	// Flush blocks until all submitted GPU work has completed. Used at
	// renderer switches before shared resources are torn down; never
	// called mid-frame.
	Flush()
}
