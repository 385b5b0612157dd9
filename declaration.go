package pyre

import "github.com/gogpu/gputypes"

// Access describes how a technique or component uses a shared resource.
type Access int

const (
	// AccessRead declares the resource is only read.
	AccessRead Access = iota

	// AccessWrite declares the resource is only written.
	AccessWrite

	// AccessReadWrite declares the resource is both read and written.
	AccessReadWrite
)

// String returns the access mode name.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	case AccessReadWrite:
		return "ReadWrite"
	default:
		return "Unknown"
	}
}

// Reads reports whether the access mode includes reading.
func (a Access) Reads() bool { return a == AccessRead || a == AccessReadWrite }

// Writes reports whether the access mode includes writing.
func (a Access) Writes() bool { return a == AccessWrite || a == AccessReadWrite }

// Flags modify how a shared resource declaration is treated during
// negotiation and at frame boundaries.
type Flags uint32

const (
	// FlagNone requests default handling.
	FlagNone Flags = 0

	// FlagClear requests that the resource be cleared to zero at the
	// start of every frame. Mutually exclusive with FlagAccumulate.
	FlagClear Flags = 1 << iota

	// FlagAccumulate requests that the resource contents persist across
	// frames. Mutually exclusive with FlagClear.
	FlagAccumulate

	// FlagOptional marks the declaration as inactive unless another
	// declarer requires the resource. An optional write is created only
	// when a non-optional read exists; an optional read resolves to the
	// invalid handle when no writer exists.
	FlagOptional

	// FlagAllocate forces buffer allocation even without a declared size,
	// deferring sizing to the declarer at runtime.
	FlagAllocate
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// SharedTexture declares a texture that is shared between techniques.
//
// Width and Height of zero mean the texture tracks the render
// resolution and is reallocated on resize; any other value fixes the
// size. A Format of zero (undefined) on a read declaration means the
// reader accepts whatever format the writer declared.
type SharedTexture struct {
	// Name identifies the texture. Declarations with the same name from
	// different techniques refer to the same physical texture.
	Name string

	// Access is how the declarer uses the texture.
	Access Access

	// Flags modify negotiation and per-frame handling.
	Flags Flags

	// Format is the requested pixel format.
	Format gputypes.TextureFormat

	// Width and Height fix the texture size in pixels.
	// Zero means the texture follows the output resolution and is
	// reallocated when the output resizes.
	Width  uint32
	Height uint32

	// Output pins a resolution-tracking texture to the output
	// dimensions. Tracking textures otherwise follow the internal
	// render resolution, which differs from the output when a render
	// scale is set. Ignored when Width/Height are set.
	Output bool

	// Mips requests a full mipmap chain.
	Mips bool

	// Backup names a second texture that receives a copy of this
	// texture's previous-frame contents at the start of every frame.
	// Empty means no backup.
	Backup string
}

// SharedBuffer declares a buffer that is shared between techniques.
type SharedBuffer struct {
	// Name identifies the buffer. Declarations with the same name from
	// different techniques refer to the same physical buffer.
	Name string

	// Access is how the declarer uses the buffer.
	Access Access

	// Flags modify negotiation and per-frame handling.
	Flags Flags

	// Size is the buffer size in bytes. Zero defers allocation unless
	// FlagAllocate is set.
	Size uint64

	// Stride is the element size in bytes for structured buffers.
	Stride uint32
}
