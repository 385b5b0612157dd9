// Package components provides the shared building blocks render
// techniques depend on by name: precomputed sampling sequences and the
// light data pipeline. Each component registers itself with pyre in an
// init function; importing this package makes them all available.
package components

import (
	"encoding/binary"

	"github.com/gogpu/pyre"
)

// BlueNoiseName is the registered name of the blue noise component.
const BlueNoiseName = "BlueNoise"

// blueNoiseEntries is the length of the sampling sequence. The buffer
// size is independent of the render resolution; shaders tile it.
const blueNoiseEntries = 256

func init() {
	pyre.RegisterComponent(BlueNoiseName, func() pyre.Component {
		return &BlueNoise{}
	})
}

// BlueNoise owns a low-discrepancy sampling sequence shared by every
// stochastic technique. The sequence is generated once at Init and
// never changes, so Run only has to reseed the per-frame offset.
type BlueNoise struct {
	pyre.ComponentBase
	uploaded bool
}

// Name implements pyre.Component.
func (*BlueNoise) Name() string { return BlueNoiseName }

// SharedBuffers implements pyre.Component.
func (*BlueNoise) SharedBuffers() []pyre.SharedBuffer {
	return []pyre.SharedBuffer{
		{
			Name:   "BlueNoiseSequence",
			Access: pyre.AccessWrite,
			Size:   blueNoiseEntries * 8, // two floats per entry
			Stride: 8,
		},
		{
			Name:   "SampleSeed",
			Access: pyre.AccessWrite,
			Size:   4,
		},
	}
}

// Init implements pyre.Component.
func (b *BlueNoise) Init(eng *pyre.Engine) error {
	buf := eng.Buffer("BlueNoiseSequence")
	if !buf.Valid() {
		return nil
	}
	eng.Device().WriteBuffer(buf, 0, generateSequence())
	b.uploaded = true
	return nil
}

// Run implements pyre.Component.
func (b *BlueNoise) Run(eng *pyre.Engine) {
	seed := eng.Buffer("SampleSeed")
	if !seed.Valid() {
		return
	}
	eng.Device().WriteBuffer(seed, 0,
		binary.LittleEndian.AppendUint32(nil, uint32(eng.FrameIndex())))
}

// generateSequence produces the R2 quasirandom sequence, a cheap
// stand-in for true blue noise with comparable 2D stratification.
func generateSequence() []byte {
	// Plastic constant and its square, the R2 generator values.
	const g = 1.32471795724474602596
	const a1 = 1.0 / g
	const a2 = 1.0 / (g * g)

	out := make([]byte, 0, blueNoiseEntries*8)
	x, y := 0.5, 0.5
	for i := 0; i < blueNoiseEntries; i++ {
		x += a1
		if x >= 1 {
			x--
		}
		y += a2
		if y >= 1 {
			y--
		}
		out = appendFloat32(out, float32(x))
		out = appendFloat32(out, float32(y))
	}
	return out
}
