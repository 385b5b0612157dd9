package components

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/pyre"
)

// LightBuilderName is the registered name of the light builder.
const LightBuilderName = "LightBuilder"

// lightStride is the packed GPU size of one light: position+radius and
// color+intensity, two float4s.
const lightStride = 32

func init() {
	pyre.RegisterComponent(LightBuilderName, func() pyre.Component {
		return &LightBuilder{}
	})
}

// Light is a point light in world space.
type Light struct {
	Position  mgl32.Vec3
	Radius    float32
	Color     mgl32.Vec3
	Intensity float32
}

// LightBuilder packs the application's lights into the AllLights GPU
// buffer once per frame. Applications reach it through
// Engine.Component(LightBuilderName) and call SetLights whenever the
// light set changes; the upload is skipped on frames where nothing
// changed.
type LightBuilder struct {
	pyre.ComponentBase

	lights []Light
	dirty  bool
}

// Name implements pyre.Component.
func (*LightBuilder) Name() string { return LightBuilderName }

// RenderOptions implements pyre.Component.
func (*LightBuilder) RenderOptions() pyre.OptionList {
	return pyre.OptionList{
		"light_builder_max_lights": uint32(1024),
	}
}

// SharedBuffers implements pyre.Component.
func (*LightBuilder) SharedBuffers() []pyre.SharedBuffer {
	return []pyre.SharedBuffer{
		{
			Name:   "AllLights",
			Access: pyre.AccessWrite,
			Size:   1024*lightStride + 16, // header + capacity for the default limit
			Stride: lightStride,
		},
	}
}

// SetLights replaces the light set uploaded on the next frame.
func (b *LightBuilder) SetLights(lights []Light) {
	b.lights = append(b.lights[:0], lights...)
	b.dirty = true
}

// LightCount returns the number of lights currently set.
func (b *LightBuilder) LightCount() int { return len(b.lights) }

// Init implements pyre.Component.
func (b *LightBuilder) Init(eng *pyre.Engine) error {
	b.dirty = true
	return nil
}

// Run implements pyre.Component.
func (b *LightBuilder) Run(eng *pyre.Engine) {
	if !b.dirty {
		return
	}
	b.dirty = false

	buf := eng.Buffer("AllLights")
	if !buf.Valid() {
		return
	}
	limit := pyre.GetOption[uint32](eng.Options(), "light_builder_max_lights")
	lights := b.lights
	if uint32(len(lights)) > limit {
		pyre.Logger().Warn("light count exceeds limit, truncating",
			"count", len(lights), "limit", limit)
		lights = lights[:limit]
	}

	// Header: light count in the first uint32, rest of the 16 bytes
	// reserved.
	data := make([]byte, 0, 16+len(lights)*lightStride)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(lights)))
	data = append(data, make([]byte, 12)...)
	for i := range lights {
		data = appendLight(data, &lights[i])
	}
	eng.Device().WriteBuffer(buf, 0, data)
}

func appendLight(b []byte, l *Light) []byte {
	b = appendFloat32(b, l.Position.X())
	b = appendFloat32(b, l.Position.Y())
	b = appendFloat32(b, l.Position.Z())
	b = appendFloat32(b, l.Radius)
	b = appendFloat32(b, l.Color.X())
	b = appendFloat32(b, l.Color.Y())
	b = appendFloat32(b, l.Color.Z())
	b = appendFloat32(b, l.Intensity)
	return b
}

func appendFloat32(b []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
}
