package components

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/gfx/null"
)

// lightTechnique is a minimal pipeline stage that pulls in the light
// components so their shared buffers get allocated.
type lightTechnique struct {
	pyre.TechniqueBase
	name string
	deps []string
}

func (t *lightTechnique) Name() string         { return t.name }
func (t *lightTechnique) Components() []string { return t.deps }
func (t *lightTechnique) Render(*pyre.Engine)  {}

type lightRenderer struct {
	deps []string
}

func (r *lightRenderer) Techniques(*pyre.Options) []pyre.Technique {
	return []pyre.Technique{&lightTechnique{name: "LightConsumer", deps: r.deps}}
}

func (*lightRenderer) RenderOptions() pyre.OptionList { return nil }

var rendererSeq atomic.Uint64

// newLightEngine builds an engine on the null device with a renderer
// that depends on the named components.
func newLightEngine(t *testing.T, deps ...string) *pyre.Engine {
	t.Helper()
	dev := null.New()
	if err := dev.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	name := fmt.Sprintf("light-renderer-%d", rendererSeq.Add(1))
	pyre.RegisterRenderer(name, func() pyre.Renderer {
		return &lightRenderer{deps: deps}
	})
	eng := pyre.New(dev, pyre.WithWindowSize(640, 480))
	t.Cleanup(eng.Terminate)
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer(%q) error = %v", name, err)
	}
	return eng
}

func readLights(t *testing.T, eng *pyre.Engine) (uint32, []float32) {
	t.Helper()
	buf := eng.Buffer("AllLights")
	if !buf.Valid() {
		t.Fatal("AllLights buffer not allocated")
	}
	data, err := eng.Device().ReadBuffer(buf)
	if err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	count := binary.LittleEndian.Uint32(data)
	floats := make([]float32, 0, count*8)
	for i := uint32(0); i < count*8; i++ {
		off := 16 + i*4
		floats = append(floats,
			math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
	}
	return count, floats
}

func TestLightBuilderPacksLights(t *testing.T) {
	eng := newLightEngine(t, LightBuilderName)
	builder := eng.Component(LightBuilderName).(*LightBuilder)

	builder.SetLights([]Light{
		{
			Position:  mgl32.Vec3{1, 2, 3},
			Radius:    4,
			Color:     mgl32.Vec3{0.5, 0.25, 0.125},
			Intensity: 8,
		},
		{
			Position:  mgl32.Vec3{-1, 0, 1},
			Radius:    2,
			Color:     mgl32.Vec3{1, 1, 1},
			Intensity: 0.5,
		},
	})
	if err := eng.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	count, floats := readLights(t, eng)
	if count != 2 {
		t.Fatalf("light count = %d, want 2", count)
	}
	want := []float32{
		1, 2, 3, 4, 0.5, 0.25, 0.125, 8,
		-1, 0, 1, 2, 1, 1, 1, 0.5,
	}
	for i, w := range want {
		if floats[i] != w {
			t.Errorf("float[%d] = %v, want %v", i, floats[i], w)
		}
	}
}

func TestLightBuilderSkipsCleanFrames(t *testing.T) {
	eng := newLightEngine(t, LightBuilderName)
	builder := eng.Component(LightBuilderName).(*LightBuilder)

	builder.SetLights([]Light{{Intensity: 1}})
	if err := eng.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	// Scribble over the buffer. A clean frame must not rewrite it.
	buf := eng.Buffer("AllLights")
	eng.Device().WriteBuffer(buf, 0, []byte{99, 0, 0, 0})
	if err := eng.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	count, _ := readLights(t, eng)
	if count != 99 {
		t.Errorf("count after clean frame = %d, want sentinel 99", count)
	}

	// Setting lights again marks the buffer dirty.
	builder.SetLights([]Light{{Intensity: 1}, {Intensity: 2}})
	if err := eng.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	count, _ = readLights(t, eng)
	if count != 2 {
		t.Errorf("count after dirty frame = %d, want 2", count)
	}
}

func TestLightBuilderTruncatesAtLimit(t *testing.T) {
	eng := newLightEngine(t, LightBuilderName)
	builder := eng.Component(LightBuilderName).(*LightBuilder)
	pyre.SetOption(eng.Options(), "light_builder_max_lights", uint32(2))

	builder.SetLights([]Light{{Intensity: 1}, {Intensity: 2}, {Intensity: 3}})
	if err := eng.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	count, floats := readLights(t, eng)
	if count != 2 {
		t.Fatalf("light count = %d, want 2", count)
	}
	if got := floats[7]; got != 1 {
		t.Errorf("light 0 intensity = %v, want 1", got)
	}
	if got := floats[15]; got != 2 {
		t.Errorf("light 1 intensity = %v, want 2", got)
	}
	if builder.LightCount() != 3 {
		t.Errorf("LightCount() = %d, want 3 (truncation is upload-only)", builder.LightCount())
	}
}
