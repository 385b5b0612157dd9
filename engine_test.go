package pyre

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pyre/gfx"
	"github.com/gogpu/pyre/gfx/null"
)

// testRenderer returns the same technique instances on every call so
// tests can inspect their counters across renderer switches.
type testRenderer struct {
	techs     []Technique
	overrides OptionList
}

func (r *testRenderer) Techniques(*Options) []Technique { return r.techs }
func (r *testRenderer) RenderOptions() OptionList       { return r.overrides }

var rendererSeq int

func registerTestRenderer(r *testRenderer) string {
	rendererSeq++
	name := fmt.Sprintf("test-renderer-%d", rendererSeq)
	RegisterRenderer(name, func() Renderer { return r })
	return name
}

func newTestEngine(t *testing.T) (*Engine, *null.Device) {
	t.Helper()
	dev := null.New()
	if err := dev.Init(); err != nil {
		t.Fatalf("null device init: %v", err)
	}
	eng := New(dev, WithWindowSize(640, 480))
	t.Cleanup(eng.Terminate)
	return eng, dev
}

func colorWriter(name string) *testTechnique {
	return &testTechnique{
		name: name,
		textures: []SharedTexture{
			{Name: "Color", Access: AccessWrite, Format: gputypes.TextureFormatRGBA32Float},
		},
	}
}

func TestRenderWithoutRenderer(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.Render(); !errors.Is(err, ErrNoRenderer) {
		t.Errorf("Render() = %v, want ErrNoRenderer", err)
	}
}

func TestSetRendererUnknown(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.SetRenderer("nope"); !errors.Is(err, ErrUnknownRenderer) {
		t.Errorf("SetRenderer = %v, want ErrUnknownRenderer", err)
	}
}

func TestSetRendererRunsPipeline(t *testing.T) {
	eng, _ := newTestEngine(t)
	tech := colorWriter("pipeline-tech")
	name := registerTestRenderer(&testRenderer{techs: []Technique{tech}})

	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}
	if got := eng.Renderer(); got != name {
		t.Errorf("Renderer() = %q, want %q", got, name)
	}
	if tech.initCalls != 1 {
		t.Errorf("initCalls = %d, want 1", tech.initCalls)
	}

	for i := 0; i < 3; i++ {
		if err := eng.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	if tech.renderqty != 3 {
		t.Errorf("renderqty = %d, want 3", tech.renderqty)
	}
	if got := eng.FrameIndex(); got != 3 {
		t.Errorf("FrameIndex = %d, want 3", got)
	}
}

func TestSetRendererValidationKeepsCurrent(t *testing.T) {
	eng, _ := newTestEngine(t)
	good := colorWriter("good-tech")
	goodName := registerTestRenderer(&testRenderer{techs: []Technique{good}})
	if err := eng.SetRenderer(goodName); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}

	// A pipeline reading a texture nobody writes must fail validation
	// without tearing down the running renderer.
	bad := &testTechnique{
		name: "bad-tech",
		textures: []SharedTexture{
			{Name: "Nonexistent", Access: AccessRead},
		},
	}
	badName := registerTestRenderer(&testRenderer{techs: []Technique{bad}})
	if err := eng.SetRenderer(badName); !errors.Is(err, ErrReadWithoutWriter) {
		t.Fatalf("SetRenderer = %v, want ErrReadWithoutWriter", err)
	}

	if got := eng.Renderer(); got != goodName {
		t.Errorf("Renderer() = %q, want %q after failed switch", got, goodName)
	}
	if good.termCalls != 0 {
		t.Errorf("running technique terminated by failed switch: termCalls = %d", good.termCalls)
	}
	if err := eng.Render(); err != nil {
		t.Errorf("Render after failed switch: %v", err)
	}
}

func TestRendererSwitchReleasesResources(t *testing.T) {
	eng, dev := newTestEngine(t)

	a := &testTechnique{
		name: "tech-a",
		textures: []SharedTexture{
			{Name: "Color", Access: AccessWrite, Format: gputypes.TextureFormatRGBA32Float},
			{Name: "OnlyInA", Access: AccessWrite, Format: gputypes.TextureFormatR32Float},
		},
		buffers: []SharedBuffer{
			{Name: "LightsA", Access: AccessReadWrite, Size: 256, Stride: 16},
		},
	}
	b := colorWriter("tech-b")
	nameA := registerTestRenderer(&testRenderer{techs: []Technique{a}})
	nameB := registerTestRenderer(&testRenderer{techs: []Technique{b}})

	if err := eng.SetRenderer(nameA); err != nil {
		t.Fatalf("SetRenderer(A): %v", err)
	}
	aliveTexA := dev.AliveTextures()
	aliveBufA := dev.AliveBuffers()
	colorID := eng.Texture("Color")

	if err := eng.SetRenderer(nameB); err != nil {
		t.Fatalf("SetRenderer(B): %v", err)
	}
	if dev.AliveTextures() >= aliveTexA {
		t.Errorf("switch to B kept A's textures: %d -> %d", aliveTexA, dev.AliveTextures())
	}
	if dev.AliveBuffers() != aliveBufA-1 {
		t.Errorf("AliveBuffers = %d, want %d", dev.AliveBuffers(), aliveBufA-1)
	}
	// Color has the same descriptor in both pipelines, so the handle
	// survives the switch.
	if eng.Texture("Color") != colorID {
		t.Error("Color handle changed across renderer switch with identical declaration")
	}

	if err := eng.SetRenderer(nameA); err != nil {
		t.Fatalf("SetRenderer(A) again: %v", err)
	}
	if dev.AliveTextures() != aliveTexA {
		t.Errorf("A->B->A texture count %d, want %d", dev.AliveTextures(), aliveTexA)
	}
	if dev.AliveBuffers() != aliveBufA {
		t.Errorf("A->B->A buffer count %d, want %d", dev.AliveBuffers(), aliveBufA)
	}
	if a.termCalls != 1 || a.initCalls != 2 {
		t.Errorf("technique A lifecycle: %d inits, %d terminates; want 2, 1",
			a.initCalls, a.termCalls)
	}
}

func TestInitFailureDisablesButTerminates(t *testing.T) {
	eng, _ := newTestEngine(t)

	broken := colorWriter("broken-tech")
	broken.initErr = errors.New("boom")
	healthy := colorWriter("healthy-tech")
	name := registerTestRenderer(&testRenderer{techs: []Technique{broken, healthy}})

	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}
	for i := 0; i < gfx.InFlightFrames+2; i++ {
		if err := eng.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	if broken.renderqty != 0 {
		t.Errorf("failed technique rendered %d times, want 0", broken.renderqty)
	}
	if healthy.renderqty == 0 {
		t.Error("healthy technique did not render")
	}

	// The failed technique must not appear in the timing tree.
	if tree := eng.Profiler().Tree(); tree != nil {
		for _, n := range tree.Children {
			if n.Name == broken.name {
				t.Errorf("disabled technique %q present in timing tree", broken.name)
			}
		}
	}

	eng.Terminate()
	if broken.termCalls != 1 {
		t.Errorf("failed technique termCalls = %d, want 1", broken.termCalls)
	}
}

func TestDebugViewLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)

	withView := colorWriter("view-tech")
	withView.views = []string{"Wireframe"}
	nameA := registerTestRenderer(&testRenderer{techs: []Technique{withView}})
	nameB := registerTestRenderer(&testRenderer{techs: []Technique{colorWriter("plain-tech")}})

	if err := eng.SetRenderer(nameA); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}
	views := eng.DebugViews()
	if len(views) != 2 || views[0] != DebugViewNone || views[1] != "Wireframe" {
		t.Fatalf("DebugViews = %v, want [None Wireframe]", views)
	}

	if err := eng.SetDebugView("NoSuchView"); !errors.Is(err, ErrUnknownDebugView) {
		t.Errorf("SetDebugView = %v, want ErrUnknownDebugView", err)
	}
	if err := eng.SetDebugView("Wireframe"); err != nil {
		t.Fatalf("SetDebugView: %v", err)
	}
	if got := eng.CurrentDebugView(); got != "Wireframe" {
		t.Errorf("CurrentDebugView = %q, want Wireframe", got)
	}

	// Switching to a renderer without the view reverts to None.
	if err := eng.SetRenderer(nameB); err != nil {
		t.Fatalf("SetRenderer(B): %v", err)
	}
	if got := eng.CurrentDebugView(); got != DebugViewNone {
		t.Errorf("CurrentDebugView after switch = %q, want %q", got, DebugViewNone)
	}
}

func TestOptionsRebuiltOnRendererSwitch(t *testing.T) {
	eng, _ := newTestEngine(t)

	a := colorWriter("opt-tech-a")
	a.options = OptionList{"alpha_quality": uint32(2)}
	b := colorWriter("opt-tech-b")
	b.options = OptionList{"beta_quality": uint32(7)}
	nameA := registerTestRenderer(&testRenderer{techs: []Technique{a}})
	nameB := registerTestRenderer(&testRenderer{
		techs:     []Technique{b},
		overrides: OptionList{"beta_quality": uint32(9)},
	})

	if err := eng.SetRenderer(nameA); err != nil {
		t.Fatalf("SetRenderer(A): %v", err)
	}
	if got := GetOption[uint32](eng.Options(), "alpha_quality"); got != 2 {
		t.Errorf("alpha_quality = %d, want 2", got)
	}

	if err := eng.SetRenderer(nameB); err != nil {
		t.Fatalf("SetRenderer(B): %v", err)
	}
	if eng.Options().Has("alpha_quality") {
		t.Error("previous renderer's option survived the switch")
	}
	if got := GetOption[uint32](eng.Options(), "beta_quality"); got != 9 {
		t.Errorf("beta_quality = %d, want renderer override 9", got)
	}
}

func TestResizeIsDeferredToFrameStart(t *testing.T) {
	eng, _ := newTestEngine(t)
	tech := colorWriter("resize-tech")

	var sawResize bool
	var widthInFrame uint32
	tech.renderHook = func(e *Engine) {
		if e.WindowDimensionsUpdated() {
			sawResize = true
			widthInFrame = e.Width()
		}
	}
	name := registerTestRenderer(&testRenderer{techs: []Technique{tech}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}
	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}

	eng.Resize(800, 600)
	if eng.Width() != 640 {
		t.Errorf("Resize applied immediately: Width = %d", eng.Width())
	}
	colorGen := eng.TextureGeneration("Color")

	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !sawResize {
		t.Error("technique did not observe WindowDimensionsUpdated")
	}
	if widthInFrame != 800 {
		t.Errorf("width during resize frame = %d, want 800", widthInFrame)
	}
	if eng.Width() != 800 || eng.Height() != 600 {
		t.Errorf("engine size = %dx%d, want 800x600", eng.Width(), eng.Height())
	}
	if got := eng.TextureGeneration("Color"); got != colorGen+1 {
		t.Errorf("Color generation = %d, want %d", got, colorGen+1)
	}
}

func TestRenderScale(t *testing.T) {
	eng, _ := newTestEngine(t)
	name := registerTestRenderer(&testRenderer{techs: []Technique{colorWriter("scale-tech")}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}

	eng.SetRenderScale(0.5)
	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := eng.RenderWidth(); got != 320 {
		t.Errorf("RenderWidth = %d, want 320", got)
	}
	if got := eng.Width(); got != 640 {
		t.Errorf("Width = %d, want 640 (output resolution unchanged)", got)
	}
}

func TestRenderScaleTextureResolutions(t *testing.T) {
	eng, dev := newTestEngine(t)
	name := registerTestRenderer(&testRenderer{techs: []Technique{colorWriter("halfres-tech")}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}

	// The scale is set after SetRenderer, so the engine has to bring in
	// ColorScaled at the frame boundary that applies it.
	eng.SetRenderScale(0.5)
	for i := 0; i < gfx.InFlightFrames+2; i++ {
		if err := eng.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}

	desc, ok := dev.TextureDesc(eng.Texture("Color"))
	if !ok {
		t.Fatal("Color texture missing from device")
	}
	if desc.Width != 320 || desc.Height != 240 {
		t.Errorf("Color is %dx%d, want render resolution 320x240", desc.Width, desc.Height)
	}

	scaled := eng.Texture("ColorScaled")
	if !scaled.Valid() {
		t.Fatal("ColorScaled not allocated under render scale")
	}
	desc, _ = dev.TextureDesc(scaled)
	if desc.Width != 640 || desc.Height != 480 {
		t.Errorf("ColorScaled is %dx%d, want output resolution 640x480", desc.Width, desc.Height)
	}

	tree := eng.Profiler().Tree()
	if tree == nil {
		t.Fatal("no timing tree")
	}
	var sawUpscale bool
	for _, n := range tree.Children {
		if n.Name == "Upscale" {
			sawUpscale = true
		}
	}
	if !sawUpscale {
		t.Error("upscale pass missing from timing tree")
	}

	// Returning to scale 1 drops the upscale target again.
	eng.SetRenderScale(1)
	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if eng.Texture("ColorScaled").Valid() {
		t.Error("ColorScaled still allocated at render scale 1")
	}
	desc, _ = dev.TextureDesc(eng.Texture("Color"))
	if desc.Width != 640 || desc.Height != 480 {
		t.Errorf("Color is %dx%d after scale reset, want 640x480", desc.Width, desc.Height)
	}
}

func TestOptionChangesApplyAtFrameBoundaries(t *testing.T) {
	eng, _ := newTestEngine(t)
	writer := colorWriter("fog-writer-tech")
	writer.options = OptionList{"fog_density": float32(1)}
	reader := colorWriter("fog-reader-tech")

	// The writer runs before the reader in pipeline order; its mid-frame
	// write must stay invisible until the next frame.
	writer.renderHook = func(e *Engine) {
		SetOption(e.Options(), "fog_density", float32(2))
	}
	var seen []float32
	reader.renderHook = func(e *Engine) {
		seen = append(seen, GetOption[float32](e.Options(), "fog_density"))
	}
	name := registerTestRenderer(&testRenderer{techs: []Technique{writer, reader}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := eng.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}

	want := []float32{1, 2}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("frame %d fog_density = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestRenderPausedSkipsFrameWork(t *testing.T) {
	eng, _ := newTestEngine(t)
	tech := colorWriter("renderpause-tech")
	name := registerTestRenderer(&testRenderer{techs: []Technique{tech}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}
	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}

	eng.SetRenderPaused(true)
	if !eng.RenderPaused() {
		t.Error("RenderPaused() = false after SetRenderPaused(true)")
	}
	for i := 0; i < 3; i++ {
		if err := eng.Render(); err != nil {
			t.Fatalf("Render while paused: %v", err)
		}
	}
	if tech.renderqty != 1 {
		t.Errorf("technique ran %d times, want 1 (render-paused frames skip work)", tech.renderqty)
	}
	if got := eng.FrameIndex(); got != 1 {
		t.Errorf("FrameIndex = %d, want 1 while render-paused", got)
	}

	eng.SetRenderPaused(false)
	if err := eng.Render(); err != nil {
		t.Fatalf("Render after resume: %v", err)
	}
	if tech.renderqty != 2 {
		t.Errorf("technique ran %d times after resume, want 2", tech.renderqty)
	}
	if got := eng.FrameIndex(); got != 2 {
		t.Errorf("FrameIndex = %d after resume, want 2", got)
	}
}

// failTextureDevice lets a fixed number of texture creations through
// and fails the rest.
type failTextureDevice struct {
	*null.Device
	allow int
}

func (d *failTextureDevice) CreateTexture(desc *gfx.TextureDesc) (gfx.TextureID, error) {
	if d.allow <= 0 {
		return gfx.InvalidID, errors.New("device out of memory")
	}
	d.allow--
	return d.Device.CreateTexture(desc)
}

func TestResolveFailureDisablesPipeline(t *testing.T) {
	inner := null.New()
	if err := inner.Init(); err != nil {
		t.Fatalf("null device init: %v", err)
	}
	dev := &failTextureDevice{Device: inner}
	eng := New(dev, WithWindowSize(640, 480))
	t.Cleanup(eng.Terminate)

	tech := colorWriter("alloc-fail-tech")
	name := registerTestRenderer(&testRenderer{techs: []Technique{tech}})
	if err := eng.SetRenderer(name); err == nil {
		t.Fatal("SetRenderer succeeded with failing texture allocation")
	}
	if tech.initCalls != 0 {
		t.Errorf("technique initialized despite allocation failure: initCalls = %d", tech.initCalls)
	}

	// The old pipeline is gone; rendering must skip the half-built one
	// instead of feeding it invalid handles.
	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if tech.renderqty != 0 {
		t.Errorf("disabled technique rendered %d times, want 0", tech.renderqty)
	}
}

func TestPausedFreezesFrameIndex(t *testing.T) {
	eng, _ := newTestEngine(t)
	name := registerTestRenderer(&testRenderer{techs: []Technique{colorWriter("pause-tech")}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}

	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	eng.SetPaused(true)
	if err := eng.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := eng.FrameIndex(); got != 1 {
		t.Errorf("FrameIndex = %d, want 1 while paused", got)
	}
}

func TestTerminate(t *testing.T) {
	dev := null.New()
	if err := dev.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	eng := New(dev, WithWindowSize(320, 240))
	tech := colorWriter("term-tech")
	name := registerTestRenderer(&testRenderer{techs: []Technique{tech}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}

	eng.Terminate()
	eng.Terminate() // second call is a no-op

	if tech.termCalls != 1 {
		t.Errorf("termCalls = %d, want 1", tech.termCalls)
	}
	if dev.AliveTextures() != 0 || dev.AliveBuffers() != 0 {
		t.Errorf("resources alive after Terminate: %d textures, %d buffers",
			dev.AliveTextures(), dev.AliveBuffers())
	}
	if err := eng.Render(); !errors.Is(err, ErrTerminated) {
		t.Errorf("Render after Terminate = %v, want ErrTerminated", err)
	}
	if err := eng.SetRenderer(name); !errors.Is(err, ErrTerminated) {
		t.Errorf("SetRenderer after Terminate = %v, want ErrTerminated", err)
	}
}

func TestRendererUpdatedEvent(t *testing.T) {
	eng, _ := newTestEngine(t)
	tech := colorWriter("event-tech")
	var events []bool
	tech.renderHook = func(e *Engine) {
		events = append(events, e.RendererUpdated())
	}
	name := registerTestRenderer(&testRenderer{techs: []Technique{tech}})
	if err := eng.SetRenderer(name); err != nil {
		t.Fatalf("SetRenderer: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := eng.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	want := []bool{true, false}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("frame %d RendererUpdated = %v, want %v", i, events[i], want[i])
		}
	}
}
