package pyre

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pyre/gfx"
)

// Engine errors.
var (
	// ErrNoRenderer is returned by Render before a renderer is set.
	ErrNoRenderer = errors.New("pyre: no renderer set")

	// ErrTerminated is returned when the engine is used after Terminate.
	ErrTerminated = errors.New("pyre: engine terminated")

	// ErrUnknownDebugView is returned by SetDebugView for a view no
	// active technique declares.
	ErrUnknownDebugView = errors.New("pyre: unknown debug view")
)

// DebugViewNone is the always-available debug view that shows the
// normal rendered output.
const DebugViewNone = "None"

// Engine owns the frame loop: it holds the active renderer's techniques
// and components, the shared resources they negotiated, the options
// store, and the profiler. Create one with New, select a pipeline with
// SetRenderer, then call Render once per frame.
//
// All methods must be called from the render thread unless noted
// otherwise. The engine does not own the Device it was given; callers
// close the device after Terminate.
type Engine struct {
	dev gfx.Device

	options  *Options
	alloc    *allocator
	profiler *Profiler

	// Negotiated declarations of the active configuration, plus the
	// pipeline's raw declarations so resizes and render scale changes
	// can renegotiate against fresh stock declarations.
	negotiatedTexs map[string]*mergedTexture
	negotiatedBufs map[string]*mergedBuffer
	pipelineDecls  []declarer

	rendererName string
	renderer     Renderer
	techniques   []Technique
	components   []Component
	disabled     map[string]bool // techniques/components whose Init failed

	debugViews   []string
	debugOwners  map[string]Technique
	currentDebug string

	camera       Camera
	matrices     CameraMatrices
	havePrevVP   bool
	jitterPhases uint32

	width, height   uint32
	renderScale     float32
	pendingWidth    uint32
	pendingHeight   uint32
	pendingScale    float32
	havePendingSize bool

	frameIndex uint64
	frameTime  float64 // seconds since New, frozen while paused
	lastFrame  time.Time
	paused     bool

	renderPaused bool
	lastOutput   gfx.TextureID // presented while render-paused

	upscaleProg gfx.ProgramID
	upscaleKern gfx.KernelID

	reloadRequested bool
	rendererSwitch  bool // pending event, consumed at next frame start
	terminated      bool

	events struct {
		windowResized  bool
		renderResized  bool
		rendererSwitch bool
	}
}

// Option configures an Engine at creation time.
type Option func(*Engine)

// WithWindowSize sets the output dimensions in pixels.
// The default is 1280x720.
func WithWindowSize(width, height uint32) Option {
	return func(e *Engine) {
		e.width = width
		e.height = height
	}
}

// WithRenderScale sets the internal render resolution as a fraction of
// the output resolution. The default is 1.
func WithRenderScale(scale float32) Option {
	return func(e *Engine) {
		if scale > 0 {
			e.renderScale = scale
		}
	}
}

// WithCamera sets the initial camera.
func WithCamera(cam Camera) Option {
	return func(e *Engine) { e.camera = cam }
}

// New creates an engine on the given device. The device must already be
// initialized.
func New(dev gfx.Device, opts ...Option) *Engine {
	e := &Engine{
		dev:          dev,
		options:      NewOptions(),
		alloc:        newAllocator(),
		profiler:     newProfiler(dev),
		disabled:     make(map[string]bool),
		debugOwners:  make(map[string]Technique),
		debugViews:   []string{DebugViewNone},
		currentDebug: DebugViewNone,
		width:        1280,
		height:       720,
		renderScale:  1,
		lastFrame:    time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.camera.FovY == 0 {
		e.camera = DefaultCamera(float32(e.width) / float32(e.height))
	}
	return e
}

// Device returns the graphics device the engine renders with.
func (e *Engine) Device() gfx.Device { return e.dev }

// Options returns the engine's option store.
func (e *Engine) Options() *Options { return e.options }

// Profiler returns the engine's frame profiler.
func (e *Engine) Profiler() *Profiler { return e.profiler }

// FrameIndex returns the number of frames rendered so far.
func (e *Engine) FrameIndex() uint64 { return e.frameIndex }

// Time returns the accumulated frame time in seconds. It stops
// advancing while the engine is paused.
func (e *Engine) Time() float64 { return e.frameTime }

// SetPaused stops or resumes the advance of frame time and the
// temporal jitter sequence. Rendering itself continues; use
// SetRenderPaused to stop rendering.
func (e *Engine) SetPaused(paused bool) { e.paused = paused }

// Paused reports whether frame time is paused.
func (e *Engine) Paused() bool { return e.paused }

// SetRenderPaused stops or resumes rendering. While render-paused,
// Render skips every component and technique and re-presents the last
// rendered output, so the window stays responsive without the GPU
// doing frame work.
func (e *Engine) SetRenderPaused(paused bool) { e.renderPaused = paused }

// RenderPaused reports whether rendering is paused.
func (e *Engine) RenderPaused() bool { return e.renderPaused }

// Width and Height return the output dimensions in pixels.
func (e *Engine) Width() uint32  { return e.width }
func (e *Engine) Height() uint32 { return e.height }

// RenderWidth and RenderHeight return the internal render dimensions,
// the output dimensions scaled by the render scale.
func (e *Engine) RenderWidth() uint32  { return scaleDim(e.width, e.renderScale) }
func (e *Engine) RenderHeight() uint32 { return scaleDim(e.height, e.renderScale) }

// RenderScale returns the current render scale.
func (e *Engine) RenderScale() float32 { return e.renderScale }

func scaleDim(d uint32, s float32) uint32 {
	v := uint32(float32(d) * s)
	if v == 0 {
		v = 1
	}
	return v
}

// Resize requests new output dimensions. The change is applied at the
// start of the next frame so in-flight resources are never resized
// mid-frame.
func (e *Engine) Resize(width, height uint32) {
	if width == 0 || height == 0 {
		Logger().Error("resize to zero dimensions ignored",
			slog.Uint64("width", uint64(width)),
			slog.Uint64("height", uint64(height)))
		return
	}
	if !e.havePendingSize {
		e.pendingScale = e.renderScale
		e.havePendingSize = true
	}
	e.pendingWidth = width
	e.pendingHeight = height
}

// SetRenderScale requests a new render scale, applied at the start of
// the next frame.
func (e *Engine) SetRenderScale(scale float32) {
	if scale <= 0 {
		Logger().Error("non-positive render scale ignored")
		return
	}
	if !e.havePendingSize {
		e.pendingWidth = e.width
		e.pendingHeight = e.height
		e.havePendingSize = true
	}
	e.pendingScale = scale
}

// Camera returns the current camera.
func (e *Engine) Camera() Camera { return e.camera }

// SetCamera replaces the camera. Matrices are rebuilt at the next frame.
func (e *Engine) SetCamera(cam Camera) { e.camera = cam }

// CameraMatrices returns the matrices for the frame being rendered.
func (e *Engine) CameraMatrices() CameraMatrices { return e.matrices }

// SetCameraJitterPhases enables sub-pixel projection jitter cycling
// through n Halton samples. Zero disables jitter. Temporal techniques
// enable this during Init.
func (e *Engine) SetCameraJitterPhases(n uint32) { e.jitterPhases = n }

// WindowDimensionsUpdated reports whether the output dimensions changed
// at the start of the current frame.
func (e *Engine) WindowDimensionsUpdated() bool { return e.events.windowResized }

// RenderDimensionsUpdated reports whether the internal render
// dimensions changed at the start of the current frame, whether from a
// resize or a render scale change.
func (e *Engine) RenderDimensionsUpdated() bool { return e.events.renderResized }

// RendererUpdated reports whether the active renderer changed since the
// previous frame.
func (e *Engine) RendererUpdated() bool { return e.events.rendererSwitch }

// Renderer returns the name of the active renderer, or "" if none.
func (e *Engine) Renderer() string { return e.rendererName }

// Techniques returns the active techniques in pipeline order.
func (e *Engine) Techniques() []Technique { return e.techniques }

// Component returns the active component with the given name, or nil.
// Applications type-assert the result to reach component-specific APIs.
func (e *Engine) Component(name string) Component {
	for _, c := range e.components {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// RequestReloadPrograms asks every active technique and component that
// supports it to rebuild its shader programs at the start of the next
// frame.
func (e *Engine) RequestReloadPrograms() { e.reloadRequested = true }

// stockDeclarations are the engine's own shared resources, negotiated
// ahead of all components and techniques so their formats win. Color
// and Debug track the internal render resolution with everything else;
// ColorScaled is the one output-resolution texture, the target of the
// upscale pass, and exists only while a render scale is active.
func (e *Engine) stockDeclarations() declarer {
	texs := []SharedTexture{
		{Name: "Color", Access: AccessReadWrite, Format: gputypes.TextureFormatRGBA32Float, Flags: FlagClear},
		{Name: "Debug", Access: AccessReadWrite, Flags: FlagOptional},
	}
	if e.renderScale != 1 {
		texs = append(texs, SharedTexture{
			Name:   "ColorScaled",
			Access: AccessReadWrite,
			Format: gputypes.TextureFormatRGBA32Float,
			Flags:  FlagClear,
			Output: true,
		})
	}
	return declarer{name: "engine", textures: texs}
}

// SetRenderer replaces the active frame pipeline with the named
// renderer. The new configuration is validated in full before the old
// one is torn down: an unknown renderer, an unresolvable or cyclic
// component dependency, and a declaration conflict all leave the
// current pipeline running and return an error.
//
// On success the options store is rebuilt from the new techniques'
// defaults, shared resources are reconciled in place (resources whose
// name and descriptor are unchanged keep their handles), and the debug
// view falls back to DebugViewNone if its declaring technique is gone.
func (e *Engine) SetRenderer(name string) error {
	if e.terminated {
		return ErrTerminated
	}

	// Stage: build and validate the entire new configuration first.
	renderer, err := newRenderer(name)
	if err != nil {
		return err
	}
	techniques := renderer.Techniques(e.options)
	components, err := resolveComponents(techniques)
	if err != nil {
		return err
	}

	staged := NewOptions()
	for _, c := range components {
		staged.Merge(c.RenderOptions())
	}
	for _, t := range techniques {
		staged.Merge(t.RenderOptions())
	}
	if overrides := renderer.RenderOptions(); overrides != nil {
		staged.Override(overrides)
	}

	var pipelineDecls []declarer
	for _, c := range components {
		pipelineDecls = append(pipelineDecls, declarer{name: c.Name(), textures: c.SharedTextures(), buffers: c.SharedBuffers()})
	}
	for _, t := range techniques {
		pipelineDecls = append(pipelineDecls, declarer{name: t.Name(), textures: t.SharedTextures(), buffers: t.SharedBuffers()})
	}
	texs, bufs, err := negotiate(append([]declarer{e.stockDeclarations()}, pipelineDecls...))
	if err != nil {
		return err
	}

	// Commit: tear down the old configuration and bring up the new one.
	e.dev.Flush()
	e.terminateActive()

	e.renderer = renderer
	e.rendererName = name
	e.techniques = techniques
	e.components = components
	e.negotiatedTexs = texs
	e.negotiatedBufs = bufs
	e.pipelineDecls = pipelineDecls
	e.options.clear()
	e.options.Merge(optionListFrom(staged))
	e.profiler.reset()
	e.disabled = make(map[string]bool)
	e.lastOutput = gfx.InvalidID

	if err := e.alloc.resolve(e.dev, texs, bufs, e.width, e.height, e.RenderWidth(), e.RenderHeight()); err != nil {
		// The old pipeline is gone and the new one has no resources to
		// run against; disable everything so Render presents nothing
		// instead of feeding invalid handles to half-initialized stages.
		for _, c := range e.components {
			e.disabled[c.Name()] = true
		}
		for _, t := range e.techniques {
			e.disabled[t.Name()] = true
		}
		e.rebuildDebugViews()
		return fmt.Errorf("pyre: switching to renderer %q: %w", name, err)
	}

	for _, c := range e.components {
		if err := c.Init(e); err != nil {
			Logger().Error("component init failed, disabling",
				slog.String("component", c.Name()),
				slog.Any("error", err))
			e.disabled[c.Name()] = true
		}
	}
	for _, t := range e.techniques {
		if err := t.Init(e); err != nil {
			Logger().Error("technique init failed, disabling",
				slog.String("technique", t.Name()),
				slog.Any("error", err))
			e.disabled[t.Name()] = true
		}
	}

	e.rebuildDebugViews()
	e.rendererSwitch = true
	Logger().Info("renderer set",
		slog.String("renderer", name),
		slog.Int("techniques", len(e.techniques)),
		slog.Int("components", len(e.components)))
	return nil
}

// optionListFrom converts a staged store back into an OptionList.
func optionListFrom(o *Options) OptionList {
	out := make(OptionList, o.Len())
	for name, value := range o.snapshot() {
		out[name] = value
	}
	return out
}

// rebuildDebugViews recomputes the available debug views from the
// active techniques. If the current view disappeared, it reverts to
// DebugViewNone with a warning.
func (e *Engine) rebuildDebugViews() {
	e.debugViews = []string{DebugViewNone}
	e.debugOwners = make(map[string]Technique)
	for _, t := range e.techniques {
		if e.disabled[t.Name()] {
			continue
		}
		for _, view := range t.DebugViews() {
			if _, taken := e.debugOwners[view]; taken || view == DebugViewNone {
				Logger().Warn("duplicate debug view ignored",
					slog.String("view", view),
					slog.String("technique", t.Name()))
				continue
			}
			e.debugOwners[view] = t
			e.debugViews = append(e.debugViews, view)
		}
	}
	if _, ok := e.debugOwners[e.currentDebug]; !ok && e.currentDebug != DebugViewNone {
		Logger().Warn("debug view no longer available, reverting",
			slog.String("view", e.currentDebug))
		e.currentDebug = DebugViewNone
	}
}

// DebugViews returns the available debug view names.
// DebugViewNone is always first.
func (e *Engine) DebugViews() []string {
	out := make([]string, len(e.debugViews))
	copy(out, e.debugViews)
	return out
}

// CurrentDebugView returns the active debug view name.
func (e *Engine) CurrentDebugView() string { return e.currentDebug }

// SetDebugView selects the debug view shown instead of the rendered
// output. DebugViewNone restores normal output.
func (e *Engine) SetDebugView(view string) error {
	if view == DebugViewNone {
		e.currentDebug = DebugViewNone
		return nil
	}
	if _, ok := e.debugOwners[view]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDebugView, view)
	}
	e.currentDebug = view
	return nil
}

// Texture returns the handle of a negotiated shared texture. Unknown
// names log an error and return the invalid handle; optional textures
// that stayed inactive return the invalid handle silently.
func (e *Engine) Texture(name string) gfx.TextureID { return e.alloc.texture(name) }

// Buffer returns the handle of a negotiated shared buffer, with the
// same lookup semantics as Texture.
func (e *Engine) Buffer(name string) gfx.BufferID { return e.alloc.buffer(name) }

// TextureGeneration returns the reallocation count of a shared texture.
// The value increases every time the texture is reallocated, such as on
// resize; techniques cache it to detect when dependent state must be
// rebuilt.
func (e *Engine) TextureGeneration(name string) uint32 { return e.alloc.textureGeneration(name) }

// Render executes one frame: pending resizes are applied, the options
// store is snapshotted, per-frame clears and backups run, then every
// component and technique records its work inside a timed scope, and
// the result is presented.
func (e *Engine) Render() error {
	if e.terminated {
		return ErrTerminated
	}
	if e.renderer == nil {
		return ErrNoRenderer
	}

	if e.renderPaused {
		// Keep presenting the last frame; deferred state stays pending
		// and frame time does not advance while rendering is stopped.
		e.lastFrame = time.Now()
		if e.lastOutput.Valid() {
			e.dev.Blit(e.lastOutput)
		}
		return nil
	}

	e.beginFrameState()
	e.options.beginFrame()
	defer e.options.endFrame()

	e.profiler.beginFrame()

	e.alloc.copyBackups(e.dev)
	e.alloc.clearPerFrame(e.dev)

	for _, c := range e.components {
		if e.disabled[c.Name()] {
			continue
		}
		s := e.profiler.Begin(c.Name())
		c.Run(e)
		s.End()
	}
	for _, t := range e.techniques {
		if e.disabled[t.Name()] {
			continue
		}
		s := e.profiler.Begin(t.Name())
		t.Render(e)
		s.End()
	}

	output := e.Texture("Color")
	if e.renderScale != 1 {
		output = e.upscale(output)
	}
	if e.currentDebug != DebugViewNone {
		if owner, ok := e.debugOwners[e.currentDebug]; ok {
			if dv, ok := owner.(DebugViewRenderer); ok {
				s := e.profiler.Begin("DebugView")
				dv.RenderDebugView(e, e.currentDebug)
				s.End()
				output = e.Texture("Debug")
			} else {
				Logger().Error("technique declares debug views but cannot render them",
					slog.String("technique", owner.Name()))
				e.currentDebug = DebugViewNone
			}
		}
	}
	e.dev.Blit(output)
	e.lastOutput = output

	e.profiler.endFrame()

	if !e.paused {
		e.frameIndex++
	}
	return nil
}

// beginFrameState applies deferred state changes at the frame boundary:
// pending resizes, program reloads, event flags, frame time, and camera
// matrices.
func (e *Engine) beginFrameState() {
	e.events.windowResized = false
	e.events.renderResized = false
	// The renderer-switch event is visible for exactly the first frame
	// rendered after SetRenderer.
	e.events.rendererSwitch = e.rendererSwitch
	e.rendererSwitch = false

	now := time.Now()
	if !e.paused {
		e.frameTime += now.Sub(e.lastFrame).Seconds()
	}
	e.lastFrame = now

	if e.havePendingSize {
		oldRW, oldRH := e.RenderWidth(), e.RenderHeight()
		if e.pendingWidth != e.width || e.pendingHeight != e.height {
			e.events.windowResized = true
		}
		e.width = e.pendingWidth
		e.height = e.pendingHeight
		e.renderScale = e.pendingScale
		e.havePendingSize = false
		if e.RenderWidth() != oldRW || e.RenderHeight() != oldRH {
			e.events.renderResized = true
		}
		if e.events.windowResized || e.events.renderResized {
			// Renegotiate against fresh stock declarations: crossing a
			// render scale of 1 adds or removes ColorScaled.
			texs, bufs, err := negotiate(append([]declarer{e.stockDeclarations()}, e.pipelineDecls...))
			if err != nil {
				Logger().Error("resize renegotiation failed", slog.Any("error", err))
			} else {
				e.negotiatedTexs = texs
				e.negotiatedBufs = bufs
			}
			if err := e.alloc.resolve(e.dev, e.negotiatedTexs, e.negotiatedBufs,
				e.width, e.height, e.RenderWidth(), e.RenderHeight()); err != nil {
				Logger().Error("resize reallocation failed", slog.Any("error", err))
			}
			e.camera.Aspect = float32(e.width) / float32(e.height)
			e.lastOutput = gfx.InvalidID
		}
	}

	if e.reloadRequested {
		e.reloadRequested = false
		e.reloadPrograms()
	}

	var jx, jy float32
	if e.jitterPhases > 0 && !e.paused {
		phase := uint32(e.frameIndex % uint64(e.jitterPhases))
		px, py := jitterOffsets(phase)
		// Convert pixel offsets to NDC units.
		jx = 2 * px / float32(e.RenderWidth())
		jy = 2 * py / float32(e.RenderHeight())
	}
	prev := e.matrices.ViewProjection
	m := computeMatrices(e.camera, prev, jx, jy)
	if !e.havePrevVP {
		m.PrevViewProjection = m.ViewProjection
		m.Reprojection = m.ViewProjection.Mul4(m.InvViewProjection)
		e.havePrevVP = true
	}
	e.matrices = m
}

// reloadPrograms rebuilds shader programs on every active technique and
// component that supports it.
func (e *Engine) reloadPrograms() {
	e.destroyUpscale() // recompiled on next use
	for _, c := range e.components {
		if e.disabled[c.Name()] {
			continue
		}
		if r, ok := c.(ProgramReloader); ok {
			if err := r.ReloadPrograms(e); err != nil {
				Logger().Error("program reload failed",
					slog.String("component", c.Name()),
					slog.Any("error", err))
			}
		}
	}
	for _, t := range e.techniques {
		if e.disabled[t.Name()] {
			continue
		}
		if r, ok := t.(ProgramReloader); ok {
			if err := r.ReloadPrograms(e); err != nil {
				Logger().Error("program reload failed",
					slog.String("technique", t.Name()),
					slog.Any("error", err))
			}
		}
	}
}

// terminateActive tears down the current techniques and components.
// Init-failed entries are terminated too so partially created resources
// are released.
func (e *Engine) terminateActive() {
	for i := len(e.techniques) - 1; i >= 0; i-- {
		e.techniques[i].Terminate(e)
	}
	for i := len(e.components) - 1; i >= 0; i-- {
		e.components[i].Terminate(e)
	}
	e.techniques = nil
	e.components = nil
	e.renderer = nil
}

// Terminate releases the engine's GPU resources. It is safe to call
// more than once; calls after the first are no-ops. The device itself
// is not closed.
func (e *Engine) Terminate() {
	if e.terminated {
		return
	}
	e.terminated = true
	e.dev.Flush()
	e.terminateActive()
	e.destroyUpscale()
	e.alloc.release(e.dev)
	e.rendererName = ""
	e.lastOutput = gfx.InvalidID
}
