package pyre

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pyre/gfx"
)

// Negotiation errors.
var (
	// ErrDeclarationConflict is returned when two declarations of the
	// same resource request irreconcilable behavior (Clear vs
	// Accumulate).
	ErrDeclarationConflict = errors.New("pyre: conflicting resource declarations")

	// ErrReadWithoutWriter is returned when a resource is read by some
	// technique but never written by any.
	ErrReadWithoutWriter = errors.New("pyre: resource read but never written")
)

// mergedTexture is the negotiated result for one shared texture name.
type mergedTexture struct {
	decl      SharedTexture
	hasWriter bool // non-optional writer exists
	hasReader bool // non-optional reader exists
	optWriter bool
	optReader bool
	backup    string // backup target name, "" if none
	order     int    // first-declaration order, for stable allocation
}

// mergedBuffer is the negotiated result for one shared buffer name.
type mergedBuffer struct {
	decl      SharedBuffer
	hasWriter bool
	hasReader bool
	optWriter bool
	optReader bool
	order     int
}

// physTexture is an allocated shared texture.
type physTexture struct {
	id         gfx.TextureID
	desc       gfx.TextureDesc
	generation uint32
	tracking   bool // follows output resolution
	output     bool // pinned to output resolution
	clear      bool // cleared at every frame start
	backupOf   string
}

// physBuffer is an allocated shared buffer.
type physBuffer struct {
	id         gfx.BufferID
	desc       gfx.BufferDesc
	generation uint32
	clear      bool
}

// allocator owns the shared textures and buffers of the active
// renderer configuration. It merges the declarations of all active
// techniques and components, allocates exactly one physical resource
// per name, and reconciles the set in place when the configuration or
// resolution changes so unchanged resources keep their handles.
type allocator struct {
	textures map[string]*physTexture
	buffers  map[string]*physBuffer

	// inactive names declared FlagOptional that were never paired.
	// Lookups of these resolve to the invalid handle without logging.
	inactiveTextures map[string]bool
	inactiveBuffers  map[string]bool
}

func newAllocator() *allocator {
	return &allocator{
		textures:         make(map[string]*physTexture),
		buffers:          make(map[string]*physBuffer),
		inactiveTextures: make(map[string]bool),
		inactiveBuffers:  make(map[string]bool),
	}
}

// declarer pairs a declaration source name with its declarations.
type declarer struct {
	name     string
	textures []SharedTexture
	buffers  []SharedBuffer
}

// negotiate merges the texture and buffer declarations of all
// declarers. Merge rules:
//
//   - The first declaration of a name fixes its format and dimensions;
//     later declarations with a different non-zero format are logged
//     and ignored.
//   - FlagClear and FlagAccumulate on the same name conflict.
//   - A name that is read but never written is an error, unless every
//     read is FlagOptional, in which case the name stays inactive and
//     resolves to the invalid handle.
//   - A name that is only written by FlagOptional declarations is
//     created only if a non-optional reader exists.
func negotiate(declarers []declarer) (map[string]*mergedTexture, map[string]*mergedBuffer, error) {
	texs := make(map[string]*mergedTexture)
	bufs := make(map[string]*mergedBuffer)
	order := 0

	for _, d := range declarers {
		for _, t := range d.textures {
			m, exists := texs[t.Name]
			if !exists {
				if t.Flags.Has(FlagClear | FlagAccumulate) {
					return nil, nil, fmt.Errorf("%w: texture %q requests both clear and accumulate",
						ErrDeclarationConflict, t.Name)
				}
				m = &mergedTexture{decl: t, order: order}
				order++
				texs[t.Name] = m
			} else {
				if err := mergeTextureDecl(m, t, d.name); err != nil {
					return nil, nil, err
				}
			}
			recordAccess(&m.hasWriter, &m.hasReader, &m.optWriter, &m.optReader, t.Access, t.Flags)
			if t.Backup != "" {
				if m.backup != "" && m.backup != t.Backup {
					Logger().Warn("texture already has a backup target",
						slog.String("texture", t.Name),
						slog.String("kept", m.backup),
						slog.String("ignored", t.Backup),
						slog.String("declarer", d.name))
				} else {
					m.backup = t.Backup
				}
			}
		}
		for _, b := range d.buffers {
			m, exists := bufs[b.Name]
			if !exists {
				if b.Flags.Has(FlagClear | FlagAccumulate) {
					return nil, nil, fmt.Errorf("%w: buffer %q requests both clear and accumulate",
						ErrDeclarationConflict, b.Name)
				}
				m = &mergedBuffer{decl: b, order: order}
				order++
				bufs[b.Name] = m
			} else {
				if err := mergeBufferDecl(m, b, d.name); err != nil {
					return nil, nil, err
				}
			}
			recordAccess(&m.hasWriter, &m.hasReader, &m.optWriter, &m.optReader, b.Access, b.Flags)
		}
	}

	// Validate read/write pairing per name.
	for name, m := range texs {
		if err := checkPairing(name, "texture", m.hasWriter, m.hasReader, m.optWriter, m.optReader); err != nil {
			return nil, nil, err
		}
	}
	for name, m := range bufs {
		if err := checkPairing(name, "buffer", m.hasWriter, m.hasReader, m.optWriter, m.optReader); err != nil {
			return nil, nil, err
		}
	}
	return texs, bufs, nil
}

func recordAccess(hasWriter, hasReader, optWriter, optReader *bool, access Access, flags Flags) {
	optional := flags.Has(FlagOptional)
	if access.Writes() {
		if optional {
			*optWriter = true
		} else {
			*hasWriter = true
		}
	}
	if access.Reads() {
		if optional {
			*optReader = true
		} else {
			*hasReader = true
		}
	}
}

func mergeTextureDecl(m *mergedTexture, t SharedTexture, from string) error {
	d := &m.decl
	if t.Format != gputypes.TextureFormatUndefined && d.Format != gputypes.TextureFormatUndefined && t.Format != d.Format {
		Logger().Warn("texture declared with a different format, keeping first",
			slog.String("texture", t.Name),
			slog.String("declarer", from))
	} else if d.Format == gputypes.TextureFormatUndefined {
		d.Format = t.Format
	}
	if (t.Width != d.Width || t.Height != d.Height) && t.Width != 0 && d.Width != 0 {
		Logger().Warn("texture declared with different dimensions, keeping first",
			slog.String("texture", t.Name),
			slog.String("declarer", from))
	}
	if conflict := (d.Flags | t.Flags).Has(FlagClear | FlagAccumulate); conflict {
		return fmt.Errorf("%w: texture %q requests both clear and accumulate",
			ErrDeclarationConflict, t.Name)
	}
	d.Flags |= t.Flags &^ FlagOptional // Optional is per-declaration, tracked separately.
	if t.Mips {
		d.Mips = true
	}
	if t.Output {
		d.Output = true
	}
	return nil
}

func mergeBufferDecl(m *mergedBuffer, b SharedBuffer, from string) error {
	d := &m.decl
	if b.Size != 0 && d.Size != 0 && b.Size != d.Size {
		Logger().Warn("buffer declared with a different size, keeping first",
			slog.String("buffer", b.Name),
			slog.String("declarer", from))
	} else if d.Size == 0 {
		d.Size = b.Size
	}
	if b.Stride != 0 && d.Stride == 0 {
		d.Stride = b.Stride
	}
	if conflict := (d.Flags | b.Flags).Has(FlagClear | FlagAccumulate); conflict {
		return fmt.Errorf("%w: buffer %q requests both clear and accumulate",
			ErrDeclarationConflict, b.Name)
	}
	d.Flags |= b.Flags &^ FlagOptional
	return nil
}

func checkPairing(name, kind string, hasWriter, hasReader, optWriter, optReader bool) error {
	writer := hasWriter || (optWriter && hasReader)
	if writer {
		return nil
	}
	if hasReader {
		return fmt.Errorf("%w: %s %q", ErrReadWithoutWriter, kind, name)
	}
	// Only optional access remains; name stays inactive.
	return nil
}

// active reports whether a merged declaration results in a physical
// resource.
func (m *mergedTexture) active() bool {
	return m.hasWriter || (m.optWriter && m.hasReader)
}

func (m *mergedBuffer) active() bool {
	return m.hasWriter || (m.optWriter && m.hasReader)
}

// resolve reconciles the allocator's physical resources against a
// negotiated set. Resources whose descriptors are unchanged keep their
// handles and generations; changed ones are reallocated with a
// generation bump; names no longer declared are destroyed. Calling
// resolve twice with the same inputs is a no-op.
func (a *allocator) resolve(dev gfx.Device, texs map[string]*mergedTexture, bufs map[string]*mergedBuffer, outW, outH, renderW, renderH uint32) error {
	a.inactiveTextures = make(map[string]bool)
	a.inactiveBuffers = make(map[string]bool)

	// Stable allocation order keeps logs and backend IDs deterministic.
	texNames := make([]string, 0, len(texs))
	for name := range texs {
		texNames = append(texNames, name)
	}
	sort.Slice(texNames, func(i, j int) bool { return texs[texNames[i]].order < texs[texNames[j]].order })

	wanted := make(map[string]bool)
	for _, name := range texNames {
		m := texs[name]
		if !m.active() {
			a.inactiveTextures[name] = true
			continue
		}
		if err := a.resolveTexture(dev, name, m, outW, outH, renderW, renderH); err != nil {
			return err
		}
		wanted[name] = true
		if m.backup != "" {
			if err := a.resolveBackup(dev, name, m.backup); err != nil {
				return err
			}
			wanted[m.backup] = true
		}
	}
	for name, p := range a.textures {
		if !wanted[name] {
			dev.DestroyTexture(p.id)
			delete(a.textures, name)
		}
	}

	bufNames := make([]string, 0, len(bufs))
	for name := range bufs {
		bufNames = append(bufNames, name)
	}
	sort.Slice(bufNames, func(i, j int) bool { return bufs[bufNames[i]].order < bufs[bufNames[j]].order })

	wantedBufs := make(map[string]bool)
	for _, name := range bufNames {
		m := bufs[name]
		if !m.active() {
			a.inactiveBuffers[name] = true
			continue
		}
		if m.decl.Size == 0 && !m.decl.Flags.Has(FlagAllocate) {
			a.inactiveBuffers[name] = true
			continue
		}
		if err := a.resolveBuffer(dev, name, m); err != nil {
			return err
		}
		wantedBufs[name] = true
	}
	for name, p := range a.buffers {
		if !wantedBufs[name] {
			dev.DestroyBuffer(p.id)
			delete(a.buffers, name)
		}
	}
	return nil
}

func (a *allocator) resolveTexture(dev gfx.Device, name string, m *mergedTexture, outW, outH, renderW, renderH uint32) error {
	d := m.decl
	tracking := d.Width == 0 && d.Height == 0
	w, h := d.Width, d.Height
	if tracking {
		if d.Output {
			w, h = outW, outH
		} else {
			w, h = renderW, renderH
		}
	}
	format := d.Format
	if format == gputypes.TextureFormatUndefined {
		format = dev.BackBufferFormat()
	}
	desc := gfx.TextureDesc{
		Label:  name,
		Width:  w,
		Height: h,
		Format: format,
	}
	if d.Mips {
		desc.MipLevels = fullMipCount(w, h)
	}

	if p, exists := a.textures[name]; exists {
		if p.desc == desc {
			p.clear = d.Flags.Has(FlagClear)
			return nil
		}
		dev.DestroyTexture(p.id)
		id, err := dev.CreateTexture(&desc)
		if err != nil {
			return fmt.Errorf("pyre: reallocating shared texture %q: %w", name, err)
		}
		p.id = id
		p.desc = desc
		p.generation++
		p.tracking = tracking
		p.output = d.Output
		p.clear = d.Flags.Has(FlagClear)
		return nil
	}

	id, err := dev.CreateTexture(&desc)
	if err != nil {
		return fmt.Errorf("pyre: allocating shared texture %q: %w", name, err)
	}
	a.textures[name] = &physTexture{
		id:       id,
		desc:     desc,
		tracking: tracking,
		output:   d.Output,
		clear:    d.Flags.Has(FlagClear),
	}
	return nil
}

// resolveBackup allocates the backup target for a texture: same
// descriptor, filled by copy at every frame start.
func (a *allocator) resolveBackup(dev gfx.Device, source, name string) error {
	src := a.textures[source]
	desc := src.desc
	desc.Label = name

	if p, exists := a.textures[name]; exists {
		if p.desc == desc {
			p.backupOf = source
			return nil
		}
		dev.DestroyTexture(p.id)
		id, err := dev.CreateTexture(&desc)
		if err != nil {
			return fmt.Errorf("pyre: reallocating backup texture %q: %w", name, err)
		}
		p.id = id
		p.desc = desc
		p.generation++
		p.tracking = src.tracking
		p.output = src.output
		p.backupOf = source
		return nil
	}

	id, err := dev.CreateTexture(&desc)
	if err != nil {
		return fmt.Errorf("pyre: allocating backup texture %q: %w", name, err)
	}
	a.textures[name] = &physTexture{
		id:       id,
		desc:     desc,
		tracking: src.tracking,
		output:   src.output,
		backupOf: source,
	}
	return nil
}

func (a *allocator) resolveBuffer(dev gfx.Device, name string, m *mergedBuffer) error {
	desc := gfx.BufferDesc{
		Label:  name,
		Size:   m.decl.Size,
		Stride: m.decl.Stride,
	}

	if p, exists := a.buffers[name]; exists {
		if p.desc == desc {
			p.clear = m.decl.Flags.Has(FlagClear)
			return nil
		}
		dev.DestroyBuffer(p.id)
		id, err := dev.CreateBuffer(&desc)
		if err != nil {
			return fmt.Errorf("pyre: reallocating shared buffer %q: %w", name, err)
		}
		p.id = id
		p.desc = desc
		p.generation++
		p.clear = m.decl.Flags.Has(FlagClear)
		return nil
	}

	id, err := dev.CreateBuffer(&desc)
	if err != nil {
		return fmt.Errorf("pyre: allocating shared buffer %q: %w", name, err)
	}
	a.buffers[name] = &physBuffer{
		id:    id,
		desc:  desc,
		clear: m.decl.Flags.Has(FlagClear),
	}
	return nil
}

// texture returns the handle for a shared texture. Unknown names log an
// error and return the invalid handle; inactive optional names return
// the invalid handle silently.
func (a *allocator) texture(name string) gfx.TextureID {
	if p, ok := a.textures[name]; ok {
		return p.id
	}
	if !a.inactiveTextures[name] {
		Logger().Error("unknown shared texture requested",
			slog.String("texture", name))
	}
	return gfx.InvalidID
}

// buffer returns the handle for a shared buffer, with the same lookup
// semantics as texture.
func (a *allocator) buffer(name string) gfx.BufferID {
	if p, ok := a.buffers[name]; ok {
		return p.id
	}
	if !a.inactiveBuffers[name] {
		Logger().Error("unknown shared buffer requested",
			slog.String("buffer", name))
	}
	return gfx.InvalidID
}

// textureGeneration returns how many times the named texture has been
// reallocated since it was first created. Techniques compare this
// against a cached value to detect resizes.
func (a *allocator) textureGeneration(name string) uint32 {
	if p, ok := a.textures[name]; ok {
		return p.generation
	}
	return 0
}

// copyBackups copies every backed-up texture into its backup target.
// Runs at frame start before clears, so backups hold last frame's data.
func (a *allocator) copyBackups(dev gfx.Device) {
	for _, p := range a.textures {
		if p.backupOf == "" {
			continue
		}
		src := a.textures[p.backupOf]
		if src == nil {
			continue
		}
		dev.CopyTexture(src.id, p.id)
	}
}

// clearPerFrame clears every resource declared with FlagClear.
func (a *allocator) clearPerFrame(dev gfx.Device) {
	for _, p := range a.textures {
		if p.clear {
			dev.ClearTexture(p.id)
		}
	}
	for _, p := range a.buffers {
		if p.clear {
			dev.ClearBuffer(p.id)
		}
	}
}

// release destroys all physical resources.
func (a *allocator) release(dev gfx.Device) {
	for name, p := range a.textures {
		dev.DestroyTexture(p.id)
		delete(a.textures, name)
	}
	for name, p := range a.buffers {
		dev.DestroyBuffer(p.id)
		delete(a.buffers, name)
	}
}

func fullMipCount(w, h uint32) uint32 {
	n := uint32(1)
	for w > 1 || h > 1 {
		w = max(w/2, 1)
		h = max(h/2, 1)
		n++
	}
	return n
}
