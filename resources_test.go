package pyre

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pyre/gfx/null"
)

func TestNegotiateFirstFormatWins(t *testing.T) {
	texs, _, err := negotiate([]declarer{
		{name: "a", textures: []SharedTexture{
			{Name: "Color", Access: AccessWrite, Format: gputypes.TextureFormatRGBA32Float},
		}},
		{name: "b", textures: []SharedTexture{
			{Name: "Color", Access: AccessRead, Format: gputypes.TextureFormatRGBA8Unorm},
		}},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if got := texs["Color"].decl.Format; got != gputypes.TextureFormatRGBA32Float {
		t.Errorf("format = %v, want first declaration's RGBA32Float", got)
	}
}

func TestNegotiateFormatAdoptedFromLaterDeclarer(t *testing.T) {
	// An undefined format on the first declaration is filled in by the
	// first declarer that names one.
	texs, _, err := negotiate([]declarer{
		{name: "a", textures: []SharedTexture{
			{Name: "Color", Access: AccessReadWrite},
		}},
		{name: "b", textures: []SharedTexture{
			{Name: "Color", Access: AccessWrite, Format: gputypes.TextureFormatRGBA32Float},
		}},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if got := texs["Color"].decl.Format; got != gputypes.TextureFormatRGBA32Float {
		t.Errorf("format = %v, want RGBA32Float", got)
	}
}

func TestNegotiateClearAccumulateConflict(t *testing.T) {
	_, _, err := negotiate([]declarer{
		{name: "a", textures: []SharedTexture{
			{Name: "History", Access: AccessWrite, Flags: FlagClear},
		}},
		{name: "b", textures: []SharedTexture{
			{Name: "History", Access: AccessRead, Flags: FlagAccumulate},
		}},
	})
	if !errors.Is(err, ErrDeclarationConflict) {
		t.Errorf("err = %v, want ErrDeclarationConflict", err)
	}
}

func TestNegotiateClearAccumulateConflictInOneDeclaration(t *testing.T) {
	_, _, err := negotiate([]declarer{
		{name: "a", textures: []SharedTexture{
			{Name: "History", Access: AccessReadWrite, Flags: FlagClear | FlagAccumulate},
		}},
	})
	if !errors.Is(err, ErrDeclarationConflict) {
		t.Errorf("texture err = %v, want ErrDeclarationConflict", err)
	}

	_, _, err = negotiate([]declarer{
		{name: "a", buffers: []SharedBuffer{
			{Name: "Histogram", Access: AccessReadWrite, Size: 64, Flags: FlagClear | FlagAccumulate},
		}},
	})
	if !errors.Is(err, ErrDeclarationConflict) {
		t.Errorf("buffer err = %v, want ErrDeclarationConflict", err)
	}
}

func TestNegotiateReadWithoutWriter(t *testing.T) {
	_, _, err := negotiate([]declarer{
		{name: "a", textures: []SharedTexture{
			{Name: "Shadow", Access: AccessRead},
		}},
	})
	if !errors.Is(err, ErrReadWithoutWriter) {
		t.Errorf("err = %v, want ErrReadWithoutWriter", err)
	}
}

func TestNegotiateOptionalPairing(t *testing.T) {
	tests := []struct {
		name       string
		decls      []SharedTexture
		wantErr    bool
		wantActive bool
	}{
		{
			name: "optional read without writer stays inactive",
			decls: []SharedTexture{
				{Name: "X", Access: AccessRead, Flags: FlagOptional},
			},
			wantActive: false,
		},
		{
			name: "optional write alone stays inactive",
			decls: []SharedTexture{
				{Name: "X", Access: AccessWrite, Flags: FlagOptional},
			},
			wantActive: false,
		},
		{
			name: "optional write with required read activates",
			decls: []SharedTexture{
				{Name: "X", Access: AccessWrite, Flags: FlagOptional},
				{Name: "X", Access: AccessRead},
			},
			wantActive: true,
		},
		{
			name: "required read with only optional write is not an error",
			decls: []SharedTexture{
				{Name: "X", Access: AccessRead},
				{Name: "X", Access: AccessWrite, Flags: FlagOptional},
			},
			wantActive: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			texs, _, err := negotiate([]declarer{{name: "t", textures: tt.decls}})
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := texs["X"].active(); got != tt.wantActive {
				t.Errorf("active = %v, want %v", got, tt.wantActive)
			}
		})
	}
}

func testNegotiated(t *testing.T) (map[string]*mergedTexture, map[string]*mergedBuffer) {
	t.Helper()
	texs, bufs, err := negotiate([]declarer{
		{name: "t", textures: []SharedTexture{
			{Name: "Color", Access: AccessReadWrite, Format: gputypes.TextureFormatRGBA32Float, Flags: FlagClear},
			{Name: "LUT", Access: AccessWrite, Format: gputypes.TextureFormatRGBA8Unorm, Width: 64, Height: 64},
		}, buffers: []SharedBuffer{
			{Name: "Lights", Access: AccessReadWrite, Size: 1024, Stride: 32},
		}},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	return texs, bufs
}

func TestResolveIdempotent(t *testing.T) {
	dev := null.New()
	a := newAllocator()
	texs, bufs := testNegotiated(t)

	if err := a.resolve(dev, texs, bufs, 1280, 720, 1280, 720); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	created := dev.Created()
	colorID := a.texture("Color")
	lightsID := a.buffer("Lights")

	if err := a.resolve(dev, texs, bufs, 1280, 720, 1280, 720); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if dev.Created() != created {
		t.Errorf("second resolve created resources: %d -> %d", created, dev.Created())
	}
	if a.texture("Color") != colorID {
		t.Error("Color handle changed across identical resolve")
	}
	if a.buffer("Lights") != lightsID {
		t.Error("Lights handle changed across identical resolve")
	}
}

func TestResolveResizeReallocatesOnlyTrackingTextures(t *testing.T) {
	dev := null.New()
	a := newAllocator()
	texs, bufs := testNegotiated(t)

	if err := a.resolve(dev, texs, bufs, 1280, 720, 1280, 720); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	colorID := a.texture("Color")
	lutID := a.texture("LUT")
	lightsID := a.buffer("Lights")

	if err := a.resolve(dev, texs, bufs, 1920, 1080, 1920, 1080); err != nil {
		t.Fatalf("resize resolve: %v", err)
	}
	if a.texture("Color") == colorID {
		t.Error("resolution-tracking texture kept its handle across resize")
	}
	if got := a.textureGeneration("Color"); got != 1 {
		t.Errorf("Color generation = %d, want 1", got)
	}
	if a.texture("LUT") != lutID {
		t.Error("fixed-size texture was reallocated on resize")
	}
	if got := a.textureGeneration("LUT"); got != 0 {
		t.Errorf("LUT generation = %d, want 0", got)
	}
	if a.buffer("Lights") != lightsID {
		t.Error("buffer was reallocated on resize")
	}

	desc, ok := dev.TextureDesc(a.texture("Color"))
	if !ok {
		t.Fatal("Color texture missing from device")
	}
	if desc.Width != 1920 || desc.Height != 1080 {
		t.Errorf("Color resized to %dx%d, want 1920x1080", desc.Width, desc.Height)
	}
}

func TestResolveTrackingTextureFollowsRenderResolution(t *testing.T) {
	dev := null.New()
	a := newAllocator()
	texs, bufs, err := negotiate([]declarer{
		{name: "t", textures: []SharedTexture{
			{Name: "Shaded", Access: AccessReadWrite, Format: gputypes.TextureFormatRGBA32Float},
			{Name: "Display", Access: AccessReadWrite, Format: gputypes.TextureFormatRGBA32Float, Output: true},
		}},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if err := a.resolve(dev, texs, bufs, 1280, 720, 640, 360); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	desc, _ := dev.TextureDesc(a.texture("Shaded"))
	if desc.Width != 640 || desc.Height != 360 {
		t.Errorf("tracking texture is %dx%d, want 640x360", desc.Width, desc.Height)
	}
	desc, _ = dev.TextureDesc(a.texture("Display"))
	if desc.Width != 1280 || desc.Height != 720 {
		t.Errorf("output-pinned texture is %dx%d, want 1280x720", desc.Width, desc.Height)
	}
}

func TestResolveDropsUndeclaredResources(t *testing.T) {
	dev := null.New()
	a := newAllocator()
	texs, bufs := testNegotiated(t)
	if err := a.resolve(dev, texs, bufs, 1280, 720, 1280, 720); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Re-resolve with only Color declared: LUT and Lights must go away.
	texs2, bufs2, err := negotiate([]declarer{
		{name: "t", textures: []SharedTexture{
			{Name: "Color", Access: AccessReadWrite, Format: gputypes.TextureFormatRGBA32Float, Flags: FlagClear},
		}},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	colorID := a.texture("Color")
	if err := a.resolve(dev, texs2, bufs2, 1280, 720, 1280, 720); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if a.texture("Color") != colorID {
		t.Error("surviving texture lost its handle")
	}
	if dev.AliveTextures() != 1 {
		t.Errorf("AliveTextures = %d, want 1", dev.AliveTextures())
	}
	if dev.AliveBuffers() != 0 {
		t.Errorf("AliveBuffers = %d, want 0", dev.AliveBuffers())
	}
}

func TestResolveBackupMatchesSource(t *testing.T) {
	dev := null.New()
	a := newAllocator()
	texs, bufs, err := negotiate([]declarer{
		{name: "t", textures: []SharedTexture{
			{Name: "Color", Access: AccessReadWrite, Format: gputypes.TextureFormatRGBA32Float, Backup: "ColorHistory"},
		}},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if err := a.resolve(dev, texs, bufs, 800, 600, 800, 600); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	src, _ := dev.TextureDesc(a.texture("Color"))
	bak, ok := dev.TextureDesc(a.texture("ColorHistory"))
	if !ok {
		t.Fatal("backup texture not allocated")
	}
	if bak.Width != src.Width || bak.Height != src.Height || bak.Format != src.Format {
		t.Errorf("backup desc %+v does not match source %+v", bak, src)
	}
}

func TestReleaseDestroysEverything(t *testing.T) {
	dev := null.New()
	a := newAllocator()
	texs, bufs := testNegotiated(t)
	if err := a.resolve(dev, texs, bufs, 1280, 720, 1280, 720); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	a.release(dev)
	if dev.AliveTextures() != 0 || dev.AliveBuffers() != 0 {
		t.Errorf("alive after release: %d textures, %d buffers",
			dev.AliveTextures(), dev.AliveBuffers())
	}
}

func TestInactiveOptionalLookupIsSilentInvalid(t *testing.T) {
	dev := null.New()
	a := newAllocator()
	texs, bufs, err := negotiate([]declarer{
		{name: "t", textures: []SharedTexture{
			{Name: "Debug", Access: AccessRead, Flags: FlagOptional},
		}},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if err := a.resolve(dev, texs, bufs, 100, 100, 100, 100); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id := a.texture("Debug"); id.Valid() {
		t.Errorf("inactive optional texture has valid handle %v", id)
	}
}

func TestFullMipCount(t *testing.T) {
	tests := []struct {
		w, h uint32
		want uint32
	}{
		{1, 1, 1},
		{2, 2, 2},
		{256, 256, 9},
		{1920, 1080, 12},
	}
	for _, tt := range tests {
		if got := fullMipCount(tt.w, tt.h); got != tt.want {
			t.Errorf("fullMipCount(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}
