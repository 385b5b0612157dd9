package asset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asset.png")
	if err := os.WriteFile(path, encodePNG(t, img), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDecode(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{G: 51, A: 255})

	img, err := Decode(bytes.NewReader(encodePNG(t, src)))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Width != 2 || img.Height != 1 {
		t.Fatalf("decoded size = %dx%d, want 2x1", img.Width, img.Height)
	}
	if got := img.Pixels[0]; got != 1 {
		t.Errorf("pixel 0 red = %v, want 1", got)
	}
	if got := img.Pixels[5]; got != float32(51)/255 {
		t.Errorf("pixel 1 green = %v, want %v", got, float32(51)/255)
	}
	if got := img.Pixels[3]; got != 1 {
		t.Errorf("pixel 0 alpha = %v, want 1", got)
	}
}

func TestUnpackLUT(t *testing.T) {
	// A 2x2x2 table is a 4x2 strip: two 2x2 slices side by side.
	img := &Image{Width: 4, Height: 2, Pixels: make([]float32, 4*2*4)}
	set := func(x, y uint32, r float32) {
		img.Pixels[(y*img.Width+x)*4] = r
	}
	// Slice b=1, pixel (r=1, g=0) lives at strip x=3, y=0.
	set(3, 0, 0.75)
	// Slice b=0, pixel (r=0, g=1) lives at strip x=0, y=1.
	set(0, 1, 0.25)

	lut, err := UnpackLUT(img)
	if err != nil {
		t.Fatalf("UnpackLUT() error = %v", err)
	}
	if lut.Size != 2 {
		t.Fatalf("Size = %d, want 2", lut.Size)
	}
	// Table index [b][g][r].
	at := func(b, g, r uint32) float32 {
		return lut.Pixels[((b*2+g)*2+r)*4]
	}
	if got := at(1, 0, 1); got != 0.75 {
		t.Errorf("table[1][0][1] = %v, want 0.75", got)
	}
	if got := at(0, 1, 0); got != 0.25 {
		t.Errorf("table[0][1][0] = %v, want 0.25", got)
	}
}

func TestUnpackLUTMalformed(t *testing.T) {
	tests := []struct {
		width, height uint32
	}{
		{4, 4}, // square, not a strip
		{8, 2}, // width not height squared
		{0, 0}, // empty
		{2, 4}, // taller than wide
	}
	for _, tt := range tests {
		img := &Image{
			Width:  tt.width,
			Height: tt.height,
			Pixels: make([]float32, tt.width*tt.height*4),
		}
		if _, err := UnpackLUT(img); !errors.Is(err, ErrMalformedLUT) {
			t.Errorf("UnpackLUT(%dx%d) error = %v, want ErrMalformedLUT",
				tt.width, tt.height, err)
		}
	}
}

func TestResize(t *testing.T) {
	img := &Image{Width: 4, Height: 4, Pixels: make([]float32, 4*4*4)}
	for i := range img.Pixels {
		img.Pixels[i] = 0.5
	}

	if got := img.Resize(4, 4); got != img {
		t.Error("Resize to same dimensions should return the receiver")
	}

	out := img.Resize(2, 2)
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("resized = %dx%d, want 2x2", out.Width, out.Height)
	}
	if len(out.Pixels) != 2*2*4 {
		t.Fatalf("pixel count = %d, want 16", len(out.Pixels))
	}
	// A constant image stays constant under any filter, modulo the byte
	// round trip.
	for i, v := range out.Pixels {
		if v < 0.45 || v > 0.55 {
			t.Fatalf("pixel[%d] = %v, want about 0.5", i, v)
		}
	}
}

func TestLoadEnvironmentMapLetterboxes(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	path := writePNG(t, src)

	img, err := LoadEnvironmentMap(path)
	if err != nil {
		t.Fatalf("LoadEnvironmentMap() error = %v", err)
	}
	if img.Width != img.Height*2 {
		t.Errorf("environment map = %dx%d, want 2:1", img.Width, img.Height)
	}
}

func TestBytes(t *testing.T) {
	img := &Image{Width: 1, Height: 1, Pixels: []float32{0.5, 0, 1, 0.25}}
	b := img.Bytes()
	if len(b) != 16 {
		t.Fatalf("Bytes() length = %d, want 16", len(b))
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(b)); got != 0.5 {
		t.Errorf("first float = %v, want 0.5", got)
	}
}
