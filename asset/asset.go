// Package asset loads the image assets rendering techniques consume:
// color grading look-up tables and environment maps. Decoded data is
// returned as tightly packed float32 RGBA suitable for direct GPU
// upload.
package asset

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	// Register decoders for the formats assets ship in.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "image/jpeg"
	_ "image/png"
)

// Asset errors.
var (
	// ErrMalformedLUT is returned when an image does not have the strip
	// layout of a 3D look-up table.
	ErrMalformedLUT = errors.New("asset: malformed look-up table")

	// ErrEmptyImage is returned when a decoded image has zero pixels.
	ErrEmptyImage = errors.New("asset: empty image")
)

// Image is a decoded image in float32 RGBA, row-major, tightly packed.
type Image struct {
	Width  uint32
	Height uint32
	Pixels []float32 // len = Width*Height*4
}

// LUT is a 3D color look-up table unpacked from a 2D strip image, where
// a strip of Size slices of Size x Size pixels encodes the blue axis.
type LUT struct {
	Size   uint32
	Pixels []float32 // len = Size*Size*Size*4
}

// Load decodes an image file, auto-detecting the format.
func Load(path string) (*Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("asset: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Decode decodes an image from the reader, auto-detecting the format.
func Decode(r io.Reader) (*Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("asset: decode: %w", err)
	}
	return fromStdImage(img)
}

func fromStdImage(img image.Image) (*Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}

	// Normalize through NRGBA so every source format takes the same
	// conversion path.
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
	}

	out := &Image{
		Width:  uint32(w),
		Height: uint32(h),
		Pixels: make([]float32, w*h*4),
	}
	for i, p := range nrgba.Pix {
		out.Pixels[i] = float32(p) / 255
	}
	return out, nil
}

// Resize scales the image to the given dimensions with Catmull-Rom
// filtering.
func (m *Image) Resize(width, height uint32) *Image {
	if width == m.Width && height == m.Height {
		return m
	}
	src := image.NewNRGBA(image.Rect(0, 0, int(m.Width), int(m.Height)))
	for i, v := range m.Pixels {
		src.Pix[i] = floatToByte(v)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, int(width), int(height)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := &Image{
		Width:  width,
		Height: height,
		Pixels: make([]float32, int(width)*int(height)*4),
	}
	for i, p := range dst.Pix {
		out.Pixels[i] = float32(p) / 255
	}
	return out
}

func floatToByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

// LoadLUT decodes a look-up table image. The image must be a horizontal
// strip of N slices of N x N pixels (width = N*N, height = N).
func LoadLUT(path string) (*LUT, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return UnpackLUT(img)
}

// UnpackLUT converts a strip image into a 3D table. Pixel (r, g) of
// slice b lands at table index [b][g][r].
func UnpackLUT(img *Image) (*LUT, error) {
	size := img.Height
	if size == 0 || img.Width != size*size {
		return nil, fmt.Errorf("%w: %dx%d is not an NxN strip of N rows",
			ErrMalformedLUT, img.Width, img.Height)
	}

	lut := &LUT{
		Size:   size,
		Pixels: make([]float32, size*size*size*4),
	}
	for b := uint32(0); b < size; b++ {
		for g := uint32(0); g < size; g++ {
			for r := uint32(0); r < size; r++ {
				src := (g*img.Width + b*size + r) * 4
				dst := ((b*size+g)*size + r) * 4
				copy(lut.Pixels[dst:dst+4], img.Pixels[src:src+4])
			}
		}
	}
	return lut, nil
}

// LoadEnvironmentMap decodes an equirectangular environment image and,
// when width is not twice height, letterboxes it to the 2:1 layout the
// sky techniques expect.
func LoadEnvironmentMap(path string) (*Image, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	if img.Width != img.Height*2 {
		img = img.Resize(img.Height*2, img.Height)
	}
	return img, nil
}

// Bytes returns the pixel data as little-endian float32 bytes for GPU
// upload.
func (m *Image) Bytes() []byte {
	return floatBytes(m.Pixels)
}

// Bytes returns the table data as little-endian float32 bytes for GPU
// upload.
func (l *LUT) Bytes() []byte {
	return floatBytes(l.Pixels)
}
