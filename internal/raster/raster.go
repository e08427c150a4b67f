// Package raster turns uploaded images into 1-bit bitmaps for thermal printers.
package raster

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

// ErrInvalidImage is returned when the input cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

// DefaultThreshold splits gray levels into black and white.
const DefaultThreshold = 128

// Bitmap is a packed monochrome image. Each row is RowBytes long, the most
// significant bit is the leftmost pixel and a set bit prints black. Bits past
// Width in the last byte of a row are always white.
type Bitmap struct {
	Bits     []byte
	Width    int
	Height   int
	RowBytes int
}

// PaddedWidth is the row width in dots including the white padding.
func (b *Bitmap) PaddedWidth() int { return b.RowBytes * 8 }

// At reports whether the pixel at x, y is black.
func (b *Bitmap) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.Bits[y*b.RowBytes+x/8]&(0x80>>(x%8)) != 0
}

// ToMonochrome decodes data, shrinks it to maxWidthDots keeping the aspect
// ratio, and thresholds luminosity. Transparent pixels are composited over
// white first. A threshold outside 1..255 falls back to DefaultThreshold.
func ToMonochrome(data []byte, maxWidthDots, threshold int) (*Bitmap, error) {
	if maxWidthDots < 1 {
		return nil, fmt.Errorf("max width must be positive, got %d", maxWidthDots)
	}
	if threshold < 1 || threshold > 255 {
		threshold = DefaultThreshold
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if img.Bounds().Dx() > maxWidthDots {
		img = imaging.Resize(img, maxWidthDots, 0, imaging.Lanczos)
	}
	src := imaging.Clone(img)

	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	bm := &Bitmap{Width: w, Height: h, RowBytes: (w + 7) / 8}
	bm.Bits = make([]byte, bm.RowBytes*h)

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			if luminance(px[0], px[1], px[2], px[3]) < threshold {
				bm.Bits[y*bm.RowBytes+x/8] |= 0x80 >> (x % 8)
			}
		}
	}
	return bm, nil
}

// luminance of a non-premultiplied pixel laid over white, using the
// 0.299/0.587/0.114 weights in integer per-mille.
func luminance(r, g, b, a uint8) int {
	over := func(c uint8) int {
		return (int(c)*int(a) + 255*(255-int(a)) + 127) / 255
	}
	return (299*over(r) + 587*over(g) + 114*over(b)) / 1000
}
