package render

import (
	"image"

	"golang.org/x/image/draw"
)

// Surface is a CPU-addressable RGBA pixel buffer, 4 bytes per pixel with no
// row padding.
type Surface struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewSurface allocates a cleared surface.
func NewSurface(width, height int) *Surface {
	return &Surface{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// Image wraps the surface pixels without copying.
func (s *Surface) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    s.Pix,
		Stride: s.Width * 4,
		Rect:   image.Rect(0, 0, s.Width, s.Height),
	}
}

// CopyFrom fills the surface from src, scaling when the sizes differ.
func (s *Surface) CopyFrom(src *image.RGBA) {
	b := src.Bounds()
	if b.Dx() == s.Width && b.Dy() == s.Height && src.Stride == s.Width*4 {
		copy(s.Pix, src.Pix)
		return
	}

	dst := s.Image()
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
}

// Clear sets every pixel to transparent black.
func (s *Surface) Clear() {
	clear(s.Pix)
}
