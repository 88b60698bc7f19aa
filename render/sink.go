package render

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/gogpu/gg"
)

// DiscardSink accepts frames and drops them. Useful for headless benchmarking.
type DiscardSink struct {
	surface *Surface
}

func (d *DiscardSink) AcquireSurface(width, height int) *Surface {
	if d.surface == nil || d.surface.Width != width || d.surface.Height != height {
		d.surface = NewSurface(width, height)
	}
	return d.surface
}

func (*DiscardSink) Present(*Surface) error {
	return nil
}

// PNGSink writes every presented frame to a numbered PNG file.
type PNGSink struct {
	dir     string
	seq     int
	surface *Surface
}

// NewPNGSink creates dir if needed and returns a sink writing into it.
func NewPNGSink(dir string) (*PNGSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("png sink: %w", err)
	}
	return &PNGSink{dir: dir}, nil
}

func (p *PNGSink) AcquireSurface(width, height int) *Surface {
	if p.surface == nil || p.surface.Width != width || p.surface.Height != height {
		p.surface = NewSurface(width, height)
	}
	return p.surface
}

func (p *PNGSink) Present(s *Surface) error {
	path := filepath.Join(p.dir, fmt.Sprintf("frame-%06d.png", p.seq))
	p.seq++
	return SavePNG(s.Image(), path)
}

// SavePNG writes img to path as a PNG file.
func SavePNG(img *image.RGBA, path string) error {
	return gg.FromImage(img).SavePNG(path)
}
