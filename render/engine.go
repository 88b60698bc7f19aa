// Package render defines the rendering-engine and frame-sink capabilities the
// playback pipeline drives, and provides a vector engine built on gg.
package render

import (
	"errors"

	"github.com/matt-g-everett/animtx/timeline"
)

var (
	ErrUnknownShape = errors.New("render: unknown shape type")
	ErrBadScene     = errors.New("render: invalid scene")
)

// An Engine turns scene markup into independent Scenes. Parse may be called
// from several goroutines at once.
type Engine interface {
	Parse(markup []byte) (Scene, error)
}

// A Scene is a parsed scene graph. Scenes are not safe for concurrent use;
// each render goroutine parses and owns its own.
type Scene interface {
	// Size returns the scene's natural render size.
	Size() (width, height int)
	// Apply replaces the animated attribute values used by the next Render.
	// Attributes of unknown targets are ignored.
	Apply(values timeline.Values)
	// Render rasterizes the scene into dst.
	Render(dst *Surface) error
	Close() error
}

// A Sink displays frames. It is owned by the display loop.
type Sink interface {
	// AcquireSurface returns a surface to present into. The sink may return
	// a different size from the one requested; the caller scales to fit.
	AcquireSurface(width, height int) *Surface
	Present(s *Surface) error
}
