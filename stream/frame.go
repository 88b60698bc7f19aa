package stream

import (
	"image"
	"time"
)

// Frame is a rendered animation frame. Frames are never modified once they
// have been handed to the frame cache.
type Frame struct {
	// Index is the global frame index: playback time divided by frame
	// duration, ignoring the repeat mode.
	Index int64
	// SceneIndex is the frame within the animation cycle.
	SceneIndex int
	// Time is the playback time the frame was rendered for.
	Time       time.Duration
	Generation uint64
	Width      int
	Height     int
	Pix        []uint8
}

// NewFrame creates a new Frame instance.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Index:  -1,
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// Image wraps the frame pixels without copying.
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}
