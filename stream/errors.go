package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWorkers means no render goroutine could initialize its scene.
	ErrNoWorkers = errors.New("stream: no render worker could start")
	// ErrStopped is returned when starting an engine that has been stopped.
	ErrStopped = errors.New("stream: engine stopped")
	// ErrQuit is returned by a Command that asks the display loop to exit.
	ErrQuit = errors.New("stream: quit requested")
	// ErrNoFrame means no frame has been delivered yet.
	ErrNoFrame = errors.New("stream: no frame delivered")
)

// RenderError is a failure to render one frame. It never leaves the render
// engines: the frame is simply never available.
type RenderError struct {
	Index int64
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render frame %d: %v", e.Index, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
