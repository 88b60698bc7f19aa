// Package source loads animation documents: a scene for the rendering engine
// plus the animations that drive it.
//
//	fps: 30
//	scene:
//	  width: 64
//	  height: 32
//	  shapes: [...]
//	animations:
//	  - target: ball
//	    attribute: cx
//	    duration: 2s
//	    repeat: loop
//	    keyframes: [{at: 0, value: 0}, {at: 1, value: 64}]
package source

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/matt-g-everett/animtx/timeline"
)

// DefaultFPS sets the frame count of documents without discrete animations
// that specify neither fps nor frames.
const DefaultFPS = 30

// LoadError reports a source that cannot be played. Playback never starts
// from a source that fails to load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load animation: %v", e.Err)
	}
	return fmt.Sprintf("load animation %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Source is a loaded animation document.
type Source struct {
	Path     string
	Markup   []byte
	Timeline *timeline.Timeline
}

type document struct {
	FPS        float64              `yaml:"fps"`
	Frames     int                  `yaml:"frames"`
	Scene      yaml.MapSlice        `yaml:"scene"`
	Animations []timeline.Animation `yaml:"animations"`
}

// Load reads and parses the document at path.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	src, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	src.Path = path
	return src, nil
}

// Parse parses a document held in memory.
func Parse(data []byte) (*Source, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Err: err}
	}
	if len(doc.Scene) == 0 {
		return nil, &LoadError{Err: errors.New("document has no scene")}
	}

	markup, err := yaml.Marshal(doc.Scene)
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	frames := doc.Frames
	if frames <= 0 && len(doc.Animations) > 0 {
		fps := doc.FPS
		if fps <= 0 {
			fps = DefaultFPS
		}
		frames = int(math.Round(doc.Animations[0].Duration.Seconds() * fps))
	}

	tl, err := timeline.New(doc.Animations, frames)
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	return &Source{Markup: markup, Timeline: tl}, nil
}
