package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matt-g-everett/animtx/timeline"
)

const bouncing = `
fps: 10
scene:
  width: 32
  height: 16
  background: "#000005"
  shapes:
    - id: ball
      type: circle
      attrs: {cx: 4, cy: 8, r: 3, fill: "#ff4000"}
animations:
  - target: ball
    attribute: cx
    duration: 2s
    repeat: reverse
    easing: in-out-quad
    keyframes:
      - {at: 0, value: 4}
      - {at: 1, value: 28}
  - target: ball
    attribute: fill
    duration: 2s
    repeat: reverse
    keyframes:
      - {at: 0, value: "#ff4000"}
      - {at: 1, value: "#0040ff"}
`

func TestParse(t *testing.T) {
	src, err := Parse([]byte(bouncing))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	tl := src.Timeline
	if tl.Duration() != 2*time.Second {
		t.Errorf("Duration() = %v, want 2s", tl.Duration())
	}
	if tl.FrameCount() != 20 {
		t.Errorf("FrameCount() = %d, want 20 (2s at 10fps)", tl.FrameCount())
	}
	if tl.Repeat() != timeline.Reverse {
		t.Errorf("Repeat() = %v, want reverse", tl.Repeat())
	}

	if !strings.Contains(string(src.Markup), "ball") {
		t.Errorf("markup lost the scene: %s", src.Markup)
	}

	v, ok := tl.ValueFor(2*time.Second, timeline.Key{Target: "ball", Attribute: "cx"})
	if f, _ := v.Float(); !ok || f != 28 {
		t.Errorf("cx at 2s = %v, want 28", v)
	}
}

func TestParseDiscreteFrames(t *testing.T) {
	doc := `
scene: {width: 8, height: 8}
animations:
  - target: sprite
    attribute: frame
    duration: 1s
    repeat: loop
    frames: [a, b, c, d]
`
	src, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if got := src.Timeline.FrameCount(); got != 4 {
		t.Errorf("FrameCount() = %d, want 4", got)
	}
}

func TestLoadErrors(t *testing.T) {
	divergent := `
scene: {width: 8, height: 8}
animations:
  - {target: a, attribute: x, duration: 1s, frames: [1, 2]}
  - {target: b, attribute: x, duration: 2s, frames: [1, 2]}
`
	path := filepath.Join(t.TempDir(), "anim.yaml")
	if err := os.WriteFile(path, []byte(divergent), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("Load() error = %v, want *LoadError", err)
	}
	if le.Path != path {
		t.Errorf("LoadError.Path = %q, want %q", le.Path, path)
	}
	if !errors.Is(err, timeline.ErrDivergent) {
		t.Errorf("Load() error = %v, want ErrDivergent", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.As(err, &le) {
		t.Errorf("missing file error = %v, want *LoadError", err)
	}

	if _, err := Parse([]byte("animations: []\n")); !errors.As(err, &le) {
		t.Errorf("sceneless document error = %v, want *LoadError", err)
	}
}
