package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matt-g-everett/animtx/render"
	"github.com/matt-g-everett/animtx/source"
	"github.com/matt-g-everett/animtx/timeline"
)

// fakeTime is a manually advanced wall clock.
type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{t: time.Unix(1_700_000_000, 0)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

var frameKey = timeline.Key{Target: "sprite", Attribute: "n"}

var errStubRender = errors.New("stub render failure")

// stubEngine fills every pixel with the scene frame number, so a rendered
// frame shows which frame it is. hook runs before each render and may delay,
// block or fail it. failParse fails every parse, failNext only that many.
type stubEngine struct {
	hook      func(n int) error
	failParse atomic.Bool
	failNext  atomic.Int32
	parses    atomic.Int32
}

func (e *stubEngine) Parse([]byte) (render.Scene, error) {
	e.parses.Add(1)
	if e.failParse.Load() {
		return nil, render.ErrBadScene
	}
	for n := e.failNext.Load(); n > 0; n = e.failNext.Load() {
		if e.failNext.CompareAndSwap(n, n-1) {
			return nil, render.ErrBadScene
		}
	}
	return &stubScene{e: e, n: -1}, nil
}

type stubScene struct {
	e *stubEngine
	n int
}

func (s *stubScene) Size() (int, int) {
	return 4, 4
}

func (s *stubScene) Apply(values timeline.Values) {
	s.n = -1
	if v, ok := values[frameKey]; ok {
		f, _ := v.Float()
		s.n = int(f)
	}
}

func (s *stubScene) Render(dst *render.Surface) error {
	if s.e.hook != nil {
		if err := s.e.hook(s.n); err != nil {
			return err
		}
	}
	for i := range dst.Pix {
		dst.Pix[i] = byte(s.n)
	}
	return nil
}

func (s *stubScene) Close() error {
	return nil
}

// testSource is a one second animation of ten discrete frames numbered 0-9.
func testSource(t *testing.T, repeat timeline.RepeatMode) *source.Source {
	t.Helper()
	frames := make([]timeline.Value, 10)
	for i := range frames {
		frames[i] = timeline.NumberValue(float64(i))
	}
	tl, err := timeline.New([]timeline.Animation{{
		Target:    frameKey.Target,
		Attribute: frameKey.Attribute,
		Duration:  time.Second,
		Repeat:    repeat,
		Frames:    frames,
	}}, 0)
	if err != nil {
		t.Fatalf("timeline.New() failed: %v", err)
	}
	return &source.Source{Markup: []byte("stub"), Timeline: tl}
}

func newTestSession(t *testing.T, eng render.Engine, repeat timeline.RepeatMode, cacheSize int) (*Session, *fakeTime) {
	t.Helper()
	ft := newFakeTime()
	sess, err := NewSession(eng, testSource(t, repeat), cacheSize, WithClock(ft.Now))
	if err != nil {
		t.Fatalf("NewSession() failed: %v", err)
	}
	return sess, ft
}

// noStall keeps stall handling from exiting the test binary.
func noStall(t *testing.T) StallConfig {
	return StallConfig{
		OnFatal: func(d Diagnostics) {
			t.Errorf("unexpected fatal stall: %+v", d)
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// pollUntil polls o until the frame for index is on display.
func pollUntil(t *testing.T, o *Orchestrator, index int64) Stats {
	t.Helper()
	var stats Stats
	waitFor(t, 2*time.Second, "frame delivery", func() bool {
		_, stats = o.PollFrame()
		return stats.FrameIndex == index
	})
	return stats
}
