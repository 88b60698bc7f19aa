package stream

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/matt-g-everett/animtx/render"
	"github.com/matt-g-everett/animtx/timeline"
)

// job is one claimed frame render.
type job struct {
	index      int64
	generation uint64
	timeline   *timeline.Timeline
}

// WorkerState describes one render goroutine for diagnostics.
type WorkerState struct {
	ID       int           `json:"id"`
	Busy     bool          `json:"busy"`
	Index    int64         `json:"index"`
	BusyTime time.Duration `json:"busy_time"`
}

// slot is the private state of one render goroutine. Its scene and surface
// are never shared.
type slot struct {
	id         int
	scene      render.Scene
	surface    *render.Surface
	cursor     timeline.Cursor
	generation uint64

	busy     atomic.Int64
	inflight atomic.Int64
}

func newSlot(id int, sess *Session) (*slot, error) {
	sc, err := sess.parse()
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}

	w, h := sc.Size()
	s := &slot{
		id:      id,
		scene:   sc,
		surface: render.NewSurface(w, h),
	}
	s.inflight.Store(-1)
	return s, nil
}

// render draws j into dst. Panics from the scene are reported as errors.
func (s *slot) render(j job, dst *Frame) (err error) {
	if j.generation != s.generation {
		s.cursor.Reset()
		s.generation = j.generation
	}

	s.inflight.Store(j.index)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &RenderError{Index: j.index, Err: fmt.Errorf("panic: %v", r)}
		}
		s.busy.Add(int64(time.Since(start)))
		s.inflight.Store(-1)
	}()

	t := j.timeline.IndexTime(j.index)
	s.scene.Apply(j.timeline.ValuesAtCursor(t, &s.cursor))
	if err := s.scene.Render(s.surface); err != nil {
		return &RenderError{Index: j.index, Err: err}
	}

	if len(dst.Pix) != len(s.surface.Pix) {
		dst.Pix = make([]uint8, len(s.surface.Pix))
	}
	copy(dst.Pix, s.surface.Pix)
	dst.Index = j.index
	dst.SceneIndex = j.timeline.FrameIndexAt(t)
	dst.Time = t
	dst.Generation = j.generation
	dst.Width = s.surface.Width
	dst.Height = s.surface.Height
	return nil
}

func (s *slot) state() WorkerState {
	idx := s.inflight.Load()
	return WorkerState{
		ID:       s.id,
		Busy:     idx >= 0,
		Index:    idx,
		BusyTime: time.Duration(s.busy.Load()),
	}
}

func (s *slot) close() {
	if s.scene != nil {
		s.scene.Close()
	}
}

// utilizationWindow is how often busy time is resampled.
const utilizationWindow = time.Second

// busyMeter turns accumulated busy time into a utilization fraction over a
// sliding window.
type busyMeter struct {
	last     time.Time
	lastBusy time.Duration
	value    float64
}

func (m *busyMeter) sample(slots []*slot) float64 {
	now := time.Now()
	var busy time.Duration
	for _, s := range slots {
		busy += time.Duration(s.busy.Load())
	}

	if m.last.IsZero() {
		m.last, m.lastBusy = now, busy
		return m.value
	}

	elapsed := now.Sub(m.last)
	if elapsed < utilizationWindow || len(slots) == 0 {
		return m.value
	}
	m.value = min(float64(busy-m.lastBusy)/(float64(elapsed)*float64(len(slots))), 1)
	m.last, m.lastBusy = now, busy
	return m.value
}
