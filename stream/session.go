package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/matt-g-everett/animtx/render"
	"github.com/matt-g-everett/animtx/source"
	"github.com/matt-g-everett/animtx/timeline"
	"github.com/matt-g-everett/animtx/util"
)

// Snapshot is a consistent view of the clock, the timeline and the
// generation they belong to.
type Snapshot struct {
	Clock      ClockState
	Timeline   *timeline.Timeline
	Generation uint64
}

// Index returns the global frame index at the snapshot position.
func (s Snapshot) Index() int64 {
	return s.Timeline.GlobalIndexAt(s.Clock.Position)
}

// Direction is -1 for reverse playback and 1 otherwise.
func (s Snapshot) Direction() int {
	return direction(s.Clock.Rate)
}

// Finished reports whether a bounded timeline has played to its end.
func (s Snapshot) Finished() bool {
	return s.Clock.AtEnd && s.Clock.Rate >= 0
}

func direction(rate float64) int {
	if rate < 0 {
		return -1
	}
	return 1
}

type scene struct {
	path   string
	markup []byte
	width  int
	height int
}

// Session is the state shared by the orchestrator and the render engines of
// one playback: the clock, the frame cache, the active timeline and the
// generation counter that invalidates in-flight renders.
type Session struct {
	ID    string
	Clock *Clock
	Cache *FrameCache

	engine     render.Engine
	scene      atomic.Pointer[scene]
	timeline   atomic.Pointer[timeline.Timeline]
	repeat     atomic.Pointer[timeline.RepeatMode]
	generation atomic.Uint64
	now        func() time.Time
	log        *slog.Logger
}

type SessionOption func(*Session)

// WithClock replaces the wall clock used for playback and stall detection.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.log = l
	}
}

// NewSession checks that engine can parse the source scene and prepares a
// paused session at position zero. cacheSize bounds the pre-buffer.
func NewSession(engine render.Engine, src *source.Source, cacheSize int, opts ...SessionOption) (*Session, error) {
	s := &Session{
		ID:    uuid.NewString(),
		Cache: NewFrameCache(cacheSize),
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = engine
	s.log = s.log.With("session", s.ID)
	s.Clock = NewClock(s.now)

	sc, err := probe(engine, src)
	if err != nil {
		return nil, err
	}
	s.scene.Store(sc)
	s.timeline.Store(src.Timeline)
	end, bounded := src.Timeline.End()
	s.Clock.SetLimit(end, bounded)
	s.generation.Store(1)
	s.Cache.Flush(1, 1)

	return s, nil
}

// probe parses the source scene once to validate it and learn its size.
func probe(engine render.Engine, src *source.Source) (*scene, error) {
	if src == nil || src.Timeline == nil {
		return nil, &source.LoadError{Err: errors.New("no animation loaded")}
	}
	sc, err := engine.Parse(src.Markup)
	if err != nil {
		return nil, &source.LoadError{Path: src.Path, Err: fmt.Errorf("parse scene: %w", err)}
	}
	defer sc.Close()

	w, h := sc.Size()
	return &scene{path: src.Path, markup: src.Markup, width: w, height: h}, nil
}

func (s *Session) Snapshot() Snapshot {
	s.Clock.mu.Lock()
	defer s.Clock.mu.Unlock()
	return Snapshot{
		Clock:      s.Clock.snapshotLocked(),
		Timeline:   s.timeline.Load(),
		Generation: s.generation.Load(),
	}
}

func (s *Session) Timeline() *timeline.Timeline {
	return s.timeline.Load()
}

func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Size returns the natural render size of the scene.
func (s *Session) Size() (width, height int) {
	sc := s.scene.Load()
	return sc.width, sc.height
}

// SourcePath returns the path of the loaded source, if it came from a file.
func (s *Session) SourcePath() string {
	return s.scene.Load().path
}

// parse gives a render goroutine its own scene.
func (s *Session) parse() (render.Scene, error) {
	return s.engine.Parse(s.scene.Load().markup)
}

func (s *Session) Logger() *slog.Logger {
	return s.log
}

// invalidate applies mutate with the clock and cache locked together, then
// starts a new generation so in-flight renders are discarded.
func (s *Session) invalidate(mutate func()) uint64 {
	unlock := util.LockAll(&s.Clock.mu, &s.Cache.mu)
	defer unlock()

	mutate()
	gen := s.generation.Add(1)
	s.Cache.flushLocked(gen, direction(s.Clock.rate))
	return gen
}

func (s *Session) Play() {
	s.Clock.Play()
}

// Pause freezes the clock and resets scheduling.
func (s *Session) Pause() {
	s.invalidate(s.Clock.pauseLocked)
}

func (s *Session) Seek(pos time.Duration) {
	s.invalidate(func() {
		s.Clock.seekLocked(pos)
	})
}

// SetRate changes playback speed. Only a change of direction invalidates
// the pre-buffer.
func (s *Session) SetRate(rate float64) {
	if direction(rate) == direction(s.Clock.Snapshot().Rate) {
		s.Clock.SetRate(rate)
		return
	}
	s.invalidate(func() {
		s.Clock.setRateLocked(rate)
	})
}

// Stop pauses and rewinds to the start.
func (s *Session) Stop() {
	s.invalidate(func() {
		s.Clock.pauseLocked()
		s.Clock.seekLocked(0)
	})
}

// Restart seeks to the start of playback in the current direction.
func (s *Session) Restart() {
	s.invalidate(func() {
		pos := time.Duration(0)
		if s.Clock.rate < 0 && s.Clock.bounded {
			pos = s.Clock.end
		}
		s.Clock.seekLocked(pos)
	})
}

// SetTimeline switches to tl, keeping the clock position where possible.
func (s *Session) SetTimeline(tl *timeline.Timeline) {
	s.invalidate(func() {
		s.timeline.Store(tl)
		end, bounded := tl.End()
		s.Clock.setLimitLocked(end, bounded)
	})
}

// SetRepeat overrides the repeat mode of the current timeline and of every
// timeline loaded after it.
func (s *Session) SetRepeat(m timeline.RepeatMode) {
	s.repeat.Store(&m)
	s.SetTimeline(s.Timeline().WithRepeat(m))
}

// Reload swaps in a new source. The render engines must be stopped; they
// parse the new scene when they start again.
func (s *Session) Reload(src *source.Source) error {
	sc, err := probe(s.engine, src)
	if err != nil {
		return err
	}
	s.scene.Store(sc)
	tl := src.Timeline
	if m := s.repeat.Load(); m != nil {
		tl = tl.WithRepeat(*m)
	}
	s.SetTimeline(tl)
	s.log.Info("animation reloaded", "path", src.Path, "width", sc.width, "height", sc.height)
	return nil
}
