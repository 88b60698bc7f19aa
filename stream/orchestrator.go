package stream

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/matt-g-everett/animtx/render"
	"github.com/matt-g-everett/animtx/source"
	"github.com/matt-g-everett/animtx/timeline"
)

// Engine renders frames ahead of the control goroutine. TryGet never blocks.
type Engine interface {
	Start() error
	// Stop joins every render goroutine before releasing shared state.
	Stop()
	// Advance tells the engine where playback is and which way it moves.
	Advance(index int64, direction int)
	TryGet(index int64) (*Frame, bool)
	Utilization() float64
	Failures() uint64
	Workers() []WorkerState
	// Background reports whether render goroutines are running.
	Background() bool
}

type OrchestratorConfig struct {
	Mode    Mode
	Workers int
	Stall   StallConfig
}

// Orchestrator turns the playback clock into the frame to display on each
// tick. Apart from LatestStats, its methods belong to the control goroutine.
type Orchestrator struct {
	sess  *Session
	cfg   OrchestratorConfig
	log   *slog.Logger
	mode  Mode
	eng   Engine
	stall *StallDetector

	current    *Frame
	curIndex   int64
	curGen     uint64
	curScene   int
	hasCurrent bool
	down       bool

	delivered   uint64
	skipped     uint64
	lastFrame   time.Time
	intervals   *rolling
	failedPrior uint64
	failOffset  uint64

	last   Snapshot
	stats  atomic.Pointer[Stats]
	closed bool
}

// NewOrchestrator starts the configured engine for sess.
func NewOrchestrator(sess *Session, cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModePreBuffer
	}
	o := &Orchestrator{
		sess:      sess,
		cfg:       cfg,
		log:       sess.Logger(),
		mode:      cfg.Mode,
		intervals: newRolling(deliveryWindow),
	}
	o.stall = NewStallDetector(cfg.Stall, o.log, sess.now(), o.diagnostics)

	eng, err := o.newEngine(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if err := eng.Start(); err != nil {
		return nil, err
	}
	o.eng = eng
	o.last = sess.Snapshot()
	o.stats.Store(&Stats{Mode: o.mode})
	return o, nil
}

func (o *Orchestrator) newEngine(m Mode) (Engine, error) {
	switch m {
	case ModePreBuffer:
		return NewPool(o.sess, o.cfg.Workers), nil
	case ModeDirect:
		return NewDirect(o.sess), nil
	default:
		return nil, fmt.Errorf("unknown render mode %q", m)
	}
}

// PollFrame selects the frame for the current playback time. It returns the
// frame when a new one is delivered and nil when the previous frame stays on
// display. A returned frame is valid until the next PollFrame.
func (o *Orchestrator) PollFrame() (*Frame, Stats) {
	now := o.sess.now()
	snap := o.sess.Snapshot()
	o.last = snap
	index := snap.Index()
	finished := snap.Finished()

	o.eng.Advance(index, snap.Direction())
	o.stall.Suspend(snap.Clock.Paused || finished || !o.eng.Background(), now)
	if snap.Clock.Paused || finished {
		// The delivery cadence restarts with playback.
		o.lastFrame = time.Time{}
	}

	var out *Frame
	switch {
	case o.hasCurrent && o.curIndex == index && o.curGen == snap.Generation:
		o.stall.MarkDelivered(now)
	default:
		if f, ok := o.eng.TryGet(index); ok {
			// A flush re-renders the picture already on display; that is
			// not a new delivery.
			same := o.hasCurrent && o.curIndex == index && o.curScene == f.SceneIndex
			o.current = f
			o.curIndex, o.curGen, o.curScene, o.hasCurrent = index, snap.Generation, f.SceneIndex, true
			o.stall.MarkDelivered(now)
			if !same {
				out = f
				o.delivered++
				if !o.lastFrame.IsZero() {
					o.intervals.add(float64(now.Sub(o.lastFrame)) / float64(time.Millisecond))
				}
				o.lastFrame = now
			}
		} else if !snap.Clock.Paused && !finished {
			o.skipped++
		}
	}

	o.stall.Check(now)
	stats := o.buildStats(snap, finished)
	o.stats.Store(&stats)
	return out, stats
}

// Current returns the frame on display, valid until the next PollFrame.
func (o *Orchestrator) Current() *Frame {
	return o.current
}

func (o *Orchestrator) buildStats(snap Snapshot, finished bool) Stats {
	s := Stats{
		Mode:              o.mode,
		FramesDelivered:   o.delivered,
		FramesSkipped:     o.skipped,
		SkipRate:          skipRate(o.delivered, o.skipped),
		WorkerUtilization: o.eng.Utilization(),
		RenderFailures:    o.failedPrior + o.eng.Failures() - o.failOffset,
		CacheLen:          o.sess.Cache.Len(),
		Generation:        snap.Generation,
		Position:          snap.Clock.Position.Seconds(),
		Rate:              snap.Clock.Rate,
		Paused:            snap.Clock.Paused,
		Finished:          finished,
		Stall:             o.stall.State(),
		FrameIndex:        -1,
		SceneFrame:        -1,
		FrameTime:         o.intervals.average(),
		FrameCount:        snap.Timeline.FrameCount(),
		Duration:          snap.Timeline.Duration().Seconds(),
		Source:            o.sess.SourcePath(),
	}
	if s.FrameTime > 0 {
		s.FPS = 1000 / s.FrameTime
	}
	if o.hasCurrent {
		s.FrameIndex = o.curIndex
		s.SceneFrame = snap.Timeline.FrameIndexAt(snap.Timeline.IndexTime(o.curIndex))
	}
	return s
}

// LatestStats returns the stats of the most recent poll. Safe for use from
// any goroutine.
func (o *Orchestrator) LatestStats() Stats {
	if s := o.stats.Load(); s != nil {
		return *s
	}
	return Stats{}
}

func (o *Orchestrator) diagnostics(since time.Duration) Diagnostics {
	return Diagnostics{
		SessionID:      o.sess.ID,
		State:          o.stall.State(),
		SinceLastFrame: since,
		Stats:          o.buildStats(o.last, o.last.Finished()),
		Workers:        o.eng.Workers(),
	}
}

// Diagnostics returns a dump of the pipeline state.
func (o *Orchestrator) Diagnostics() Diagnostics {
	return o.diagnostics(o.sess.now().Sub(o.stall.last))
}

func (o *Orchestrator) Mode() Mode {
	return o.mode
}

func (o *Orchestrator) Session() *Session {
	return o.sess
}

// Play resumes playback, starting over if a bounded timeline has finished.
func (o *Orchestrator) Play() error {
	if o.sess.Snapshot().Finished() {
		o.sess.Restart()
	}
	o.sess.Play()
	return nil
}

func (o *Orchestrator) Pause() error {
	o.sess.Pause()
	return nil
}

// Stop pauses playback and rewinds to the start.
func (o *Orchestrator) Stop() error {
	o.sess.Stop()
	return nil
}

func (o *Orchestrator) TogglePlay() error {
	if o.sess.Snapshot().Clock.Paused {
		return o.Play()
	}
	return o.Pause()
}

// Screenshot writes the frame on display to path as a PNG. An empty path
// generates a timestamped name in the working directory. It returns the
// path written.
func (o *Orchestrator) Screenshot(path string) (string, error) {
	f := o.current
	if f == nil {
		return "", ErrNoFrame
	}
	if path == "" {
		now := o.sess.now()
		path = fmt.Sprintf("screenshot_%s_%03d_%dx%d.png",
			now.Format("20060102_150405"), now.Nanosecond()/int(time.Millisecond), f.Width, f.Height)
	}
	if err := render.SavePNG(f.Image(), path); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	o.log.Info("screenshot saved", "path", path, "index", f.Index)
	return path, nil
}

func (o *Orchestrator) Seek(t time.Duration) error {
	if t < 0 {
		return fmt.Errorf("seek to negative time %v", t)
	}
	o.sess.Seek(t)
	return nil
}

func (o *Orchestrator) SetRate(rate float64) error {
	o.sess.SetRate(rate)
	return nil
}

// SetRepeatMode overrides the repeat mode, including for sources loaded
// later.
func (o *Orchestrator) SetRepeatMode(m timeline.RepeatMode) error {
	o.sess.SetRepeat(m)
	return nil
}

func (o *Orchestrator) Restart() error {
	o.sess.Restart()
	return nil
}

// ResetStats zeroes the delivered, skipped and failure counters. Counters are
// reset only here, never as a side effect of other controls.
func (o *Orchestrator) ResetStats() error {
	o.delivered, o.skipped = 0, 0
	o.intervals.reset()
	o.lastFrame = time.Time{}
	o.failOffset = o.failedPrior + o.eng.Failures()
	return nil
}

// SetMode switches render engine. The old engine is fully stopped first. If
// the new engine cannot start, the previous mode is restored; if that fails
// too the pipeline is declared stalled. Setting the current mode after such
// a failure retries it.
func (o *Orchestrator) SetMode(m Mode) error {
	if m == o.mode && !o.down {
		return nil
	}
	next, err := o.newEngine(m)
	if err != nil {
		return err
	}

	o.stopEngine()
	if err := next.Start(); err != nil {
		o.log.Error("render mode switch failed", "mode", m, "err", err)
		if rerr := o.restartEngine(); rerr != nil {
			return fmt.Errorf("%w (restoring %s: %w)", err, o.mode, rerr)
		}
		return err
	}

	o.log.Info("render mode switched", "from", o.mode, "to", m)
	o.eng = next
	o.mode = m
	o.engineUp()
	return nil
}

// Reload stops rendering, swaps the session to src and starts a fresh engine
// of the same mode. A source that fails to load leaves the old one playing.
func (o *Orchestrator) Reload(src *source.Source) error {
	o.stopEngine()
	err := o.sess.Reload(src)
	if rerr := o.restartEngine(); rerr != nil {
		if err != nil {
			return fmt.Errorf("%w (restarting %s: %w)", err, o.mode, rerr)
		}
		return rerr
	}
	return err
}

func (o *Orchestrator) stopEngine() {
	running := o.eng.Background()
	o.eng.Stop()
	if running {
		o.failedPrior += o.eng.Failures()
	}
	o.current = nil
	o.hasCurrent = false
	o.lastFrame = time.Time{}
}

// restartEngine starts a fresh engine of the current mode. Failure leaves
// nothing rendering and is fatal to the stall detector.
func (o *Orchestrator) restartEngine() error {
	eng, err := o.newEngine(o.mode)
	if err == nil {
		err = eng.Start()
	}
	if err != nil {
		o.down = true
		o.log.Error("render engine down", "mode", o.mode, "err", err)
		o.stall.Fail(o.sess.now(), err)
		return err
	}
	o.eng = eng
	o.engineUp()
	return nil
}

func (o *Orchestrator) engineUp() {
	if !o.down {
		return
	}
	o.down = false
	o.stall.Reset(o.sess.now())
	o.log.Info("render engine restored", "mode", o.mode)
}

// Close stops the engine. The orchestrator cannot be used afterwards.
func (o *Orchestrator) Close() {
	if o.closed {
		return
	}
	o.closed = true
	o.eng.Stop()
	o.log.Info("playback closed", "delivered", o.delivered, "skipped", o.skipped)
}
