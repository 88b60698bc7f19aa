package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/matt-g-everett/animtx/render"
)

// Streamer is the display loop. It polls the orchestrator on a ticker,
// presents newly delivered frames to a sink and runs control commands, all
// on the goroutine that calls Run.
type Streamer struct {
	orch     *Orchestrator
	sink     render.Sink
	tickRate time.Duration
	log      *slog.Logger
	commands chan Command
	quit     atomic.Bool
}

// NewStreamer creates an instance of a Streamer.
func NewStreamer(orch *Orchestrator, sink render.Sink, tickRate time.Duration, log *slog.Logger) *Streamer {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{
		orch:     orch,
		sink:     sink,
		tickRate: tickRate,
		log:      log,
		commands: make(chan Command, 16),
	}
}

// Submit queues cmd for the control goroutine. It never blocks and reports
// false when the queue is full.
func (s *Streamer) Submit(cmd Command) bool {
	select {
	case s.commands <- cmd:
		return true
	default:
		return false
	}
}

// Quit asks Run to stop at its next iteration. Safe to call from a signal
// handler goroutine.
func (s *Streamer) Quit() {
	s.quit.Store(true)
}

// Stats returns the latest playback stats.
func (s *Streamer) Stats() Stats {
	return s.orch.LatestStats()
}

// SendFrame polls for the current frame and presents it if it is new.
func (s *Streamer) SendFrame() error {
	f, _ := s.orch.PollFrame()
	if f == nil {
		return nil
	}

	surface := s.sink.AcquireSurface(f.Width, f.Height)
	surface.CopyFrom(f.Image())
	return s.sink.Present(surface)
}

// Run causes the Streamer to present frames continuously until Quit is
// called or ctx is done. The render engine is stopped before Run returns.
func (s *Streamer) Run(ctx context.Context) {
	defer s.orch.Close()

	publishTimer := time.NewTicker(s.tickRate)
	defer publishTimer.Stop()

	for !s.quit.Load() {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			if err := cmd(s.orch); errors.Is(err, ErrQuit) {
				s.Quit()
			} else if err != nil {
				s.log.Warn("control command failed", "err", err)
			}
		case <-publishTimer.C:
			if err := s.SendFrame(); err != nil {
				s.log.Warn("present failed", "err", err)
			}
		}
	}
	s.log.Info("quit requested")
}
