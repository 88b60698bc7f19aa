package stream

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
	"time"
)

type StallState int

const (
	StallHealthy StallState = iota
	StallWarning
	StallFatal
)

func (s StallState) String() string {
	switch s {
	case StallWarning:
		return "warning"
	case StallFatal:
		return "fatal"
	default:
		return "healthy"
	}
}

func (s StallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StallState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*s = StallHealthy
	case "warning":
		*s = StallWarning
	case "fatal":
		*s = StallFatal
	default:
		return fmt.Errorf("unknown stall state %q", b)
	}
	return nil
}

// Diagnostics is the dump handed to the fatal stall handler.
type Diagnostics struct {
	SessionID      string        `json:"session_id"`
	State          StallState    `json:"state"`
	SinceLastFrame time.Duration `json:"since_last_frame"`
	Stats          Stats         `json:"stats"`
	Workers        []WorkerState `json:"workers"`
}

type StallConfig struct {
	WarnAfter  time.Duration
	FatalAfter time.Duration
	// OnFatal runs once when the pipeline is declared stalled. Nil means
	// ExitOnStall with the session logger.
	OnFatal func(Diagnostics)
}

const (
	DefaultStallWarn  = 2 * time.Second
	DefaultStallFatal = 5 * time.Second
)

func (c StallConfig) withDefaults() StallConfig {
	if c.WarnAfter <= 0 {
		c.WarnAfter = DefaultStallWarn
	}
	if c.FatalAfter <= 0 {
		c.FatalAfter = DefaultStallFatal
	}
	if c.FatalAfter < c.WarnAfter {
		c.FatalAfter = c.WarnAfter
	}
	return c
}

// StallDetector watches the time since the last delivered frame. It is
// driven from the control goroutine only.
type StallDetector struct {
	cfg       StallConfig
	log       *slog.Logger
	diagnose  func(since time.Duration) Diagnostics
	last      time.Time
	state     StallState
	suspended bool
	failed    bool
}

// NewStallDetector creates a healthy detector whose window starts at now.
// diagnose builds the dump passed to OnFatal.
func NewStallDetector(cfg StallConfig, log *slog.Logger, now time.Time, diagnose func(time.Duration) Diagnostics) *StallDetector {
	cfg = cfg.withDefaults()
	if cfg.OnFatal == nil {
		cfg.OnFatal = ExitOnStall(log)
	}
	return &StallDetector{
		cfg:      cfg,
		log:      log,
		diagnose: diagnose,
		last:     now,
	}
}

func (d *StallDetector) State() StallState {
	return d.state
}

// MarkDelivered restarts the stall window.
func (d *StallDetector) MarkDelivered(now time.Time) {
	d.last = now
	if d.state != StallHealthy {
		d.log.Info("frame delivery recovered", "previous", d.state)
		d.state = StallHealthy
	}
}

// Suspend stops stall accounting while playback is paused or finished.
// Resuming starts a fresh window. It has no effect after Fail.
func (d *StallDetector) Suspend(suspended bool, now time.Time) {
	if d.failed || suspended == d.suspended {
		return
	}
	d.suspended = suspended
	if suspended {
		d.state = StallHealthy
		return
	}
	d.last = now
}

// Check advances the state machine and returns the current state.
func (d *StallDetector) Check(now time.Time) StallState {
	if d.suspended || d.failed {
		return d.state
	}

	since := now.Sub(d.last)
	switch {
	case since >= d.cfg.FatalAfter && d.state != StallFatal:
		d.fatal(since, "render pipeline stalled")
	case since >= d.cfg.WarnAfter && d.state == StallHealthy:
		d.state = StallWarning
		diag := d.dump(since)
		d.log.Warn("no frame delivered",
			"since_last_frame", since,
			"stats", diag.Stats,
			"workers", diag.Workers,
		)
	}
	return d.state
}

// Fail declares the pipeline dead at once, for when no render engine can
// run at all. The state stays Fatal, suspended or not, until Reset.
func (d *StallDetector) Fail(now time.Time, cause error) {
	if d.failed {
		return
	}
	d.failed = true
	d.fatal(now.Sub(d.last), "no render engine running", "err", cause)
}

// Reset returns a failed detector to Healthy with a fresh window.
func (d *StallDetector) Reset(now time.Time) {
	d.failed = false
	d.suspended = false
	d.state = StallHealthy
	d.last = now
}

func (d *StallDetector) fatal(since time.Duration, msg string, args ...any) {
	d.state = StallFatal
	diag := d.dump(since)
	diag.State = StallFatal
	d.log.Error(msg, append(args, "since_last_frame", since)...)
	d.cfg.OnFatal(diag)
}

func (d *StallDetector) dump(since time.Duration) Diagnostics {
	if d.diagnose == nil {
		return Diagnostics{State: d.state, SinceLastFrame: since}
	}
	return d.diagnose(since)
}

// ExitOnStall returns a fatal handler that logs the diagnostics, writes every
// goroutine stack to stderr and exits with status 2.
func ExitOnStall(log *slog.Logger) func(Diagnostics) {
	return func(diag Diagnostics) {
		log.Error("terminating on render stall",
			"session", diag.SessionID,
			"since_last_frame", diag.SinceLastFrame,
			"stats", diag.Stats,
			"workers", diag.Workers,
		)
		pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		os.Exit(2)
	}
}
