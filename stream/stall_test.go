package stream

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/matt-g-everett/animtx/timeline"
)

// TestStallDetectorEscalates drives the detector through a six second gap in
// frame delivery.
//
// Scenario:
//  1. Deliver a frame at t=0
//  2. Check every 100ms for 6s without delivering
//  3. Assert: Warning from 2s, Fatal from 5s, fatal handler called once
func TestStallDetectorEscalates(t *testing.T) {
	start := time.Unix(0, 0)
	var fatal []Diagnostics
	d := NewStallDetector(StallConfig{
		OnFatal: func(diag Diagnostics) { fatal = append(fatal, diag) },
	}, slog.Default(), start, nil)

	d.MarkDelivered(start)

	var warnAt, fatalAt time.Duration
	for at := time.Duration(0); at <= 6*time.Second; at += 100 * time.Millisecond {
		state := d.Check(start.Add(at))
		if state == StallWarning && warnAt == 0 {
			warnAt = at
		}
		if state == StallFatal && fatalAt == 0 {
			fatalAt = at
		}
	}

	if warnAt != 2*time.Second {
		t.Errorf("Warning at %v, want 2s", warnAt)
	}
	if fatalAt != 5*time.Second {
		t.Errorf("Fatal at %v, want 5s", fatalAt)
	}
	if len(fatal) != 1 {
		t.Fatalf("fatal handler called %d times, want 1", len(fatal))
	}
	if fatal[0].State != StallFatal || fatal[0].SinceLastFrame != 5*time.Second {
		t.Errorf("diagnostics = %+v", fatal[0])
	}
}

func TestStallDetectorSuspended(t *testing.T) {
	start := time.Unix(0, 0)
	d := NewStallDetector(StallConfig{
		OnFatal: func(Diagnostics) { t.Error("fatal while suspended") },
	}, slog.Default(), start, nil)

	d.Suspend(true, start)
	if s := d.Check(start.Add(time.Minute)); s != StallHealthy {
		t.Errorf("suspended state = %v, want healthy", s)
	}

	// Resuming starts a fresh window.
	d.Suspend(false, start.Add(time.Minute))
	if s := d.Check(start.Add(time.Minute + time.Second)); s != StallHealthy {
		t.Errorf("state 1s after resume = %v, want healthy", s)
	}
	if s := d.Check(start.Add(time.Minute + 3*time.Second)); s != StallWarning {
		t.Errorf("state 3s after resume = %v, want warning", s)
	}

	d.MarkDelivered(start.Add(time.Minute + 3*time.Second))
	if d.State() != StallHealthy {
		t.Errorf("state after delivery = %v, want healthy", d.State())
	}
}

func TestStallWarningLogsDiagnostics(t *testing.T) {
	start := time.Unix(0, 0)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	d := NewStallDetector(StallConfig{OnFatal: func(Diagnostics) {}}, log, start,
		func(since time.Duration) Diagnostics {
			return Diagnostics{
				SinceLastFrame: since,
				Stats:          Stats{FramesSkipped: 21},
				Workers:        []WorkerState{{ID: 3, Busy: true, Index: 17}},
			}
		})

	if s := d.Check(start.Add(2500 * time.Millisecond)); s != StallWarning {
		t.Fatalf("state = %v, want warning", s)
	}
	out := buf.String()
	for _, want := range []string{"no frame delivered", "FramesSkipped:21", "ID:3", "Index:17"} {
		if !strings.Contains(out, want) {
			t.Errorf("warning log lacks %q:\n%s", want, out)
		}
	}
}

// TestOrchestratorStallsWhenNoFrameArrives runs Scenario D end to end: every
// render blocks, playback runs for six seconds and the orchestrator must
// warn and then declare a fatal stall with diagnostics.
func TestOrchestratorStallsWhenNoFrameArrives(t *testing.T) {
	release := make(chan struct{})
	eng := &stubEngine{hook: func(int) error {
		<-release
		return nil
	}}
	sess, ft := newTestSession(t, eng, timeline.Loop, 4)

	var fatal []Diagnostics
	o, err := NewOrchestrator(sess, OrchestratorConfig{
		Workers: 2,
		Stall:   StallConfig{OnFatal: func(d Diagnostics) { fatal = append(fatal, d) }},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	t.Cleanup(o.Close)
	t.Cleanup(func() { close(release) })

	o.Play()
	var states []StallState
	for at := time.Duration(0); at <= 6*time.Second; at += 100 * time.Millisecond {
		_, stats := o.PollFrame()
		if len(states) == 0 || states[len(states)-1] != stats.Stall {
			states = append(states, stats.Stall)
		}
		ft.Advance(100 * time.Millisecond)
	}

	want := []StallState{StallHealthy, StallWarning, StallFatal}
	if len(states) != len(want) {
		t.Fatalf("stall states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("stall states = %v, want %v", states, want)
		}
	}

	if len(fatal) != 1 {
		t.Fatalf("fatal handler called %d times, want 1", len(fatal))
	}
	diag := fatal[0]
	if diag.SessionID != sess.ID || len(diag.Workers) != 2 {
		t.Errorf("diagnostics = %+v", diag)
	}
	if diag.Stats.FramesDelivered != 0 || diag.Stats.FramesSkipped == 0 {
		t.Errorf("diagnostic stats = %+v", diag.Stats)
	}
}

const stallExitEnv = "ANIMTX_STALL_EXIT"

// TestExitOnStall runs the default fatal handler in a child process and
// checks it exits with status 2 after dumping goroutine stacks.
func TestExitOnStall(t *testing.T) {
	if os.Getenv(stallExitEnv) == "1" {
		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ExitOnStall(log)(Diagnostics{SessionID: "child", State: StallFatal})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitOnStall$")
	cmd.Env = append(os.Environ(), stallExitEnv+"=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("child error = %v, want exit error", err)
	}
	if code := exitErr.ExitCode(); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}

	out := stderr.String()
	if !strings.Contains(out, "terminating on render stall") || !strings.Contains(out, "session=child") {
		t.Errorf("stderr lacks diagnostics:\n%s", out)
	}
	if !strings.Contains(out, "goroutine") {
		t.Errorf("stderr lacks goroutine dump:\n%s", out)
	}
}
