package stream

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matt-g-everett/animtx/source"
	"github.com/matt-g-everett/animtx/timeline"
)

func newTestOrchestrator(t *testing.T, sess *Session, mode Mode, workers int) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(sess, OrchestratorConfig{Mode: mode, Workers: workers, Stall: noStall(t)})
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

// TestOrchestratorSkipsSlowFrame covers Scenario C.
//
// Scenario:
//  1. Frame 3 takes 500ms to render, every other frame is instant
//  2. Poll at 0ms, then at 350ms while frame 3 is still rendering
//  3. Assert: the 350ms poll returns at once, keeps frame 0 and counts a skip
//  4. Poll at 450ms once frame 4 is ready, then keep polling until frame 3
//     would have finished
//  5. Assert: frame 3 is never delivered
func TestOrchestratorSkipsSlowFrame(t *testing.T) {
	eng := &stubEngine{hook: func(n int) error {
		if n == 3 {
			time.Sleep(500 * time.Millisecond)
		}
		return nil
	}}
	sess, ft := newTestSession(t, eng, timeline.Loop, 8)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 3)

	waitFor(t, 2*time.Second, "frames 0-2", func() bool {
		_, ok := sess.Cache.TryGet(2)
		return ok
	})
	o.Play()
	pollUntil(t, o, 0)

	ft.Advance(350 * time.Millisecond)
	start := time.Now()
	f, stats := o.PollFrame()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("PollFrame() blocked for %v", elapsed)
	}
	if f != nil {
		t.Fatalf("PollFrame() delivered frame %d before it was rendered", f.Index)
	}
	if stats.FramesSkipped != 1 || stats.FrameIndex != 0 {
		t.Errorf("stats = %+v, want one skip with frame 0 still shown", stats)
	}

	ft.Advance(100 * time.Millisecond)
	pollUntil(t, o, 4)

	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		if f, _ := o.PollFrame(); f != nil && f.Index == 3 {
			t.Fatal("frame 3 shown after playback moved past it")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := sess.Cache.TryGet(3); ok {
		t.Error("frame 3 inserted behind the playback cursor")
	}
}

// TestModesSelectSameFrames checks both render engines pick the same frame
// for the same sequence of playback times.
func TestModesSelectSameFrames(t *testing.T) {
	times := []time.Duration{
		0,
		37 * time.Millisecond,
		120 * time.Millisecond,
		350 * time.Millisecond,
		999 * time.Millisecond,
		1000 * time.Millisecond,
		1250 * time.Millisecond,
		2730 * time.Millisecond,
	}

	type selection struct {
		index int64
		scene int
		pixel byte
	}
	run := func(mode Mode) []selection {
		sess, ft := newTestSession(t, &stubEngine{}, timeline.Loop, 8)
		o := newTestOrchestrator(t, sess, mode, 2)
		o.Play()

		var out []selection
		var at time.Duration
		for _, want := range times {
			ft.Advance(want - at)
			at = want
			idx := sess.Timeline().GlobalIndexAt(want)
			stats := pollUntil(t, o, idx)
			out = append(out, selection{stats.FrameIndex, stats.SceneFrame, o.Current().Pix[0]})
		}
		return out
	}

	pre := run(ModePreBuffer)
	direct := run(ModeDirect)

	tl := testSource(t, timeline.Loop).Timeline
	for i, at := range times {
		want := tl.FrameIndexAt(at)
		if pre[i].scene != want || pre[i].pixel != byte(want) {
			t.Errorf("prebuffer at %v = %+v, want scene frame %d", at, pre[i], want)
		}
		if pre[i] != direct[i] {
			t.Errorf("at %v prebuffer selected %+v, direct selected %+v", at, pre[i], direct[i])
		}
	}
}

func TestOrchestratorPausedPollsDoNotSkip(t *testing.T) {
	release := make(chan struct{})
	eng := &stubEngine{hook: func(int) error {
		<-release
		return nil
	}}
	sess, ft := newTestSession(t, eng, timeline.Loop, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 1)
	t.Cleanup(func() { close(release) })

	for i := 0; i < 10; i++ {
		ft.Advance(time.Second)
		if _, stats := o.PollFrame(); stats.FramesSkipped != 0 || stats.Stall != StallHealthy {
			t.Fatalf("paused poll %d: stats = %+v", i, stats)
		}
	}
}

func TestOrchestratorSeekStartsNewGeneration(t *testing.T) {
	sess, _ := newTestSession(t, &stubEngine{}, timeline.Loop, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 2)
	before := pollUntil(t, o, 0)

	o.Seek(600 * time.Millisecond)
	after := pollUntil(t, o, 6)
	if after.Generation <= before.Generation {
		t.Errorf("Generation = %d after seek, was %d", after.Generation, before.Generation)
	}
	if after.SceneFrame != 6 || o.Current().Pix[0] != 6 {
		t.Errorf("after seek showing scene frame %d", after.SceneFrame)
	}

	if err := o.Seek(-time.Second); err == nil {
		t.Error("Seek() accepted a negative time")
	}
}

func TestOrchestratorPlayAfterFinishRestarts(t *testing.T) {
	sess, ft := newTestSession(t, &stubEngine{}, timeline.None, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 2)
	o.Play()

	ft.Advance(3 * time.Second)
	stats := pollUntil(t, o, 10)
	if !stats.Finished || stats.SceneFrame != 9 {
		t.Fatalf("stats = %+v, want finished on the last frame", stats)
	}

	// Polls after the end never count as skips.
	for i := 0; i < 5; i++ {
		ft.Advance(time.Second)
		_, stats = o.PollFrame()
	}
	if stats.FramesSkipped != 0 {
		t.Errorf("finished playback counted %d skips", stats.FramesSkipped)
	}

	o.Play()
	if pos := sess.Snapshot().Clock.Position; pos != 0 {
		t.Errorf("Play() after finish left position at %v", pos)
	}
}

func TestOrchestratorRepeatAndRate(t *testing.T) {
	sess, ft := newTestSession(t, &stubEngine{}, timeline.None, 4)
	o := newTestOrchestrator(t, sess, ModeDirect, 1)
	o.Play()

	o.SetRepeatMode(timeline.Reverse)
	ft.Advance(1300 * time.Millisecond)
	stats := pollUntil(t, o, 13)
	if stats.SceneFrame != 7 || stats.Finished {
		t.Errorf("reverse repeat at 1.3s = %+v, want scene frame 7", stats)
	}

	gen := stats.Generation
	o.SetRate(2)
	if sess.Generation() != gen {
		t.Error("speeding up invalidated the pre-buffer")
	}
	o.SetRate(-1)
	if sess.Generation() == gen {
		t.Error("reversing direction kept the pre-buffer")
	}
}

func TestOrchestratorSetModeKeepsStats(t *testing.T) {
	sess, ft := newTestSession(t, &stubEngine{}, timeline.Loop, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 2)
	o.Play()
	pollUntil(t, o, 0)
	ft.Advance(100 * time.Millisecond)
	before := pollUntil(t, o, 1)

	if err := o.SetMode(ModeDirect); err != nil {
		t.Fatalf("SetMode() failed: %v", err)
	}
	if o.Mode() != ModeDirect {
		t.Errorf("Mode() = %v, want direct", o.Mode())
	}
	if !sess.Cache.Released() {
		t.Error("pre-buffer cache still live after switching to direct mode")
	}

	after := pollUntil(t, o, 1)
	if after.FramesDelivered != before.FramesDelivered+1 {
		t.Errorf("FramesDelivered = %d after switch, was %d", after.FramesDelivered, before.FramesDelivered)
	}
	if after.Mode != ModeDirect {
		t.Errorf("stats mode = %v", after.Mode)
	}

	o.ResetStats()
	ft.Advance(100 * time.Millisecond)
	reset := pollUntil(t, o, 2)
	if reset.FramesDelivered != 1 {
		t.Errorf("FramesDelivered = %d after reset, want 1", reset.FramesDelivered)
	}
}

func TestOrchestratorSetModeFallsBack(t *testing.T) {
	eng := &stubEngine{}
	sess, _ := newTestSession(t, eng, timeline.Loop, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 2)

	// Only the direct renderer's single parse fails.
	eng.failNext.Store(1)
	if err := o.SetMode(ModeDirect); err == nil {
		t.Fatal("SetMode() succeeded without a parsable scene")
	}
	if o.Mode() != ModePreBuffer {
		t.Errorf("Mode() = %v after failed switch, want prebuffer", o.Mode())
	}
	if stats := pollUntil(t, o, 0); stats.Stall != StallHealthy {
		t.Errorf("stall = %v after falling back", stats.Stall)
	}
}

func TestOrchestratorReload(t *testing.T) {
	sess, _ := newTestSession(t, &stubEngine{}, timeline.Loop, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 2)
	pollUntil(t, o, 0)

	src := testSource(t, timeline.Count(2))
	src.Path = "reloaded.yaml"
	if err := o.Reload(src); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	stats := pollUntil(t, o, 0)
	if sess.Timeline().Repeat() != timeline.Count(2) || stats.Source != "reloaded.yaml" {
		t.Errorf("reload not applied: repeat %v, stats %+v", sess.Timeline().Repeat(), stats)
	}

	if err := o.Reload(nil); err == nil {
		t.Error("Reload(nil) succeeded")
	}
	pollUntil(t, o, 0)
}

func TestOrchestratorScreenshot(t *testing.T) {
	sess, _ := newTestSession(t, &stubEngine{}, timeline.Loop, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 1)

	if _, err := o.Screenshot(filepath.Join(t.TempDir(), "none.png")); err != ErrNoFrame {
		t.Errorf("Screenshot() before delivery error = %v, want ErrNoFrame", err)
	}

	pollUntil(t, o, 0)
	path := filepath.Join(t.TempDir(), "shot.png")
	got, err := o.Screenshot(path)
	if err != nil {
		t.Fatalf("Screenshot() failed: %v", err)
	}
	if got != path {
		t.Errorf("Screenshot() wrote %q, want %q", got, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
}

func TestOrchestratorDeliveryRate(t *testing.T) {
	sess, ft := newTestSession(t, &stubEngine{}, timeline.Loop, 8)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 2)
	o.Play()

	var stats Stats
	for i := int64(0); i < 5; i++ {
		stats = pollUntil(t, o, i)
		ft.Advance(100 * time.Millisecond)
	}
	if stats.FrameTime != 100 || stats.FPS != 10 {
		t.Errorf("FrameTime = %v ms, FPS = %v; want 100ms and 10", stats.FrameTime, stats.FPS)
	}
	if stats.FrameCount != 10 || stats.Duration != 1 {
		t.Errorf("FrameCount = %d, Duration = %v", stats.FrameCount, stats.Duration)
	}
}

// TestOrchestratorPauseKeepsDeliveryRate checks a pause neither counts the
// picture already on display twice nor feeds the pause into the frame time.
//
// Scenario:
//  1. Deliver frames 0-4 at 100ms intervals
//  2. Pause and let the flushed frame 4 render again
//  3. Assert: no new delivery
//  4. Stay paused for 60s, play, deliver frames 5 and 6 at 100ms
//  5. Assert: frame time still 100ms, 7 frames delivered
func TestOrchestratorPauseKeepsDeliveryRate(t *testing.T) {
	sess, ft := newTestSession(t, &stubEngine{}, timeline.Loop, 8)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 2)
	o.Play()

	for i := int64(0); i < 5; i++ {
		if i > 0 {
			ft.Advance(100 * time.Millisecond)
		}
		pollUntil(t, o, i)
	}

	o.Pause()
	waitFor(t, 2*time.Second, "frame 4 after the flush", func() bool {
		_, ok := sess.Cache.TryGet(4)
		return ok
	})
	f, stats := o.PollFrame()
	if f != nil {
		t.Errorf("PollFrame() presented frame %d again after pause", f.Index)
	}
	if stats.FramesDelivered != 5 {
		t.Errorf("FramesDelivered = %d after pause, want 5", stats.FramesDelivered)
	}

	ft.Advance(time.Minute)
	o.PollFrame()
	o.Play()
	ft.Advance(100 * time.Millisecond)
	pollUntil(t, o, 5)
	ft.Advance(100 * time.Millisecond)
	stats = pollUntil(t, o, 6)

	if stats.FramesDelivered != 7 {
		t.Errorf("FramesDelivered = %d, want 7", stats.FramesDelivered)
	}
	if stats.FrameTime != 100 || stats.FPS != 10 {
		t.Errorf("FrameTime = %v ms, FPS = %v after pause; want 100ms and 10", stats.FrameTime, stats.FPS)
	}
}

func fatalRecorder(fatal *[]Diagnostics) StallConfig {
	return StallConfig{OnFatal: func(d Diagnostics) { *fatal = append(*fatal, d) }}
}

// TestOrchestratorEngineLossIsFatal covers a mode switch where neither the
// new nor the previous engine can start again.
func TestOrchestratorEngineLossIsFatal(t *testing.T) {
	eng := &stubEngine{}
	sess, ft := newTestSession(t, eng, timeline.Loop, 4)
	var fatal []Diagnostics
	o, err := NewOrchestrator(sess, OrchestratorConfig{Workers: 2, Stall: fatalRecorder(&fatal)})
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	t.Cleanup(o.Close)
	pollUntil(t, o, 0)

	eng.failParse.Store(true)
	if err := o.SetMode(ModeDirect); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("SetMode() error = %v, want ErrNoWorkers", err)
	}
	if len(fatal) != 1 {
		t.Fatalf("fatal handler called %d times, want 1", len(fatal))
	}
	if d := fatal[0]; d.State != StallFatal || d.SessionID != sess.ID {
		t.Errorf("diagnostics = %+v", d)
	}

	// Nothing renders, so neither pausing nor playing clears the stall.
	o.Play()
	var stats Stats
	for i := 0; i < 100; i++ {
		ft.Advance(100 * time.Millisecond)
		_, stats = o.PollFrame()
	}
	if stats.Stall != StallFatal || len(fatal) != 1 {
		t.Errorf("stall = %v with %d fatal calls, want fatal once", stats.Stall, len(fatal))
	}

	eng.failParse.Store(false)
	if err := o.SetMode(ModeDirect); err != nil {
		t.Fatalf("SetMode() after recovery failed: %v", err)
	}
	stats = pollUntil(t, o, sess.Snapshot().Index())
	if stats.Stall != StallHealthy {
		t.Errorf("stall = %v after the engine was restored", stats.Stall)
	}
}

func TestOrchestratorReloadWithoutEngine(t *testing.T) {
	eng := &stubEngine{}
	sess, _ := newTestSession(t, eng, timeline.Loop, 4)
	var fatal []Diagnostics
	o, err := NewOrchestrator(sess, OrchestratorConfig{Mode: ModeDirect, Stall: fatalRecorder(&fatal)})
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	t.Cleanup(o.Close)

	eng.failParse.Store(true)
	err = o.Reload(testSource(t, timeline.None))
	var le *source.LoadError
	if !errors.As(err, &le) || !errors.Is(err, ErrNoWorkers) {
		t.Errorf("Reload() error = %v, want the load error and ErrNoWorkers", err)
	}
	if len(fatal) != 1 {
		t.Errorf("fatal handler called %d times, want 1", len(fatal))
	}
}

func TestOrchestratorReloadKeepsRepeatOverride(t *testing.T) {
	sess, _ := newTestSession(t, &stubEngine{}, timeline.None, 4)
	o := newTestOrchestrator(t, sess, ModePreBuffer, 1)

	o.SetRepeatMode(timeline.Reverse)
	if err := o.Reload(testSource(t, timeline.Loop)); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if got := sess.Timeline().Repeat(); got != timeline.Reverse {
		t.Errorf("Repeat() = %v after reload, want reverse", got)
	}
}
