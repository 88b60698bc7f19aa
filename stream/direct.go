package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Direct renders one frame ahead of playback on a single background
// goroutine into a pair of buffers. The control goroutine shows the front
// buffer and swaps in the back buffer once it holds the frame it needs.
type Direct struct {
	sess *Session
	log  *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	slot      *slot
	front     *Frame
	back      *Frame
	request   job
	requested bool
	inflight  job
	backBusy  bool
	backReady bool
	failed    job
	direction int
	running   bool
	stopping  bool

	wg       sync.WaitGroup
	failures atomic.Uint64
	meter    busyMeter
}

func NewDirect(sess *Session) *Direct {
	d := &Direct{
		sess:      sess,
		log:       sess.Logger().With("engine", ModeDirect),
		direction: 1,
		failed:    job{index: -1},
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Direct) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopping {
		return ErrStopped
	}
	if d.running {
		return nil
	}

	s, err := newSlot(0, d.sess)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoWorkers, err)
	}
	d.slot = s
	d.front = NewFrame(s.surface.Width, s.surface.Height)
	d.back = NewFrame(s.surface.Width, s.surface.Height)
	d.running = true

	d.wg.Add(1)
	go d.run()
	d.log.Info("direct renderer started")
	return nil
}

func (d *Direct) run() {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		for !d.stopping && !d.requested {
			d.cond.Wait()
		}
		if d.stopping {
			d.mu.Unlock()
			return
		}
		j := d.request
		d.inflight = j
		d.requested = false
		d.backBusy = true
		d.backReady = false
		back := d.back
		d.mu.Unlock()

		err := d.slot.render(j, back)

		d.mu.Lock()
		d.backBusy = false
		if err != nil {
			d.failures.Add(1)
			d.failed = j
			d.log.Warn("frame render failed", "index", j.index, "err", err)
		} else {
			d.backReady = true
		}
		d.mu.Unlock()
	}
}

// Advance records the play direction used to pick the next frame.
func (d *Direct) Advance(_ int64, dir int) {
	d.mu.Lock()
	d.direction = dir
	d.mu.Unlock()
}

// TryGet returns the frame for index if either buffer holds it. A returned
// frame stays valid until the next call.
func (d *Direct) TryGet(index int64) (*Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.stopping {
		return nil, false
	}
	gen := d.sess.Generation()
	tl := d.sess.Timeline()

	if d.front.Index == index && d.front.Generation == gen {
		return d.front, true
	}

	if d.backReady && d.back.Index == index && d.back.Generation == gen {
		d.front, d.back = d.back, d.front
		d.backReady = false
		d.requestLocked(job{index: index + int64(d.direction), generation: gen, timeline: tl})
		return d.front, true
	}

	want := job{index: index, generation: gen, timeline: tl}
	switch {
	case d.failed.index == index && d.failed.generation == gen:
	case d.requested && d.request.index == index && d.request.generation == gen:
	case d.backBusy && d.inflight.index == index && d.inflight.generation == gen:
	default:
		d.requestLocked(want)
	}
	return nil, false
}

// requestLocked asks the render goroutine for j unless it lies outside the
// timeline.
func (d *Direct) requestLocked(j job) {
	if j.index < 0 {
		return
	}
	if last, ok := j.timeline.MaxIndex(); ok && j.index > last {
		return
	}
	d.request = j
	d.requested = true
	d.cond.Broadcast()
}

// Stop joins the render goroutine before releasing its scene.
func (d *Direct) Stop() {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return
	}
	d.stopping = true
	running := d.running
	d.cond.Broadcast()
	d.mu.Unlock()

	if !running {
		return
	}
	d.wg.Wait()
	d.slot.close()
	d.log.Info("direct renderer stopped", "failures", d.failures.Load())
}

func (d *Direct) Utilization() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slot == nil {
		return 0
	}
	return d.meter.sample([]*slot{d.slot})
}

func (d *Direct) Failures() uint64 {
	return d.failures.Load()
}

func (d *Direct) Workers() []WorkerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slot == nil {
		return nil
	}
	return []WorkerState{d.slot.state()}
}

func (d *Direct) Background() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running && !d.stopping
}
