package stream

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers leaves one core for the control goroutine.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Pool keeps the frame cache filled ahead of the playback cursor. Each
// worker owns a private scene and surface; workers share only the claim
// counter and the cache.
type Pool struct {
	sess    *Session
	workers int
	log     *slog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	slots      []*slot
	next       int64
	generation uint64
	direction  int
	started    bool
	stopping   bool

	wg       sync.WaitGroup
	failures atomic.Uint64
	meter    busyMeter
}

// NewPool creates a pool of workers render goroutines. Zero means
// DefaultWorkers.
func NewPool(sess *Session, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	p := &Pool{
		sess:    sess,
		workers: workers,
		log:     sess.Logger().With("engine", ModePreBuffer),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start parses one scene per worker concurrently and starts the workers.
// Workers whose scene fails to parse are left out; Start fails only if none
// can run.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	slots := make([]*slot, p.workers)
	var g errgroup.Group
	for i := range slots {
		g.Go(func() error {
			s, err := newSlot(i, p.sess)
			if err != nil {
				return err
			}
			slots[i] = s
			return nil
		})
	}
	err := g.Wait()

	ready := slots[:0]
	for _, s := range slots {
		if s != nil {
			ready = append(ready, s)
		}
	}
	if len(ready) == 0 {
		return fmt.Errorf("%w: %v", ErrNoWorkers, err)
	}
	if err != nil {
		p.log.Warn("some workers failed to start", "ready", len(ready), "requested", p.workers, "err", err)
	}

	snap := p.sess.Snapshot()
	p.sess.Cache.Open(snap.Generation, snap.Direction())

	p.mu.Lock()
	p.slots = ready
	p.generation = snap.Generation
	p.direction = snap.Direction()
	p.next = snap.Index()
	p.started = true
	p.mu.Unlock()

	p.wg.Add(len(ready))
	for _, s := range ready {
		go p.work(s)
	}
	p.log.Info("render pool started", "workers", len(ready), "lookahead", p.sess.Cache.Cap())
	return nil
}

func (p *Pool) work(s *slot) {
	defer p.wg.Done()

	for {
		j, ok := p.claim()
		if !ok {
			return
		}

		f := new(Frame)
		if err := s.render(j, f); err != nil {
			p.failures.Add(1)
			p.log.Warn("frame render failed", "worker", s.id, "index", j.index, "err", err)
			continue
		}
		p.sess.Cache.Insert(f)
	}
}

// claim blocks until there is an index to render or the pool is stopping.
func (p *Pool) claim() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.stopping {
			return job{}, false
		}
		if j, ok := p.nextJobLocked(p.sess.Snapshot()); ok {
			return j, true
		}
		p.cond.Wait()
	}
}

// nextJobLocked claims the next index inside the lookahead window of the
// snapshot cursor.
func (p *Pool) nextJobLocked(snap Snapshot) (job, bool) {
	cursor := snap.Index()
	dir := snap.Direction()
	window := int64(p.sess.Cache.Cap())

	if snap.Generation != p.generation || dir != p.direction {
		p.generation = snap.Generation
		p.direction = dir
		p.next = cursor
	}

	if dir > 0 {
		if p.next < cursor {
			p.next = cursor
		}
		if p.next >= cursor+window {
			return job{}, false
		}
		if last, ok := snap.Timeline.MaxIndex(); ok && p.next > last {
			return job{}, false
		}
	} else {
		if p.next > cursor {
			p.next = cursor
		}
		if p.next <= cursor-window || p.next < 0 {
			return job{}, false
		}
	}

	j := job{index: p.next, generation: snap.Generation, timeline: snap.Timeline}
	p.next += int64(dir)
	return j, true
}

// Advance moves the cache window to index and wakes idle workers.
func (p *Pool) Advance(index int64, dir int) {
	if dir < 0 {
		p.sess.Cache.EvictAbove(index)
	} else {
		p.sess.Cache.EvictBelow(index)
	}

	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) TryGet(index int64) (*Frame, bool) {
	return p.sess.Cache.TryGet(index)
}

// Stop signals the workers, waits for every one of them to return, and only
// then releases the cache and the scenes.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	started := p.started
	p.cond.Broadcast()
	p.mu.Unlock()

	if !started {
		return
	}

	p.wg.Wait()
	p.sess.Cache.Release()
	for _, s := range p.slots {
		s.close()
	}
	p.log.Info("render pool stopped", "failures", p.failures.Load())
}

// Utilization returns the fraction of worker time spent rendering over the
// last sampling window.
func (p *Pool) Utilization() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meter.sample(p.slots)
}

func (p *Pool) Failures() uint64 {
	return p.failures.Load()
}

func (p *Pool) Workers() []WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]WorkerState, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.state()
	}
	return out
}

// Background reports whether workers are running.
func (p *Pool) Background() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopping
}
