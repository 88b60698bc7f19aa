package stream

import (
	"math"
	"sync"
)

// FrameCache is a bounded ring of rendered frames keyed by global frame
// index. Index i lives in slot i mod K, so a window of K consecutive indices
// never collides. Frames from an older generation are rejected on insert.
type FrameCache struct {
	mu         sync.Mutex
	slots      []*Frame
	count      int
	generation uint64
	direction  int
	low        int64
	high       int64
	released   bool
	evicted    uint64
}

// NewFrameCache creates a cache holding at most size frames.
func NewFrameCache(size int) *FrameCache {
	c := &FrameCache{slots: make([]*Frame, max(size, 1))}
	c.flushLocked(0, 1)
	return c
}

func (c *FrameCache) slot(index int64) int {
	return int(index % int64(len(c.slots)))
}

// ahead reports whether index a is further along the play direction than b.
func (c *FrameCache) ahead(a, b int64) bool {
	if c.direction < 0 {
		return a < b
	}
	return a > b
}

// TryGet returns the frame for index if it has been rendered for the current
// generation. It never blocks on rendering.
func (c *FrameCache) TryGet(index int64) (*Frame, bool) {
	if index < 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, false
	}
	f := c.slots[c.slot(index)]
	if f == nil || f.Index != index || f.Generation != c.generation {
		return nil, false
	}
	return f, true
}

// Insert stores f and reports whether it was kept. Frames of a stale
// generation, frames behind the eviction mark and frames older than the
// occupant of their slot are dropped.
func (c *FrameCache) Insert(f *Frame) bool {
	if f == nil || f.Index < 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || f.Generation != c.generation {
		return false
	}
	if (c.direction > 0 && f.Index < c.low) || (c.direction < 0 && f.Index > c.high) {
		return false
	}

	i := c.slot(f.Index)
	old := c.slots[i]
	switch {
	case old == nil:
		c.count++
	case old.Index == f.Index:
		// Already present; keep the frame readers may hold.
		return false
	case c.ahead(old.Index, f.Index):
		return false
	default:
		c.evicted++
	}
	c.slots[i] = f
	return true
}

// EvictBelow drops every frame with an index below index and rejects later
// inserts below it.
func (c *FrameCache) EvictBelow(index int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index > c.low {
		c.low = index
	}
	c.dropLocked(func(f *Frame) bool { return f.Index < index })
}

// EvictAbove is EvictBelow for reverse playback.
func (c *FrameCache) EvictAbove(index int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < c.high {
		c.high = index
	}
	c.dropLocked(func(f *Frame) bool { return f.Index > index })
}

func (c *FrameCache) dropLocked(stale func(*Frame) bool) {
	for i, f := range c.slots {
		if f != nil && stale(f) {
			c.slots[i] = nil
			c.count--
		}
	}
}

// Flush empties the cache and starts accepting frames of generation only.
func (c *FrameCache) Flush(generation uint64, direction int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(generation, direction)
}

func (c *FrameCache) flushLocked(generation uint64, direction int) {
	clear(c.slots)
	c.count = 0
	c.generation = generation
	c.direction = 1
	if direction < 0 {
		c.direction = -1
	}
	c.low = 0
	c.high = math.MaxInt64
}

// Open makes a released cache usable again.
func (c *FrameCache) Open(generation uint64, direction int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = false
	c.flushLocked(generation, direction)
}

// Release drops every frame and rejects all inserts until the next Open.
// Call it only after every writer has been joined.
func (c *FrameCache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	clear(c.slots)
	c.count = 0
}

func (c *FrameCache) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the cache capacity K.
func (c *FrameCache) Cap() int {
	return len(c.slots)
}

// Evicted counts frames overwritten by a newer frame in the same slot.
func (c *FrameCache) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}
