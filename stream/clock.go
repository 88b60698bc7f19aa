package stream

import (
	"sync"
	"time"
)

// ClockState is a consistent copy of the playback clock.
type ClockState struct {
	Position time.Duration
	Rate     float64
	Paused   bool
	// AtEnd is set once a bounded clock has reached its limit.
	AtEnd bool
}

// Clock is the playback clock. Only the control goroutine mutates it; render
// goroutines read it through Snapshot.
type Clock struct {
	mu         sync.Mutex
	now        func() time.Time
	anchorPos  time.Duration
	anchorWall time.Time
	rate       float64
	paused     bool
	end        time.Duration
	bounded    bool
}

// NewClock creates a paused clock at position zero running at rate 1.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{
		now:        now,
		anchorWall: now(),
		rate:       1,
		paused:     true,
	}
}

// Snapshot returns the current clock state.
func (c *Clock) Snapshot() ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Clock) snapshotLocked() ClockState {
	pos := c.positionLocked(c.now())
	return ClockState{
		Position: pos,
		Rate:     c.rate,
		Paused:   c.paused,
		AtEnd:    c.bounded && pos >= c.end,
	}
}

func (c *Clock) positionLocked(wall time.Time) time.Duration {
	pos := c.anchorPos
	if !c.paused {
		pos += time.Duration(float64(wall.Sub(c.anchorWall)) * c.rate)
	}
	return c.clamp(pos)
}

func (c *Clock) clamp(pos time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if c.bounded && pos > c.end {
		return c.end
	}
	return pos
}

// reanchor folds elapsed time into the position anchor so rate and pause
// changes apply from now on.
func (c *Clock) reanchorLocked() {
	wall := c.now()
	c.anchorPos = c.positionLocked(wall)
	c.anchorWall = wall
}

// Play resumes the clock.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playLocked()
}

func (c *Clock) playLocked() {
	if !c.paused {
		return
	}
	c.anchorWall = c.now()
	c.paused = false
}

// Pause freezes the clock at its current position.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked()
}

func (c *Clock) pauseLocked() {
	if c.paused {
		return
	}
	c.reanchorLocked()
	c.paused = true
}

// Seek moves the clock to pos without changing the pause state.
func (c *Clock) Seek(pos time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(pos)
}

func (c *Clock) seekLocked(pos time.Duration) {
	c.anchorPos = c.clamp(pos)
	c.anchorWall = c.now()
}

// SetRate changes the playback speed. Negative rates play backwards.
func (c *Clock) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setRateLocked(rate)
}

func (c *Clock) setRateLocked(rate float64) {
	c.reanchorLocked()
	c.rate = rate
}

// SetLimit bounds the clock to [0, end]. A false bounded removes the limit.
func (c *Clock) SetLimit(end time.Duration, bounded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLimitLocked(end, bounded)
}

func (c *Clock) setLimitLocked(end time.Duration, bounded bool) {
	c.reanchorLocked()
	c.end, c.bounded = end, bounded
	c.anchorPos = c.clamp(c.anchorPos)
}
