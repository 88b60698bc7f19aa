package timeline

// Cursor remembers which keyframe segment each animation was last evaluated
// in, so forward playback does not search from scratch every frame. A Cursor
// is owned by one goroutine. Reset it after a seek.
type Cursor struct {
	hints []int
}

// Reset forgets all remembered segments.
func (c *Cursor) Reset() {
	for i := range c.hints {
		c.hints[i] = -1
	}
}

func (c *Cursor) hint(i, n int) *int {
	if c == nil {
		return nil
	}
	if len(c.hints) != n {
		c.hints = make([]int, n)
		c.Reset()
	}
	return &c.hints[i]
}
