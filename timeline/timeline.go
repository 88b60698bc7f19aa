// Package timeline maps playback time onto animation frames and attribute
// values. A Timeline is immutable and safe for concurrent use; everything it
// computes is a pure function of the time it is given.
package timeline

import (
	"errors"
	"fmt"
	"math/bits"
	"time"
)

var (
	ErrEmpty     = errors.New("timeline: no animations")
	ErrInvalid   = errors.New("timeline: invalid animation")
	ErrDivergent = errors.New("timeline: animations disagree on duration, frame count or repeat mode")
)

// Timeline is a set of animations sharing one duration, one frame count and
// one repeat mode.
type Timeline struct {
	anims    []Animation
	duration time.Duration
	frames   int
	repeat   RepeatMode
}

// New validates anims and builds a Timeline. frameCount sets the number of
// frames when no discrete animation fixes it.
func New(anims []Animation, frameCount int) (*Timeline, error) {
	if len(anims) == 0 {
		return nil, ErrEmpty
	}

	first := &anims[0]
	if first.Duration <= 0 {
		return nil, fmt.Errorf("%w: %s has no duration", ErrInvalid, first.Key())
	}

	frames := 0
	for i := range anims {
		a := &anims[i]
		if a.Duration != first.Duration {
			return nil, fmt.Errorf("%w: %s lasts %v, %s lasts %v",
				ErrDivergent, a.Key(), a.Duration, first.Key(), first.Duration)
		}
		if a.Repeat != first.Repeat {
			return nil, fmt.Errorf("%w: %s repeats %v, %s repeats %v",
				ErrDivergent, a.Key(), a.Repeat, first.Key(), first.Repeat)
		}
		if a.Discrete() {
			if frames == 0 {
				frames = len(a.Frames)
			} else if len(a.Frames) != frames {
				return nil, fmt.Errorf("%w: %s has %d frames, expected %d",
					ErrDivergent, a.Key(), len(a.Frames), frames)
			}
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
	}

	if frames == 0 {
		frames = frameCount
	}
	if frames <= 0 {
		return nil, fmt.Errorf("%w: frame count must be positive", ErrInvalid)
	}
	if time.Duration(frames) > first.Duration {
		return nil, fmt.Errorf("%w: %d frames do not fit in %v", ErrInvalid, frames, first.Duration)
	}

	tl := &Timeline{
		anims:    make([]Animation, len(anims)),
		duration: first.Duration,
		frames:   frames,
		repeat:   first.Repeat,
	}
	copy(tl.anims, anims)

	return tl, nil
}

// Duration returns the length of one cycle.
func (tl *Timeline) Duration() time.Duration {
	return tl.duration
}

// FrameCount returns the number of frames in one cycle.
func (tl *Timeline) FrameCount() int {
	return tl.frames
}

// Repeat returns the active repeat mode.
func (tl *Timeline) Repeat() RepeatMode {
	return tl.repeat
}

// Animations returns the number of animations.
func (tl *Timeline) Animations() int {
	return len(tl.anims)
}

// WithRepeat returns a copy of the timeline using a different repeat mode.
// Animation data is shared, not copied.
func (tl *Timeline) WithRepeat(m RepeatMode) *Timeline {
	cp := *tl
	cp.repeat = m
	return &cp
}

// End returns the playback time at which the timeline stops changing, and
// false if it never does.
func (tl *Timeline) End() (time.Duration, bool) {
	switch tl.repeat.Kind {
	case RepeatNone:
		return tl.duration, true
	case RepeatCount:
		return tl.duration * time.Duration(max(tl.repeat.Count, 1)), true
	default:
		return 0, false
	}
}

// Finished reports whether playback time t is at or past the end.
func (tl *Timeline) Finished(t time.Duration) bool {
	end, ok := tl.End()
	return ok && t >= end
}

// Local maps playback time onto time within one cycle, in [0, Duration].
func (tl *Timeline) Local(t time.Duration) time.Duration {
	d := tl.duration
	if t < 0 {
		t = 0
	}

	switch tl.repeat.Kind {
	case RepeatLoop:
		return t % d
	case RepeatReverse:
		if (t/d)%2 == 1 {
			return d - t%d
		}
		return t % d
	case RepeatCount:
		if t >= d*time.Duration(max(tl.repeat.Count, 1)) {
			return d
		}
		return t % d
	default:
		if t > d {
			return d
		}
		return t
	}
}

// FrameIndexAt returns the frame within the cycle shown at playback time t.
func (tl *Timeline) FrameIndexAt(t time.Duration) int {
	i := mulDiv(int64(tl.Local(t)), int64(tl.frames), int64(tl.duration))
	if i >= int64(tl.frames) {
		i = int64(tl.frames) - 1
	}
	return int(i)
}

// GlobalIndexAt returns floor(t / (Duration / FrameCount)) without applying
// the repeat mode. It never decreases as t grows, which makes it the cache
// key for rendered frames.
func (tl *Timeline) GlobalIndexAt(t time.Duration) int64 {
	if t <= 0 {
		return 0
	}
	return mulDiv(int64(t), int64(tl.frames), int64(tl.duration))
}

// IndexTime returns the earliest playback time whose global index is g.
func (tl *Timeline) IndexTime(g int64) time.Duration {
	if g <= 0 {
		return 0
	}
	return time.Duration(mulDivCeil(g, int64(tl.duration), int64(tl.frames)))
}

// MaxIndex returns the last global index playback can reach, and false when
// the repeat mode never ends.
func (tl *Timeline) MaxIndex() (int64, bool) {
	end, ok := tl.End()
	if !ok {
		return 0, false
	}
	return tl.GlobalIndexAt(end), true
}

// ValuesAt evaluates every animation at playback time t.
func (tl *Timeline) ValuesAt(t time.Duration) Values {
	return tl.ValuesAtCursor(t, nil)
}

// ValuesAtCursor is ValuesAt with a keyframe search memo. The cursor belongs
// to a single goroutine; a nil cursor disables memoization.
func (tl *Timeline) ValuesAtCursor(t time.Duration, c *Cursor) Values {
	local := tl.Local(t)
	out := make(Values, len(tl.anims))
	for i := range tl.anims {
		a := &tl.anims[i]
		if a.Target == "" || a.Attribute == "" {
			continue
		}
		if v, ok := a.valueAt(local, c.hint(i, len(tl.anims))); ok {
			out[a.Key()] = v
		}
	}
	return out
}

// ValueFor evaluates the animations driving key at playback time t. Keys no
// animation drives report false.
func (tl *Timeline) ValueFor(t time.Duration, key Key) (Value, bool) {
	local := tl.Local(t)
	var (
		out   Value
		found bool
	)
	for i := range tl.anims {
		a := &tl.anims[i]
		if a.Key() != key {
			continue
		}
		if v, ok := a.valueAt(local, nil); ok {
			out, found = v, true
		}
	}
	return out, found
}

// mulDiv returns floor(a*b/c) for non-negative a, b and positive c without
// intermediate overflow.
func mulDiv(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 1<<63 - 1
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	return int64(q)
}

// mulDivCeil returns ceil(a*b/c) for non-negative a, b and positive c.
func mulDivCeil(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 1<<63 - 1
	}
	q, r := bits.Div64(hi, lo, uint64(c))
	if r != 0 {
		q++
	}
	return int64(q)
}
