package timeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/matt-g-everett/animtx/util"
)

// RepeatKind selects how playback time past the duration is mapped back
// into the animation.
type RepeatKind int

const (
	RepeatNone RepeatKind = iota
	RepeatLoop
	RepeatReverse
	RepeatCount
)

// RepeatMode is a RepeatKind plus the cycle count used by RepeatCount.
type RepeatMode struct {
	Kind  RepeatKind
	Count int
}

var (
	None    = RepeatMode{Kind: RepeatNone}
	Loop    = RepeatMode{Kind: RepeatLoop}
	Reverse = RepeatMode{Kind: RepeatReverse}
)

// Count plays the animation n times and then holds the last frame.
func Count(n int) RepeatMode {
	return RepeatMode{Kind: RepeatCount, Count: n}
}

// ParseRepeat reads "none", "loop", "reverse" or "count:N".
func ParseRepeat(s string) (RepeatMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return None, nil
	case "loop":
		return Loop, nil
	case "reverse":
		return Reverse, nil
	}

	if rest, ok := strings.CutPrefix(s, "count:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return None, fmt.Errorf("invalid repeat count %q", rest)
		}
		return Count(n), nil
	}

	return None, fmt.Errorf("unknown repeat mode %q", s)
}

func (m RepeatMode) String() string {
	switch m.Kind {
	case RepeatLoop:
		return "loop"
	case RepeatReverse:
		return "reverse"
	case RepeatCount:
		return "count:" + strconv.Itoa(m.Count)
	default:
		return "none"
	}
}

// UnmarshalYAML reads the ParseRepeat form.
func (m *RepeatMode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	mode, err := ParseRepeat(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Keyframe is a value pinned at a fraction of the animation's active interval.
type Keyframe struct {
	At    float64 `yaml:"at"`
	Value Value   `yaml:"value"`
	// Easing shapes the segment from this keyframe to the next; empty falls
	// back to the animation's easing.
	Easing string `yaml:"easing"`
}

// Key addresses one attribute of one scene target.
type Key struct {
	Target    string
	Attribute string
}

func (k Key) String() string {
	return k.Target + "." + k.Attribute
}

// Values maps scene attributes to their values at one instant.
type Values map[Key]Value

// An Animation drives one attribute of one target, either by interpolating
// keyframes or by stepping through a discrete list of frames.
//
// Animations are immutable once loaded and are read concurrently by every
// render worker.
type Animation struct {
	Target    string        `yaml:"target"`
	Attribute string        `yaml:"attribute"`
	Keyframes []Keyframe    `yaml:"keyframes"`
	Frames    []Value       `yaml:"frames"`
	Duration  time.Duration `yaml:"duration"`
	Repeat    RepeatMode    `yaml:"repeat"`
	Begin     time.Duration `yaml:"begin"`
	End       time.Duration `yaml:"end"`
	Easing    string        `yaml:"easing"`
}

// Discrete reports whether the animation is a list of whole frames.
func (a *Animation) Discrete() bool {
	return len(a.Frames) > 0
}

// Key returns the attribute the animation drives.
func (a *Animation) Key() Key {
	return Key{Target: a.Target, Attribute: a.Attribute}
}

func (a *Animation) activeEnd() time.Duration {
	if a.End > 0 {
		return a.End
	}
	return a.Duration
}

func (a *Animation) validate() error {
	if a.Begin < 0 || a.Begin >= a.activeEnd() || a.activeEnd() > a.Duration {
		return fmt.Errorf("%w: %s active interval [%v, %v) outside [0, %v]",
			ErrInvalid, a.Key(), a.Begin, a.activeEnd(), a.Duration)
	}

	if _, ok := util.Easing(a.Easing); !ok {
		return fmt.Errorf("%w: %s unknown easing %q", ErrInvalid, a.Key(), a.Easing)
	}

	if a.Discrete() {
		return nil
	}

	if len(a.Keyframes) == 0 {
		return fmt.Errorf("%w: %s has neither keyframes nor frames", ErrInvalid, a.Key())
	}

	last := -1.0
	for _, k := range a.Keyframes {
		if k.At < 0 || k.At > 1 || k.At < last {
			return fmt.Errorf("%w: %s keyframe offsets must ascend within [0, 1]", ErrInvalid, a.Key())
		}
		if _, ok := util.Easing(k.Easing); !ok {
			return fmt.Errorf("%w: %s unknown easing %q", ErrInvalid, a.Key(), k.Easing)
		}
		last = k.At
	}

	return nil
}

// valueAt evaluates the animation at a cycle-local time in [0, Duration].
// hint remembers the last keyframe segment; it only speeds up the search and
// never changes the result. Nothing is returned before Begin; after End the
// final value holds.
func (a *Animation) valueAt(local time.Duration, hint *int) (Value, bool) {
	if local < a.Begin {
		return Value{}, false
	}

	end := a.activeEnd()
	if local > end {
		local = end
	}
	span := end - a.Begin
	elapsed := local - a.Begin

	if a.Discrete() {
		n := int64(len(a.Frames))
		i := mulDiv(int64(elapsed), n, int64(span))
		if i >= n {
			i = n - 1
		}
		return a.Frames[i], true
	}

	p := float64(elapsed) / float64(span)
	k := a.Keyframes
	if p <= k[0].At {
		return k[0].Value, true
	}
	if p >= k[len(k)-1].At {
		return k[len(k)-1].Value, true
	}

	i := a.segment(p, hint)
	from, to := k[i], k[i+1]
	q := 1.0
	if width := to.At - from.At; width > 0 {
		q = (p - from.At) / width
	}

	name := from.Easing
	if name == "" {
		name = a.Easing
	}
	if f, ok := util.Easing(name); ok {
		q = f(util.Clamp01(q))
	}

	return interpolate(from.Value, to.Value, q), true
}

// segment finds i such that Keyframes[i].At <= p < Keyframes[i+1].At.
func (a *Animation) segment(p float64, hint *int) int {
	k := a.Keyframes
	if hint != nil {
		if i := *hint; i >= 0 && i < len(k)-1 && k[i].At <= p && p < k[i+1].At {
			return i
		}
	}

	i := sort.Search(len(k), func(j int) bool { return k[j].At > p }) - 1
	if i < 0 {
		i = 0
	} else if i > len(k)-2 {
		i = len(k) - 2
	}

	if hint != nil {
		*hint = i
	}
	return i
}
