package util

import (
	"strings"

	"github.com/fogleman/ease"
)

// EaseFunc maps linear progress in [0, 1] to eased progress.
type EaseFunc func(float64) float64

func linear(t float64) float64 {
	return t
}

var easings = map[string]EaseFunc{
	"linear":     linear,
	"inquad":     ease.InQuad,
	"outquad":    ease.OutQuad,
	"inoutquad":  ease.InOutQuad,
	"incubic":    ease.InCubic,
	"outcubic":   ease.OutCubic,
	"inoutcubic": ease.InOutCubic,
	"insine":     ease.InSine,
	"outsine":    ease.OutSine,
	"inoutsine":  ease.InOutSine,
}

// Easing looks up an easing curve by name. Names ignore case, dashes and
// underscores, so "in-out-quad" and "InOutQuad" are the same curve. An empty
// name is linear.
func Easing(name string) (EaseFunc, bool) {
	if name == "" {
		return linear, true
	}

	key := strings.ToLower(name)
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	f, ok := easings[key]
	return f, ok
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	} else if v > 1 {
		return 1
	}
	return v
}
