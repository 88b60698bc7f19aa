package stream

// rolling is a fixed-window moving average.
type rolling struct {
	values []float64
	next   int
	full   bool
	sum    float64
}

func newRolling(window int) *rolling {
	return &rolling{values: make([]float64, max(window, 1))}
}

func (r *rolling) add(v float64) {
	if r.full {
		r.sum -= r.values[r.next]
	}
	r.values[r.next] = v
	r.sum += v
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.full = true
	}
}

func (r *rolling) count() int {
	if r.full {
		return len(r.values)
	}
	return r.next
}

func (r *rolling) average() float64 {
	n := r.count()
	if n == 0 {
		return 0
	}
	return r.sum / float64(n)
}

func (r *rolling) reset() {
	r.next, r.full, r.sum = 0, false, 0
}
