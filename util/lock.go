package util

import (
	"sort"
	"sync"
	"unsafe"
)

// LockAll acquires every mutex as one operation and returns a function that
// releases them. Mutexes are always taken in address order, so two callers
// locking the same set can never deadlock against each other regardless of
// the order they list them in. Duplicates are locked once.
func LockAll(mutexes ...*sync.Mutex) (unlock func()) {
	ordered := make([]*sync.Mutex, 0, len(mutexes))
	for _, m := range mutexes {
		if m != nil {
			ordered = append(ordered, m)
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		return uintptr(unsafe.Pointer(ordered[i])) < uintptr(unsafe.Pointer(ordered[j]))
	})

	n := 0
	for i, m := range ordered {
		if i > 0 && m == ordered[i-1] {
			continue
		}
		ordered[n] = m
		n++
	}
	ordered = ordered[:n]

	for _, m := range ordered {
		m.Lock()
	}

	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].Unlock()
		}
	}
}
