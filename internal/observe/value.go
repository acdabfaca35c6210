// Package observe provides broadcast value streams: each subscriber receives
// the current value immediately on subscription and every subsequent update,
// with per-subscriber conflation so a slow reader never blocks the writer.
package observe

import (
	"sync"
)

// Value holds one observable value of type T.
//
// Writes are expected from a single logical context; reads and subscriptions
// may happen concurrently from any number of goroutines.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	nextID  int
	subs    map[int]chan T
}

// NewValue creates a Value initialized to initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		subs:    make(map[int]chan T),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set replaces the current value and fans it out to all subscribers.
//
// Each subscriber channel holds at most one pending value; when a subscriber
// has not consumed the previous update, it is replaced by the newer one.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = val
	for _, ch := range v.subs {
		offer(ch, val)
	}
}

// Update applies fn to the current value and publishes the result.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = fn(v.current)
	for _, ch := range v.subs {
		offer(ch, v.current)
	}
	return v.current
}

// Subscribe registers a new observer. The returned channel immediately
// carries the current value, then every later update (conflated). The cancel
// function removes the subscription and closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++

	ch := make(chan T, 1)
	ch <- v.current
	v.subs[id] = ch

	cancel := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if sub, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// offer places val on ch, displacing an unconsumed older value if needed.
func offer[T any](ch chan T, val T) {
	for {
		select {
		case ch <- val:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
