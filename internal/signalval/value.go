// Package signalval provides small publish-on-change value holders used to
// expose core state (connection state, latency, loudness, peer list) to the
// hosting application without coupling the core to any renderer.
package signalval

import "sync"

// Value is a thread-safe holder for a single observable value. Writers call
// Set; readers either poll Get or register a callback with Watch. Callbacks
// run synchronously on the setter's goroutine and fire only when the value
// actually changes.
type Value[T comparable] struct {
	mu       sync.Mutex
	current  T
	watchers []func(T)
}

// NewValue creates a holder with the given initial value.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set publishes a new value, notifying watchers if it changed.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	if v.current == val {
		v.mu.Unlock()
		return
	}
	v.current = val
	watchers := make([]func(T), len(v.watchers))
	copy(watchers, v.watchers)
	v.mu.Unlock()

	for _, fn := range watchers {
		fn(val)
	}
}

// Watch registers a callback invoked on every change. The callback must not
// block; long work belongs on the watcher's own goroutine.
func (v *Value[T]) Watch(fn func(T)) {
	v.mu.Lock()
	v.watchers = append(v.watchers, fn)
	v.mu.Unlock()
}

// Slice is a snapshot-replace holder for a list value. Writers replace the
// whole slice; readers always observe a complete, immutable snapshot, never
// a half-updated list.
type Slice[T any] struct {
	mu       sync.RWMutex
	current  []T
	watchers []func([]T)
}

// NewSlice creates an empty slice holder.
func NewSlice[T any]() *Slice[T] {
	return &Slice[T]{}
}

// Get returns the current snapshot. Callers must not mutate it.
func (s *Slice[T]) Get() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the snapshot and notifies watchers.
func (s *Slice[T]) Set(val []T) {
	s.mu.Lock()
	s.current = val
	watchers := make([]func([]T), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(val)
	}
}

// Watch registers a callback invoked on every replacement.
func (s *Slice[T]) Watch(fn func([]T)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}
