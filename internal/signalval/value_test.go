package signalval

import (
	"sync"
	"testing"
)

func TestValueNotifiesOnChange(t *testing.T) {
	v := NewValue(0)

	var got []int
	v.Watch(func(val int) { got = append(got, val) })

	v.Set(1)
	v.Set(1) // no change, no notification
	v.Set(2)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("watcher saw %v, want [1 2]", got)
	}
	if v.Get() != 2 {
		t.Fatalf("Get() = %d, want 2", v.Get())
	}
}

func TestValueConcurrentSetGet(t *testing.T) {
	v := NewValue(0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) { defer wg.Done(); v.Set(n) }(i)
		go func() { defer wg.Done(); _ = v.Get() }()
	}
	wg.Wait()
}

func TestSliceSnapshotReplace(t *testing.T) {
	s := NewSlice[string]()

	if got := s.Get(); len(got) != 0 {
		t.Fatalf("initial snapshot = %v, want empty", got)
	}

	var notified [][]string
	s.Watch(func(val []string) { notified = append(notified, val) })

	s.Set([]string{"a"})
	s.Set([]string{"a", "b"})

	if len(notified) != 2 {
		t.Fatalf("watcher fired %d times, want 2", len(notified))
	}
	snap := s.Get()
	if len(snap) != 2 || snap[0] != "a" || snap[1] != "b" {
		t.Fatalf("snapshot = %v, want [a b]", snap)
	}
}
