package protocol

import (
	"math"
	"testing"
)

func TestSeqGenStartsAtZero(t *testing.T) {
	seq := NewSeqGen()
	for i := uint32(0); i < 5; i++ {
		if got := seq.Next(); got != i {
			t.Fatalf("Next() = %d, want %d", got, i)
		}
	}
}

func TestSeqGenReset(t *testing.T) {
	seq := NewSeqGen()
	seq.Next()
	seq.Next()
	seq.Reset()
	if got := seq.Next(); got != 0 {
		t.Fatalf("Next() after Reset = %d, want 0", got)
	}
}

// TestSeqGenWraparound verifies the counter wraps from 2^32-1 to 0 without error.
func TestSeqGenWraparound(t *testing.T) {
	seq := NewSeqGen()
	seq.next.Store(math.MaxUint32)

	if got := seq.Next(); got != math.MaxUint32 {
		t.Fatalf("Next() at boundary = %d, want %d", got, uint32(math.MaxUint32))
	}
	if got := seq.Next(); got != 0 {
		t.Fatalf("Next() after wraparound = %d, want 0", got)
	}
	if got := seq.Next(); got != 1 {
		t.Fatalf("Next() after wraparound = %d, want 1", got)
	}
}
