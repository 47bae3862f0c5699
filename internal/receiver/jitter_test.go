package receiver

import "testing"

func le(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

func TestJitterBufferRoundTrip(t *testing.T) {
	j := newJitterBuffer(8)
	j.Write(le(1, 2, 3))

	out := make([]int16, 3)
	if n := j.Read(out); n != 3 {
		t.Fatalf("Read returned %d samples, want 3", n)
	}
	if out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Fatalf("Read = %v, want [1 2 3]", out)
	}
	if j.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", j.Len())
	}
}

func TestJitterBufferUnderrunZeroFills(t *testing.T) {
	j := newJitterBuffer(8)
	j.Write(le(7))

	out := []int16{9, 9, 9, 9}
	if n := j.Read(out); n != 1 {
		t.Fatalf("Read returned %d real samples, want 1", n)
	}
	if out[0] != 7 || out[1] != 0 || out[2] != 0 || out[3] != 0 {
		t.Fatalf("Read = %v, want [7 0 0 0]", out)
	}
}

func TestJitterBufferOverflowDropsOldest(t *testing.T) {
	j := newJitterBuffer(2) // cap = 8 samples
	for i := int16(0); i < 12; i++ {
		j.Write(le(i))
	}
	if j.Len() != 8 {
		t.Fatalf("Len after overflow = %d, want 8", j.Len())
	}

	out := make([]int16, 8)
	j.Read(out)
	if out[0] != 4 || out[7] != 11 {
		t.Fatalf("kept samples %v, want the newest 4..11", out)
	}
}

func TestJitterBufferClear(t *testing.T) {
	j := newJitterBuffer(8)
	j.Write(le(1, 2, 3))
	j.Clear()
	if j.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", j.Len())
	}
}
