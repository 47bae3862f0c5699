package receiver

// lossGapSanityCap discards absurd sequence jumps (a client restart looks
// like a ~4-billion-packet gap after wraparound arithmetic).
const lossGapSanityCap = 1000

// lossTracker accounts received datagrams and sequence gaps for one client.
// Callers hold the receiver's lock; the tracker itself is not synchronized.
type lossTracker struct {
	lastSeq  int64 // -1 before the first packet
	received int64
	lost     int64
}

func newLossTracker() *lossTracker {
	return &lossTracker{lastSeq: -1}
}

func (l *lossTracker) reset() {
	l.lastSeq = -1
	l.received = 0
	l.lost = 0
}

// observe records one received sequence number and returns how many packets
// the gap since the previous one implies were lost. Wraparound from 2^32-1
// to 0 is a gap of zero, not a loss.
func (l *lossTracker) observe(seq uint32) int64 {
	l.received++

	var lost int64
	if l.lastSeq >= 0 {
		expected := uint32(l.lastSeq + 1) // wraps
		if seq != expected {
			gap := int64(seq - expected) // uint32 arithmetic wraps
			if gap < lossGapSanityCap {
				l.lost += gap
				lost = gap
			}
		}
	}
	l.lastSeq = int64(seq)
	return lost
}
