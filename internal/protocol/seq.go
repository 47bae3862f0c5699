package protocol

import "sync/atomic"

// SeqGen is a per-session atomic sequence number generator.
// It is shared between the session's send path and its keepalive timer,
// so all operations are atomic.
type SeqGen struct {
	next atomic.Uint32
}

// NewSeqGen creates a sequence generator whose first Next() returns 0.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the current sequence number and advances the counter.
// Wrapping from 2^32-1 back to 0 is a valid, expected event.
func (s *SeqGen) Next() uint32 {
	return s.next.Add(1) - 1
}

// Reset rewinds the counter so the next value is 0. Called on connect
// and disconnect so a fresh session always starts at sequence 0.
func (s *SeqGen) Reset() {
	s.next.Store(0)
}
