package receiver

import "sync"

// jitterBuffer accumulates decoded samples between the network and the
// playback callback. It keeps roughly targetSamples queued to absorb
// network jitter, drops the oldest samples on overflow, and zero-fills on
// underrun so playback never blocks.
type jitterBuffer struct {
	mu            sync.Mutex
	samples       []int16
	targetSamples int
	maxSamples    int
}

func newJitterBuffer(targetSamples int) *jitterBuffer {
	return &jitterBuffer{
		targetSamples: targetSamples,
		maxSamples:    targetSamples * 4,
	}
}

// Write appends 16-bit LE PCM bytes, discarding the oldest samples if the
// buffer would exceed its cap. Staying current matters more than playing
// every sample on a live link.
func (j *jitterBuffer) Write(data []byte) {
	count := len(data) / 2
	if count == 0 {
		return
	}
	decoded := make([]int16, count)
	for i := 0; i < count; i++ {
		decoded[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}

	j.mu.Lock()
	j.samples = append(j.samples, decoded...)
	if overflow := len(j.samples) - j.maxSamples; overflow > 0 {
		j.samples = append(j.samples[:0], j.samples[overflow:]...)
	}
	j.mu.Unlock()
}

// Read fills out with queued samples, zero-filling whatever is missing.
// Returns the number of real (non-fill) samples delivered.
func (j *jitterBuffer) Read(out []int16) int {
	j.mu.Lock()
	n := copy(out, j.samples)
	j.samples = j.samples[n:]
	if len(j.samples) == 0 {
		j.samples = nil
	}
	j.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return n
}

// Len returns the number of queued samples.
func (j *jitterBuffer) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.samples)
}

// Clear drops all queued samples.
func (j *jitterBuffer) Clear() {
	j.mu.Lock()
	j.samples = nil
	j.mu.Unlock()
}
