// Package capture turns a raw sample source into volume-adjusted PCM frames
// ready for transmission, and exposes the user-facing mute/volume controls
// plus a smoothed loudness metric for level visualization.
package capture

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/meomic/meomic/internal/signalval"
	"github.com/meomic/meomic/internal/util"
)

// Capture start failures surfaced synchronously to the caller.
var (
	// ErrPermissionDenied means the capture device exists but access was
	// refused. Checked before acquisition is attempted where the backend
	// can distinguish it.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable means the capture hardware is busy or missing.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Loudness smoothing weights: old value 0.7, new value 0.3.
const (
	smoothOld = 0.7
	smoothNew = 0.3
)

// Source is the raw-sample collaborator: an open/read-chunk/close view of
// the OS capture device. ReadChunk blocks until the hardware delivers a
// buffer; it is the pipeline's only suspension point.
type Source interface {
	// Open acquires the device. Returns ErrPermissionDenied or
	// ErrDeviceUnavailable (possibly wrapped) on failure.
	Open() error

	// ReadChunk fills buf with 16-bit LE mono samples and returns the
	// number of bytes written.
	ReadChunk(buf []byte) (int, error)

	// Close releases the device. Safe to call after a failed Open.
	Close() error
}

// Pipeline owns one Source and produces outgoing frames. Controls are safe
// to call from any goroutine; the capture loop itself runs on a single
// goroutine inside Run.
type Pipeline struct {
	src       Source
	chunkSize int

	volumeBits atomic.Uint64 // float64 gain, clamped to [0, 2]
	muted      atomic.Bool
	running    atomic.Bool

	loudness *signalval.Value[float64]
}

// NewPipeline creates a pipeline reading chunks of frameSamples 16-bit
// samples from src, with the given initial gain.
func NewPipeline(src Source, frameSamples int, volume float64) *Pipeline {
	p := &Pipeline{
		src:       src,
		chunkSize: frameSamples * 2,
		loudness:  signalval.NewValue(0.0),
	}
	p.SetVolume(volume)
	return p
}

// SetVolume sets the gain, clamped to [0, 2].
func (p *Pipeline) SetVolume(v float64) {
	p.volumeBits.Store(math.Float64bits(clampVolume(v)))
}

// Volume returns the current gain.
func (p *Pipeline) Volume() float64 {
	return math.Float64frombits(p.volumeBits.Load())
}

// SetMuted toggles mute independent of volume.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports whether the pipeline is muted.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Loudness exposes the smoothed [0,1] level metric.
func (p *Pipeline) Loudness() *signalval.Value[float64] {
	return p.loudness
}

// Open acquires the capture device without starting the loop, so start
// failures (ErrPermissionDenied, ErrDeviceUnavailable) surface synchronously
// to the caller before any goroutine is spawned.
func (p *Pipeline) Open() error {
	return p.src.Open()
}

// Close releases the capture device without running the loop, for callers
// whose start sequence failed between Open and Run.
func (p *Pipeline) Close() error {
	return p.src.Close()
}

// Run captures until ctx is cancelled or the source fails, invoking emit for
// every processed frame. Requires a prior successful Open. On exit the
// device is released and the loudness metric resets to 0.
func (p *Pipeline) Run(ctx context.Context, emit func(frame []byte)) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)

	defer func() {
		p.src.Close()
		p.loudness.Set(0)
	}()

	buf := make([]byte, p.chunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.src.ReadChunk(buf)
		if n > 0 {
			frame, level := p.process(buf[:n])
			p.loudness.Set(level)
			emit(frame)
		}
		if err != nil {
			select {
			case <-ctx.Done():
				// Shutting down; the read was unblocked by Close.
			default:
				util.LogWarning("capture read error: %v", err)
			}
			return
		}
	}
}

// process applies mute/volume to one raw chunk and computes the published
// loudness. When muted, loudness is forced to 0 with no smoothing lag and
// the frame is all zeros of the same length.
func (p *Pipeline) process(raw []byte) ([]byte, float64) {
	out := make([]byte, len(raw))

	if p.muted.Load() {
		return out, 0
	}

	volume := p.Volume()
	var sumSquares float64
	sampleCount := len(raw) / 2

	for i := 0; i+1 < len(raw); i += 2 {
		sample := int16(uint16(raw[i]) | uint16(raw[i+1])<<8)
		sumSquares += float64(sample) * float64(sample)

		scaled := int32(float64(sample) * volume)
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		out[i] = byte(uint16(scaled))
		out[i+1] = byte(uint16(scaled) >> 8)
	}

	level := 0.0
	if sampleCount > 0 {
		rms := math.Sqrt(sumSquares/float64(sampleCount)) / 32768.0
		level = smoothOld*p.loudness.Get() + smoothNew*rms
	}
	return out, level
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 2:
		return 2
	default:
		return v
	}
}
