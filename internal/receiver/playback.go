package receiver

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/meomic/meomic/internal/signalval"
	"github.com/meomic/meomic/internal/util"
)

// playbackTargetSamples is ~50 ms at 48 kHz: enough to ride out network
// jitter without adding noticeable latency.
const playbackTargetSamples = 2400

// Playback pushes received PCM to the default output device through a
// jitter buffer, with a volume control and a level metric for the UI.
type Playback struct {
	sampleRate uint32
	buffer     *jitterBuffer
	volumeBits atomic.Uint64
	level      *signalval.Value[float64]

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewPlayback creates a stopped playback sink.
func NewPlayback(sampleRate int) *Playback {
	p := &Playback{
		sampleRate: uint32(sampleRate),
		buffer:     newJitterBuffer(playbackTargetSamples),
		level:      signalval.NewValue(0.0),
	}
	p.SetVolume(1.0)
	return p
}

// SetVolume sets the output gain, clamped to [0, 2].
func (p *Playback) SetVolume(v float64) {
	switch {
	case v < 0:
		v = 0
	case v > 2:
		v = 2
	}
	p.volumeBits.Store(math.Float64bits(v))
}

// Volume returns the current output gain.
func (p *Playback) Volume() float64 {
	return math.Float64frombits(p.volumeBits.Load())
}

// Level exposes the playback level metric in [0,1].
func (p *Playback) Level() *signalval.Value[float64] {
	return p.level
}

// Write enqueues received PCM for playback and refreshes the level metric.
func (p *Playback) Write(data []byte) {
	p.buffer.Write(data)
	p.level.Set(0.7*p.level.Get() + 0.3*rmsLevel(data))
}

// Start opens the default output device. Idempotent while running.
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio backend: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = p.sampleRate
	deviceConfig.Alsa.NoMMap = 1

	onSend := func(outputSamples, _ []byte, frameCount uint32) {
		samples := make([]int16, frameCount)
		p.buffer.Read(samples)
		volume := p.Volume()
		for i, s := range samples {
			scaled := int32(float64(s) * volume)
			if scaled > math.MaxInt16 {
				scaled = math.MaxInt16
			} else if scaled < math.MinInt16 {
				scaled = math.MinInt16
			}
			outputSamples[i*2] = byte(uint16(scaled))
			outputSamples[i*2+1] = byte(uint16(scaled) >> 8)
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("open output device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start output device: %w", err)
	}

	p.ctx = ctx
	p.device = device
	util.LogInfo("playback started")
	return nil
}

// Stop releases the output device, clears the jitter buffer, and resets the
// level metric. Safe to call twice.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
	p.buffer.Clear()
	p.level.Set(0)
}

// rmsLevel computes the normalized RMS of 16-bit LE PCM bytes.
func rmsLevel(data []byte) float64 {
	count := len(data) / 2
	if count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(count)) / 32768.0
}
