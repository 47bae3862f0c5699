package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// chunkQueueDepth bounds buffered hardware chunks between the miniaudio
// callback and ReadChunk. On overflow the incoming chunk is dropped rather
// than blocking the audio callback.
const chunkQueueDepth = 8

// MalgoSource is a Source backed by a miniaudio capture device: 48 kHz,
// mono, signed 16-bit. The miniaudio data callback pushes copies into a
// bounded queue that ReadChunk drains.
type MalgoSource struct {
	sampleRate uint32

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	chunks chan []byte
	closed chan struct{}
}

// NewMalgoSource creates an unopened source for the default capture device.
func NewMalgoSource(sampleRate int) *MalgoSource {
	return &MalgoSource{sampleRate: uint32(sampleRate)}
}

// Open initializes the miniaudio context and starts the capture device.
func (m *MalgoSource) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init audio backend: %v", ErrDeviceUnavailable, err)
	}

	m.chunks = make(chan []byte, chunkQueueDepth)
	m.closed = make(chan struct{})

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = m.sampleRate
	deviceConfig.Alsa.NoMMap = 1

	onRecv := func(_, inputSamples []byte, _ uint32) {
		chunk := make([]byte, len(inputSamples))
		copy(chunk, inputSamples)
		select {
		case m.chunks <- chunk:
		default:
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("%w: %v", classifyDeviceError(err), err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("%w: start capture: %v", classifyDeviceError(err), err)
	}

	m.ctx = ctx
	m.device = device
	return nil
}

// ReadChunk blocks until the hardware delivers a buffer, then copies it into
// buf. Returns 0 and a closed-source error after Close.
func (m *MalgoSource) ReadChunk(buf []byte) (int, error) {
	m.mu.Lock()
	chunks, closed := m.chunks, m.closed
	m.mu.Unlock()

	if chunks == nil {
		return 0, fmt.Errorf("%w: source not open", ErrDeviceUnavailable)
	}

	select {
	case chunk := <-chunks:
		return copy(buf, chunk), nil
	case <-closed:
		return 0, fmt.Errorf("capture source closed")
	}
}

// Close stops and releases the device. Safe after a failed Open and safe to
// call twice.
func (m *MalgoSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed != nil {
		select {
		case <-m.closed:
		default:
			close(m.closed)
		}
	}
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

// classifyDeviceError maps a miniaudio failure to the capture error kinds.
// miniaudio reports OS permission refusals as MA_ACCESS_DENIED ("access
// denied"); everything else means the hardware is busy or missing.
func classifyDeviceError(err error) error {
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "access denied") {
		return ErrPermissionDenied
	}
	return ErrDeviceUnavailable
}
