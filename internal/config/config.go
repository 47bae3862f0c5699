// Package config holds the MeoMic configuration schema and loader.
package config

import (
	"fmt"
	"time"
)

// Role represents the endpoint role (mic or receive).
type Role string

const (
	RoleMic     Role = "mic"     // capture and stream to a receiver
	RoleReceive Role = "receive" // advertise, receive, and play
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleMic || r == RoleReceive
}

// Config is the root configuration for both roles. All fields have working
// defaults; a zero-config run streams to a discovered receiver on the
// well-known port.
type Config struct {
	Protocol ProtocolConfig `yaml:"protocol"`
	Audio    AudioConfig    `yaml:"audio"`
	Debug    bool           `yaml:"debug"`
}

// ProtocolConfig carries the wire-level constants shared by the session,
// discovery, and receiver. It is handed to them at construction; there are
// no free-floating protocol globals.
type ProtocolConfig struct {
	// Port is the well-known UDP port the receiver listens on.
	Port int `yaml:"port"`

	// ServiceType is the mDNS service identifier advertised by receivers.
	ServiceType string `yaml:"service_type"`

	// Domain is the mDNS domain, normally "local.".
	Domain string `yaml:"domain"`

	// HandshakeTimeout bounds the connect-time wait for the first response.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// HeartbeatTimeout is the maximum silence before a connected session
	// is declared lost. Also the per-iteration receive bound of the
	// listen loop.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// KeepaliveInterval is the period of the orchestrator's keepalive timer.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// AckInterval is the receiver's minimum spacing between acks while
	// audio is streaming. Keepalives are always acked immediately.
	AckInterval time.Duration `yaml:"ack_interval"`
}

// AudioConfig carries the PCM format and pipeline tuning.
type AudioConfig struct {
	// SampleRate is fixed at 48 kHz by the wire format.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples read per capture cycle.
	FrameSamples int `yaml:"frame_samples"`

	// Volume is the initial gain, clamped to [0, 2].
	Volume float64 `yaml:"volume"`
}

// Default returns the configuration matching the original desktop app.
func Default() Config {
	return Config{
		Protocol: ProtocolConfig{
			Port:              48888,
			ServiceType:       "_meomic._udp",
			Domain:            "local.",
			HandshakeTimeout:  3000 * time.Millisecond,
			HeartbeatTimeout:  5000 * time.Millisecond,
			KeepaliveInterval: 1000 * time.Millisecond,
			AckInterval:       500 * time.Millisecond,
		},
		Audio: AudioConfig{
			SampleRate:   48000,
			FrameSamples: 480, // 10 ms at 48 kHz
			Volume:       1.0,
		},
	}
}

// Validate checks the configuration for values the protocol cannot operate with.
func (c *Config) Validate() error {
	if c.Protocol.Port < 1 || c.Protocol.Port > 65535 {
		return fmt.Errorf("protocol.port must be 1~65535, got %d", c.Protocol.Port)
	}
	if c.Protocol.ServiceType == "" {
		return fmt.Errorf("protocol.service_type must not be empty")
	}
	if c.Protocol.HandshakeTimeout <= 0 {
		return fmt.Errorf("protocol.handshake_timeout must be positive, got %s", c.Protocol.HandshakeTimeout)
	}
	if c.Protocol.HeartbeatTimeout <= 0 {
		return fmt.Errorf("protocol.heartbeat_timeout must be positive, got %s", c.Protocol.HeartbeatTimeout)
	}
	if c.Protocol.KeepaliveInterval <= 0 {
		return fmt.Errorf("protocol.keepalive_interval must be positive, got %s", c.Protocol.KeepaliveInterval)
	}
	if c.Audio.SampleRate != 48000 {
		return fmt.Errorf("audio.sample_rate is fixed at 48000 by the wire format, got %d", c.Audio.SampleRate)
	}
	if c.Audio.FrameSamples <= 0 {
		return fmt.Errorf("audio.frame_samples must be positive, got %d", c.Audio.FrameSamples)
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 2 {
		return fmt.Errorf("audio.volume must be within [0, 2], got %g", c.Audio.Volume)
	}
	return nil
}
