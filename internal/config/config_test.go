package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
	if cfg.Protocol.Port != 48888 {
		t.Errorf("default port = %d, want 48888", cfg.Protocol.Port)
	}
	if cfg.Protocol.HandshakeTimeout != 3*time.Second {
		t.Errorf("default handshake timeout = %s, want 3s", cfg.Protocol.HandshakeTimeout)
	}
	if cfg.Protocol.HeartbeatTimeout != 5*time.Second {
		t.Errorf("default heartbeat timeout = %s, want 5s", cfg.Protocol.HeartbeatTimeout)
	}
}

func TestLoadFromReaderLayersOverDefaults(t *testing.T) {
	yml := `
protocol:
  port: 50000
audio:
  volume: 1.5
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if cfg.Protocol.Port != 50000 {
		t.Errorf("port = %d, want 50000", cfg.Protocol.Port)
	}
	if cfg.Audio.Volume != 1.5 {
		t.Errorf("volume = %g, want 1.5", cfg.Audio.Volume)
	}
	// Untouched fields keep their defaults.
	if cfg.Protocol.ServiceType != "_meomic._udp" {
		t.Errorf("service type = %q, want _meomic._udp", cfg.Protocol.ServiceType)
	}
}

func TestLoadFromReaderEmpty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader on empty input failed: %v", err)
	}
	if cfg.Protocol.Port != 48888 {
		t.Errorf("port = %d, want default 48888", cfg.Protocol.Port)
	}
}

func TestValidateRejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Protocol.Port = 0 }},
		{"port too large", func(c *Config) { c.Protocol.Port = 70000 }},
		{"empty service type", func(c *Config) { c.Protocol.ServiceType = "" }},
		{"zero handshake timeout", func(c *Config) { c.Protocol.HandshakeTimeout = 0 }},
		{"zero heartbeat timeout", func(c *Config) { c.Protocol.HeartbeatTimeout = 0 }},
		{"wrong sample rate", func(c *Config) { c.Audio.SampleRate = 44100 }},
		{"negative volume", func(c *Config) { c.Audio.Volume = -0.1 }},
		{"volume above max", func(c *Config) { c.Audio.Volume = 2.1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}
