package discovery

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/meomic/meomic/internal/config"
	"github.com/meomic/meomic/internal/util"
)

// Advertiser registers the receiver's service advertisement so mics can
// auto-discover it.
type Advertiser struct {
	cfg config.ProtocolConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an unregistered advertiser.
func NewAdvertiser(cfg config.ProtocolConfig) *Advertiser {
	return &Advertiser{cfg: cfg}
}

// Start registers "MeoMic (<hostname>)" on the configured service type and
// port. Idempotent while registered.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "meomic"
	}
	instance := fmt.Sprintf("MeoMic (%s)", hostname)
	txt := []string{
		"version=1",
		"platform=" + runtime.GOOS,
		"hostname=" + hostname,
	}

	server, err := zeroconf.Register(instance, a.cfg.ServiceType, a.cfg.Domain, a.cfg.Port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	a.server = server

	util.LogInfo("advertising %q on port %d", instance, a.cfg.Port)
	return nil
}

// Stop withdraws the advertisement. Safe to call when not registered.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		util.LogInfo("advertisement withdrawn")
	}
}
