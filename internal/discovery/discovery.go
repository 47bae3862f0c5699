// Package discovery maintains a live, deduplicated set of receivers
// advertised over mDNS, and registers the advertisement on the receiver
// side. Raw found/lost/resolved events are reconciled into a stable,
// discovery-ordered peer list published as whole-snapshot replacements.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/meomic/meomic/internal/config"
	"github.com/meomic/meomic/internal/signalval"
	"github.com/meomic/meomic/internal/util"
)

// resolveTimeout bounds one serialized instance lookup.
const resolveTimeout = 3 * time.Second

// pendingQueueDepth bounds instances waiting for resolution.
const pendingQueueDepth = 16

// Peer is one resolved, reachable receiver.
type Peer struct {
	DisplayName string // advertised instance name
	Host        string // IPv4 address, the dedupe key
	Port        int
}

// browseFunc and lookupFunc abstract the zeroconf resolver so tests can feed
// synthetic advertisement events in-process.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
type lookupFunc func(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Browser reconciles advertisement events into the published peer list.
type Browser struct {
	cfg    config.ProtocolConfig
	browse browseFunc
	lookup lookupFunc

	results *signalval.Slice[Peer]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	peers   []Peer      // insertion-ordered working set
	pending chan string // serialized resolve queue (instance names)
}

// NewBrowser creates a browser using the system mDNS resolver.
func NewBrowser(cfg config.ProtocolConfig) *Browser {
	return &Browser{
		cfg: cfg,
		browse: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return err
			}
			return resolver.Browse(ctx, service, domain, entries)
		},
		lookup: func(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return err
			}
			return resolver.Lookup(ctx, instance, service, domain, entries)
		},
		results: signalval.NewSlice[Peer](),
	}
}

// Peers exposes the published peer list. Readers always see a complete
// snapshot.
func (b *Browser) Peers() *signalval.Slice[Peer] {
	return b.results
}

// Start clears the current result set and begins browsing. Calling Start
// while already running is a no-op. Browse failures are logged and leave
// the browser stopped; they never panic the caller.
func (b *Browser) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.peers = nil
	b.pending = make(chan string, pendingQueueDepth)
	browseCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	pending := b.pending
	b.mu.Unlock()

	b.results.Set(nil)

	entries := make(chan *zeroconf.ServiceEntry, 16)

	go func() {
		if err := b.browse(browseCtx, b.cfg.ServiceType, b.cfg.Domain, entries); err != nil {
			util.LogWarning("mDNS browse failed: %v", err)
			b.Stop()
		}
	}()

	go b.eventLoop(browseCtx, entries)
	go b.resolveLoop(browseCtx, pending)
}

// Stop cancels browsing and clears the pending-resolve queue. Results
// already discovered stay published until Clear.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	b.cancel()
	b.pending = nil
}

// Clear empties the published result set.
func (b *Browser) Clear() {
	b.mu.Lock()
	b.peers = nil
	b.mu.Unlock()
	b.results.Set(nil)
}

// eventLoop turns raw browse entries into peer additions, removals, and
// resolve requests. A malformed or unresolvable entry only affects itself.
func (b *Browser) eventLoop(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			b.handleEntry(entry)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Browser) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry == nil || entry.Service != b.cfg.ServiceType {
		return
	}

	// Goodbye packets and expirations arrive with TTL 0.
	if entry.TTL == 0 {
		b.removeByName(entry.Instance)
		return
	}

	if len(entry.AddrIPv4) == 0 {
		// Advertisement seen but not yet resolved; queue it. The resolve
		// loop handles one instance at a time; concurrent lookups against
		// the same responder are unreliable.
		b.enqueueResolve(entry.Instance)
		return
	}

	b.addPeer(Peer{
		DisplayName: entry.Instance,
		Host:        pickAddr(entry.AddrIPv4),
		Port:        entry.Port,
	})
}

func (b *Browser) enqueueResolve(instance string) {
	b.mu.Lock()
	pending := b.pending
	b.mu.Unlock()
	if pending == nil {
		return
	}
	select {
	case pending <- instance:
	default:
		util.LogDebug("resolve queue full, dropping %q", instance)
	}
}

// resolveLoop serializes instance lookups: at most one outstanding resolve,
// each completion or failure advancing to the next queued item.
func (b *Browser) resolveLoop(ctx context.Context, pending <-chan string) {
	for {
		select {
		case instance := <-pending:
			b.resolveOne(ctx, instance)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Browser) resolveOne(ctx context.Context, instance string) {
	lookupCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	found := make(chan *zeroconf.ServiceEntry, 4)
	if err := b.lookup(lookupCtx, instance, b.cfg.ServiceType, b.cfg.Domain, found); err != nil {
		util.LogDebug("resolve %q failed: %v", instance, err)
		return
	}

	for {
		select {
		case entry, ok := <-found:
			if !ok {
				return
			}
			if entry != nil && len(entry.AddrIPv4) > 0 {
				b.addPeer(Peer{
					DisplayName: entry.Instance,
					Host:        pickAddr(entry.AddrIPv4),
					Port:        entry.Port,
				})
				return
			}
		case <-lookupCtx.Done():
			return
		}
	}
}

// addPeer appends a resolved peer unless its host address is already known,
// then publishes a fresh snapshot.
func (b *Browser) addPeer(p Peer) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	for _, existing := range b.peers {
		if existing.Host == p.Host {
			b.mu.Unlock()
			return
		}
	}
	b.peers = append(b.peers, p)
	snapshot := make([]Peer, len(b.peers))
	copy(snapshot, b.peers)
	b.mu.Unlock()

	util.LogInfo("discovered %q at %s:%d", p.DisplayName, p.Host, p.Port)
	b.results.Set(snapshot)
}

// removeByName drops peers whose advertisement was withdrawn.
func (b *Browser) removeByName(instance string) {
	b.mu.Lock()
	kept := b.peers[:0]
	removed := false
	for _, p := range b.peers {
		if p.DisplayName == instance {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	b.peers = kept
	snapshot := make([]Peer, len(b.peers))
	copy(snapshot, b.peers)
	b.mu.Unlock()

	if removed {
		util.LogInfo("lost advertisement %q", instance)
		b.results.Set(snapshot)
	}
}

// pickAddr prefers a routable IPv4 over link-local.
func pickAddr(addrs []net.IP) string {
	for _, ip := range addrs {
		if !ip.IsLinkLocalUnicast() {
			return ip.String()
		}
	}
	return addrs[0].String()
}
