// MeoMic — CLI entry point.
//
// This tool turns a machine into either end of a network microphone link:
// the mic role captures PCM from the default input device and streams it
// over UDP to a discovered receiver; the receive role advertises itself
// over mDNS, accepts one mic stream, and plays it on the default output.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -host, -port, -config).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/meomic/meomic/internal/capture"
	"github.com/meomic/meomic/internal/config"
	"github.com/meomic/meomic/internal/discovery"
	"github.com/meomic/meomic/internal/receiver"
	"github.com/meomic/meomic/internal/session"
	"github.com/meomic/meomic/internal/stream"
	"github.com/meomic/meomic/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: mic or receive")
	host := flag.String("host", "", "Receiver address (mic only; skips discovery)")
	port := flag.Int("port", 0, "Receiver UDP port (0 = configured default)")
	configPath := flag.String("config", "", "Path to a YAML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}
	if *port > 0 {
		cfg.Protocol.Port = *port
	}

	pterm.Info.Println(fmt.Sprintf("MeoMic — v%s", version))
	pterm.Println()

	switch config.Role(*role) {
	case "":
		// No -role flag means interactive mode.
		runInteractive(ctx, cfg, *host)

	case config.RoleMic:
		runMic(ctx, cfg, *host)

	case config.RoleReceive:
		runReceive(ctx, cfg)

	default:
		util.LogError("invalid -role: must be 'mic' or 'receive'")
		os.Exit(1)
	}

	util.LogInfo("goodbye")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -role flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Config, host string) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Mic     — Stream this machine's microphone", "Receive — Play a remote microphone here"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Mic") {
		runMic(ctx, cfg, host)
	} else {
		runReceive(ctx, cfg)
	}
}

// runMic executes the mic side: discover a receiver (unless -host was
// given), stream to it, and fall back to discovery whenever the link dies.
func runMic(ctx context.Context, cfg config.Config, host string) {
	sess := session.New(cfg.Protocol)
	pipeline := capture.NewPipeline(
		capture.NewMalgoSource(cfg.Audio.SampleRate),
		cfg.Audio.FrameSamples,
		cfg.Audio.Volume,
	)
	orch := stream.New(cfg, sess, pipeline)

	browser := discovery.NewBrowser(cfg.Protocol)

	sess.Latency().Watch(func(d time.Duration) {
		util.LogDebug("latency %s", d)
	})

	// One watcher for the whole run; each streaming round drains stale
	// signals before waiting.
	disconnected := make(chan struct{}, 1)
	sess.State().Watch(func(st session.State) {
		if st == session.StateDisconnected {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
	})

	for ctx.Err() == nil {
		target := host
		targetPort := cfg.Protocol.Port
		if target == "" {
			peer, ok := pickPeer(ctx, browser)
			if !ok {
				return
			}
			target = peer.Host
			targetPort = peer.Port
		}

		if err := orch.StartStreaming(ctx, target, targetPort); err != nil {
			util.LogError("failed to start streaming: %v", err)
			if host != "" {
				// Direct-address mode has nothing to fall back to.
				os.Exit(1)
			}
			continue
		}
		util.LogSuccess("streaming to %s:%d — Ctrl+C to stop", target, targetPort)

		waitWhileStreaming(ctx, sess, disconnected)
		orch.StopStreaming()

		if ctx.Err() == nil {
			util.LogWarning("link lost, returning to discovery")
		}
	}
}

// runReceive executes the receive side: advertise, accept one stream, play.
func runReceive(ctx context.Context, cfg config.Config) {
	playback := receiver.NewPlayback(cfg.Audio.SampleRate)
	recv := receiver.New(cfg.Protocol)

	recv.OnAudio = playback.Write
	recv.OnClientConnected = func(ip string) {
		util.LogSuccess("mic connected from %s", ip)
		if err := playback.Start(); err != nil {
			util.LogError("playback failed: %v", err)
		}
	}
	recv.OnClientDisconnected = func() {
		playback.Stop()
		stats := recv.GetStats()
		util.LogInfo("mic disconnected (received %d packets, lost %d, %.1f%%)",
			stats.PacketsReceived, stats.PacketsLost, stats.LossRate)
	}

	if err := recv.Start(); err != nil {
		util.LogError("failed to start receiver: %v", err)
		os.Exit(1)
	}
	defer recv.Stop()

	advertiser := discovery.NewAdvertiser(cfg.Protocol)
	if err := advertiser.Start(); err != nil {
		// Still reachable by direct address; discovery is best-effort.
		util.LogWarning("mDNS advertising unavailable: %v", err)
	}
	defer advertiser.Stop()

	util.StartStatsReporter(ctx)
	util.LogSuccess("waiting for a mic on UDP port %d — Ctrl+C to stop", cfg.Protocol.Port)

	<-ctx.Done()
	playback.Stop()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// pickPeer browses until at least one receiver is found, then lets the user
// choose. Returns false when the context is cancelled first.
func pickPeer(ctx context.Context, browser *discovery.Browser) (discovery.Peer, bool) {
	browser.Start(ctx)
	defer browser.Stop()

	spinner, _ := pterm.DefaultSpinner.Start("Looking for receivers on the local network...")
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var peers []discovery.Peer
	for len(peers) == 0 {
		select {
		case <-ticker.C:
			peers = browser.Peers().Get()
		case <-ctx.Done():
			spinner.Stop()
			return discovery.Peer{}, false
		}
	}
	spinner.Success(fmt.Sprintf("Found %d receiver(s)", len(peers)))

	if len(peers) == 1 {
		return peers[0], true
	}

	options := make([]string, len(peers))
	for i, p := range peers {
		options[i] = fmt.Sprintf("%s — %s:%d", p.DisplayName, p.Host, p.Port)
	}
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText("Select a receiver").
		Show()

	for i, opt := range options {
		if opt == choice {
			return peers[i], true
		}
	}
	return peers[0], true
}

// waitWhileStreaming blocks until the session drops or the context ends.
func waitWhileStreaming(ctx context.Context, sess *session.Session, disconnected chan struct{}) {
	// Drain signals from previous rounds.
	select {
	case <-disconnected:
	default:
	}
	if sess.State().Get() == session.StateDisconnected {
		return
	}
	select {
	case <-disconnected:
	case <-ctx.Done():
	}
}
