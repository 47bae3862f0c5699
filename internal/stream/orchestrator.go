// Package stream wires capture, session, and discovery together and runs
// the concurrent streaming loops behind a two-operation surface:
// StartStreaming and StopStreaming.
package stream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meomic/meomic/internal/capture"
	"github.com/meomic/meomic/internal/config"
	"github.com/meomic/meomic/internal/session"
	"github.com/meomic/meomic/internal/util"
)

// watchdogInterval is how often the connection-state watchdog polls for a
// session that died on its own (send failure or heartbeat timeout).
const watchdogInterval = 250 * time.Millisecond

// Orchestrator runs one streaming session at a time: the session's listen
// loop, a keepalive timer, a connection-state watchdog, and the
// capture-to-send pump. Stopping, whether explicit or because the link died,
// cancels every loop exactly once and releases both the capture device and
// the transport; no loop outlives the session it was spawned for.
type Orchestrator struct {
	cfg      config.Config
	session  *session.Session
	pipeline *capture.Pipeline

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator around an idle session and a capture pipeline.
func New(cfg config.Config, sess *session.Session, pipeline *capture.Pipeline) *Orchestrator {
	return &Orchestrator{cfg: cfg, session: sess, pipeline: pipeline}
}

// Session exposes the underlying session for state/latency observation.
func (o *Orchestrator) Session() *session.Session {
	return o.session
}

// Pipeline exposes the capture pipeline for mute/volume/loudness access.
func (o *Orchestrator) Pipeline() *capture.Pipeline {
	return o.pipeline
}

// Streaming reports whether a session's loops are currently running.
func (o *Orchestrator) Streaming() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done != nil
}

// StartStreaming connects to the peer and launches the concurrent loops.
// Capture and connect failures are surfaced synchronously; everything after
// that is observed through the session's state signal. Calling it while
// already streaming restarts against the new address.
func (o *Orchestrator) StartStreaming(ctx context.Context, host string, port int) error {
	o.StopStreaming()

	// Acquire the capture device first so permission/device failures are
	// surfaced before any packet leaves the machine.
	if err := o.pipeline.Open(); err != nil {
		return err
	}

	if err := o.session.Connect(host, port); err != nil {
		o.pipeline.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	o.mu.Lock()
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	g, loopCtx := errgroup.WithContext(runCtx)

	// Receive loop: the sole heartbeat authority. Returning cancels the
	// group via loopCtx, taking the other loops down with it.
	g.Go(func() error {
		o.session.Listen()
		return context.Canceled
	})

	// Keepalive timer.
	g.Go(func() error {
		ticker := time.NewTicker(o.cfg.Protocol.KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.session.SendKeepalive()
			case <-loopCtx.Done():
				return nil
			}
		}
	})

	// Watchdog: notices a session that dropped to disconnected on its own
	// and folds the whole group.
	g.Go(func() error {
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !o.session.Connected() {
					return context.Canceled
				}
			case <-loopCtx.Done():
				return nil
			}
		}
	})

	// Capture pump: frames go straight into the session's send path, which
	// absorbs transport failures itself.
	g.Go(func() error {
		o.pipeline.Run(loopCtx, o.session.SendAudio)
		return context.Canceled
	})

	go func() {
		defer close(done)
		g.Wait()
		// Whichever loop ended first, tear the session down so the
		// others unblock and the transport is released.
		o.session.Disconnect()
		util.LogInfo("streaming stopped")
	}()

	util.StartStatsReporter(runCtx)
	return nil
}

// StopStreaming cancels the loops and waits for them to finish. Idempotent
// and safe to call from a host-managed lifecycle callback.
func (o *Orchestrator) StopStreaming() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	o.session.Disconnect() // unblocks the listen loop's socket read
	<-done
}
