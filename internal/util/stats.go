package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide stream counter. The mic role feeds the sent side,
// the receiver role feeds the received/lost side.
var Stats = &stats{}

type stats struct {
	PacketsSent atomic.Int64 // cumulative datagrams sent since process start
	PacketsRecv atomic.Int64 // cumulative datagrams received since process start
	PacketsLost atomic.Int64 // cumulative sequence gaps observed by the receiver
	BytesSent   atomic.Int64 // cumulative bytes written to the socket
	BytesRecv   atomic.Int64 // cumulative bytes read from the socket
}

func (s *stats) AddSent(n int)   { s.PacketsSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)   { s.PacketsRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddLost(n int64) { s.PacketsLost.Add(n) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs stream statistics
// every 10 seconds. It stays quiet while the link is idle and stops when
// ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevLost int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				lost := Stats.PacketsLost.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				lostC := lost - prevLost

				if inS > 10 || outS > 10 || lostC > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, lostC))
				}

				prevSent = sent
				prevRecv = recv
				prevLost = lost

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, lost int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Lost: %3d pkt",
		formatBytes(inS),
		formatBytes(outS),
		lost,
	)
}
