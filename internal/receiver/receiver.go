// Package receiver implements the desktop side of the protocol: it binds
// the well-known UDP port, tracks the single active mic client, replies
// with acks, accounts packet loss, and hands audio payloads to a playback
// sink.
package receiver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meomic/meomic/internal/config"
	"github.com/meomic/meomic/internal/protocol"
	"github.com/meomic/meomic/internal/util"
)

// readBufferSize covers any single datagram on a local link.
const readBufferSize = 65536

// socketPollInterval bounds each blocking read so the loop can check the
// client timeout and the running flag.
const socketPollInterval = time.Second

// Stats is a point-in-time snapshot of receiver counters.
type Stats struct {
	Connected       bool
	ClientIP        string
	PacketsReceived int64
	PacketsLost     int64
	LossRate        float64 // percentage
}

// Receiver is the UDP audio receiver. At most one client is active; a
// datagram from a new source address replaces the previous client.
type Receiver struct {
	cfg config.ProtocolConfig

	// Callbacks, set before Start. Invoked from the receive goroutine.
	OnAudio              func([]byte)
	OnClientConnected    func(string)
	OnClientDisconnected func()

	mu       sync.Mutex
	conn     *net.UDPConn
	running  bool
	done     chan struct{}
	client   *net.UDPAddr
	lastSeen time.Time
	lastAck  time.Time
	ackSeq   *protocol.SeqGen
	loss     *lossTracker
}

// New creates a stopped receiver.
func New(cfg config.ProtocolConfig) *Receiver {
	return &Receiver{
		cfg:    cfg,
		ackSeq: protocol.NewSeqGen(),
		loss:   newLossTracker(),
	}
}

// Start binds the UDP port and launches the receive loop. Idempotent while
// running.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.cfg.Port})
	if err != nil {
		return fmt.Errorf("bind udp port %d: %w", r.cfg.Port, err)
	}

	r.conn = conn
	r.running = true
	r.done = make(chan struct{})
	go r.receiveLoop(conn, r.done)

	util.LogInfo("listening on udp port %d", r.cfg.Port)
	return nil
}

// Stop ends the receive loop and closes the socket. Safe to call twice.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	conn, done := r.conn, r.done
	r.conn = nil
	r.mu.Unlock()

	conn.Close()
	<-done
	util.LogInfo("receiver stopped")
}

// Port returns the actual bound port, useful when configured with port 0.
func (r *Receiver) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return r.cfg.Port
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// GetStats returns a snapshot of the receiver counters.
func (r *Receiver) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Connected:       r.client != nil,
		PacketsReceived: r.loss.received,
		PacketsLost:     r.loss.lost,
	}
	if r.client != nil {
		s.ClientIP = r.client.IP.String()
	}
	if total := r.loss.received + r.loss.lost; total > 0 {
		s.LossRate = float64(r.loss.lost) / float64(total) * 100
	}
	return s
}

func (r *Receiver) receiveLoop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufferSize)
	for {
		conn.SetReadDeadline(time.Now().Add(socketPollInterval))
		n, addr, err := conn.ReadFromUDP(buf)

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				r.checkClientTimeout()
				continue
			}
			// Socket closed or unusable; Stop owns the shutdown path.
			r.dropClient()
			return
		}

		r.handlePacket(buf[:n], addr)
	}
}

func (r *Receiver) handlePacket(data []byte, addr *net.UDPAddr) {
	pkt, err := protocol.Decode(data)
	if err != nil {
		// Stray or malformed datagram; never fatal.
		util.LogDebug("dropping malformed datagram from %s: %v", addr, err)
		return
	}
	util.Stats.AddRecv(len(data))

	r.mu.Lock()
	newClient := r.client == nil || !r.client.IP.Equal(addr.IP) || r.client.Port != addr.Port
	if newClient {
		r.client = addr
		r.loss.reset()
	}
	r.lastSeen = time.Now()
	lost := r.loss.observe(pkt.Sequence)
	r.mu.Unlock()

	if lost > 0 {
		util.Stats.AddLost(lost)
	}
	if newClient {
		util.LogSuccess("client connected: %s", addr)
		if r.OnClientConnected != nil {
			r.OnClientConnected(addr.IP.String())
		}
	}

	switch pkt.Type {
	case protocol.TypeAudio:
		if len(pkt.Payload) > 0 && r.OnAudio != nil {
			r.OnAudio(pkt.Payload)
		}
		// Periodic acks during streaming keep the mic's latency estimate
		// fresh without acking every frame.
		r.mu.Lock()
		due := time.Since(r.lastAck) > r.cfg.AckInterval
		if due {
			r.lastAck = time.Now()
		}
		r.mu.Unlock()
		if due {
			r.sendAck(addr)
		}

	case protocol.TypeKeepalive:
		r.mu.Lock()
		r.lastAck = time.Now()
		r.mu.Unlock()
		r.sendAck(addr)

	case protocol.TypeDisconnect:
		r.dropClient()
	}
}

// sendAck replies with a typed ack carrying the receiver's own sequence.
func (r *Receiver) sendAck(addr *net.UDPAddr) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}

	data := protocol.Encode(protocol.TypeAck, r.ackSeq.Next(), nil)
	if _, err := conn.WriteToUDP(data, addr); err == nil {
		util.Stats.AddSent(len(data))
	}
}

// checkClientTimeout declares the client gone after the heartbeat bound of
// silence.
func (r *Receiver) checkClientTimeout() {
	r.mu.Lock()
	timedOut := r.client != nil && time.Since(r.lastSeen) > r.cfg.HeartbeatTimeout
	r.mu.Unlock()
	if timedOut {
		r.dropClient()
	}
}

func (r *Receiver) dropClient() {
	r.mu.Lock()
	had := r.client != nil
	r.client = nil
	r.mu.Unlock()

	if had {
		util.LogInfo("client disconnected")
		if r.OnClientDisconnected != nil {
			r.OnClientDisconnected()
		}
	}
}
