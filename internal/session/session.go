// Package session implements the connect/heartbeat state machine over one
// UDP socket: handshake, sequenced send path, latency tracking, and
// timeout-based loss-of-link detection.
package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/meomic/meomic/internal/config"
	"github.com/meomic/meomic/internal/protocol"
	"github.com/meomic/meomic/internal/signalval"
	"github.com/meomic/meomic/internal/util"
)

// ErrPeerUnreachable means the handshake got no well-formed response within
// the handshake timeout. Surfaced synchronously from Connect; never retried
// automatically.
var ErrPeerUnreachable = errors.New("peer unreachable")

// State is the externally observable connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// recvBufferSize is large enough for any single datagram on a local link.
const recvBufferSize = 65536

// Session owns one UDP transport and its connection state. The state machine
// is disconnected, connecting, connected, back to disconnected; any operation
// other than Connect is a no-op while disconnected. All mutation funnels
// through the session's own
// methods: Connect and Disconnect from the orchestrator's goroutine, send
// failures from the send path, and heartbeat timeouts only from Listen.
type Session struct {
	cfg config.ProtocolConfig

	mu       sync.Mutex
	conn     *net.UDPConn
	peerHost string
	peerPort int
	lastSend time.Time

	seq *protocol.SeqGen

	state   *signalval.Value[State]
	latency *signalval.Value[time.Duration]
}

// New creates an idle session.
func New(cfg config.ProtocolConfig) *Session {
	return &Session{
		cfg:     cfg,
		seq:     protocol.NewSeqGen(),
		state:   signalval.NewValue(StateDisconnected),
		latency: signalval.NewValue(time.Duration(0)),
	}
}

// State exposes the observable connection state.
func (s *Session) State() *signalval.Value[State] {
	return s.state
}

// Latency exposes the best-effort round-trip estimate. Informational only;
// it never gates audio delivery.
func (s *Session) Latency() *signalval.Value[time.Duration] {
	return s.latency
}

// Connected reports whether the session is in steady state.
func (s *Session) Connected() bool {
	return s.state.Get() == StateConnected
}

// Connect tears down any prior session state, opens a UDP socket to the
// peer, and performs the handshake: one keepalive, then a bounded wait for
// any response carrying the protocol magic. On timeout or a malformed
// response it returns ErrPeerUnreachable with the session back in the disconnected state.
func (s *Session) Connect(host string, port int) error {
	s.Disconnect() // idempotent re-entry

	s.state.Set(StateConnecting)

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		s.state.Set(StateDisconnected)
		return fmt.Errorf("%w: resolve %s:%d: %v", ErrPeerUnreachable, host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		s.state.Set(StateDisconnected)
		return fmt.Errorf("%w: dial %s:%d: %v", ErrPeerUnreachable, host, port, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.peerHost = host
	s.peerPort = port
	s.seq.Reset()
	s.mu.Unlock()

	// Handshake: one keepalive, one bounded wait.
	handshake := protocol.Encode(protocol.TypeKeepalive, s.seq.Next(), nil)
	s.mu.Lock()
	s.lastSend = time.Now()
	s.mu.Unlock()
	if _, err := conn.Write(handshake); err != nil {
		s.teardown()
		return fmt.Errorf("%w: handshake send: %v", ErrPeerUnreachable, err)
	}
	util.Stats.AddSent(len(handshake))

	buf := make([]byte, recvBufferSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	n, err := conn.Read(buf)
	if err != nil || !protocol.HasMagic(buf[:n]) {
		s.teardown()
		if err != nil {
			return fmt.Errorf("%w: no handshake response within %s", ErrPeerUnreachable, s.cfg.HandshakeTimeout)
		}
		return fmt.Errorf("%w: malformed handshake response", ErrPeerUnreachable)
	}
	util.Stats.AddRecv(n)

	// Steady state: widen the receive bound to the heartbeat timeout.
	conn.SetReadDeadline(time.Time{})
	now := time.Now()
	s.mu.Lock()
	s.latency.Set(now.Sub(s.lastSend))
	s.mu.Unlock()
	s.state.Set(StateConnected)

	util.LogSuccess("connected to %s:%d", host, port)
	return nil
}

// SendAudio wraps a captured frame as an audio packet with the next sequence
// number and transmits it. A no-op when not connected. Transport failures
// drop the session to disconnected without returning an error; streaming
// degrades silently and is observed through the state signal.
func (s *Session) SendAudio(frame []byte) {
	s.send(protocol.TypeAudio, frame)
}

// SendKeepalive transmits an empty keepalive packet; the orchestrator's
// timer uses it to keep the link warm and to produce latency samples.
func (s *Session) SendKeepalive() {
	s.send(protocol.TypeKeepalive, nil)
}

func (s *Session) send(typ uint8, payload []byte) {
	if s.state.Get() != StateConnected {
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	data := protocol.Encode(typ, s.seq.Next(), payload)

	s.mu.Lock()
	s.lastSend = time.Now()
	s.mu.Unlock()

	if _, err := conn.Write(data); err != nil {
		util.LogWarning("send failed (%s): %v", protocol.TypeName(typ), err)
		s.state.Set(StateDisconnected)
		return
	}
	util.Stats.AddSent(len(data))
}

// Listen is the receive loop and the sole heartbeat-timeout authority. Valid
// only while Connected; it blocks on the socket for at most the heartbeat
// bound per iteration. A well-formed response refreshes the last-response
// time and recomputes latency as now − lastSend. Silence longer than the
// heartbeat bound, or any other transport error, transitions the session to
// disconnected exactly once and ends the loop.
func (s *Session) Listen() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.state.Get() != StateConnected {
		return
	}

	buf := make([]byte, recvBufferSize)
	lastResponse := time.Now()

	for s.state.Get() == StateConnected {
		conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
		n, err := conn.Read(buf)

		if err != nil {
			if isTimeout(err) {
				if time.Since(lastResponse) > s.cfg.HeartbeatTimeout {
					util.LogWarning("no response for %s, link lost", s.cfg.HeartbeatTimeout)
					s.state.Set(StateDisconnected)
					return
				}
				continue
			}
			if s.state.Get() == StateConnected {
				util.LogWarning("receive error: %v", err)
				s.state.Set(StateDisconnected)
			}
			return
		}

		if !protocol.HasMagic(buf[:n]) {
			// Stray datagram on the port; drop it. Never fatal.
			continue
		}
		util.Stats.AddRecv(n)

		if pkt, err := protocol.Decode(buf[:n]); err == nil {
			util.LogDebug("response %s seq=%d", protocol.TypeName(pkt.Type), pkt.Sequence)
		}

		lastResponse = time.Now()
		s.mu.Lock()
		lastSend := s.lastSend
		s.mu.Unlock()
		s.latency.Set(lastResponse.Sub(lastSend))
	}
}

// Disconnect sends a best-effort disconnect packet (failures swallowed),
// then always closes the transport, clears the peer address, resets the
// sequence counter, and returns the session to the disconnected state.
func (s *Session) Disconnect() {
	if s.state.Get() == StateConnected {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			data := protocol.Encode(protocol.TypeDisconnect, s.seq.Next(), nil)
			if _, err := conn.Write(data); err == nil {
				util.Stats.AddSent(len(data))
			}
		}
	}
	s.teardown()
}

// teardown closes the transport and resets all session state. Disconnect
// must always succeed locally regardless of the wire.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.peerHost = ""
	s.peerPort = 0
	s.seq.Reset()
	s.mu.Unlock()

	s.latency.Set(0)
	s.state.Set(StateDisconnected)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
