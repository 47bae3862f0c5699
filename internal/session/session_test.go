package session

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/meomic/meomic/internal/config"
	"github.com/meomic/meomic/internal/protocol"
)

// fakeReceiver is an in-process UDP peer. It records every packet and, when
// acking is enabled, replies to each datagram with a typed ack.
type fakeReceiver struct {
	t    *testing.T
	conn *net.UDPConn

	mu      sync.Mutex
	packets []*protocol.Packet
	ack     bool
	ackSeq  uint32
	garbage bool // reply with a non-magic datagram instead of an ack
}

func newFakeReceiver(t *testing.T, ack bool) *fakeReceiver {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeReceiver{t: t, conn: conn, ack: ack}
	t.Cleanup(func() { conn.Close() })
	go f.loop()
	return f
}

func (f *fakeReceiver) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeReceiver) loop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.packets = append(f.packets, pkt)
		ack, garbage := f.ack, f.garbage
		seq := f.ackSeq
		f.ackSeq++
		f.mu.Unlock()

		if garbage {
			f.conn.WriteToUDP([]byte("not a meomic packet"), addr)
		} else if ack {
			f.conn.WriteToUDP(protocol.Encode(protocol.TypeAck, seq, nil), addr)
		}
	}
}

func (f *fakeReceiver) recorded() []*protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Packet, len(f.packets))
	copy(out, f.packets)
	return out
}

// testConfig shortens the timeouts so failure paths run quickly.
func testConfig() config.ProtocolConfig {
	cfg := config.Default().Protocol
	cfg.HandshakeTimeout = 300 * time.Millisecond
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	return cfg
}

func TestConnectHandshake(t *testing.T) {
	peer := newFakeReceiver(t, true)
	s := New(testConfig())
	defer s.Disconnect()

	if err := s.Connect("127.0.0.1", peer.port()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if s.State().Get() != StateConnected {
		t.Fatalf("state = %s, want connected", s.State().Get())
	}

	pkts := peer.recorded()
	if len(pkts) != 1 || pkts[0].Type != protocol.TypeKeepalive || pkts[0].Sequence != 0 {
		t.Fatalf("handshake packets = %+v, want one keepalive with sequence 0", pkts)
	}
}

func TestConnectTimeoutLeavesDisconnected(t *testing.T) {
	peer := newFakeReceiver(t, false) // never responds
	s := New(testConfig())

	err := s.Connect("127.0.0.1", peer.port())
	if !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("Connect error = %v, want ErrPeerUnreachable", err)
	}
	if s.State().Get() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", s.State().Get())
	}

	// A fresh connect must start from sequence 0 again.
	peer2 := newFakeReceiver(t, true)
	if err := s.Connect("127.0.0.1", peer2.port()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	defer s.Disconnect()
	if pkts := peer2.recorded(); len(pkts) != 1 || pkts[0].Sequence != 0 {
		t.Fatalf("reconnect handshake = %+v, want sequence 0", pkts)
	}
}

func TestConnectRejectsMalformedResponse(t *testing.T) {
	peer := newFakeReceiver(t, false)
	peer.mu.Lock()
	peer.garbage = true
	peer.mu.Unlock()

	s := New(testConfig())
	err := s.Connect("127.0.0.1", peer.port())
	if !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("Connect error = %v, want ErrPeerUnreachable", err)
	}
	if s.State().Get() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", s.State().Get())
	}
}

// TestStreamingSequenceNumbers covers the full scenario: connect, ten audio
// frames numbered 1..10 on the wire, one disconnect packet, and no-op sends
// afterwards.
func TestStreamingSequenceNumbers(t *testing.T) {
	peer := newFakeReceiver(t, true)
	s := New(testConfig())

	if err := s.Connect("127.0.0.1", peer.port()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	frame := make([]byte, 960)
	for i := 0; i < 10; i++ {
		s.SendAudio(frame)
	}
	s.Disconnect()
	s.SendAudio(frame) // no-op while idle
	s.SendKeepalive()  // no-op while idle

	deadline := time.Now().Add(2 * time.Second)
	var pkts []*protocol.Packet
	for time.Now().Before(deadline) {
		pkts = peer.recorded()
		if len(pkts) >= 12 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(pkts) != 12 {
		t.Fatalf("received %d packets, want 12 (keepalive + 10 audio + disconnect)", len(pkts))
	}

	for i := 1; i <= 10; i++ {
		pkt := pkts[i]
		if pkt.Type != protocol.TypeAudio {
			t.Errorf("packet %d type = %s, want audio", i, protocol.TypeName(pkt.Type))
		}
		if pkt.Sequence != uint32(i) {
			t.Errorf("packet %d sequence = %d, want %d", i, pkt.Sequence, i)
		}
		if len(pkt.Payload) != 960 {
			t.Errorf("packet %d payload = %d bytes, want 960", i, len(pkt.Payload))
		}
	}
	last := pkts[11]
	if last.Type != protocol.TypeDisconnect || last.Sequence != 11 {
		t.Errorf("final packet = %s seq=%d, want disconnect seq=11", protocol.TypeName(last.Type), last.Sequence)
	}
}

func TestListenUpdatesLatency(t *testing.T) {
	peer := newFakeReceiver(t, true)
	s := New(testConfig())
	defer s.Disconnect()

	if err := s.Connect("127.0.0.1", peer.port()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Listen()
		close(done)
	}()

	s.SendKeepalive()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Latency().Get() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Latency().Get() <= 0 {
		t.Error("latency never updated from keepalive response")
	}

	s.Disconnect()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not exit after Disconnect")
	}
}

// TestListenHeartbeatTimeout verifies a silent peer trips the heartbeat
// bound, drops the session to disconnected exactly once, and ends the loop.
func TestListenHeartbeatTimeout(t *testing.T) {
	peer := newFakeReceiver(t, true)
	s := New(testConfig())
	defer s.Disconnect()

	if err := s.Connect("127.0.0.1", peer.port()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Go quiet after the handshake.
	peer.mu.Lock()
	peer.ack = false
	peer.mu.Unlock()

	transitions := 0
	s.State().Watch(func(st State) {
		if st == StateDisconnected {
			transitions++
		}
	})

	done := make(chan struct{})
	go func() {
		s.Listen()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not exit on heartbeat timeout")
	}
	if s.State().Get() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State().Get())
	}
	if transitions != 1 {
		t.Errorf("observed %d disconnect transitions, want exactly 1", transitions)
	}
}
