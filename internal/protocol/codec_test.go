package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for all packet types with various payload sizes.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name     string
		typ      uint8
		sequence uint32
		payload  []byte
	}{
		{name: "keepalive with no payload", typ: TypeKeepalive, sequence: 0, payload: nil},
		{name: "audio with small payload", typ: TypeAudio, sequence: 42, payload: []byte("hello world")},
		{name: "disconnect with no payload", typ: TypeDisconnect, sequence: 100, payload: nil},
		{name: "ack with no payload", typ: TypeAck, sequence: 7, payload: nil},
		{name: "audio with one 10ms frame", typ: TypeAudio, sequence: 999, payload: make([]byte, 960)},
		{name: "audio with empty payload", typ: TypeAudio, sequence: 555, payload: []byte{}},
		{name: "sequence at wraparound boundary", typ: TypeAudio, sequence: math.MaxUint32, payload: []byte{1, 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.typ, tc.sequence, tc.payload)

			if len(encoded) != HeaderSize+len(tc.payload) {
				t.Fatalf("encoded length = %d, want %d", len(encoded), HeaderSize+len(tc.payload))
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Type != tc.typ {
				t.Errorf("Type mismatch: got %d, want %d", decoded.Type, tc.typ)
			}
			if decoded.Sequence != tc.sequence {
				t.Errorf("Sequence mismatch: got %d, want %d", decoded.Sequence, tc.sequence)
			}
			if decoded.Version != Version {
				t.Errorf("Version mismatch: got %d, want %d", decoded.Version, Version)
			}
			if !bytes.Equal(decoded.Payload, tc.payload) && len(tc.payload) > 0 {
				t.Errorf("Payload mismatch: got %d bytes, want %d bytes", len(decoded.Payload), len(tc.payload))
			}
		})
	}
}

// TestEncodeWireLayout pins the exact byte layout expected by the desktop
// receiver: magic, version, type, big-endian sequence, payload verbatim.
func TestEncodeWireLayout(t *testing.T) {
	payload := []byte{0xAA, 0xBB}
	encoded := Encode(TypeAudio, 0x01020304, payload)

	if encoded[0] != 'W' || encoded[1] != 'M' {
		t.Errorf("magic bytes = %q%q, want WM", encoded[0], encoded[1])
	}
	if encoded[2] != Version {
		t.Errorf("version byte = %d, want %d", encoded[2], Version)
	}
	if encoded[3] != TypeAudio {
		t.Errorf("type byte = %d, want %d", encoded[3], TypeAudio)
	}
	if got := binary.BigEndian.Uint32(encoded[4:8]); got != 0x01020304 {
		t.Errorf("sequence = %08x, want 01020304", got)
	}
	if !bytes.Equal(encoded[8:], payload) {
		t.Errorf("payload = %v, want %v", encoded[8:], payload)
	}
}

// TestDecodeRejectsMalformed verifies short buffers and bad magic fail with
// ErrInvalidPacket.
func TestDecodeRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{name: "empty buffer", data: nil},
		{name: "one byte", data: []byte{'W'}},
		{name: "seven bytes", data: []byte{'W', 'M', 1, 0, 0, 0, 0}},
		{name: "wrong magic", data: []byte{'X', 'Y', 1, 0, 0, 0, 0, 0}},
		{name: "half magic", data: []byte{'W', 'X', 1, 0, 0, 0, 0, 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); !errors.Is(err, ErrInvalidPacket) {
				t.Errorf("Decode(%v) error = %v, want ErrInvalidPacket", tc.data, err)
			}
		})
	}
}

func TestHasMagic(t *testing.T) {
	if !HasMagic([]byte{'W', 'M'}) {
		t.Error("HasMagic rejected a bare magic tag")
	}
	if HasMagic([]byte{'W'}) {
		t.Error("HasMagic accepted a single byte")
	}
	if HasMagic([]byte{'M', 'W', 0, 0}) {
		t.Error("HasMagic accepted swapped magic")
	}
}
