package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidPacket is returned by Decode for buffers that are too short or
// do not carry the magic tag. Malformed datagrams are expected on an open
// UDP port; callers drop them silently.
var ErrInvalidPacket = errors.New("invalid packet")

// Encode serializes a packet into a datagram-ready byte slice.
// The result is exactly HeaderSize + len(payload) bytes.
func Encode(typ uint8, sequence uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = Magic[0]
	buf[1] = Magic[1]
	buf[2] = Version
	buf[3] = typ
	binary.BigEndian.PutUint32(buf[4:8], sequence)
	if len(payload) > 0 {
		copy(buf[HeaderSize:], payload)
	}
	return buf
}

// Decode deserializes a datagram into a Packet.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrInvalidPacket, len(data), HeaderSize)
	}
	if data[0] != Magic[0] || data[1] != Magic[1] {
		return nil, fmt.Errorf("%w: bad magic %02x%02x", ErrInvalidPacket, data[0], data[1])
	}
	pkt := &Packet{
		Version:  data[2],
		Type:     data[3],
		Sequence: binary.BigEndian.Uint32(data[4:8]),
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}

// HasMagic reports whether a raw datagram starts with the protocol magic.
// The session's handshake and heartbeat checks accept any magic-matching
// response as proof of liveness without fully decoding it.
func HasMagic(data []byte) bool {
	return len(data) >= 2 && data[0] == Magic[0] && data[1] == Magic[1]
}
