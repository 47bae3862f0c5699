// Package protocol defines the MeoMic packet format shared by the mic and
// receiver roles.
package protocol

// Magic is the two-byte tag at the start of every MeoMic datagram.
var Magic = [2]byte{'W', 'M'}

// Version is the protocol version carried in every header.
const Version uint8 = 1

// Packet type constants.
const (
	TypeAudio      uint8 = 0 // raw PCM payload
	TypeKeepalive  uint8 = 1 // empty payload, keeps the link warm
	TypeDisconnect uint8 = 2 // best-effort goodbye
	TypeAck        uint8 = 3 // receiver's reply to keepalive/audio
)

// HeaderSize is the fixed header size: Magic(2) + Version(1) + Type(1) + Sequence(4).
const HeaderSize = 8

// Packet represents one MeoMic datagram.
type Packet struct {
	Version  uint8
	Type     uint8  // TypeAudio, TypeKeepalive, TypeDisconnect, or TypeAck
	Sequence uint32 // per-session, wraps at 2^32
	Payload  []byte // 16-bit LE mono PCM for TypeAudio, empty otherwise
}

// TypeName returns a human-readable name for a packet type byte.
func TypeName(t uint8) string {
	switch t {
	case TypeAudio:
		return "audio"
	case TypeKeepalive:
		return "keepalive"
	case TypeDisconnect:
		return "disconnect"
	case TypeAck:
		return "ack"
	default:
		return "unknown"
	}
}
