// Package demux classifies datagrams arriving on a shared media socket.
//
// A single UDP port carries STUN, DTLS and SRTP/SRTCP for every peer. The
// first byte of each datagram identifies the protocol as described in
// RFC 7983 Section 7:
//
//	                +----------------+
//	                |        [0..3] -+--> forward to STUN
//	                |                |
//	                |      [16..19] -+--> forward to ZRTP
//	                |                |
//	    packet -->  |      [20..63] -+--> forward to DTLS
//	                |                |
//	                |      [64..79] -+--> forward to TURN Channel
//	                |                |
//	                |    [128..191] -+--> forward to RTP/RTCP
//	                +----------------+
package demux

// Class identifies the protocol carried by a datagram.
type Class int

const (
	// ClassUnknown is any first byte outside the RFC 7983 ranges.
	ClassUnknown Class = iota
	// ClassSTUN covers first bytes 0-3.
	ClassSTUN
	// ClassZRTP covers first bytes 16-19. Not supported.
	ClassZRTP
	// ClassDTLS covers first bytes 20-63.
	ClassDTLS
	// ClassTURNChannel covers first bytes 64-79. Not supported.
	ClassTURNChannel
	// ClassRTP covers first bytes 128-191 (RTP and RTCP).
	ClassRTP
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassSTUN:
		return "STUN"
	case ClassZRTP:
		return "ZRTP"
	case ClassDTLS:
		return "DTLS"
	case ClassTURNChannel:
		return "TURN"
	case ClassRTP:
		return "RTP"
	default:
		return "Unknown"
	}
}

// Supported returns true for classes this server processes.
func (c Class) Supported() bool {
	return c == ClassSTUN || c == ClassDTLS || c == ClassRTP
}

// Classify returns the class of a datagram based on its first byte.
// An empty datagram is ClassUnknown.
func Classify(b []byte) Class {
	if len(b) == 0 {
		return ClassUnknown
	}
	return ClassifyByte(b[0])
}

// ClassifyByte maps a first byte to its RFC 7983 class.
func ClassifyByte(b byte) Class {
	switch {
	case b <= 3:
		return ClassSTUN
	case b >= 16 && b <= 19:
		return ClassZRTP
	case b >= 20 && b <= 63:
		return ClassDTLS
	case b >= 64 && b <= 79:
		return ClassTURNChannel
	case b >= 128 && b <= 191:
		return ClassRTP
	default:
		return ClassUnknown
	}
}

// RTCP packet types occupy 192-223 in the second byte (RFC 5761 Section 4).
const (
	rtcpPacketTypeMin = 192
	rtcpPacketTypeMax = 223
)

// IsRTCP reports whether an RTP-class datagram is RTCP.
// Callers must have classified b as ClassRTP first.
func IsRTCP(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[1] >= rtcpPacketTypeMin && b[1] <= rtcpPacketTypeMax
}
