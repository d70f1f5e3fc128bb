package artnet

import (
	"encoding/binary"

	"artnet2ha/internal/metrics"
)

// ArtDMX wire layout: 8-byte signature, little-endian opcode, big-endian
// protocol version, sequence, physical port, little-endian universe,
// big-endian data length, then up to 512 channel bytes.
const (
	headerLen = 18
	opDMX     = 0x5000
	// minProtVer is the lowest protocol revision peers are allowed to speak.
	minProtVer = 14
	// Art-Net requires an even data length of at least 2; oversized lengths
	// cannot address a universe at all.
	minDataLen = 2
)

var signature = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0}

// parseArtDMX validates one datagram against the wanted universe and fills
// f on success. It returns the drop reason for rejected packets and ""
// when f holds a valid frame. It never panics on arbitrary input.
func parseArtDMX(data []byte, universe uint16, f *Frame) string {
	if len(data) < headerLen {
		return metrics.DropShort
	}
	if [8]byte(data[:8]) != signature {
		return metrics.DropSignature
	}
	if binary.LittleEndian.Uint16(data[8:10]) != opDMX {
		return metrics.DropOpcode
	}
	if binary.BigEndian.Uint16(data[10:12]) < minProtVer {
		return metrics.DropVersion
	}
	if binary.LittleEndian.Uint16(data[14:16]) != universe {
		return metrics.DropUniverse
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < minDataLen || length > UniverseSize {
		return metrics.DropLength
	}
	if len(data) < headerLen+length {
		return metrics.DropTruncated
	}

	f.Universe = universe
	f.Sequence = data[12]
	copy(f.Data[:], data[headerLen:headerLen+length])
	// Zero-pad channels past the received length so the frame always spans
	// the full universe.
	clear(f.Data[length:])
	return ""
}

// MarshalDMX builds an ArtDMX datagram carrying the given channel data.
// Lengths are clamped to the universe size and rounded up to the even
// length the protocol requires. Used by the test transmitter and in tests.
func MarshalDMX(universe uint16, sequence uint8, channels []byte) []byte {
	if len(channels) > UniverseSize {
		channels = channels[:UniverseSize]
	}
	length := len(channels)
	if length < minDataLen {
		length = minDataLen
	}
	if length%2 != 0 {
		length++
	}

	pkt := make([]byte, headerLen+length)
	copy(pkt, signature[:])
	binary.LittleEndian.PutUint16(pkt[8:10], opDMX)
	binary.BigEndian.PutUint16(pkt[10:12], minProtVer)
	pkt[12] = sequence
	pkt[13] = 0 // physical port
	binary.LittleEndian.PutUint16(pkt[14:16], universe)
	binary.BigEndian.PutUint16(pkt[16:18], uint16(length))
	copy(pkt[headerLen:], channels)
	return pkt
}
