package artnet

// UniverseSize is the channel count of one DMX universe.
const UniverseSize = 512

// Frame is one validated DMX universe snapshot: the payload of a single
// ArtDMX packet, zero-padded to the full 512 channels. Frames are ephemeral
// values; the pipeline reads one during a decode pass and lets it go.
type Frame struct {
	Universe uint16
	Sequence uint8
	Data     [UniverseSize]byte
}

// Channel returns the value of a 1-based DMX channel, 0 when out of range.
func (f *Frame) Channel(ch int) uint8 {
	if ch < 1 || ch > UniverseSize {
		return 0
	}
	return f.Data[ch-1]
}
