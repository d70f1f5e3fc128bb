// Package pipeline turns validated DMX frames into throttled, ordered sink
// deliveries: decode per mapped entity, drop no-change commands, coalesce
// bursts per entity and hand the survivors to a bounded dispatcher.
package pipeline

import (
	"math"

	"artnet2ha/internal/artnet"
	"artnet2ha/internal/command"
	"artnet2ha/internal/mapping"
)

// switchThreshold is the highest channel value that still reads as off.
const switchThreshold = 125

const (
	kelvinMin  = 2000
	kelvinMax  = 6500
	kelvinSpan = kelvinMax - kelvinMin
)

// Decode maps one entity's channels from f to a semantic command. It is
// pure: no state is read or written, and every byte value decodes to
// something legal for the entity's type.
func Decode(f *artnet.Frame, e mapping.Entity) command.Command {
	master := f.Channel(e.MasterChannel)

	switch e.Type {
	case mapping.TypeSwitch:
		return command.Power(master > switchThreshold)
	case mapping.TypeDimmer:
		return command.Brightness(master)
	case mapping.TypeRGB:
		return command.RGB(master,
			f.Channel(e.ColorChannels[0]),
			f.Channel(e.ColorChannels[1]),
			f.Channel(e.ColorChannels[2]))
	case mapping.TypeRGBW:
		return command.RGBW(master,
			f.Channel(e.ColorChannels[0]),
			f.Channel(e.ColorChannels[1]),
			f.Channel(e.ColorChannels[2]),
			f.Channel(e.ColorChannels[3]))
	case mapping.TypeRGBWW:
		return command.RGBWW(master,
			f.Channel(e.ColorChannels[0]),
			f.Channel(e.ColorChannels[1]),
			f.Channel(e.ColorChannels[2]),
			f.Channel(e.ColorChannels[3]),
			f.Channel(e.ColorChannels[4]))
	case mapping.TypeColorTemp:
		return command.ColorTemp(master, kelvinFromByte(master))
	}
	return command.Command{}
}

// kelvinFromByte spreads the byte range over [2000K,6500K], rounded to the
// nearest kelvin.
func kelvinFromByte(b uint8) uint16 {
	k := kelvinMin + int(math.Round(float64(b)/255*kelvinSpan))
	if k < kelvinMin {
		k = kelvinMin
	}
	if k > kelvinMax {
		k = kelvinMax
	}
	return uint16(k)
}
