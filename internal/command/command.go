// Package command defines the semantic commands decoded from DMX data and
// the sink contract that carries them to a device control plane.
package command

import "fmt"

// Kind tags the command variant.
type Kind uint8

const (
	KindPower      Kind = iota + 1 // plain on/off
	KindBrightness                 // brightness level, 0 meaning off
	KindColor                      // brightness paired with a color value
	KindColorTemp                  // brightness paired with a white temperature
)

func (k Kind) String() string {
	switch k {
	case KindPower:
		return "power"
	case KindBrightness:
		return "brightness"
	case KindColor:
		return "color"
	case KindColorTemp:
		return "colortemp"
	}
	return "unknown"
}

// Space says which white channels a color command carries.
type Space uint8

const (
	SpaceRGB Space = iota + 1
	SpaceRGBW
	SpaceRGBWW
)

// Command is one decoded control action for a single entity. It is a plain
// comparable value: the pipeline's change gate is ==. Fields outside the
// variant selected by Kind stay zero.
type Command struct {
	Kind       Kind
	On         bool   // KindPower
	Brightness uint8  // KindBrightness, KindColor, KindColorTemp
	Space      Space  // KindColor
	R, G, B    uint8  // KindColor
	W          uint8  // SpaceRGBW
	CW, WW     uint8  // SpaceRGBWW
	Kelvin     uint16 // KindColorTemp
}

func Power(on bool) Command {
	return Command{Kind: KindPower, On: on}
}

func Brightness(level uint8) Command {
	return Command{Kind: KindBrightness, Brightness: level}
}

func RGB(level, r, g, b uint8) Command {
	return Command{Kind: KindColor, Brightness: level, Space: SpaceRGB, R: r, G: g, B: b}
}

func RGBW(level, r, g, b, w uint8) Command {
	return Command{Kind: KindColor, Brightness: level, Space: SpaceRGBW, R: r, G: g, B: b, W: w}
}

// RGBWW carries cold and warm white levels next to RGB. How the two whites
// combine is the sink's business; the pipeline passes them through opaquely.
func RGBWW(level, r, g, b, cw, ww uint8) Command {
	return Command{Kind: KindColor, Brightness: level, Space: SpaceRGBWW, R: r, G: g, B: b, CW: cw, WW: ww}
}

func ColorTemp(level uint8, kelvin uint16) Command {
	return Command{Kind: KindColorTemp, Brightness: level, Kelvin: kelvin}
}

// Off reports whether the command means "turn the device off": an explicit
// power-off, or any leveled command at brightness zero.
func (c Command) Off() bool {
	switch c.Kind {
	case KindPower:
		return !c.On
	default:
		return c.Brightness == 0
	}
}

func (c Command) String() string {
	switch c.Kind {
	case KindPower:
		if c.On {
			return "on"
		}
		return "off"
	case KindBrightness:
		return fmt.Sprintf("brightness:%d", c.Brightness)
	case KindColor:
		switch c.Space {
		case SpaceRGBW:
			return fmt.Sprintf("rgbw(%d,%d,%d,%d) brightness:%d", c.R, c.G, c.B, c.W, c.Brightness)
		case SpaceRGBWW:
			return fmt.Sprintf("rgbww(%d,%d,%d,%d,%d) brightness:%d", c.R, c.G, c.B, c.CW, c.WW, c.Brightness)
		default:
			return fmt.Sprintf("rgb(%d,%d,%d) brightness:%d", c.R, c.G, c.B, c.Brightness)
		}
	case KindColorTemp:
		return fmt.Sprintf("temp:%dK brightness:%d", c.Kelvin, c.Brightness)
	}
	return "invalid"
}
