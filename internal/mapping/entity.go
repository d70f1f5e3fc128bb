// Package mapping owns the entity-to-channel table: the persistent mapping
// set, its validation at the load boundary, and the read-mostly snapshot the
// pipeline consults on every frame.
package mapping

import "fmt"

// EntityType says how an entity's channels decode.
type EntityType string

const (
	TypeSwitch    EntityType = "switch"
	TypeDimmer    EntityType = "dimmer"
	TypeRGB       EntityType = "rgb"
	TypeRGBW      EntityType = "rgbw"
	TypeRGBWW     EntityType = "rgbww"
	TypeColorTemp EntityType = "color_temp"
)

// ColorChannels returns how many color channels follow the master channel
// for this type, or -1 for an unknown type.
func (t EntityType) ColorChannels() int {
	switch t {
	case TypeSwitch, TypeDimmer, TypeColorTemp:
		return 0
	case TypeRGB:
		return 3
	case TypeRGBW:
		return 4
	case TypeRGBWW:
		return 5
	}
	return -1
}

// Valid reports whether t is one of the known types.
func (t EntityType) Valid() bool { return t.ColorChannels() >= 0 }

// Entity maps one controllable device onto DMX channels. The JSON field
// names are the store's on-disk format.
type Entity struct {
	ID            string     `json:"entity_id"`
	Type          EntityType `json:"entity_type"`
	Name          string     `json:"name,omitempty"`
	MasterChannel int        `json:"dmx_channel"`
	ColorChannels []int      `json:"rgb_channels,omitempty"`
}

// Span returns every channel the entity claims, master first.
func (e Entity) Span() []int {
	span := make([]int, 0, 1+len(e.ColorChannels))
	span = append(span, e.MasterChannel)
	span = append(span, e.ColorChannels...)
	return span
}

// Validate checks the entity in isolation: known type, channels in range,
// color channel count matching the type, no channel claimed twice.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("mapping: empty entity id")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("mapping %s: unknown type %q", e.ID, e.Type)
	}
	if want, got := e.Type.ColorChannels(), len(e.ColorChannels); want != got {
		return fmt.Errorf("mapping %s: type %s needs %d color channels, got %d", e.ID, e.Type, want, got)
	}
	seen := make(map[int]bool, 1+len(e.ColorChannels))
	for _, ch := range e.Span() {
		if ch < 1 || ch > 512 {
			return fmt.Errorf("mapping %s: channel %d out of range [1,512]", e.ID, ch)
		}
		if seen[ch] {
			return fmt.Errorf("mapping %s: channel %d claimed twice", e.ID, ch)
		}
		seen[ch] = true
	}
	return nil
}

// withMaster returns a copy of e moved to a new master channel, with the
// color channels re-derived as the consecutive run after it.
func (e Entity) withMaster(master int) Entity {
	e.MasterChannel = master
	n := e.Type.ColorChannels()
	if n <= 0 {
		e.ColorChannels = nil
		return e
	}
	colors := make([]int, n)
	for i := range colors {
		colors[i] = master + 1 + i
	}
	e.ColorChannels = colors
	return e
}
