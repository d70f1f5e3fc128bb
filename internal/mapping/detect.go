package mapping

import (
	"slices"

	"artnet2ha/internal/command"
)

// typeRule matches a discovered entity onto a mapping type. A rule hits when
// the domain matches (empty means any) and, if a color mode is named, the
// entity supports it.
type typeRule struct {
	domain string
	mode   string
	result EntityType
}

// typeRules runs most to least specific; the first hit wins.
var typeRules = []typeRule{
	{domain: "switch", result: TypeSwitch},
	{domain: "light", mode: "rgbww", result: TypeRGBWW},
	{domain: "light", mode: "rgbw", result: TypeRGBW},
	{domain: "light", mode: "rgb", result: TypeRGB},
	{domain: "light", mode: "hs", result: TypeRGB},
	{domain: "light", mode: "color_temp", result: TypeColorTemp},
	{domain: "light", mode: "brightness", result: TypeDimmer},
	{domain: "light", result: TypeSwitch},
}

// DetectType classifies a discovered entity by its capabilities. The second
// return is false for domains this bridge cannot drive.
func DetectType(e command.DiscoveredEntity) (EntityType, bool) {
	for _, r := range typeRules {
		if r.domain != "" && r.domain != e.Domain {
			continue
		}
		if r.mode != "" && !slices.Contains(e.ColorModes, r.mode) {
			continue
		}
		return r.result, true
	}
	return "", false
}
