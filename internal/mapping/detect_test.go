package mapping

import (
	"testing"

	"artnet2ha/internal/command"
)

func TestDetectTypePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		entity command.DiscoveredEntity
		want   EntityType
	}{
		{
			name:   "switch domain wins regardless of modes",
			entity: command.DiscoveredEntity{ID: "switch.fan", Domain: "switch", ColorModes: []string{"rgb"}},
			want:   TypeSwitch,
		},
		{
			name:   "rgbww beats rgbw and rgb",
			entity: command.DiscoveredEntity{ID: "light.a", Domain: "light", ColorModes: []string{"rgb", "rgbw", "rgbww"}},
			want:   TypeRGBWW,
		},
		{
			name:   "rgbw beats rgb",
			entity: command.DiscoveredEntity{ID: "light.b", Domain: "light", ColorModes: []string{"rgbw", "rgb"}},
			want:   TypeRGBW,
		},
		{
			name:   "hs maps to rgb",
			entity: command.DiscoveredEntity{ID: "light.c", Domain: "light", ColorModes: []string{"hs"}},
			want:   TypeRGB,
		},
		{
			name:   "color temp only",
			entity: command.DiscoveredEntity{ID: "light.d", Domain: "light", ColorModes: []string{"color_temp"}},
			want:   TypeColorTemp,
		},
		{
			name:   "rgb beats color temp",
			entity: command.DiscoveredEntity{ID: "light.e", Domain: "light", ColorModes: []string{"color_temp", "rgb"}},
			want:   TypeRGB,
		},
		{
			name:   "brightness only is a dimmer",
			entity: command.DiscoveredEntity{ID: "light.f", Domain: "light", ColorModes: []string{"brightness"}},
			want:   TypeDimmer,
		},
		{
			name:   "bare light falls back to switch",
			entity: command.DiscoveredEntity{ID: "light.g", Domain: "light", ColorModes: []string{"onoff"}},
			want:   TypeSwitch,
		},
	}

	for _, tc := range cases {
		got, ok := DetectType(tc.entity)
		if !ok {
			t.Errorf("%s: expected a detectable type", tc.name)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestDetectTypeRejectsForeignDomains(t *testing.T) {
	for _, domain := range []string{"sensor", "climate", "media_player"} {
		if got, ok := DetectType(command.DiscoveredEntity{ID: domain + ".x", Domain: domain}); ok {
			t.Errorf("domain %s: unexpectedly detected as %s", domain, got)
		}
	}
}
