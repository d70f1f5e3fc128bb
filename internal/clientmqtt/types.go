package clientmqtt

import (
	"encoding/json"

	"artnet2ha/internal/command"
)

// payloadFor renders the published message body. The shape follows the
// common JSON light schema: state plus brightness, a color object keyed
// r/g/b/c/w, or a kelvin temperature, depending on the command.
func payloadFor(cmd command.Command) ([]byte, error) {
	msg := map[string]any{"state": "OFF"}
	if cmd.Off() {
		return json.Marshal(msg)
	}

	msg["state"] = "ON"
	switch cmd.Kind {
	case command.KindBrightness:
		msg["brightness"] = int(cmd.Brightness)
	case command.KindColor:
		msg["brightness"] = int(cmd.Brightness)
		color := map[string]int{"r": int(cmd.R), "g": int(cmd.G), "b": int(cmd.B)}
		switch cmd.Space {
		case command.SpaceRGBW:
			color["w"] = int(cmd.W)
			msg["color_mode"] = "rgbw"
		case command.SpaceRGBWW:
			color["c"] = int(cmd.CW)
			color["w"] = int(cmd.WW)
			msg["color_mode"] = "rgbww"
		default:
			msg["color_mode"] = "rgb"
		}
		msg["color"] = color
	case command.KindColorTemp:
		msg["brightness"] = int(cmd.Brightness)
		msg["color_temp_kelvin"] = int(cmd.Kelvin)
		msg["color_mode"] = "color_temp"
	}
	return json.Marshal(msg)
}
