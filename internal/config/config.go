package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full bridge configuration.
type Config struct {
	Logger   LogConf      `toml:"logger"`        // Logger - log level and output.
	ArtNet   ArtNetConf   `toml:"artnet"`        // ArtNet - UDP listener settings.
	Pipeline PipelineConf `toml:"pipeline"`      // Pipeline - throttle and dispatch settings.
	Bridge   BridgeConf   `toml:"bridge"`        // Bridge - mapping store and channel assignment.
	Sink     SinkConf     `toml:"sink"`          // Sink - which downstream adapter to use.
	HA       HAConf       `toml:"homeassistant"` // HA - Home Assistant client.
	MQTT     MQTTConf     `toml:"mqtt"`          // MQTT - MQTT client.
	Web      WebConf      `toml:"web"`           // Web - status/config HTTP API.
}

// LogConf configures the logger.
type LogConf struct {
	Level      string `toml:"log-level"`   // Level - logrus level name.
	File       string `toml:"file"`        // File - log file path; empty logs to stdout.
	MaxSizeMB  int    `toml:"max-size-mb"` // MaxSizeMB - rotate after this size.
	MaxBackups int    `toml:"max-backups"` // MaxBackups - rotated files to keep.
}

// ArtNetConf configures the Art-Net receiver.
type ArtNetConf struct {
	BindIP   string `toml:"bind-ip"`  // BindIP - local address to bind.
	Port     int    `toml:"port"`     // Port - UDP port, 6454 by convention.
	Universe int    `toml:"universe"` // Universe - the one universe this bridge consumes.
}

// PipelineConf configures throttling and dispatch.
type PipelineConf struct {
	ThrottleWindow Duration `toml:"throttle-window"` // ThrottleWindow - min interval between dispatches per entity.
	MaxInFlight    int      `toml:"max-in-flight"`   // MaxInFlight - global cap on concurrent sink deliveries.
}

// BridgeConf configures mapping persistence and auto-assignment.
type BridgeConf struct {
	MappingsFile string `toml:"mappings-file"` // MappingsFile - JSON mapping store path.
	StartChannel int    `toml:"start-channel"` // StartChannel - first DMX channel for auto-assignment.
}

// SinkConf selects the downstream adapter.
type SinkConf struct {
	Type string `toml:"type"` // Type - "homeassistant" or "mqtt".
}

// HAConf configures the Home Assistant WebSocket client.
type HAConf struct {
	URL         string   `toml:"url"`          // URL - base URL, http(s) scheme.
	Token       string   `toml:"token"`        // Token - long-lived access token.
	Label       string   `toml:"label"`        // Label - entity label used for discovery.
	CallTimeout Duration `toml:"call-timeout"` // CallTimeout - per service-call deadline.
}

// MQTTConf configures the MQTT client.
type MQTTConf struct {
	ClientID       string   `toml:"clientID"`        // ClientID - client name for the broker.
	Schema         string   `toml:"schema"`          // Schema - broker connection scheme, usually tcp.
	Host           string   `toml:"server"`          // Host - MQTT server address.
	Port           string   `toml:"port"`            // Port - MQTT server port.
	User           string   `toml:"user"`            // User - broker login.
	Password       string   `toml:"password"`        // Password - broker password.
	Qos            byte     `toml:"qos"`             // Qos - quality of service for publishes.
	TopicPrefix    string   `toml:"topic-prefix"`    // TopicPrefix - commands go to <prefix>/<entity>/set.
	PublishTimeout Duration `toml:"publish-timeout"` // PublishTimeout - per publish deadline.
}

// WebConf configures the HTTP API.
type WebConf struct {
	Listen string `toml:"listen"` // Listen - address for the API server; empty disables it.
}

// Duration decodes a TOML string like "100ms" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// SinkHomeAssistant and SinkMQTT are the accepted [sink] type values.
const (
	SinkHomeAssistant = "homeassistant"
	SinkMQTT          = "mqtt"
)

// NewConfig loads path over the built-in defaults, applies environment
// overrides for secrets and validates the result. A missing file is not an
// error; the bridge runs on defaults plus environment.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Logger: LogConf{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		ArtNet: ArtNetConf{
			BindIP:   "0.0.0.0",
			Port:     6454,
			Universe: 0,
		},
		Pipeline: PipelineConf{
			ThrottleWindow: Duration(100 * time.Millisecond),
			MaxInFlight:    4,
		},
		Bridge: BridgeConf{
			MappingsFile: "entity_mappings.json",
			StartChannel: 1,
		},
		Sink: SinkConf{
			Type: SinkHomeAssistant,
		},
		HA: HAConf{
			URL:         "http://homeassistant.local:8123",
			Label:       "orchestream",
			CallTimeout: Duration(5 * time.Second),
		},
		MQTT: MQTTConf{
			ClientID:       "artnet2ha",
			Schema:         "tcp",
			Port:           "1883",
			Qos:            0,
			TopicPrefix:    "artnet2ha",
			PublishTimeout: Duration(5 * time.Second),
		},
		Web: WebConf{
			Listen: ":8000",
		},
	}
}

// Secrets come from the environment so the config file can be committed.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARTNET2HA_HA_TOKEN"); v != "" {
		cfg.HA.Token = v
	}
	if v := os.Getenv("ARTNET2HA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	if c.ArtNet.Port < 1 || c.ArtNet.Port > 65535 {
		return fmt.Errorf("config: artnet port %d out of range [1,65535]", c.ArtNet.Port)
	}
	if c.ArtNet.Universe < 0 || c.ArtNet.Universe > 0xFFFF {
		return fmt.Errorf("config: artnet universe %d out of range [0,65535]", c.ArtNet.Universe)
	}
	if c.Pipeline.ThrottleWindow <= 0 {
		return fmt.Errorf("config: throttle-window must be positive, got %v", c.Pipeline.ThrottleWindow.Duration())
	}
	if c.Pipeline.MaxInFlight < 1 {
		return fmt.Errorf("config: max-in-flight must be at least 1, got %d", c.Pipeline.MaxInFlight)
	}
	if c.Bridge.StartChannel < 1 || c.Bridge.StartChannel > 512 {
		return fmt.Errorf("config: start-channel %d out of range [1,512]", c.Bridge.StartChannel)
	}
	if c.Bridge.MappingsFile == "" {
		return fmt.Errorf("config: mappings-file must not be empty")
	}
	switch c.Sink.Type {
	case SinkHomeAssistant, SinkMQTT:
	default:
		return fmt.Errorf("config: unknown sink type %q", c.Sink.Type)
	}
	if c.Sink.Type == SinkHomeAssistant && c.HA.URL == "" {
		return fmt.Errorf("config: homeassistant url must not be empty")
	}
	if c.Sink.Type == SinkMQTT && c.MQTT.Host == "" {
		return fmt.Errorf("config: mqtt server must not be empty")
	}
	if c.MQTT.Qos > 2 {
		return fmt.Errorf("config: mqtt qos %d out of range [0,2]", c.MQTT.Qos)
	}
	return nil
}
