package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

const (
	TransportSimulator = "simulator"
	TransportMQTT      = "mqtt"
)

var ErrInvalidConfig = errors.New("invalid config")

// SessionConfig identifies the target device and how the client introduces
// itself to the control server.
type SessionConfig struct {
	TargetName string `yaml:"target_name" json:"target_name" default:"Fleshlight Launch"`
	ClientName string `yaml:"client_name" json:"client_name" default:"Unity App"`
	ServerName string `yaml:"server_name" json:"server_name" default:"Websocket Server"`
	MaxPingMs  int64  `yaml:"max_ping_ms" json:"max_ping_ms"` // 0 disables server pings
}

// LoopConfig is the oscillation pattern.
type LoopConfig struct {
	StrokeDurationMs int     `yaml:"stroke_duration_ms" json:"stroke_duration_ms" default:"693"`
	UpPosition       float64 `yaml:"up_position" json:"up_position" default:"0.7"`
	DownPosition     float64 `yaml:"down_position" json:"down_position" default:"0.2"`
}

type InputConfig struct {
	MinCommandIntervalMs int `yaml:"min_command_interval_ms" json:"min_command_interval_ms" default:"100"`
}

type MQTTConfig struct {
	Host      string `yaml:"host" json:"host" default:"tcp://localhost:1883"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	TopicRoot string `yaml:"topic_root" json:"topic_root" default:"launchctl"`
}

// Config aggregates all application configuration.
type Config struct {
	Transport string        `yaml:"transport" json:"transport" default:"simulator"` // simulator or mqtt
	Session   SessionConfig `yaml:"session" json:"session"`
	Loop      LoopConfig    `yaml:"loop" json:"loop"`
	Input     InputConfig   `yaml:"input" json:"input"`
	MQTT      MQTTConfig    `yaml:"mqtt" json:"mqtt"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	return LoadOver(Default(), path)
}

// LoadOver reads a YAML file over a copy of base.
func LoadOver(base *Config, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := *base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSimulator:
	case TransportMQTT:
		if c.MQTT.Host == "" {
			return fmt.Errorf("%w: mqtt.host is required for the mqtt transport", ErrInvalidConfig)
		}
		if c.MQTT.TopicRoot == "" {
			return fmt.Errorf("%w: mqtt.topic_root is required for the mqtt transport", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}

	if c.Session.TargetName == "" {
		return fmt.Errorf("%w: session.target_name is required", ErrInvalidConfig)
	}
	if c.Session.MaxPingMs < 0 {
		return fmt.Errorf("%w: session.max_ping_ms must be >= 0, got %d", ErrInvalidConfig, c.Session.MaxPingMs)
	}
	if c.Loop.StrokeDurationMs <= 0 {
		return fmt.Errorf("%w: loop.stroke_duration_ms must be > 0, got %d", ErrInvalidConfig, c.Loop.StrokeDurationMs)
	}
	if !unit(c.Loop.UpPosition) || !unit(c.Loop.DownPosition) {
		return fmt.Errorf("%w: loop positions must be between 0 and 1, got %.2f/%.2f",
			ErrInvalidConfig, c.Loop.UpPosition, c.Loop.DownPosition)
	}
	if c.Input.MinCommandIntervalMs < 0 {
		return fmt.Errorf("%w: input.min_command_interval_ms must be >= 0, got %d", ErrInvalidConfig, c.Input.MinCommandIntervalMs)
	}
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

// StrokeDuration returns the loop stroke duration, which is also its period.
func (c *Config) StrokeDuration() time.Duration {
	return time.Duration(c.Loop.StrokeDurationMs) * time.Millisecond
}

// MinCommandInterval returns the minimum time between slider strokes.
func (c *Config) MinCommandInterval() time.Duration {
	return time.Duration(c.Input.MinCommandIntervalMs) * time.Millisecond
}

func (c *Config) MaxPing() time.Duration {
	return time.Duration(c.Session.MaxPingMs) * time.Millisecond
}
