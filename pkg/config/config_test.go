package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, TransportSimulator, cfg.Transport)
	assert.Equal(t, "Fleshlight Launch", cfg.Session.TargetName)
	assert.Equal(t, "Unity App", cfg.Session.ClientName)
	assert.Equal(t, "Websocket Server", cfg.Session.ServerName)
	assert.Equal(t, int64(0), cfg.Session.MaxPingMs)
	assert.Equal(t, 693*time.Millisecond, cfg.StrokeDuration())
	assert.Equal(t, 0.7, cfg.Loop.UpPosition)
	assert.Equal(t, 0.2, cfg.Loop.DownPosition)
	assert.Equal(t, 100*time.Millisecond, cfg.MinCommandInterval())
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Host)
	assert.Equal(t, "launchctl", cfg.MQTT.TopicRoot)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
transport: mqtt
session:
  target_name: "Kiiroo Onyx"
  max_ping_ms: 1500
loop:
  stroke_duration_ms: 500
  down_position: 0
mqtt:
  host: tcp://broker:1883
  username: launch
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportMQTT, cfg.Transport)
	assert.Equal(t, "Kiiroo Onyx", cfg.Session.TargetName)
	assert.Equal(t, "Unity App", cfg.Session.ClientName, "missing keys keep defaults")
	assert.Equal(t, 1500*time.Millisecond, cfg.MaxPing())
	assert.Equal(t, 500*time.Millisecond, cfg.StrokeDuration())
	assert.Equal(t, 0.7, cfg.Loop.UpPosition)
	assert.Equal(t, 0.0, cfg.Loop.DownPosition, "explicit zero survives")
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Host)
	assert.Equal(t, "launch", cfg.MQTT.Username)
	assert.Equal(t, "launchctl", cfg.MQTT.TopicRoot)
}

func TestLoadOverKeepsBase(t *testing.T) {
	base := Default()
	base.Session.TargetName = "Kiiroo Onyx"
	base.Loop.UpPosition = 0.9

	cfg, err := LoadOver(base, writeConfig(t, "loop:\n  up_position: 0.8\n"))
	require.NoError(t, err)

	assert.Equal(t, "Kiiroo Onyx", cfg.Session.TargetName)
	assert.Equal(t, 0.8, cfg.Loop.UpPosition)
	assert.Equal(t, 0.9, base.Loop.UpPosition, "base is not modified")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeConfig(t, "session: [unclosed"))
	assert.ErrorContains(t, err, "unmarshal yaml")

	_, err = Load(writeConfig(t, "transport: bluetooth"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty target", func(c *Config) { c.Session.TargetName = "" }, false},
		{"negative ping", func(c *Config) { c.Session.MaxPingMs = -1 }, false},
		{"zero stroke", func(c *Config) { c.Loop.StrokeDurationMs = 0 }, false},
		{"up out of range", func(c *Config) { c.Loop.UpPosition = 1.2 }, false},
		{"down negative", func(c *Config) { c.Loop.DownPosition = -0.1 }, false},
		{"negative interval", func(c *Config) { c.Input.MinCommandIntervalMs = -5 }, false},
		{"zero interval", func(c *Config) { c.Input.MinCommandIntervalMs = 0 }, true},
		{"mqtt without host", func(c *Config) { c.Transport = TransportMQTT; c.MQTT.Host = "" }, false},
		{"mqtt without topic", func(c *Config) { c.Transport = TransportMQTT; c.MQTT.TopicRoot = "" }, false},
		{"mqtt", func(c *Config) { c.Transport = TransportMQTT }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
