// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, YAML files, environment overrides and validation
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"RESONATE_VIS_SERVER", "RESONATE_VIS_RECONNECT_DELAY", "RESONATE_VIS_CONNECT_TIMEOUT",
	"RESONATE_VIS_HISTORY_URL", "RESONATE_VIS_VISUALIZER", "RESONATE_VIS_FPS",
	"RESONATE_VIS_SNAPSHOT", "RESONATE_VIS_CACHE_DIR", "RESONATE_VIS_METRICS_ADDR",
	"RESONATE_VIS_MQTT_BROKER", "RESONATE_VIS_MQTT_TOPIC",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Addr != "ws://localhost:8765" {
		t.Errorf("Server.Addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Server.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.Server.ReconnectDelay)
	}
	if cfg.Server.ConnectTimeout != 0 {
		t.Errorf("ConnectTimeout = %v, want 0", cfg.Server.ConnectTimeout)
	}
	if cfg.History.URL != "http://localhost:8766" || !cfg.History.Enabled {
		t.Errorf("unexpected history defaults %+v", cfg.History)
	}
	if cfg.Render.FPS != 60 {
		t.Errorf("FPS = %d, want 60", cfg.Render.FPS)
	}
	if cfg.Metrics.Addr != "" || cfg.MQTT.Broker != "" {
		t.Error("metrics and MQTT should be disabled by default")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
server:
  addr: ws://visualizer.local:9000/
  reconnect_delay: 500ms
  connect_timeout: 5s
render:
  visualizer: radial
  auto: true
  fps: 30
mqtt:
  broker: tcp://broker:1883
  qos: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Addr != "ws://visualizer.local:9000/" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("ReconnectDelay = %v, want 500ms", cfg.Server.ReconnectDelay)
	}
	if cfg.Server.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.Server.ConnectTimeout)
	}
	if cfg.Render.Visualizer != "radial" || !cfg.Render.Auto || cfg.Render.FPS != 30 {
		t.Errorf("unexpected render config %+v", cfg.Render)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.QoS != 1 {
		t.Errorf("unexpected mqtt config %+v", cfg.MQTT)
	}

	// Unset keys keep their defaults
	if cfg.History.URL != "http://localhost:8766" {
		t.Errorf("History.URL = %q, want default", cfg.History.URL)
	}
	if cfg.MQTT.Topic != "resonate-vis/nowplaying" {
		t.Errorf("MQTT.Topic = %q, want default", cfg.MQTT.Topic)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, "render:\n  fps: 30\n")
	t.Setenv("RESONATE_VIS_FPS", "120")
	t.Setenv("RESONATE_VIS_SERVER", "10.0.0.5:8765")
	t.Setenv("RESONATE_VIS_RECONNECT_DELAY", "250ms")
	t.Setenv("RESONATE_VIS_METRICS_ADDR", ":9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Render.FPS != 120 {
		t.Errorf("FPS = %d, want env override 120", cfg.Render.FPS)
	}
	if cfg.Server.Addr != "10.0.0.5:8765" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("ReconnectDelay = %v", cfg.Server.ReconnectDelay)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadIgnoresBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RESONATE_VIS_FPS", "fast")
	t.Setenv("RESONATE_VIS_RECONNECT_DELAY", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Render.FPS != 60 || cfg.Server.ReconnectDelay != 2*time.Second {
		t.Error("unparseable env values should fall back to defaults")
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := Load(writeConfig(t, "server: [not, a, map]")); err == nil {
		t.Error("expected parse error")
	}

	_, err := Load(writeConfig(t, "render:\n  fps: 0\nartwork:\n  concurrency: 0\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"render.fps", "artwork.concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got: %v", want, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero reconnect delay", func(c *Config) { c.Server.ReconnectDelay = 0 }, false},
		{"negative connect timeout", func(c *Config) { c.Server.ConnectTimeout = -time.Second }, false},
		{"fps too high", func(c *Config) { c.Render.FPS = 1000 }, false},
		{"tiny textures", func(c *Config) { c.Artwork.MaxTextureSize = 4 }, false},
		{"mqtt without topic", func(c *Config) { c.MQTT.Broker = "tcp://b:1883"; c.MQTT.Topic = "" }, false},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, false},
		{"mqtt configured", func(c *Config) { c.MQTT.Broker = "tcp://b:1883" }, true},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		err := Validate(&cfg)
		if tt.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
