// ABOUTME: Runtime configuration for the visualizer client
// ABOUTME: Defaults, optional YAML file and environment overrides with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	Render  RenderConfig  `yaml:"render"`
	Artwork ArtworkConfig `yaml:"artwork"`
	Metrics MetricsConfig `yaml:"metrics"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	UI      UIConfig      `yaml:"ui"`
}

// ServerConfig contains analysis stream settings
type ServerConfig struct {
	Addr             string        `yaml:"addr"` // ws:// URL or host:port; empty discovers via mDNS
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"` // 0 waits indefinitely
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// HistoryConfig contains play history settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// RenderConfig contains render loop settings
type RenderConfig struct {
	Visualizer       string        `yaml:"visualizer"` // empty picks per surface
	Auto             bool          `yaml:"auto"`       // follow the track's preferred visualizer
	FPS              int           `yaml:"fps"`
	Width            int           `yaml:"width"`  // canvas pixels when headless
	Height           int           `yaml:"height"` // canvas pixels when headless
	Snapshot         string        `yaml:"snapshot"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// ArtworkConfig contains asset loading settings
type ArtworkConfig struct {
	CacheDir       string `yaml:"cache_dir"`
	MaxTextureSize int    `yaml:"max_texture_size"`
	Concurrency    int    `yaml:"concurrency"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// MQTTConfig contains now-playing publisher settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// UIConfig contains terminal UI settings
type UIConfig struct {
	NoTUI   bool   `yaml:"no_tui"`
	LogFile string `yaml:"log_file"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:             "ws://localhost:8765",
			ReconnectDelay:   2 * time.Second,
			DiscoveryTimeout: 3 * time.Second,
		},
		History: HistoryConfig{
			Enabled: true,
			URL:     "http://localhost:8766",
		},
		Render: RenderConfig{
			FPS:              60,
			Width:            640,
			Height:           360,
			SnapshotInterval: time.Second,
		},
		Artwork: ArtworkConfig{
			MaxTextureSize: 512,
			Concurrency:    4,
		},
		MQTT: MQTTConfig{
			Topic:    "resonate-vis/nowplaying",
			ClientID: "resonate-vis",
		},
		UI: UIConfig{
			LogFile: "resonate-vis.log",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and environment overrides, then validates it
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from RESONATE_VIS_* environment variables
func (c *Config) ApplyEnv() {
	c.Server.Addr = envStr("RESONATE_VIS_SERVER", c.Server.Addr)
	c.Server.ReconnectDelay = envDuration("RESONATE_VIS_RECONNECT_DELAY", c.Server.ReconnectDelay)
	c.Server.ConnectTimeout = envDuration("RESONATE_VIS_CONNECT_TIMEOUT", c.Server.ConnectTimeout)
	c.History.URL = envStr("RESONATE_VIS_HISTORY_URL", c.History.URL)
	c.Render.Visualizer = envStr("RESONATE_VIS_VISUALIZER", c.Render.Visualizer)
	c.Render.FPS = envInt("RESONATE_VIS_FPS", c.Render.FPS)
	c.Render.Snapshot = envStr("RESONATE_VIS_SNAPSHOT", c.Render.Snapshot)
	c.Artwork.CacheDir = envStr("RESONATE_VIS_CACHE_DIR", c.Artwork.CacheDir)
	c.Metrics.Addr = envStr("RESONATE_VIS_METRICS_ADDR", c.Metrics.Addr)
	c.MQTT.Broker = envStr("RESONATE_VIS_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = envStr("RESONATE_VIS_MQTT_TOPIC", c.MQTT.Topic)
}

// Validate checks ranges and required fields
func Validate(c *Config) error {
	var errs []error

	if c.Server.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("server.reconnect_delay must be positive, got %v", c.Server.ReconnectDelay))
	}
	if c.Server.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.connect_timeout must not be negative"))
	}
	if c.Render.FPS < 1 || c.Render.FPS > 240 {
		errs = append(errs, fmt.Errorf("render.fps must be between 1 and 240, got %d", c.Render.FPS))
	}
	if c.Render.Width < 1 || c.Render.Height < 1 {
		errs = append(errs, fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height))
	}
	if c.Artwork.MaxTextureSize < 16 {
		errs = append(errs, fmt.Errorf("artwork.max_texture_size must be at least 16, got %d", c.Artwork.MaxTextureSize))
	}
	if c.Artwork.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("artwork.concurrency must be at least 1, got %d", c.Artwork.Concurrency))
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required when mqtt.broker is set"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
