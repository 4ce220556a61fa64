package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Gateway         GatewayConfig     `yaml:"gateway"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Audio           AudioConfig       `yaml:"audio"`
	Track           TrackConfig       `yaml:"track"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Influx          InfluxConfig      `yaml:"influxdb"`
	Timing          TimingConfig      `yaml:"timing"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// GatewayConfig contains lighting gateway connection settings
type GatewayConfig struct {
	Address  string   `yaml:"address"`  // scheme://host:port; empty + discover = use mDNS
	Discover bool     `yaml:"discover"` // browse mDNS when no address is configured
	Timeout  Duration `yaml:"timeout"`  // HTTP timeout for gateway API requests

	// Event stream reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// AudioConfig contains the local audio clock settings
type AudioConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // directory holding program audio files
}

// TrackConfig contains the external track trigger (OSC) settings
type TrackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains the optional state-mirror bridge settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// InfluxConfig contains the optional drift export settings
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// TimingConfig contains drift monitor settings
type TimingConfig struct {
	PollInterval     Duration `yaml:"poll_interval"`      // snapshot poll interval (default: 2s)
	DriftThresholdMS float64  `yaml:"drift_threshold_ms"` // local alert threshold (default: 10)
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./cuesyncd.sqlite"
	}

	// Gateway defaults
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = Duration(10 * time.Second)
	}
	if cfg.Gateway.MinRetryBackoff == 0 {
		cfg.Gateway.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Gateway.MaxRetryBackoff == 0 {
		cfg.Gateway.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Gateway.RetryMultiplier == 0 {
		cfg.Gateway.RetryMultiplier = 2.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set

	// Audio defaults
	if cfg.Audio.Dir == "" {
		cfg.Audio.Dir = "./audio"
	}

	// Track trigger defaults
	if cfg.Track.Host == "" {
		cfg.Track.Host = "127.0.0.1"
	}
	if cfg.Track.Port == 0 {
		cfg.Track.Port = 9000
	}

	// Timing defaults
	if cfg.Timing.PollInterval == 0 {
		cfg.Timing.PollInterval = Duration(2 * time.Second)
	}
	if cfg.Timing.DriftThresholdMS == 0 {
		cfg.Timing.DriftThresholdMS = 10
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
