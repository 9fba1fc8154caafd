package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds engine and CLI configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	Address  string `yaml:"address"`

	Connection ConnectionConfig `yaml:"connection"`
	Commands   CommandConfig    `yaml:"commands"`
	Keepalive  KeepaliveConfig  `yaml:"keepalive"`

	// TemperatureCacheTTL is how long a current-temperature reading is served from cache
	TemperatureCacheTTL time.Duration `yaml:"temperature_cache_ttl" default:"1s"`

	// OverrideWindow is how long a user-initiated heater change wins over conflicting notifications
	OverrideWindow time.Duration `yaml:"override_window" default:"5s"`

	// InfoRefreshInterval re-reads device info and settings while connected (0 disables)
	InfoRefreshInterval time.Duration `yaml:"info_refresh_interval" default:"10m"`

	AnimationStopTimeout time.Duration `yaml:"animation_stop_timeout" default:"1s"`

	// Applied by long-running consumers right after the first successful connect
	InitialTemperature int  `yaml:"initial_temperature"`
	FanOnConnect       bool `yaml:"fan_on_connect"`
}

// ConnectionConfig tunes discovery, connect retries and reconnect backoff
type ConnectionConfig struct {
	ScanAttempts   int           `yaml:"scan_attempts" default:"2"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"5s"`
	ScanRetryDelay time.Duration `yaml:"scan_retry_delay" default:"1s"`

	ConnectAttempts   int           `yaml:"connect_attempts" default:"3"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay" default:"1s"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout" default:"8s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"15s"`
	SetupTimeout      time.Duration `yaml:"setup_timeout" default:"3s"`

	ReadTimeout  time.Duration `yaml:"read_timeout" default:"2s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`

	ReconnectDelay      time.Duration `yaml:"reconnect_delay" default:"2s"`
	ReconnectAttempts   int           `yaml:"reconnect_attempts" default:"5"`
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff" default:"30s"`
}

// CommandConfig tunes the command serializer
type CommandConfig struct {
	MinInterval  time.Duration `yaml:"min_interval" default:"200ms"`
	DrainTimeout time.Duration `yaml:"drain_timeout" default:"2s"`
	Timeout      time.Duration `yaml:"timeout" default:"10s"`
}

// KeepaliveConfig tunes the idle keepalive read
type KeepaliveConfig struct {
	Interval      time.Duration `yaml:"interval" default:"10s"`
	IdleThreshold time.Duration `yaml:"idle_threshold" default:"20s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Connection.ConnectAttempts < 1 {
		errs = append(errs, errors.New("connection.connect_attempts must be at least 1"))
	}
	if c.Connection.ReconnectAttempts < 0 {
		errs = append(errs, errors.New("connection.reconnect_attempts must not be negative"))
	}
	if c.Commands.MinInterval < 0 {
		errs = append(errs, errors.New("commands.min_interval must not be negative"))
	}
	if c.InitialTemperature != 0 && (c.InitialTemperature < 40 || c.InitialTemperature > 230) {
		errs = append(errs, fmt.Errorf("initial_temperature %d outside 40..230", c.InitialTemperature))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
