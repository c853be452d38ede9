package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendGoBLE = "goble"
	BackendSim   = "sim"
)

// Config holds application configuration
type Config struct {
	LogLevel    string `yaml:"log_level" default:"info"`
	Backend     string `yaml:"backend" default:"goble"`
	ProfilePath string `yaml:"profile"`
	AppUUID     string `yaml:"app_uuid"`

	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"15s"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" default:"30s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"10s"`
	TeardownTimeout  time.Duration `yaml:"teardown_timeout" default:"3s"`

	EventLogPath string `yaml:"event_log"`
	OutputFormat string `yaml:"output_format" default:"table"`

	Bridge BridgeConfig `yaml:"bridge"`
}

// BridgeConfig sizes the PTY bridge buffers.
type BridgeConfig struct {
	ReadBuffer  int `yaml:"read_buffer" default:"4096"`
	WriteBuffer int `yaml:"write_buffer" default:"4096"`
	ChunkSize   int `yaml:"chunk_size" default:"20"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and sizes.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	switch c.Backend {
	case BackendGoBLE:
	case BackendSim:
		if c.ProfilePath == "" {
			return fmt.Errorf("backend %q requires a profile", BackendSim)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendGoBLE, BackendSim)
	}
	switch strings.ToLower(c.OutputFormat) {
	case "table", "json":
	default:
		return fmt.Errorf("unknown output_format %q", c.OutputFormat)
	}
	if c.Bridge.ChunkSize <= 0 || c.Bridge.ReadBuffer <= 0 || c.Bridge.WriteBuffer <= 0 {
		return fmt.Errorf("bridge sizes must be positive")
	}
	return nil
}

// Level returns the parsed log level, info when unparsable.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
