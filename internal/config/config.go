package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Zokiio/ovc-sub005/internal/codec"
)

// Config represents the complete relay configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Relay   RelayConfig   `yaml:"relay"`
	Audio   AudioConfig   `yaml:"audio"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP transport configuration.
type ServerConfig struct {
	UDPPort           int    `yaml:"udp_port" env:"RELAY_UDP_PORT"`
	BindAddress       string `yaml:"bind_address" env:"RELAY_BIND_ADDRESS"`
	ReadBufferSize    int    `yaml:"read_buffer_size" env:"RELAY_READ_BUFFER_SIZE"`
	Workers           int    `yaml:"workers" env:"RELAY_WORKERS"`
	InboundQueueSize  int    `yaml:"inbound_queue_size" env:"RELAY_INBOUND_QUEUE_SIZE"`
	OutboundQueueSize int    `yaml:"outbound_queue_size" env:"RELAY_OUTBOUND_QUEUE_SIZE"`
}

// HTTPConfig contains the monitoring/facts API server configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" env:"RELAY_HTTP_ENABLED"`
	Address string `yaml:"address" env:"RELAY_HTTP_ADDRESS"`
	Port    int    `yaml:"port" env:"RELAY_HTTP_PORT"`
}

// RelayConfig contains routing and session lifecycle parameters.
type RelayConfig struct {
	ProximityRadius float64 `yaml:"proximity_radius" env:"RELAY_PROXIMITY_RADIUS"`
	IdleTimeout     int     `yaml:"idle_timeout" env:"RELAY_IDLE_TIMEOUT"` // seconds
	SweepInterval   int     `yaml:"sweep_interval" env:"RELAY_SWEEP_INTERVAL"` // seconds
	AdminClientID   string  `yaml:"admin_client_id" env:"RELAY_ADMIN_CLIENT_ID"`
}

// AudioConfig contains codec parameters.
type AudioConfig struct {
	// ExpectedLoss is the packet loss fraction the encoder biases its FEC
	// redundancy for. Clamped into [0, 0.20], never rejected.
	ExpectedLoss float64 `yaml:"expected_loss" env:"RELAY_EXPECTED_LOSS"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"RELAY_LOG_LEVEL"`
	Format string `yaml:"format" env:"RELAY_LOG_FORMAT"`
	Output string `yaml:"output" env:"RELAY_LOG_OUTPUT"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:           24454,
			BindAddress:       "0.0.0.0",
			ReadBufferSize:    1048576,
			Workers:           4,
			InboundQueueSize:  256,
			OutboundQueueSize: 1024,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8090,
		},
		Relay: RelayConfig{
			ProximityRadius: 30,
			IdleTimeout:     60,
			SweepInterval:   10,
		},
		Audio: AudioConfig{
			ExpectedLoss: 0.10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if path is
// non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks every section and normalizes clamped fields.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	c.Audio.ExpectedLoss = codec.ClampExpectedLoss(c.Audio.ExpectedLoss)
	return nil
}

// Validate validates the UDP transport configuration.
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 0 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 0 and 65535, got %d", s.UDPPort)
	}
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if s.ReadBufferSize < 1024 {
		return fmt.Errorf("read_buffer_size must be at least 1024 bytes, got %d", s.ReadBufferSize)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.InboundQueueSize < 1 {
		return fmt.Errorf("inbound_queue_size must be at least 1, got %d", s.InboundQueueSize)
	}
	if s.OutboundQueueSize < 1 {
		return fmt.Errorf("outbound_queue_size must be at least 1, got %d", s.OutboundQueueSize)
	}
	return nil
}

// Validate validates the HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}
	return nil
}

// Validate validates routing and lifecycle parameters.
func (r *RelayConfig) Validate() error {
	if r.ProximityRadius <= 0 {
		return fmt.Errorf("proximity_radius must be positive, got %g", r.ProximityRadius)
	}
	if r.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", r.IdleTimeout)
	}
	if r.SweepInterval < 1 {
		return fmt.Errorf("sweep_interval must be at least 1 second, got %d", r.SweepInterval)
	}
	if r.AdminClientID != "" {
		if _, err := uuid.Parse(r.AdminClientID); err != nil {
			return fmt.Errorf("admin_client_id is not a valid identifier: %w", err)
		}
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// GetIdleTimeout returns the session idle timeout as a time.Duration.
func (r *RelayConfig) GetIdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeout) * time.Second
}

// GetSweepInterval returns the sweep interval as a time.Duration.
func (r *RelayConfig) GetSweepInterval() time.Duration {
	return time.Duration(r.SweepInterval) * time.Second
}

// AdminID returns the parsed admin client identifier, if configured.
func (r *RelayConfig) AdminID() (uuid.UUID, bool) {
	if r.AdminClientID == "" {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(r.AdminClientID)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
