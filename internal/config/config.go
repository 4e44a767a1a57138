package config

import (
	"fmt"
	"time"
)

// Config represents the complete configuration for pagebus
type Config struct {
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Broker      BrokerConfig      `json:"broker" yaml:"broker"`
	Transport   TransportConfig   `json:"transport" yaml:"transport"`
	ExistsCheck ExistsCheckConfig `json:"exists_check" yaml:"exists_check"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stdout, stderr, file path
}

// BrokerConfig contains broker routing configuration.
//
// RetryUnregistered selects the send-side buffering policy: when enabled,
// a message addressed to a participant that has not registered yet is parked
// and re-routed up to RetryAttempts times at RetryInterval, instead of being
// dropped immediately. The default is to drop, which pushes retry
// responsibility onto the existence-check caller.
type BrokerConfig struct {
	RetryUnregistered bool          `json:"retry_unregistered" yaml:"retry_unregistered"`
	RetryAttempts     int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryInterval     time.Duration `json:"retry_interval" yaml:"retry_interval"`
}

// TransportConfig contains transport channel configuration
type TransportConfig struct {
	SocketPath     string        `json:"socket_path" yaml:"socket_path"`
	MaxConnections int           `json:"max_connections" yaml:"max_connections"`
	InboxSize      int           `json:"inbox_size" yaml:"inbox_size"`
	MaxFrameSize   int           `json:"max_frame_size" yaml:"max_frame_size"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
}

// ExistsCheckConfig contains existence-check probe configuration.
// ResponseGrace is added to the probe interval to form the defensive
// timeout used while waiting for a correlated response from the hub.
type ExistsCheckConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	ResponseGrace time.Duration `json:"response_grace" yaml:"response_grace"`
}

// Validate validates the complete configuration
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Broker.Validate(); err != nil {
		return fmt.Errorf("broker config: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if err := c.ExistsCheck.Validate(); err != nil {
		return fmt.Errorf("exists check config: %w", err)
	}
	return nil
}

// Validate validates the logging configuration
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Format)
	}
	return nil
}

// Validate validates the broker configuration
func (c *BrokerConfig) Validate() error {
	if !c.RetryUnregistered {
		return nil
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive when retry_unregistered is set, got %d", c.RetryAttempts)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive when retry_unregistered is set, got %s", c.RetryInterval)
	}
	return nil
}

// Validate validates the transport configuration
func (c *TransportConfig) Validate() error {
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative, got %d", c.MaxConnections)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be positive, got %d", c.InboxSize)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max_frame_size must be positive, got %d", c.MaxFrameSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout)
	}
	return nil
}

// Validate validates the existence-check configuration
func (c *ExistsCheckConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.ResponseGrace <= 0 {
		return fmt.Errorf("response_grace must be positive, got %s", c.ResponseGrace)
	}
	return nil
}
