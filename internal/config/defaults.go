package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// Default logging settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	// Default broker settings
	DefaultRetryAttempts = 10
	DefaultRetryInterval = 1 * time.Second

	// Default transport settings
	DefaultMaxConnections = 64
	DefaultInboxSize      = 256
	DefaultMaxFrameSize   = 1 << 20 // 1 MiB
	DefaultTimeout        = 5 * time.Second

	// Default existence-check settings
	DefaultExistsMaxAttempts   = 3
	DefaultExistsInterval      = 1 * time.Second
	DefaultExistsResponseGrace = 1 * time.Second
)

// GetConfigDir returns the pagebus configuration directory
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "pagebus"), nil
}

// DefaultSocketPath returns the default unix socket path for the hub
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), "pagebus.sock")
}

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Output: DefaultLogOutput,
	}
}

// DefaultBrokerConfig returns the default broker configuration.
// Send-side retry is off: an unregistered target means the message drops.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		RetryUnregistered: false,
		RetryAttempts:     DefaultRetryAttempts,
		RetryInterval:     DefaultRetryInterval,
	}
}

// DefaultTransportConfig returns the default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		SocketPath:     DefaultSocketPath(),
		MaxConnections: DefaultMaxConnections,
		InboxSize:      DefaultInboxSize,
		MaxFrameSize:   DefaultMaxFrameSize,
		Timeout:        DefaultTimeout,
	}
}

// DefaultExistsCheckConfig returns the default existence-check configuration
func DefaultExistsCheckConfig() ExistsCheckConfig {
	return ExistsCheckConfig{
		MaxAttempts:   DefaultExistsMaxAttempts,
		Interval:      DefaultExistsInterval,
		ResponseGrace: DefaultExistsResponseGrace,
	}
}

// Default returns the complete default configuration
func Default() *Config {
	return &Config{
		Logging:     DefaultLoggingConfig(),
		Broker:      DefaultBrokerConfig(),
		Transport:   DefaultTransportConfig(),
		ExistsCheck: DefaultExistsCheckConfig(),
	}
}

// applyDefaults fills zero-valued fields that were not specified in the
// configuration file
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Broker.RetryAttempts == 0 {
		cfg.Broker.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.Broker.RetryInterval == 0 {
		cfg.Broker.RetryInterval = DefaultRetryInterval
	}

	if cfg.Transport.SocketPath == "" {
		cfg.Transport.SocketPath = DefaultSocketPath()
	}
	if cfg.Transport.MaxConnections == 0 {
		cfg.Transport.MaxConnections = DefaultMaxConnections
	}
	if cfg.Transport.InboxSize == 0 {
		cfg.Transport.InboxSize = DefaultInboxSize
	}
	if cfg.Transport.MaxFrameSize == 0 {
		cfg.Transport.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = DefaultTimeout
	}

	if cfg.ExistsCheck.MaxAttempts == 0 {
		cfg.ExistsCheck.MaxAttempts = DefaultExistsMaxAttempts
	}
	if cfg.ExistsCheck.Interval == 0 {
		cfg.ExistsCheck.Interval = DefaultExistsInterval
	}
	if cfg.ExistsCheck.ResponseGrace == 0 {
		cfg.ExistsCheck.ResponseGrace = DefaultExistsResponseGrace
	}
}
