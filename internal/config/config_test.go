package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pagebus/pagebus/pkg/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}

	if cfg.ExistsCheck.MaxAttempts != 3 {
		t.Errorf("Expected 3 probe attempts, got %d", cfg.ExistsCheck.MaxAttempts)
	}
	if cfg.ExistsCheck.Interval != time.Second {
		t.Errorf("Expected 1s probe interval, got %s", cfg.ExistsCheck.Interval)
	}
	if cfg.Broker.RetryUnregistered {
		t.Error("Send-side retry should be off by default")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "zero probe attempts",
			mutate:  func(c *Config) { c.ExistsCheck.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative probe interval",
			mutate:  func(c *Config) { c.ExistsCheck.Interval = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero inbox",
			mutate:  func(c *Config) { c.Transport.InboxSize = 0 },
			wantErr: true,
		},
		{
			name: "retry enabled without attempts",
			mutate: func(c *Config) {
				c.Broker.RetryUnregistered = true
				c.Broker.RetryAttempts = 0
			},
			wantErr: true,
		},
		{
			name: "retry enabled with attempts",
			mutate: func(c *Config) {
				c.Broker.RetryUnregistered = true
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	content := `
logging:
  level: debug
  format: json
exists_check:
  max_attempts: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.ExistsCheck.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.ExistsCheck.MaxAttempts)
	}
	// Unspecified fields pick up defaults
	if cfg.ExistsCheck.Interval != DefaultExistsInterval {
		t.Errorf("Expected default interval, got %s", cfg.ExistsCheck.Interval)
	}
	if cfg.Transport.InboxSize != DefaultInboxSize {
		t.Errorf("Expected default inbox size, got %d", cfg.Transport.InboxSize)
	}
}

func TestLoadFromFileEnvInterpolation(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("PAGEBUS_TEST_LEVEL", "warn")

	content := `
logging:
  level: ${PAGEBUS_TEST_LEVEL:-info}
transport:
  socket_path: ${PAGEBUS_TEST_SOCKET:-/tmp/bus.sock}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected env-interpolated level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Transport.SocketPath != "/tmp/bus.sock" {
		t.Errorf("Expected default-value interpolation, got %s", cfg.Transport.SocketPath)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		content  string
		skipFile bool
		code     string
	}{
		{
			name:     "empty path",
			path:     "",
			skipFile: true,
			code:     types.ErrCodeInvalidArgument,
		},
		{
			name:     "wrong extension",
			path:     filepath.Join(tmpDir, "config.toml"),
			skipFile: true,
			code:     types.ErrCodeInvalidArgument,
		},
		{
			name:     "missing file",
			path:     filepath.Join(tmpDir, "missing.yaml"),
			skipFile: true,
			code:     types.ErrCodeNotFound,
		},
		{
			name:    "empty file",
			path:    filepath.Join(tmpDir, "empty.yaml"),
			content: "   \n",
			code:    types.ErrCodeInvalid,
		},
		{
			name:    "bad yaml",
			path:    filepath.Join(tmpDir, "bad.yaml"),
			content: "logging: [unclosed",
			code:    types.ErrCodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.skipFile {
				if err := os.WriteFile(tt.path, []byte(tt.content), 0644); err != nil {
					t.Fatalf("Failed to write config file: %v", err)
				}
			}
			_, err := LoadFromFile(tt.path)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !types.IsErrCode(err, tt.code) {
				t.Errorf("Expected code %s, got %v", tt.code, err)
			}
		})
	}
}
