package cmd

import (
	"fmt"
	"os"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/internal/logger"
	"github.com/spf13/cobra"
)

// Version is the pagebus release version
const Version = "0.3.0"

var (
	// CLI flags
	cfgFile    string
	logLevel   string
	logFormat  string
	logOutput  string
	socketPath string

	// Global variables
	rootLog *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagebusd",
	Short: "pagebus - addressed messaging between isolated contexts",
	Long: `pagebusd hosts and exercises the pagebus message broker.

The broker lives in a single hub context and routes addressed messages
between participants that cannot share memory: in-process components talk
to it directly, out-of-process contexts attach over a unix socket. Senders
never learn each other's transport details; they address participants by id.`,
	Version: Version,
}

// initLogger initializes the global logger based on CLI flags and config
func initLogger(cfg *config.Config) error {
	logCfg := cfg.Logging
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if logFormat != "" {
		logCfg.Format = logFormat
	}
	if logOutput != "" {
		logCfg.Output = logOutput
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}

	rootLog = log
	logger.SetGlobal(log)
	return nil
}

// loadConfig loads configuration from the optional config file and applies
// CLI overrides
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		loaded, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if socketPath != "" {
		cfg.Transport.SocketPath = socketPath
	}

	return cfg, nil
}

// setup loads config and brings up logging, shared by all subcommands
func setup() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := initLogger(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: built-in defaults)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json, text")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "",
		"Log output: stdout, stderr, or file path")

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "",
		"Unix socket path for the hub transport")
}
