// Package config provides configuration types and defaults for taskexec.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	viperlib "github.com/spf13/viper"

	"taskexec/internal/log"
)

// Config holds all configuration options for the executor and its tooling.
type Config struct {
	// ListenAddr is the loopback address the executor binds for the worker
	// callback protocol. An empty host with port 0 picks an ephemeral port.
	ListenAddr string `mapstructure:"listen_addr"`

	// WorkerBinary is the path to the taskworker executable spawned for
	// each submitted task.
	WorkerBinary string `mapstructure:"worker_binary"`

	// PluginDirs lists extra module search paths propagated to workers via
	// the environment.
	PluginDirs []string `mapstructure:"plugin_dirs"`

	// PluginEnv holds plugin-specific environment variable additions
	// propagated to every spawned worker.
	PluginEnv map[string]string `mapstructure:"plugin_env"`

	Executor ExecutorConfig `mapstructure:"executor"`
	Store    StoreConfig    `mapstructure:"store"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ExecutorConfig holds timeouts governing executor lifecycle operations.
type ExecutorConfig struct {
	// StartupTimeout bounds how long the constructor waits for the listener
	// loop to signal readiness. Default: 60s.
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// ShutdownTimeout bounds how long Close waits for the listener to join
	// after sending itself a closed frame. Default: 60s.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig configures the authoritative model store.
type StoreConfig struct {
	// DSN is the SQLite data source for the authoritative store.
	// ":memory:" runs an in-process ephemeral store (the default); a file
	// path persists across restarts.
	DSN string `mapstructure:"dsn"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active. Default: false.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the export backend: "none", "file", "stdout", "otlp".
	// Default: "file".
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling, 0.0 to 1.0. Default: 1.0.
	SampleRate float64 `mapstructure:"sample_rate"`

	// ServiceName identifies this service in traces.
	ServiceName string `mapstructure:"service_name"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		ListenAddr:   "127.0.0.1:0",
		WorkerBinary: "taskworker",
		PluginDirs:   nil,
		PluginEnv:    nil,
		Executor: ExecutorConfig{
			StartupTimeout:  60 * time.Second,
			ShutdownTimeout: 60 * time.Second,
		},
		Store: StoreConfig{
			DSN: ":memory:",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "taskexec",
		},
	}
}

// LoadFile reads a YAML config file at path, merged over Defaults() for any
// key it omits. Used by cmd/taskmonitor for its --config flag; the cobra
// commands (taskexecd, taskexecctl) build their own viper instance with the
// same defaults instead of calling it.
func LoadFile(path string) (Config, error) {
	v := viperlib.New()
	defaults := Defaults()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("worker_binary", defaults.WorkerBinary)
	v.SetDefault("executor.startup_timeout", defaults.Executor.StartupTimeout)
	v.SetDefault("executor.shutdown_timeout", defaults.Executor.ShutdownTimeout)
	v.SetDefault("store.dsn", defaults.Store.DSN)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultTracesFilePath returns the default path for trace file export:
// ~/.config/taskexec/traces/traces.jsonl, or "" if the home dir is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "taskexec", "traces", "traces.jsonl")
}

// Validate checks the configuration for internally-inconsistent values.
// Empty values are left for Defaults to fill in and are not errors here.
func Validate(cfg Config) error {
	if cfg.Executor.StartupTimeout < 0 {
		return fmt.Errorf("executor.startup_timeout must not be negative")
	}
	if cfg.Executor.ShutdownTimeout < 0 {
		return fmt.Errorf("executor.shutdown_timeout must not be negative")
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}
	switch tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
	}
	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a commented YAML string.
func DefaultConfigTemplate() string {
	return `# taskexec configuration

# Loopback address the executor binds for the worker callback protocol.
# Empty host with port 0 picks an ephemeral port.
listen_addr: "127.0.0.1:0"

# Path to the taskworker executable spawned per task.
worker_binary: "taskworker"

# Extra module search paths propagated to every worker's environment.
# plugin_dirs:
#   - /opt/taskexec/plugins

# Plugin-specific environment variable additions.
# plugin_env:
#   TASKEXEC_PLUGIN_TOKEN: "..."

executor:
  startup_timeout: 60s
  shutdown_timeout: 60s

store:
  dsn: ":memory:"

tracing:
  enabled: false
  exporter: file
  # file_path: ~/.config/taskexec/traces/traces.jsonl
  otlp_endpoint: "localhost:4317"
  sample_rate: 1.0
  service_name: taskexec
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}
