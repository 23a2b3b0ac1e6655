package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/darrayio/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the darrayio configuration.
//
// It covers the ambient concerns of a run (logging, tracing, metrics), the
// buffering limits of the I/O system, the buffer pool and block storage
// backing datasets, and the shape of the simulated job driven by
// "darrayio run".
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DARRAYIO_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Buffer holds the flush thresholds of the I/O system
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`

	// Pool selects the allocator behind every staging buffer
	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`

	// Storage selects the block store datasets persist into
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Job describes the simulated SPMD job
	Job JobConfig `mapstructure:"job" yaml:"job"`

	// ShutdownTimeout bounds the final metrics and tracing flush
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, flush, sync and wait spans are exported to an
// OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// BufferConfig holds the buffering limits. Sizes accept human-readable
// formats such as "32Mi" or "10MB".
type BufferConfig struct {
	// ComputeLimit is the cached byte level at which a buffered write forces
	// a flush to storage.
	// Default: 10Mi
	ComputeLimit bytesize.ByteSize `mapstructure:"compute_limit" validate:"gt=0" yaml:"compute_limit"`

	// SizeLimit is the staged byte level at which outstanding non-blocking
	// requests are drained.
	// Default: 10Mi
	SizeLimit bytesize.ByteSize `mapstructure:"size_limit" validate:"gt=0" yaml:"size_limit"`

	// MaxCachedRegions caps the regions one I/O task may cache.
	// Default: 65536
	MaxCachedRegions int `mapstructure:"max_cached_regions" validate:"gt=0" yaml:"max_cached_regions"`

	// RequestBlockLimit caps the aggregate size of one block of waited
	// requests.
	// Default: 2147483647 bytes
	RequestBlockLimit bytesize.ByteSize `mapstructure:"request_block_limit" validate:"gt=0,lte=9223372036854775807" yaml:"request_block_limit"`

	// FlushMargin scales the free space a buffered write requires.
	// Default: 1.1
	FlushMargin float64 `mapstructure:"flush_margin" validate:"gt=0" yaml:"flush_margin"`

	// RequestGrowth is the chunk by which request lists grow.
	// Default: 16
	RequestGrowth int `mapstructure:"request_growth" validate:"gt=0" yaml:"request_growth"`
}

// PoolConfig selects the buffer pool.
type PoolConfig struct {
	// Kind is "heap" (unbounded) or "arena" (fixed capacity)
	// Default: heap
	Kind string `mapstructure:"kind" validate:"required,oneof=heap arena" yaml:"kind"`

	// Size is the arena capacity; ignored for the heap
	// Default: 256Mi
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size,omitempty"`
}

// StorageConfig selects the block store behind datasets.
type StorageConfig struct {
	// Kind is "memory" or "badger"
	// Default: memory
	Kind string `mapstructure:"kind" validate:"required,oneof=memory badger" yaml:"kind"`

	// Path is the BadgerDB directory. Empty keeps the database in memory.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// BlockElems is the number of elements per stored block
	// Default: 4096
	BlockElems int `mapstructure:"block_elems" validate:"gt=0" yaml:"block_elems"`
}

// JobConfig describes the job simulated by "darrayio run".
type JobConfig struct {
	// Ranks is the number of compute tasks
	// Default: 8
	Ranks int `mapstructure:"ranks" validate:"gt=0,lte=4096" yaml:"ranks"`

	// IOTasks is the number of I/O tasks, spread evenly over the ranks
	// Default: 2
	IOTasks int `mapstructure:"io_tasks" validate:"gt=0,ltefield=Ranks" yaml:"io_tasks"`

	// Dims are the global array dimensions, slowest first
	// Default: [64, 128]
	Dims []int `mapstructure:"dims" validate:"required,min=1,dive,gt=0" yaml:"dims"`

	// Rearranger is "box" or "subset"
	Rearranger string `mapstructure:"rearranger" validate:"required,oneof=box subset" yaml:"rearranger"`

	// Mode is the backend access mode: serial, parallel or nonblocking
	Mode string `mapstructure:"mode" validate:"required,oneof=serial parallel nonblocking" yaml:"mode"`

	// Type is the element type, e.g. int or double
	Type string `mapstructure:"type" validate:"required" yaml:"type"`

	// Vars is the number of variables written per record
	Vars int `mapstructure:"vars" validate:"gt=0" yaml:"vars"`

	// Records is the number of records written; zero writes fixed-size
	// variables only
	Records int `mapstructure:"records" validate:"gte=0" yaml:"records"`

	// Chunk is the number of consecutive elements dealt to one rank
	Chunk int `mapstructure:"chunk" validate:"gt=0" yaml:"chunk"`

	// Skip leaves every Skip-th chunk unassigned to create holes; 0 assigns
	// everything
	Skip int `mapstructure:"skip" validate:"gte=0" yaml:"skip"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DARRAYIO_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Register every key so DARRAYIO_* variables apply without a file
	if err := setViperDefaults(v); err != nil {
		return nil, err
	}

	// Read configuration file if it exists
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  darrayio config init\n\n"+
				"Or specify a custom config file:\n"+
				"  darrayio <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  darrayio config init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file with restricted permissions (0600 = owner read/write only).
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use DARRAYIO_ prefix and underscores
	// Example: DARRAYIO_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DARRAYIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/darrayio/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// setViperDefaults registers the default configuration with v, flattened
// to dotted keys.
func setViperDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use human-readable
// sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to ByteSize
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse human-readable string like "1Gi", "500Mi", "100MB"
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "darrayio")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "darrayio")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
