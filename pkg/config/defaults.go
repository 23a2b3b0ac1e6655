package config

import (
	"strings"
	"time"

	"github.com/marmos91/darrayio/internal/bytesize"
	"github.com/marmos91/darrayio/pkg/darray"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyBufferDefaults(&cfg.Buffer)
	applyPoolDefaults(&cfg.Pool)
	applyStorageDefaults(&cfg.Storage)
	applyJobDefaults(&cfg.Job)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyBufferDefaults fills unset limits from the engine defaults.
func applyBufferDefaults(cfg *BufferConfig) {
	if cfg.ComputeLimit == 0 {
		cfg.ComputeLimit = darray.DefaultComputeBufferLimit
	}
	if cfg.SizeLimit == 0 {
		cfg.SizeLimit = darray.DefaultBufferSizeLimit
	}
	if cfg.MaxCachedRegions == 0 {
		cfg.MaxCachedRegions = darray.DefaultMaxCachedIORegions
	}
	if cfg.RequestBlockLimit == 0 {
		cfg.RequestBlockLimit = darray.DefaultReqBlockSizeLimit
	}
	if cfg.FlushMargin == 0 {
		cfg.FlushMargin = darray.DefaultIOFlushMargin
	}
	if cfg.RequestGrowth == 0 {
		cfg.RequestGrowth = darray.DefaultRequestGrowth
	}
}

// applyPoolDefaults sets buffer pool defaults.
func applyPoolDefaults(cfg *PoolConfig) {
	if cfg.Kind == "" {
		cfg.Kind = "heap"
	}
	cfg.Kind = strings.ToLower(cfg.Kind)
	if cfg.Kind == "arena" && cfg.Size == 0 {
		cfg.Size = 256 * bytesize.MiB
	}
}

// applyStorageDefaults sets block store defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Kind == "" {
		cfg.Kind = "memory"
	}
	cfg.Kind = strings.ToLower(cfg.Kind)
	if cfg.BlockElems == 0 {
		cfg.BlockElems = 4096
	}
}

// applyJobDefaults sets the simulated job defaults.
func applyJobDefaults(cfg *JobConfig) {
	if cfg.Ranks == 0 {
		cfg.Ranks = 8
	}
	if cfg.IOTasks == 0 {
		cfg.IOTasks = 2
	}
	if len(cfg.Dims) == 0 {
		cfg.Dims = []int{64, 128}
	}
	if cfg.Rearranger == "" {
		cfg.Rearranger = "box"
	}
	if cfg.Mode == "" {
		cfg.Mode = "parallel"
	}
	if cfg.Type == "" {
		cfg.Type = "int"
	}
	if cfg.Vars == 0 {
		cfg.Vars = 4
	}
	if cfg.Chunk == 0 {
		cfg.Chunk = 16
	}
	// Records and Skip default to zero
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Job: JobConfig{
			Records: 2,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
