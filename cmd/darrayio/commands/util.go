package commands

import (
	"fmt"

	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/pkg/config"
)

// InitLogger initializes the structured logger from configuration. The
// --log-level flag wins over the file.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if logLevel != "" {
		loggerCfg.Level = logLevel
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where configuration was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
