package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# darrayio Configuration File
#
# Values can be overridden with DARRAYIO_* environment variables, e.g.
#   DARRAYIO_LOGGING_LEVEL=DEBUG
#   DARRAYIO_BUFFER_COMPUTE_LIMIT=64Mi
#   DARRAYIO_JOB_MODE=nonblocking
#
# Sizes accept human-readable values such as 32Mi or 10MB.

`

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is only replaced with force.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
