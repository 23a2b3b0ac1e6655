package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/darrayio/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample darrayio configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/darrayio/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  darrayio config init

  # Initialize with custom path
  darrayio config init --config ./darrayio.yaml

  # Force overwrite existing config
  darrayio config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the job and buffer sections to taste")
	fmt.Fprintln(out, "  2. Run a job with: darrayio run")
	fmt.Fprintf(out, "  3. Or specify custom config: darrayio run --config %s\n", configPath)
	return nil
}
