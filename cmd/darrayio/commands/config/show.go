package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/darrayio/internal/cli/output"
	"github.com/marmos91/darrayio/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective darrayio configuration: defaults, then the
configuration file, then DARRAYIO_* environment variables.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show effective config as YAML
  darrayio config show

  # Show as JSON
  darrayio config show --output json

  # Show specific config file
  darrayio config show --config ./darrayio.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
