package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/darrayio/internal/cli/output"
	"github.com/marmos91/darrayio/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the darrayio configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  darrayio config validate

  # Validate specific config file
  darrayio config validate --config ./darrayio.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	limits := cfg.Buffer.Limits()
	if err := limits.Validate(); err != nil {
		return err
	}

	var warnings []string
	if cfg.Buffer.SizeLimit > cfg.Buffer.ComputeLimit {
		warnings = append(warnings, "buffer.size_limit exceeds buffer.compute_limit - staged requests may pin more memory than cached arrays")
	}
	if cfg.Storage.Kind == "badger" && cfg.Storage.Path == "" {
		warnings = append(warnings, "storage.path is empty - badger keeps the dataset in memory")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	fmt.Fprintf(out, "\nConfiguration summary:\n")
	return output.PrintKV(out, [][2]string{
		{"Ranks", fmt.Sprint(cfg.Job.Ranks)},
		{"I/O tasks", fmt.Sprint(cfg.Job.IOTasks)},
		{"Mode", cfg.Job.Mode},
		{"Compute limit", cfg.Buffer.ComputeLimit.String()},
		{"Storage", cfg.Storage.Kind},
		{"Log level", cfg.Logging.Level},
	})
}
