package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/darrayio/internal/cli/output"
	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/internal/telemetry"
	"github.com/marmos91/darrayio/internal/workload"
	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/config"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/metrics"
	"github.com/marmos91/darrayio/pkg/ncio"
)

var (
	runOutput     string
	runRanks      int
	runIOTasks    int
	runMode       string
	runRearranger string
	runType       string
	runRecords    int
	runSkip       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic write/read job",
	Long: `Run a synthetic SPMD job through the buffering engine.

Every rank writes a deterministic pattern for each variable and record,
the file is synced, and everything is read back and compared. The job shape
comes from the "job" section of the configuration; flags override it.

A configuration file is optional: without one the defaults apply, and
DARRAYIO_* environment variables are still honored.

Examples:
  # Run with the defaults
  darrayio run

  # Non-blocking backend, 16 ranks, 4 I/O tasks
  darrayio run --mode nonblocking --ranks 16 --io-tasks 4

  # Leave holes in the decomposition and print JSON
  darrayio run --skip 5 -o json

  # Force frequent flushes
  DARRAYIO_BUFFER_COMPUTE_LIMIT=64Ki darrayio run --log-level debug`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "table", "Output format (table|json|yaml)")
	runCmd.Flags().IntVar(&runRanks, "ranks", 0, "Number of compute ranks")
	runCmd.Flags().IntVar(&runIOTasks, "io-tasks", 0, "Number of I/O tasks")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Backend access mode (serial|parallel|nonblocking)")
	runCmd.Flags().StringVar(&runRearranger, "rearranger", "", "Rearranger (box|subset)")
	runCmd.Flags().StringVar(&runType, "type", "", "Element type (e.g. int, double)")
	runCmd.Flags().IntVar(&runRecords, "records", 0, "Records per variable (0 writes fixed-size variables)")
	runCmd.Flags().IntVar(&runSkip, "skip", 0, "Leave every n-th chunk unassigned")
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(runOutput)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "darrayio",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	// Initialize metrics (if enabled)
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.InitRegistry(), cfg.Metrics.Port)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", logger.Err(err))
			}
		}()
	}

	bs, err := config.CreateBlockStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := bs.Close(); err != nil {
			logger.Error("block store close error", logger.Err(err))
		}
	}()

	job, err := buildJob(cfg)
	if err != nil {
		return err
	}
	rep, err := workload.Run(ctx, job, workload.Env{
		Store: metrics.InstrumentStore(bs, cfg.Storage.Kind),
		NewAllocator: func() (bufpool.Allocator, error) {
			return config.CreateAllocator(cfg.Pool)
		},
		Registerer: metrics.Registerer(),
	})
	if rep == nil {
		return err
	}

	if perr := printReport(cmd, format, rep); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

// applyRunFlags copies explicitly set flags over the job section.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("ranks") {
		cfg.Job.Ranks = runRanks
	}
	if flags.Changed("io-tasks") {
		cfg.Job.IOTasks = runIOTasks
	}
	if flags.Changed("mode") {
		cfg.Job.Mode = runMode
	}
	if flags.Changed("rearranger") {
		cfg.Job.Rearranger = runRearranger
	}
	if flags.Changed("type") {
		cfg.Job.Type = runType
	}
	if flags.Changed("records") {
		cfg.Job.Records = runRecords
	}
	if flags.Changed("skip") {
		cfg.Job.Skip = runSkip
	}
}

// buildJob converts a validated configuration into a workload job.
func buildJob(cfg *config.Config) (workload.Job, error) {
	kind, err := decomp.ParseKind(cfg.Job.Rearranger)
	if err != nil {
		return workload.Job{}, err
	}
	mode, err := ncio.ParseIOType(cfg.Job.Mode)
	if err != nil {
		return workload.Job{}, err
	}
	typ, err := ncio.ParseType(cfg.Job.Type)
	if err != nil {
		return workload.Job{}, err
	}
	limits := cfg.Buffer.Limits()
	if err := limits.Validate(); err != nil {
		return workload.Job{}, err
	}
	return workload.Job{
		Ranks:      cfg.Job.Ranks,
		IOTasks:    cfg.Job.IOTasks,
		Dims:       cfg.Job.Dims,
		Kind:       kind,
		Mode:       mode,
		Type:       typ,
		Vars:       cfg.Job.Vars,
		Records:    cfg.Job.Records,
		Chunk:      cfg.Job.Chunk,
		Skip:       cfg.Job.Skip,
		Limits:     limits,
		BlockElems: cfg.Storage.BlockElems,
	}, nil
}

func printReport(cmd *cobra.Command, format output.Format, rep *workload.Report) error {
	out := cmd.OutOrStdout()
	if format != output.FormatTable {
		return output.NewPrinter(out, format).Print(rep)
	}
	if err := output.PrintKV(out, rep.Summary()); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return output.PrintTable(out, rep)
}
