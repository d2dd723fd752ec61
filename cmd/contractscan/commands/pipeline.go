package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/contractscan/pkg/batch"
	"github.com/Sumatoshi-tech/contractscan/pkg/config"
	"github.com/Sumatoshi-tech/contractscan/pkg/ledger"
	"github.com/Sumatoshi-tech/contractscan/pkg/observability"
	"github.com/Sumatoshi-tech/contractscan/pkg/pump"
	"github.com/Sumatoshi-tech/contractscan/pkg/summary"
	"github.com/Sumatoshi-tech/contractscan/pkg/version"
)

const (
	defaultEnvFile         = ".env"
	serverShutdownTimeout  = 5 * time.Second
	logFormatJSON          = "json"
	debugLevel             = "debug"
	readinessInputCheckMsg = "input directory"
)

// stageFactory builds the per-item stage of a pipeline for one run.
type stageFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pump.Stage, io.Closer, error)

// pipelineCommand runs the batch scheduler over one input table. The run and
// scrape commands differ only in their tables and stage.
type pipelineCommand struct {
	configPath string
	envFile    string
	noColor    bool
	quiet      bool
	debug      bool

	// name prefixes the root span and log lines.
	name     string
	flagKeys map[string]string
	paths    func(cfg *config.Config) config.PathsConfig
	attrs    func(cfg *config.Config) []attribute.KeyValue
	newStage stageFactory
}

// addFlags registers the flags shared by every pipeline command. Table flag
// defaults differ per command.
func (pc *pipelineCommand) addFlags(flags *pflag.FlagSet, inputTable, outputTable string) {
	flags.StringVar(&pc.configPath, "config", "", "Config file (default: .contractscan.yaml in . or $HOME)")
	flags.StringVar(&pc.envFile, "env-file", defaultEnvFile, "Dotenv file loaded before configuration")
	flags.BoolVar(&pc.noColor, "no-color", false, "Disable colored summaries")
	flags.BoolVarP(&pc.quiet, "quiet", "q", false, "Suppress batch summaries")
	flags.BoolVarP(&pc.debug, "debug", "d", false, "Enable debug logging and full trace sampling")

	flags.IntP("threads", "t", config.DefaultConcurrency, "Maximum concurrent items")
	flags.Int64P("batch-size", "b", config.DefaultBatchSize, "Blocks per batch")
	flags.Int64P("start-block", "s", config.DefaultStartBlock, "First block of the range")
	flags.Int64P("end-block", "e", config.DefaultEndBlock, "Last block of the range (-1 = max block)")
	flags.Int64P("max-block", "m", config.DefaultMaxBlock, "Highest block present in the export")
	flags.Duration("poll-interval", config.DefaultPollInterval, "Cadence of progress lines while waiting for a slot")
	flags.Bool("continue-on-error", false, "Keep going after a failed batch")

	flags.String("export-path", config.DefaultExportDir, "Root of the ethereum-etl export")
	flags.String("input-table-name", inputTable, "Input table directory under the export root")
	flags.String("output-dir", "", "Output root (default: <export-path>/<output-table-name>)")
	flags.String("output-table-name", outputTable, "Output table file prefix")

	flags.String("compression", config.CompressionNone, "Output compression: none, lz4")
	flags.String("ledger", "", "Completion ledger: file, redis://..., mongodb://...")
	flags.Bool("trust-existing-output", false, "Skip batches whose output exists without a manifest")

	flags.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	flags.String("log-format", config.DefaultLogFormat, "Log format: text, json")
	flags.IntP("log-every", "l", config.DefaultLogEvery, "Progress line every N rows")

	flags.String("metrics-addr", "", "Serve /metrics, /healthz and /readyz on this address")
	flags.String("otlp-endpoint", "", "OTLP gRPC collector endpoint")
	flags.Bool("trace-verbose", false, "Emit one span per processed contract")
}

func (pc *pipelineCommand) run(cmd *cobra.Command, _ []string) error {
	err := loadEnvFile(pc.envFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(pc.configPath, cmd.Flags(), config.WithFlagKeys(pc.flagKeys))
	if err != nil {
		return err
	}

	providers, err := observability.Init(pc.observabilityConfig(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	logger := providers.Logger

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := []attribute.KeyValue{
		attribute.Int64("run.start_block", cfg.Pipeline.StartBlock),
		attribute.Int64("run.end_block", cfg.Pipeline.EndBlock),
		attribute.Int("run.concurrency", cfg.Pipeline.Concurrency),
	}

	if pc.attrs != nil {
		attrs = append(attrs, pc.attrs(cfg)...)
	}

	ctx, span := providers.Tracer.Start(ctx, "contractscan."+pc.name, trace.WithAttributes(attrs...))
	defer span.End()

	totals, err := pc.execute(ctx, cmd, cfg, providers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, pc.name+" failed")

		return err
	}

	span.SetAttributes(
		attribute.Int("run.batches", totals.Batches),
		attribute.Int("run.rows", totals.Rows),
		attribute.Int("run.errors", totals.Errors),
	)

	return nil
}

func (pc *pipelineCommand) execute(
	ctx context.Context, cmd *cobra.Command, cfg *config.Config, providers observability.Providers,
) (batch.Totals, error) {
	logger := providers.Logger
	paths := pc.paths(cfg)

	metrics, err := observability.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return batch.Totals{}, fmt.Errorf("create metrics: %w", err)
	}

	led, err := ledger.Open(ctx, cfg.Resume.Ledger, logger)
	if err != nil {
		return batch.Totals{}, err
	}

	defer closeLogged(ctx, logger, "ledger", led)

	stage, closer, err := pc.newStage(ctx, cfg, logger)
	if err != nil {
		return batch.Totals{}, err
	}

	defer closeLogged(ctx, logger, pc.name, closer)

	if cfg.Telemetry.MetricsAddr != "" {
		srv := observability.NewServer(providers.MetricsHandler, providers.Tracer, logger, inputDirCheck(paths.InputDir()))

		err = srv.Start(cfg.Telemetry.MetricsAddr)
		if err != nil {
			return batch.Totals{}, err
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer cancel()

			shutdownErr := srv.Shutdown(shutdownCtx)
			if shutdownErr != nil {
				logger.Warn("metrics server shutdown failed", "error", shutdownErr)
			}
		}()
	}

	printer := summary.New(cmd.OutOrStdout(), !pc.noColor && !color.NoColor)

	sched, err := batch.New(batch.Options{
		Layout: batch.Layout{
			InputRoot:   paths.InputDir(),
			InputTable:  paths.InputTable,
			OutputRoot:  paths.OutputDir,
			OutputTable: paths.OutputTable,
			BatchSize:   cfg.Pipeline.BatchSize,
			MaxBlock:    cfg.Pipeline.MaxBlock,
			Compress:    cfg.Output.Compressed(),
		},
		StartBlock:          cfg.Pipeline.StartBlock,
		EndBlock:            cfg.Pipeline.EndBlock,
		Concurrency:         cfg.Pipeline.Concurrency,
		KeyColumn:           cfg.Pipeline.KeyColumn,
		PayloadColumn:       cfg.Pipeline.PayloadColumn,
		Stage:               stage,
		Ledger:              led,
		TrustExistingOutput: cfg.Resume.TrustExistingOutput,
		ContinueOnError:     cfg.Pipeline.ContinueOnError,
		LogEvery:            cfg.Logging.LogEvery,
		WaitLogInterval:     cfg.Pipeline.PollInterval,
		Logger:              logger,
		Metrics:             metrics,
		Tracer:              providers.Tracer,
		TraceVerbose:        cfg.Telemetry.TraceVerbose,
		OnBatch: func(rep batch.Report) {
			if !pc.quiet {
				printer.Batch(rep)
			}
		},
	})
	if err != nil {
		return batch.Totals{}, err
	}

	logger.InfoContext(ctx, pc.name+": starting",
		"input", paths.InputDir(),
		"output", paths.OutputDir,
		"start_block", cfg.Pipeline.StartBlock,
		"end_block", cfg.Pipeline.EndBlock,
		"batch_size", cfg.Pipeline.BatchSize,
		"concurrency", cfg.Pipeline.Concurrency)

	totals, err := sched.Run(ctx)

	printer.Totals(totals, cfg.Pipeline.StartBlock, cfg.Pipeline.EndBlock)

	return totals, err
}

func (pc *pipelineCommand) observabilityConfig(cfg *config.Config, logOutput io.Writer) observability.Config {
	obs := observability.DefaultConfig()
	obs.ServiceVersion = version.Version
	obs.Environment = cfg.Telemetry.Environment
	obs.Mode = observability.ModeRun
	obs.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obs.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obs.Prometheus = cfg.Telemetry.MetricsAddr != ""
	obs.SampleRatio = cfg.Telemetry.SampleRatio
	obs.LogLevel = observability.ParseLevel(cfg.Logging.Level)
	obs.LogJSON = cfg.Logging.Format == logFormatJSON
	obs.LogOutput = logOutput

	if pc.debug {
		obs.LogLevel = observability.ParseLevel(debugLevel)
		obs.DebugTrace = true
	}

	return obs
}

// loadEnvFile exports variables from a dotenv file. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

func inputDirCheck(dir string) observability.ReadyCheck {
	return func(context.Context) error {
		_, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", readinessInputCheckMsg, err)
		}

		return nil
	}
}

func closeLogged(ctx context.Context, logger *slog.Logger, what string, c io.Closer) {
	err := c.Close()
	if err != nil {
		logger.WarnContext(ctx, "close failed", "component", what, "error", err)
	}
}
