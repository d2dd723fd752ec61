// Package commands implements the contractscan CLI commands.
package commands

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Sumatoshi-tech/contractscan/pkg/analyzer"
	"github.com/Sumatoshi-tech/contractscan/pkg/config"
	"github.com/Sumatoshi-tech/contractscan/pkg/pump"
)

// analyzerFactory builds the analyzer for a run.
type analyzerFactory func(cfg config.AnalyzerConfig, logger *slog.Logger) (analyzer.Analyzer, io.Closer, error)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommandWithDeps(analyzer.New)
}

func newRunCommandWithDeps(newAnalyzer analyzerFactory) *cobra.Command {
	pc := &pipelineCommand{
		name:     "run",
		flagKeys: config.FlagKeys,
		paths:    func(cfg *config.Config) config.PathsConfig { return cfg.Paths },
		attrs: func(cfg *config.Config) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("run.strategy", cfg.Analyzer.Strategy)}
		},
		newStage: func(_ context.Context, cfg *config.Config, logger *slog.Logger) (pump.Stage, io.Closer, error) {
			an, closer, err := newAnalyzer(cfg.Analyzer, logger)
			if err != nil {
				return nil, nil, err
			}

			return pump.Analysis(an), closer, nil
		},
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze every batch in the configured block range",
		Long: `Analyze every contracts_bytecode partition between --start-block and
--end-block. Batches whose completion manifest exists are skipped, so an
interrupted run can simply be restarted.`,
		Args: cobra.NoArgs,
		RunE: pc.run,
	}

	flags := cmd.Flags()

	pc.addFlags(flags, config.DefaultInputTable, config.DefaultOutputTable)

	flags.String("strategy", config.DefaultStrategy, "Analyzer strategy: process, pool, serial")
	flags.Int("workers", config.DefaultWorkers, "Pool workers (0 = threads)")
	flags.String("python", config.DefaultPython, "Python interpreter running Oyente")
	flags.String("oyente-dir", config.DefaultScriptDir, "Directory containing oyente.py")
	flags.String("work-dir", "", "Directory for bytecode files (default: temporary)")

	return cmd
}
