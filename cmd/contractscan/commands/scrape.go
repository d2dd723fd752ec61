package commands

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/contractscan/pkg/config"
	"github.com/Sumatoshi-tech/contractscan/pkg/pump"
	"github.com/Sumatoshi-tech/contractscan/pkg/scrape"
)

// NewScrapeCommand creates the scrape command.
func NewScrapeCommand() *cobra.Command {
	pc := &pipelineCommand{
		name:     "scrape",
		flagKeys: config.ScrapeFlagKeys,
		paths:    func(cfg *config.Config) config.PathsConfig { return cfg.Scrape.Paths(cfg.Paths.ExportDir) },
		newStage: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pump.Stage, io.Closer, error) {
			rpc, err := scrape.Dial(ctx, cfg.Scrape.RPCURL)
			if err != nil {
				return nil, nil, err
			}

			logger.InfoContext(ctx, "scrape: node endpoint", "rpc_url", cfg.Scrape.RPCURL, "timeout", cfg.Scrape.Timeout)

			return scrape.NewStage(rpc, cfg.Scrape.Timeout), rpc, nil
		},
	}

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch contract bytecode for every batch of the contracts table",
		Long: `Read every contracts partition between --start-block and --end-block,
fetch each contract's code with eth_getCode and write the rows with the
bytecode column filled to the matching contracts_bytecode partition, the
input of the run command.`,
		Args: cobra.NoArgs,
		RunE: pc.run,
	}

	flags := cmd.Flags()

	pc.addFlags(flags, config.DefaultScrapeInputTable, config.DefaultScrapeOutputTable)

	flags.String("rpc-url", config.DefaultRPCURL, "Ethereum node endpoint")
	flags.Duration("rpc-timeout", config.DefaultRPCTimeout, "Timeout of one eth_getCode call (0 = none)")

	return cmd
}
