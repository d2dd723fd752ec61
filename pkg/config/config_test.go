package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/contractscan/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "contractscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, ""), nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultConcurrency, cfg.Pipeline.Concurrency)
	assert.Equal(t, int64(config.DefaultBatchSize), cfg.Pipeline.BatchSize)
	assert.Equal(t, int64(config.DefaultStartBlock), cfg.Pipeline.StartBlock)
	assert.Equal(t, int64(config.DefaultMaxBlock), cfg.Pipeline.MaxBlock)
	assert.Equal(t, int64(config.DefaultMaxBlock), cfg.Pipeline.EndBlock, "end block resolves to max block")
	assert.Equal(t, config.DefaultPollInterval, cfg.Pipeline.PollInterval)
	assert.Equal(t, "address", cfg.Pipeline.KeyColumn)
	assert.Equal(t, "bytecode", cfg.Pipeline.PayloadColumn)

	assert.Equal(t, filepath.Join("ethereumetl/export", "contracts_bytecode"), cfg.Paths.InputDir())
	assert.Equal(t, filepath.Join("ethereumetl/export", "contracts_analysis"), cfg.Paths.OutputDir)
	assert.Equal(t, "contracts_analysis", cfg.Paths.OutputTable)

	assert.Equal(t, config.StrategyProcess, cfg.Analyzer.Strategy)
	assert.Equal(t, cfg.Pipeline.Concurrency, cfg.Analyzer.Workers)
	assert.Equal(t, config.DefaultPython, cfg.Analyzer.Python)
	assert.False(t, cfg.Output.Compressed())
	assert.Empty(t, cfg.Resume.Ledger)
	assert.Equal(t, 1, cfg.Logging.LogEvery)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 1e-9)

	assert.Equal(t, config.DefaultRPCURL, cfg.Scrape.RPCURL)
	assert.Equal(t, config.DefaultRPCTimeout, cfg.Scrape.Timeout)
	assert.Equal(t, filepath.Join("ethereumetl/export", "contracts"), cfg.Scrape.Paths(cfg.Paths.ExportDir).InputDir())
	assert.Equal(t, filepath.Join("ethereumetl/export", "contracts_bytecode"), cfg.Scrape.OutputDir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
pipeline:
  concurrency: 8
  batch_size: 1000
  start_block: 2000
  end_block: 5999
  poll_interval: 250ms
paths:
  export_dir: /data/export
  output_dir: /data/out
analyzer:
  strategy: Pool
  workers: 3
  args: ["-t", "120"]
output:
  compression: lz4
resume:
  ledger: redis://localhost:6379/0
logging:
  format: json
  log_every: 100
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, int64(1000), cfg.Pipeline.BatchSize)
	assert.Equal(t, int64(2000), cfg.Pipeline.StartBlock)
	assert.Equal(t, int64(5999), cfg.Pipeline.EndBlock)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.PollInterval)
	assert.Equal(t, "/data/export/contracts_bytecode", cfg.Paths.InputDir())
	assert.Equal(t, "/data/out", cfg.Paths.OutputDir)
	assert.Equal(t, config.StrategyPool, cfg.Analyzer.Strategy)
	assert.Equal(t, 3, cfg.Analyzer.Workers)
	assert.Equal(t, []string{"-t", "120"}, cfg.Analyzer.Args)
	assert.True(t, cfg.Output.Compressed())
	assert.Equal(t, "redis://localhost:6379/0", cfg.Resume.Ledger)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 100, cfg.Logging.LogEvery)
}

func TestLoad_ExplicitPathNotFound(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := config.Load(writeConfig(t, "pipeline: [unclosed"), nil)
	require.Error(t, err)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("CONTRACTSCAN_PIPELINE_CONCURRENCY", "12")
	t.Setenv("CONTRACTSCAN_PATHS_OUTPUT_TABLE", "analysis_v2")

	cfg, err := config.Load(writeConfig(t, "pipeline:\n  concurrency: 4\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Pipeline.Concurrency)
	assert.Equal(t, "analysis_v2", cfg.Paths.OutputTable)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	t.Setenv("CONTRACTSCAN_PIPELINE_CONCURRENCY", "12")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.IntP("threads", "t", 1, "")
	flags.Int64P("batch-size", "b", 100000, "")
	flags.String("strategy", "process", "")

	require.NoError(t, flags.Parse([]string{"-t", "6", "--strategy", "serial"}))

	cfg, err := config.Load(writeConfig(t, "pipeline:\n  batch_size: 500\n"), flags)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pipeline.Concurrency)
	assert.Equal(t, int64(500), cfg.Pipeline.BatchSize, "unchanged flag must not mask the file value")
	assert.Equal(t, config.StrategySerial, cfg.Analyzer.Strategy)
}

func TestLoad_ScrapeFlagKeysBindTablesToScrapeSection(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("scrape", pflag.ContinueOnError)
	flags.String("export-path", config.DefaultExportDir, "")
	flags.String("input-table-name", config.DefaultScrapeInputTable, "")
	flags.String("output-table-name", config.DefaultScrapeOutputTable, "")
	flags.String("rpc-url", config.DefaultRPCURL, "")

	require.NoError(t, flags.Parse([]string{
		"--export-path", "/data/export",
		"--input-table-name", "contracts_v2",
		"--rpc-url", "http://node:8545",
	}))

	cfg, err := config.Load(writeConfig(t, ""), flags, config.WithFlagKeys(config.ScrapeFlagKeys))
	require.NoError(t, err)

	assert.Equal(t, "contracts_v2", cfg.Scrape.InputTable)
	assert.Equal(t, config.DefaultInputTable, cfg.Paths.InputTable, "analysis tables are untouched")
	assert.Equal(t, "http://node:8545", cfg.Scrape.RPCURL)
	assert.Equal(t, filepath.Join("/data/export", "contracts_bytecode"), cfg.Scrape.OutputDir)
	assert.Equal(t, filepath.Join("/data/export", "contracts_v2"), cfg.Scrape.Paths(cfg.Paths.ExportDir).InputDir())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := config.Load(writeConfig(t, ""), nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
	}{
		{"zero concurrency", func(c *config.Config) { c.Pipeline.Concurrency = 0 }, config.ErrInvalidConcurrency},
		{"zero batch size", func(c *config.Config) { c.Pipeline.BatchSize = 0 }, config.ErrInvalidBatchSize},
		{"end before start", func(c *config.Config) { c.Pipeline.StartBlock, c.Pipeline.EndBlock = 10, 5 }, config.ErrInvalidRange},
		{"negative start", func(c *config.Config) { c.Pipeline.StartBlock = -1 }, config.ErrInvalidRange},
		{"zero interval", func(c *config.Config) { c.Pipeline.PollInterval = 0 }, config.ErrInvalidInterval},
		{"empty key column", func(c *config.Config) { c.Pipeline.KeyColumn = " " }, config.ErrEmptyColumn},
		{"unknown strategy", func(c *config.Config) { c.Analyzer.Strategy = "thread" }, config.ErrUnknownStrategy},
		{"negative workers", func(c *config.Config) { c.Analyzer.Workers = -1 }, config.ErrInvalidWorkers},
		{"unknown compression", func(c *config.Config) { c.Output.Compression = "zstd" }, config.ErrUnknownCompression},
		{"zero log every", func(c *config.Config) { c.Logging.LogEvery = 0 }, config.ErrInvalidLogEvery},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, config.ErrInvalidLogFormat},
		{"sample ratio above one", func(c *config.Config) { c.Telemetry.SampleRatio = 1.5 }, config.ErrInvalidSampleRatio},
		{"empty rpc url", func(c *config.Config) { c.Scrape.RPCURL = "" }, config.ErrEmptyRPCURL},
		{"negative rpc timeout", func(c *config.Config) { c.Scrape.Timeout = -time.Second }, config.ErrInvalidRPCTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := *base
			tt.mutate(&cfg)

			require.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}

	require.NoError(t, base.Validate())
}
