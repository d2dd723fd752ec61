// Package config provides configuration loading and validation for contractscan.
package config

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
	ErrInvalidBatchSize   = errors.New("batch size must be positive")
	ErrInvalidRange       = errors.New("invalid block range")
	ErrInvalidWorkers     = errors.New("analyzer workers must not be negative")
	ErrUnknownStrategy    = errors.New("unknown analyzer strategy")
	ErrUnknownCompression = errors.New("unknown output compression")
	ErrEmptyColumn        = errors.New("key and payload columns must be set")
	ErrInvalidLogEvery    = errors.New("log_every must be positive")
	ErrInvalidLogFormat   = errors.New("unknown log format")
	ErrInvalidSampleRatio = errors.New("sample ratio must be within [0, 1]")
	ErrInvalidInterval    = errors.New("poll interval must be positive")
	ErrEmptyRPCURL        = errors.New("scrape rpc_url must be set")
	ErrInvalidRPCTimeout  = errors.New("scrape timeout must not be negative")
)

const (
	configName = ".contractscan"
	envPrefix  = "CONTRACTSCAN"
)

// Config holds all configuration for a run.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Output    OutputConfig    `mapstructure:"output"`
	Resume    ResumeConfig    `mapstructure:"resume"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// PipelineConfig bounds the batch walk and the admission gate.
type PipelineConfig struct {
	KeyColumn       string        `mapstructure:"key_column"`
	PayloadColumn   string        `mapstructure:"payload_column"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	BatchSize       int64         `mapstructure:"batch_size"`
	StartBlock      int64         `mapstructure:"start_block"`
	EndBlock        int64         `mapstructure:"end_block"`
	MaxBlock        int64         `mapstructure:"max_block"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
}

// PathsConfig locates the input export and the analysis output. OutputDir
// defaults to <export_dir>/<output_table>.
type PathsConfig struct {
	ExportDir   string `mapstructure:"export_dir"`
	InputTable  string `mapstructure:"input_table"`
	OutputDir   string `mapstructure:"output_dir"`
	OutputTable string `mapstructure:"output_table"`
}

// InputDir returns the root directory holding the input table partitions.
func (p PathsConfig) InputDir() string {
	return filepath.Join(p.ExportDir, p.InputTable)
}

// AnalyzerConfig selects and configures the analyzer strategy.
type AnalyzerConfig struct {
	Strategy  string   `mapstructure:"strategy"`
	Python    string   `mapstructure:"python"`
	ScriptDir string   `mapstructure:"script_dir"`
	WorkDir   string   `mapstructure:"work_dir"`
	Args      []string `mapstructure:"args"`
	Workers   int      `mapstructure:"workers"`
}

// OutputConfig controls how result files are written.
type OutputConfig struct {
	Compression string `mapstructure:"compression"`
}

// Compressed reports whether outputs are lz4 framed.
func (o OutputConfig) Compressed() bool {
	return o.Compression == CompressionLZ4
}

// ResumeConfig controls how completed batches are recognized.
type ResumeConfig struct {
	// Ledger is empty or "file" for manifests next to outputs, or a
	// redis:// or mongodb:// URL.
	Ledger              string `mapstructure:"ledger"`
	TrustExistingOutput bool   `mapstructure:"trust_existing_output"`
}

// ScrapeConfig configures the bytecode scrape that turns the contracts table
// into contracts_bytecode. Its tables share paths.export_dir.
type ScrapeConfig struct {
	RPCURL      string        `mapstructure:"rpc_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	InputTable  string        `mapstructure:"input_table"`
	OutputDir   string        `mapstructure:"output_dir"`
	OutputTable string        `mapstructure:"output_table"`
}

// Paths returns the scrape tables as a PathsConfig.
func (s ScrapeConfig) Paths(exportDir string) PathsConfig {
	return PathsConfig{
		ExportDir:   exportDir,
		InputTable:  s.InputTable,
		OutputDir:   s.OutputDir,
		OutputTable: s.OutputTable,
	}
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	LogEvery int    `mapstructure:"log_every"`
}

// TelemetryConfig holds tracing and metrics configuration.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
	Environment  string  `mapstructure:"environment"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	TraceVerbose bool    `mapstructure:"trace_verbose"`
}

// FlagKeys maps command-line flag names to configuration keys. Load binds
// every entry whose flag exists in the supplied flag set.
var FlagKeys = map[string]string{
	"threads":               "pipeline.concurrency",
	"batch-size":            "pipeline.batch_size",
	"start-block":           "pipeline.start_block",
	"end-block":             "pipeline.end_block",
	"max-block":             "pipeline.max_block",
	"poll-interval":         "pipeline.poll_interval",
	"continue-on-error":     "pipeline.continue_on_error",
	"export-path":           "paths.export_dir",
	"input-table-name":      "paths.input_table",
	"output-dir":            "paths.output_dir",
	"output-table-name":     "paths.output_table",
	"strategy":              "analyzer.strategy",
	"workers":               "analyzer.workers",
	"python":                "analyzer.python",
	"oyente-dir":            "analyzer.script_dir",
	"work-dir":              "analyzer.work_dir",
	"compression":           "output.compression",
	"ledger":                "resume.ledger",
	"trust-existing-output": "resume.trust_existing_output",
	"log-level":             "logging.level",
	"log-format":            "logging.format",
	"log-every":             "logging.log_every",
	"metrics-addr":          "telemetry.metrics_addr",
	"otlp-endpoint":         "telemetry.otlp_endpoint",
	"trace-verbose":         "telemetry.trace_verbose",
	"rpc-url":               "scrape.rpc_url",
	"rpc-timeout":           "scrape.timeout",
}

// ScrapeFlagKeys binds the table flags of the scrape command to the scrape
// section and every other flag as FlagKeys does.
var ScrapeFlagKeys = withOverrides(FlagKeys, map[string]string{
	"input-table-name":  "scrape.input_table",
	"output-dir":        "scrape.output_dir",
	"output-table-name": "scrape.output_table",
})

func withOverrides(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base))
	maps.Copy(out, base)
	maps.Copy(out, overrides)

	return out
}

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	flagKeys map[string]string
}

// WithFlagKeys binds flags by keys instead of FlagKeys.
func WithFlagKeys(keys map[string]string) Option {
	return func(o *loadOptions) {
		o.flagKeys = keys
	}
}

// Load reads configuration from defaults, an optional YAML file, CONTRACTSCAN_*
// environment variables and flags, in increasing order of precedence.
// When configPath is empty, .contractscan.yaml is searched in the working
// directory and $HOME; a missing file is not an error.
func Load(configPath string, flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	lo := loadOptions{flagKeys: FlagKeys}
	for _, opt := range opts {
		opt(&lo)
	}

	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("$HOME")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	bindErr := bindFlags(viperCfg, flags, lo.flagKeys)
	if bindErr != nil {
		return nil, bindErr
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	cfg.resolve()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

func bindFlags(viperCfg *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	if flags == nil {
		return nil
	}

	for name, key := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}

		err := viperCfg.BindPFlag(key, flag)
		if err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Pipeline defaults.
	viperCfg.SetDefault("pipeline.concurrency", DefaultConcurrency)
	viperCfg.SetDefault("pipeline.batch_size", DefaultBatchSize)
	viperCfg.SetDefault("pipeline.start_block", DefaultStartBlock)
	viperCfg.SetDefault("pipeline.end_block", DefaultEndBlock)
	viperCfg.SetDefault("pipeline.max_block", DefaultMaxBlock)
	viperCfg.SetDefault("pipeline.poll_interval", DefaultPollInterval)
	viperCfg.SetDefault("pipeline.key_column", DefaultKeyColumn)
	viperCfg.SetDefault("pipeline.payload_column", DefaultPayloadColumn)
	viperCfg.SetDefault("pipeline.continue_on_error", false)

	// Path defaults.
	viperCfg.SetDefault("paths.export_dir", DefaultExportDir)
	viperCfg.SetDefault("paths.input_table", DefaultInputTable)
	viperCfg.SetDefault("paths.output_dir", "")
	viperCfg.SetDefault("paths.output_table", DefaultOutputTable)

	// Analyzer defaults.
	viperCfg.SetDefault("analyzer.strategy", DefaultStrategy)
	viperCfg.SetDefault("analyzer.workers", DefaultWorkers)
	viperCfg.SetDefault("analyzer.python", DefaultPython)
	viperCfg.SetDefault("analyzer.script_dir", DefaultScriptDir)
	viperCfg.SetDefault("analyzer.work_dir", "")
	viperCfg.SetDefault("analyzer.args", []string{})

	viperCfg.SetDefault("output.compression", CompressionNone)

	viperCfg.SetDefault("resume.ledger", "")
	viperCfg.SetDefault("resume.trust_existing_output", false)

	// Scrape defaults.
	viperCfg.SetDefault("scrape.rpc_url", DefaultRPCURL)
	viperCfg.SetDefault("scrape.timeout", DefaultRPCTimeout)
	viperCfg.SetDefault("scrape.input_table", DefaultScrapeInputTable)
	viperCfg.SetDefault("scrape.output_dir", "")
	viperCfg.SetDefault("scrape.output_table", DefaultScrapeOutputTable)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)
	viperCfg.SetDefault("logging.log_every", DefaultLogEvery)

	// Telemetry defaults.
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.metrics_addr", "")
	viperCfg.SetDefault("telemetry.trace_verbose", false)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("telemetry.environment", DefaultEnvironment)
}

// resolve fills values that default relative to other values.
func (c *Config) resolve() {
	if c.Pipeline.EndBlock < 0 {
		c.Pipeline.EndBlock = c.Pipeline.MaxBlock
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = filepath.Join(c.Paths.ExportDir, c.Paths.OutputTable)
	}

	if c.Scrape.OutputDir == "" {
		c.Scrape.OutputDir = filepath.Join(c.Paths.ExportDir, c.Scrape.OutputTable)
	}

	if c.Analyzer.Workers == 0 {
		c.Analyzer.Workers = c.Pipeline.Concurrency
	}

	c.Analyzer.Strategy = strings.ToLower(strings.TrimSpace(c.Analyzer.Strategy))
	c.Output.Compression = strings.ToLower(strings.TrimSpace(c.Output.Compression))

	if c.Output.Compression == "" {
		c.Output.Compression = CompressionNone
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline

	if p.Concurrency <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, p.Concurrency)
	}

	if p.BatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, p.BatchSize)
	}

	if p.StartBlock < 0 || p.MaxBlock < 0 || p.EndBlock < p.StartBlock {
		return fmt.Errorf("%w: start=%d end=%d max=%d", ErrInvalidRange, p.StartBlock, p.EndBlock, p.MaxBlock)
	}

	if p.PollInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, p.PollInterval)
	}

	if strings.TrimSpace(p.KeyColumn) == "" || strings.TrimSpace(p.PayloadColumn) == "" {
		return ErrEmptyColumn
	}

	if !slices.Contains([]string{StrategyProcess, StrategyPool, StrategySerial}, c.Analyzer.Strategy) {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Analyzer.Strategy)
	}

	if c.Analyzer.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Analyzer.Workers)
	}

	if c.Output.Compression != CompressionNone && c.Output.Compression != CompressionLZ4 {
		return fmt.Errorf("%w: %q", ErrUnknownCompression, c.Output.Compression)
	}

	if c.Logging.LogEvery <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLogEvery, c.Logging.LogEvery)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, c.Telemetry.SampleRatio)
	}

	if strings.TrimSpace(c.Scrape.RPCURL) == "" {
		return ErrEmptyRPCURL
	}

	if c.Scrape.Timeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRPCTimeout, c.Scrape.Timeout)
	}

	return nil
}
