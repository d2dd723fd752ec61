package config

import "time"

// Pipeline defaults.
const (
	DefaultConcurrency   = 1
	DefaultBatchSize     = 100000
	DefaultStartBlock    = 0
	DefaultMaxBlock      = 7532178
	DefaultEndBlock      = -1 // resolves to max_block.
	DefaultPollInterval  = 10 * time.Second
	DefaultKeyColumn     = "address"
	DefaultPayloadColumn = "bytecode"
)

// Path defaults.
const (
	DefaultExportDir   = "ethereumetl/export"
	DefaultInputTable  = "contracts_bytecode"
	DefaultOutputTable = "contracts_analysis"
)

// Scrape defaults.
const (
	DefaultRPCURL            = "http://localhost:8545"
	DefaultRPCTimeout        = 30 * time.Second
	DefaultScrapeInputTable  = "contracts"
	DefaultScrapeOutputTable = "contracts_bytecode"
)

// Analyzer strategies.
const (
	StrategyProcess = "process"
	StrategyPool    = "pool"
	StrategySerial  = "serial"
)

// Analyzer defaults.
const (
	DefaultStrategy  = StrategyProcess
	DefaultWorkers   = 0 // resolves to pipeline.concurrency.
	DefaultPython    = "/usr/bin/python"
	DefaultScriptDir = "oyente/oyente"
)

// Output compression modes.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultLogEvery  = 1
)

// Telemetry defaults.
const (
	DefaultSampleRatio = 1.0
	DefaultEnvironment = "development"
)
