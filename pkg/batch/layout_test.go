package batch_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/contractscan/pkg/batch"
)

func TestLayout_LocateClipsToMaxBlock(t *testing.T) {
	t.Parallel()

	l := batch.Layout{
		InputRoot:   "export/contracts_bytecode",
		InputTable:  "contracts_bytecode",
		OutputRoot:  "export/contracts_analysis",
		OutputTable: "contracts_analysis",
		BatchSize:   100000,
		MaxBlock:    7532178,
	}

	b := l.Locate(7500000)

	assert.Equal(t, int64(7500000), b.Start)
	assert.Equal(t, int64(7532178), b.End)
	assert.Equal(t, "07500000_07532178", b.ID())
	assert.Equal(t, filepath.Join("export/contracts_bytecode", "start_block=07500000", "end_block=07532178",
		"contracts_bytecode_07500000_07532178.csv"), b.InputPath)
	assert.Equal(t, filepath.Join("export/contracts_analysis", "start_block=07500000", "end_block=07532178",
		"contracts_analysis_07500000_07532178.csv"), b.OutputPath)

	first := l.Locate(0)
	assert.Equal(t, int64(99999), first.End)
	assert.Equal(t, "00000000_00099999", first.ID())
}

func TestLayout_CompressedOutput(t *testing.T) {
	t.Parallel()

	l := batch.Layout{OutputRoot: "out", OutputTable: "t", BatchSize: 10, MaxBlock: 100, Compress: true}

	assert.Equal(t, filepath.Join("out", "start_block=00000010", "end_block=00000019", "t_00000010_00000019.csv.lz4"),
		l.Locate(10).OutputPath)
}

func TestLayout_FallsBackToLZ4Input(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l := batch.Layout{InputRoot: root, InputTable: "in", BatchSize: 10, MaxBlock: 100}

	plain := l.Locate(0).InputPath
	require.NoError(t, os.MkdirAll(filepath.Dir(plain), 0o755))
	require.NoError(t, os.WriteFile(plain+".lz4", nil, 0o600))

	assert.Equal(t, plain+".lz4", l.Locate(0).InputPath)

	require.NoError(t, os.WriteFile(plain, nil, 0o600))
	assert.Equal(t, plain, l.Locate(0).InputPath)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "INIT", batch.StateInit.String())
	assert.Equal(t, "SKIPPED", batch.StateSkipped.String())
	assert.Equal(t, "STREAMING", batch.StateStreaming.String())
	assert.Equal(t, "DRAINING", batch.StateDraining.String())
	assert.Equal(t, "CLOSED", batch.StateClosed.String())
	assert.Equal(t, "FAILED", batch.StateFailed.String())
	assert.Equal(t, "UNKNOWN", batch.State(42).String())
}

func TestTotals_Add(t *testing.T) {
	t.Parallel()

	var totals batch.Totals

	totals.Add(batch.Report{State: batch.StateClosed, Stats: batch.Stats{
		Rows: 10, Errors: 1, WaitTime: time.Second, AnalysisTime: 3 * time.Second, MaxInFlight: 2, OutputBytes: 100,
	}})
	totals.Add(batch.Report{State: batch.StateSkipped, Stats: batch.Stats{Rows: 99}})
	totals.Add(batch.Report{State: batch.StateFailed, Err: errors.New("boom"), Stats: batch.Stats{
		Rows: 2, Errors: 1, AnalysisTime: time.Second, Elapsed: time.Second, MaxInFlight: 4, OutputBytes: 50,
	}})

	assert.Equal(t, 3, totals.Batches)
	assert.Equal(t, 1, totals.Skipped)
	assert.Equal(t, 1, totals.Failed)
	assert.Equal(t, 10, totals.Rows)
	assert.Equal(t, 2, totals.FailedRows)
	assert.Equal(t, 1, totals.Errors)
	assert.Equal(t, 3*time.Second, totals.AnalysisTime)
	assert.Equal(t, time.Second, totals.Elapsed)
	assert.Equal(t, 2, totals.MaxInFlight)
	assert.Equal(t, int64(100), totals.OutputBytes)
}
