// Package batch walks a block range in fixed-size batches and runs the
// analysis pump over each batch input exactly once.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	csvExt = ".csv"
	lz4Ext = ".lz4"
)

// Layout maps block ranges to partitioned input and output files.
type Layout struct {
	InputRoot   string
	InputTable  string
	OutputRoot  string
	OutputTable string
	BatchSize   int64
	MaxBlock    int64
	Compress    bool
}

// Batch is one inclusive block range and its files.
type Batch struct {
	Start      int64
	End        int64
	InputPath  string
	OutputPath string
}

// ID names the batch in logs, ledgers and manifests.
func (b Batch) ID() string {
	return fmt.Sprintf("%08d_%08d", b.Start, b.End)
}

// Locate returns the batch starting at start. Its end is clipped to MaxBlock.
func (l Layout) Locate(start int64) Batch {
	end := min(start+l.BatchSize-1, l.MaxBlock)

	out := partitionPath(l.OutputRoot, l.OutputTable, start, end)
	if l.Compress {
		out += lz4Ext
	}

	return Batch{
		Start:      start,
		End:        end,
		InputPath:  resolveInput(partitionPath(l.InputRoot, l.InputTable, start, end)),
		OutputPath: out,
	}
}

// partitionPath builds <root>/start_block=S/end_block=E/<table>_S_E.csv.
func partitionPath(root, table string, start, end int64) string {
	return filepath.Join(root,
		fmt.Sprintf("start_block=%08d", start),
		fmt.Sprintf("end_block=%08d", end),
		fmt.Sprintf("%s_%08d_%08d%s", table, start, end, csvExt))
}

// resolveInput prefers the plain CSV and falls back to an lz4 export.
func resolveInput(path string) string {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		_, lzErr := os.Stat(path + lz4Ext)
		if lzErr == nil {
			return path + lz4Ext
		}
	}

	return path
}
