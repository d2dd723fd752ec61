package pump

import (
	"context"

	"github.com/Sumatoshi-tech/contractscan/pkg/analyzer"
	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

// Stage turns one admitted item into its output row. Process is called from
// several goroutines. A non-nil error marks the item as failed; the returned
// row is written regardless.
type Stage interface {
	Header(schema *record.Schema) []string
	Process(ctx context.Context, item record.WorkItem) ([]string, error)
}

// Analysis appends the findings of an to every input row.
func Analysis(an analyzer.Analyzer) Stage {
	return analysisStage{an: an}
}

type analysisStage struct {
	an analyzer.Analyzer
}

func (s analysisStage) Header(schema *record.Schema) []string {
	return schema.OutputHeader()
}

func (s analysisStage) Process(ctx context.Context, item record.WorkItem) ([]string, error) {
	res := analyzer.Run(ctx, s.an, item)

	return record.Row(item, res.Columns()), res.Err
}
