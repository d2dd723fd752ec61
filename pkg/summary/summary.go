// Package summary renders batch and run statistics for the console.
package summary

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/contractscan/pkg/batch"
	"github.com/Sumatoshi-tech/contractscan/pkg/safeconv"
)

// Printer writes summaries to one stream.
type Printer struct {
	w       io.Writer
	colored bool
}

// New creates a Printer. colored enables ANSI colors for batch states.
func New(w io.Writer, colored bool) *Printer {
	return &Printer{w: w, colored: colored}
}

// Batch prints the statistics of one finished batch.
func (p *Printer) Batch(rep batch.Report) {
	title := fmt.Sprintf("STATS FOR BATCH %d-%d", rep.Batch.Start, rep.Batch.End)

	fmt.Fprintf(p.w, "%s %s\n", title, p.state(rep.State))

	if rep.State == batch.StateSkipped {
		fmt.Fprintf(p.w, "  output already complete: %s\n\n", rep.Batch.OutputPath)

		return
	}

	if rep.Err != nil {
		p.paint(color.FgRed).Fprintf(p.w, "  error: %v\n", rep.Err)
	}

	fmt.Fprintln(p.w, BatchTable(rep))
	fmt.Fprintln(p.w)
}

// Totals prints the aggregate statistics of a run.
func (p *Printer) Totals(t batch.Totals, startBlock, endBlock int64) {
	fmt.Fprintln(p.w, "AGGREGATE STATS")
	fmt.Fprintln(p.w, TotalsTable(t))

	status := p.paint(color.FgGreen)
	if t.Failed > 0 {
		status = p.paint(color.FgRed)
	}

	status.Fprintf(p.w, "Finished analyzing block range %d-%d\n", startBlock, endBlock)
}

// BatchTable renders one batch's counters.
func BatchTable(rep batch.Report) string {
	tbl := newTable()

	tbl.AppendRows([]table.Row{
		{"Output", rep.Batch.OutputPath},
		{"Lines", humanize.Comma(int64(rep.Stats.Rows))},
		{"Errors", humanize.Comma(int64(rep.Stats.Errors))},
		{"Analysis time", seconds(rep.Stats.AnalysisTime)},
		{"Queue wait time", seconds(rep.Stats.WaitTime)},
		{"Batch total", seconds(rep.Stats.Elapsed)},
		{"Peak in flight", rep.Stats.MaxInFlight},
		{"Output size", humanize.Bytes(safeconv.ClampToUint64(rep.Stats.OutputBytes))},
	})

	return tbl.Render()
}

// TotalsTable renders the aggregate counters.
func TotalsTable(t batch.Totals) string {
	tbl := newTable()

	tbl.AppendRows([]table.Row{
		{"Batches", humanize.Comma(int64(t.Batches))},
		{"Skipped", humanize.Comma(int64(t.Skipped))},
		{"Failed", humanize.Comma(int64(t.Failed))},
		{"Total lines", humanize.Comma(int64(t.Rows))},
		{"Discarded lines", humanize.Comma(int64(t.FailedRows))},
		{"Total errors", humanize.Comma(int64(t.Errors))},
		{"Total analysis time", seconds(t.AnalysisTime)},
		{"Total queue wait", seconds(t.WaitTime)},
		{"Total time", seconds(t.Elapsed)},
		{"Output size", humanize.Bytes(safeconv.ClampToUint64(t.OutputBytes))},
	})

	return tbl.Render()
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false

	return tbl
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

func (p *Printer) state(s batch.State) string {
	attr := color.FgGreen

	switch s {
	case batch.StateFailed:
		attr = color.FgRed
	case batch.StateSkipped:
		attr = color.FgYellow
	}

	return p.paint(attr).Sprint(strings.ToLower(s.String()))
}

func (p *Printer) paint(attr color.Attribute) *color.Color {
	c := color.New(attr)
	if p.colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c
}
