// Package pump streams one batch input through a processing stage.
//
// The pump reads records in order, waits for an admission slot before
// dispatching each one and writes a row per item as items complete. Run
// returns only after every dispatched item has finished.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/contractscan/pkg/admission"
	"github.com/Sumatoshi-tech/contractscan/pkg/analyzer"
	"github.com/Sumatoshi-tech/contractscan/pkg/observability"
	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

// ErrMissingParam is returned when Params lacks a required collaborator.
var ErrMissingParam = errors.New("pump: missing parameter")

// Source yields the header and then the records of one input.
type Source interface {
	Header() ([]string, error)
	Next() (fields []string, line int, err error)
}

// Sink receives the output header once and then one row per item.
// WriteRow is called from several goroutines.
type Sink interface {
	WriteHeader(cols []string) error
	WriteRow(fields []string) error
}

// Params wires one pump run. Stage takes precedence over Analyzer; with
// only Analyzer set the pump runs Analysis(Analyzer).
type Params struct {
	Source   Source
	Sink     Sink
	Gate     *admission.Controller
	Analyzer analyzer.Analyzer
	Stage    Stage

	KeyColumn     string
	PayloadColumn string

	Logger       *slog.Logger
	Metrics      *observability.PipelineMetrics
	Tracer       trace.Tracer
	TraceVerbose bool

	// LogEvery emits a progress line every N rows. Zero disables it.
	LogEvery int
	// WaitLogInterval is the cadence of "waiting for slot" lines while
	// admission blocks. Zero disables them.
	WaitLogInterval time.Duration

	// OnDrain is called once reading stops, with the number of analyses
	// still in flight.
	OnDrain func(inFlight int)
}

// Stats summarizes one run.
type Stats struct {
	Rows         int
	Errors       int
	WaitTime     time.Duration
	AnalysisTime time.Duration
	MaxInFlight  int
}

type pump struct {
	Params

	mu    sync.Mutex
	stats Stats
}

// Run streams the whole input. Analyses run on a context detached from ctx
// cancellation: cancelling ctx stops admission, then Run waits for the
// in-flight items and returns ctx's error.
func Run(ctx context.Context, params Params) (Stats, error) {
	if params.Stage == nil && params.Analyzer != nil {
		params.Stage = Analysis(params.Analyzer)
	}

	if params.Source == nil || params.Sink == nil || params.Gate == nil || params.Stage == nil {
		return Stats{}, ErrMissingParam
	}

	if params.KeyColumn == "" {
		params.KeyColumn = record.DefaultKeyColumn
	}

	if params.PayloadColumn == "" {
		params.PayloadColumn = record.DefaultPayloadColumn
	}

	if params.Logger == nil {
		params.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if params.Tracer == nil {
		params.Tracer = noop.NewTracerProvider().Tracer("contractscan")
	}

	p := &pump{Params: params}

	header, err := p.Source.Header()
	if err != nil {
		return Stats{}, err
	}

	schema, err := record.NewSchema(header, p.KeyColumn, p.PayloadColumn)
	if err != nil {
		return Stats{}, err
	}

	err = p.Sink.WriteHeader(p.Stage.Header(schema))
	if err != nil {
		return Stats{}, fmt.Errorf("write header: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	readErr := p.read(gctx, g, schema)

	if p.OnDrain != nil {
		p.OnDrain(p.Gate.InFlight())
	}

	waitErr := g.Wait()

	stats := p.snapshot()
	stats.MaxInFlight = p.Gate.HighWater()

	if waitErr != nil {
		return stats, waitErr
	}

	return stats, readErr
}

func (p *pump) read(ctx context.Context, g *errgroup.Group, schema *record.Schema) error {
	for {
		err := ctx.Err()
		if err != nil {
			return err
		}

		fields, line, err := p.Source.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		item, err := schema.Item(fields, line)
		if err != nil {
			return err
		}

		wait, err := p.admit(ctx, &item)
		if err != nil {
			return err
		}

		p.Metrics.RecordAdmission(ctx, wait)
		p.dispatch(ctx, g, item, wait)
	}
}

// admit blocks for a slot. A key already in flight is renamed to
// "<key>#<line>" so both records get a row.
func (p *pump) admit(ctx context.Context, item *record.WorkItem) (time.Duration, error) {
	started := time.Now()

	stop := p.watchWait(ctx, item.Key, started)
	defer stop()

	err := p.Gate.Admit(ctx, item.Key)
	if errors.Is(err, admission.ErrKeyInFlight) {
		alias := fmt.Sprintf("%s#%d", item.Key, item.Line)
		p.Logger.DebugContext(ctx, "pump: duplicate key in flight", "key", item.Key, "alias", alias)

		item.Key = alias
		err = p.Gate.Admit(ctx, alias)
	}

	if err != nil {
		return 0, err
	}

	return time.Since(started), nil
}

// watchWait logs while admission blocks. The returned func stops it.
func (p *pump) watchWait(ctx context.Context, key string, started time.Time) func() {
	if p.WaitLogInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(p.WaitLogInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.Logger.InfoContext(ctx, "pump: waiting for free slot",
					"key", key, "waited", time.Since(started).Round(time.Millisecond),
					"in_flight", p.Gate.InFlight())
			}
		}
	}()

	return func() { close(done) }
}

func (p *pump) dispatch(ctx context.Context, g *errgroup.Group, item record.WorkItem, wait time.Duration) {
	actx := context.WithoutCancel(ctx)

	g.Go(func() error {
		defer p.Gate.Release(item.Key)

		started := time.Now()
		row, itemErr := p.process(actx, item)
		took := time.Since(started)
		failed := itemErr != nil

		p.Metrics.RecordItem(actx, failed, took)

		if failed {
			p.Logger.WarnContext(actx, "pump: item failed", "key", item.Key, "line", item.Line, "error", itemErr)
		}

		err := p.Sink.WriteRow(row)
		if err != nil {
			return fmt.Errorf("write row for %s: %w", item.Key, err)
		}

		p.complete(actx, failed, took, wait)

		return nil
	})
}

func (p *pump) process(ctx context.Context, item record.WorkItem) ([]string, error) {
	if !p.TraceVerbose {
		return p.Stage.Process(ctx, item)
	}

	ctx, span := p.Tracer.Start(ctx, "contractscan.analyze", trace.WithAttributes(
		attribute.String("contract.key", item.Key),
		attribute.Int("input.line", item.Line),
	))
	defer span.End()

	row, err := p.Stage.Process(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "item failed")
	}

	return row, err
}

func (p *pump) complete(ctx context.Context, failed bool, took, wait time.Duration) {
	p.mu.Lock()

	p.stats.Rows++
	if failed {
		p.stats.Errors++
	}

	p.stats.AnalysisTime += took
	p.stats.WaitTime += wait
	snap := p.stats

	p.mu.Unlock()

	if p.LogEvery > 0 && snap.Rows%p.LogEvery == 0 {
		p.Logger.InfoContext(ctx, "pump: progress",
			"rows", snap.Rows,
			"errors", snap.Errors,
			"analysis_time", snap.AnalysisTime.Round(time.Millisecond),
			"wait_time", snap.WaitTime.Round(time.Millisecond),
			"in_flight", p.Gate.InFlight())
	}
}

func (p *pump) snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}
