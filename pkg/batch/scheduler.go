package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/contractscan/pkg/admission"
	"github.com/Sumatoshi-tech/contractscan/pkg/analyzer"
	"github.com/Sumatoshi-tech/contractscan/pkg/ledger"
	"github.com/Sumatoshi-tech/contractscan/pkg/observability"
	"github.com/Sumatoshi-tech/contractscan/pkg/pump"
	"github.com/Sumatoshi-tech/contractscan/pkg/record"
	"github.com/Sumatoshi-tech/contractscan/pkg/sink"
)

// Sentinel errors.
var (
	ErrInvalidOptions = errors.New("invalid scheduler options")
	ErrBatchFailed    = errors.New("batch failed")
)

const dirPerm = 0o755

// Options configures a Scheduler.
type Options struct {
	Layout     Layout
	StartBlock int64
	EndBlock   int64

	Concurrency   int
	KeyColumn     string
	PayloadColumn string

	Analyzer analyzer.Analyzer
	Stage    pump.Stage // replaces the analysis stage when set
	Ledger   ledger.Ledger

	// TrustExistingOutput also skips a batch whose output file exists
	// without a completion manifest.
	TrustExistingOutput bool
	ContinueOnError     bool

	LogEvery        int
	WaitLogInterval time.Duration

	Logger       *slog.Logger
	Metrics      *observability.PipelineMetrics
	Tracer       trace.Tracer
	TraceVerbose bool

	// OnBatch observes every batch once it reaches its final state.
	OnBatch func(Report)
}

// Scheduler processes batches strictly one after another.
type Scheduler struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// New validates opts and builds a Scheduler.
func New(opts Options) (*Scheduler, error) {
	switch {
	case opts.Analyzer == nil && opts.Stage == nil:
		return nil, fmt.Errorf("%w: analyzer or stage is required", ErrInvalidOptions)
	case opts.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger is required", ErrInvalidOptions)
	case opts.Concurrency <= 0:
		return nil, fmt.Errorf("%w: concurrency %d", ErrInvalidOptions, opts.Concurrency)
	case opts.Layout.BatchSize <= 0:
		return nil, fmt.Errorf("%w: batch size %d", ErrInvalidOptions, opts.Layout.BatchSize)
	case opts.StartBlock < 0 || opts.EndBlock < opts.StartBlock:
		return nil, fmt.Errorf("%w: range %d..%d", ErrInvalidOptions, opts.StartBlock, opts.EndBlock)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("contractscan")
	}

	return &Scheduler{opts: opts, logger: logger, tracer: tracer}, nil
}

// Run walks StartBlock..EndBlock. It stops at the first failed batch unless
// ContinueOnError is set, and between batches when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) (Totals, error) {
	var totals Totals

	last := min(s.opts.EndBlock, s.opts.Layout.MaxBlock)

	for start := s.opts.StartBlock; start <= last; start += s.opts.Layout.BatchSize {
		err := ctx.Err()
		if err != nil {
			return totals, err
		}

		b := s.opts.Layout.Locate(start)
		rep := s.runBatch(ctx, b)

		totals.Add(rep)
		s.opts.Metrics.RecordBatch(ctx, rep.State.String())

		if s.opts.OnBatch != nil {
			s.opts.OnBatch(rep)
		}

		if rep.State != StateFailed {
			continue
		}

		if ctx.Err() != nil || !s.opts.ContinueOnError {
			return totals, fmt.Errorf("%w: %s: %w", ErrBatchFailed, b.ID(), rep.Err)
		}

		s.logger.WarnContext(ctx, "batch: continuing after failure", "batch", b.ID(), "error", rep.Err)
	}

	return totals, nil
}

func (s *Scheduler) runBatch(ctx context.Context, b Batch) Report {
	ctx = observability.WithBatch(ctx, b.ID())

	ctx, span := s.tracer.Start(ctx, "contractscan.batch", trace.WithAttributes(
		attribute.String("batch.id", b.ID()),
		attribute.Int64("batch.start_block", b.Start),
		attribute.Int64("batch.end_block", b.End),
	))
	defer span.End()

	started := time.Now()
	rep := s.process(ctx, b, started)
	rep.Stats.Elapsed = time.Since(started)

	span.SetAttributes(
		attribute.String("batch.state", rep.State.String()),
		attribute.Int("batch.rows", rep.Stats.Rows),
		attribute.Int("batch.errors", rep.Stats.Errors),
	)

	if rep.Err != nil {
		span.RecordError(rep.Err)
		span.SetStatus(codes.Error, "batch failed")
		s.logger.ErrorContext(ctx, "batch: failed", "input", b.InputPath, "error", rep.Err)
	}

	return rep
}

// process moves one batch from INIT to its final state.
func (s *Scheduler) process(ctx context.Context, b Batch, started time.Time) Report {
	rep := Report{Batch: b, State: StateInit}
	key := ledger.Key{Table: s.opts.Layout.OutputTable, Batch: b.ID(), Output: b.OutputPath}

	done, err := s.completed(ctx, key)
	if err != nil {
		return failed(rep, err)
	}

	if done {
		s.logger.InfoContext(ctx, "batch: skipping, output already complete", "output", b.OutputPath)
		rep.State = StateSkipped

		return rep
	}

	rep.State = StateStreaming

	s.logger.InfoContext(ctx, "batch: analyzing", "input", b.InputPath, "output", b.OutputPath)

	stats, err := s.stream(ctx, b, &rep)
	rep.Stats = stats

	if err != nil {
		return failed(rep, err)
	}

	rep.Stats.Elapsed = time.Since(started)

	err = s.opts.Ledger.MarkComplete(ctx, Manifest(rep, s.opts.Layout.OutputTable))
	if err != nil {
		return failed(rep, fmt.Errorf("mark complete: %w", err))
	}

	rep.State = StateClosed

	return rep
}

// completed reports whether b can be skipped. A manifest only counts while
// its output is still on disk; a manifest without output is reprocessed and
// MarkComplete replaces it.
func (s *Scheduler) completed(ctx context.Context, key ledger.Key) (bool, error) {
	done, err := s.opts.Ledger.Completed(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}

	exists, err := outputExists(key.Output)
	if err != nil {
		return false, err
	}

	switch {
	case done && !exists:
		s.logger.WarnContext(ctx, "batch: manifest present but output missing, reprocessing", "output", key.Output)

		return false, nil
	case done:
		return true, nil
	default:
		return exists && s.opts.TrustExistingOutput, nil
	}
}

func outputExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("stat output: %w", err)
}

// stream runs the pump into a fresh sink and commits it.
// The input is opened before anything is created on the output side, so a
// missing input leaves no empty partition behind.
func (s *Scheduler) stream(ctx context.Context, b Batch, rep *Report) (Stats, error) {
	src, err := record.Open(b.InputPath)
	if err != nil {
		return Stats{}, err
	}

	defer func() {
		closeErr := src.Close()
		if closeErr != nil {
			s.logger.WarnContext(ctx, "batch: close input", "error", closeErr)
		}
	}()

	err = os.MkdirAll(filepath.Dir(b.OutputPath), dirPerm)
	if err != nil {
		return Stats{}, fmt.Errorf("create output dir: %w", err)
	}

	partial := sink.PartialPath(b.OutputPath)

	_, statErr := os.Stat(partial)
	if statErr == nil {
		s.logger.WarnContext(ctx, "batch: discarding partial output from an earlier run", "path", partial)

		err = os.Remove(partial)
		if err != nil {
			return Stats{}, fmt.Errorf("remove partial output: %w", err)
		}
	}

	gate, err := admission.New(s.opts.Concurrency, s.logger)
	if err != nil {
		return Stats{}, err
	}

	out, err := sink.Create(b.OutputPath, sink.Options{Compress: s.opts.Layout.Compress})
	if err != nil {
		return Stats{}, err
	}

	var drainStart time.Time

	ps, err := pump.Run(ctx, pump.Params{
		Source:          src,
		Sink:            out,
		Gate:            gate,
		Analyzer:        s.opts.Analyzer,
		Stage:           s.opts.Stage,
		KeyColumn:       s.opts.KeyColumn,
		PayloadColumn:   s.opts.PayloadColumn,
		Logger:          s.logger,
		Metrics:         s.opts.Metrics,
		Tracer:          s.tracer,
		TraceVerbose:    s.opts.TraceVerbose,
		LogEvery:        s.opts.LogEvery,
		WaitLogInterval: s.opts.WaitLogInterval,
		OnDrain: func(inFlight int) {
			rep.State = StateDraining
			drainStart = time.Now()

			s.logger.InfoContext(ctx, "batch: end of input, draining", "in_flight", inFlight)
		},
	})

	stats := Stats{
		Rows:         ps.Rows,
		Errors:       ps.Errors,
		WaitTime:     ps.WaitTime,
		AnalysisTime: ps.AnalysisTime,
		MaxInFlight:  ps.MaxInFlight,
	}

	if !drainStart.IsZero() {
		s.logger.DebugContext(ctx, "batch: drained", "waited", time.Since(drainStart).Round(time.Millisecond))
	}

	if err != nil {
		abortErr := out.Abort()
		if abortErr != nil {
			s.logger.WarnContext(ctx, "batch: abort output", "path", partial, "error", abortErr)
		}

		return stats, err
	}

	err = out.Commit()
	if err != nil {
		return stats, err
	}

	info, err := os.Stat(b.OutputPath)
	if err == nil {
		stats.OutputBytes = info.Size()
	}

	return stats, nil
}

func failed(rep Report, err error) Report {
	rep.State = StateFailed
	rep.Err = err

	return rep
}

// Manifest builds the completion record of a streamed batch.
func Manifest(rep Report, table string) ledger.Manifest {
	return ledger.Manifest{
		CompletedAt:     time.Now().UTC(),
		Table:           table,
		Batch:           rep.Batch.ID(),
		Output:          rep.Batch.OutputPath,
		StartBlock:      rep.Batch.Start,
		EndBlock:        rep.Batch.End,
		Rows:            rep.Stats.Rows,
		Errors:          rep.Stats.Errors,
		WaitSeconds:     rep.Stats.WaitTime.Seconds(),
		AnalysisSeconds: rep.Stats.AnalysisTime.Seconds(),
		ElapsedSeconds:  rep.Stats.Elapsed.Seconds(),
	}
}
