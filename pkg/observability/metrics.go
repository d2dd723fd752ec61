package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricItemsTotal       = "contractscan.items.total"
	metricAnalysisDuration = "contractscan.analysis.duration.seconds"
	metricAdmissionWait    = "contractscan.admission.wait.seconds"
	metricInflightItems    = "contractscan.inflight.items"
	metricBatchesTotal     = "contractscan.batches.total"

	attrStatus = "status"
	attrState  = "state"

	// StatusOK and StatusError label processed items.
	StatusOK    = "ok"
	StatusError = "error"
)

// durationBucketBoundaries covers 10ms to 600s: empty contracts return at
// once while symbolic execution of large ones takes minutes.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// PipelineMetrics holds the OTel instruments of the analysis pipeline.
// All methods are safe on a nil receiver.
type PipelineMetrics struct {
	itemsTotal       metric.Int64Counter
	analysisDuration metric.Float64Histogram
	admissionWait    metric.Float64Histogram
	inflightItems    metric.Int64UpDownCounter
	batchesTotal     metric.Int64Counter
}

// NewPipelineMetrics creates pipeline metric instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	items, err := mt.Int64Counter(metricItemsTotal,
		metric.WithDescription("Contracts analyzed, by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricItemsTotal, err)
	}

	analysis, err := mt.Float64Histogram(metricAnalysisDuration,
		metric.WithDescription("Per-contract analysis duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAnalysisDuration, err)
	}

	wait, err := mt.Float64Histogram(metricAdmissionWait,
		metric.WithDescription("Time a contract waited for an analysis slot in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAdmissionWait, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightItems,
		metric.WithDescription("Analyses currently running"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightItems, err)
	}

	batches, err := mt.Int64Counter(metricBatchesTotal,
		metric.WithDescription("Batches finished, by final state"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchesTotal, err)
	}

	return &PipelineMetrics{
		itemsTotal:       items,
		analysisDuration: analysis,
		admissionWait:    wait,
		inflightItems:    inflight,
		batchesTotal:     batches,
	}, nil
}

// RecordAdmission records how long an item waited for its slot and marks it in flight.
func (pm *PipelineMetrics) RecordAdmission(ctx context.Context, wait time.Duration) {
	if pm == nil {
		return
	}

	pm.admissionWait.Record(ctx, wait.Seconds())
	pm.inflightItems.Add(ctx, 1)
}

// RecordItem records a finished analysis and clears its in-flight mark.
func (pm *PipelineMetrics) RecordItem(ctx context.Context, failed bool, duration time.Duration) {
	if pm == nil {
		return
	}

	status := StatusOK
	if failed {
		status = StatusError
	}

	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	pm.itemsTotal.Add(ctx, 1, attrs)
	pm.analysisDuration.Record(ctx, duration.Seconds(), attrs)
	pm.inflightItems.Add(ctx, -1)
}

// RecordBatch counts a batch reaching its final state.
func (pm *PipelineMetrics) RecordBatch(ctx context.Context, state string) {
	if pm == nil {
		return
	}

	pm.batchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrState, state)))
}
