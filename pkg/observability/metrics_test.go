package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/contractscan/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.PipelineMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	pm, err := observability.NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return pm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumByAttr(t *testing.T, m *metricdata.Metrics, key string) map[string]int64 {
	t.Helper()

	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	out := make(map[string]int64)

	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}

	return out
}

func TestPipelineMetrics_ItemLifecycle(t *testing.T) {
	t.Parallel()

	pm, reader := setupTestMeter(t)
	ctx := context.Background()

	pm.RecordAdmission(ctx, 20*time.Millisecond)
	pm.RecordAdmission(ctx, 0)
	pm.RecordItem(ctx, false, time.Second)

	rm := collectMetrics(t, reader)

	inflight := findMetric(rm, "contractscan.inflight.items")
	require.NotNil(t, inflight)

	sum, ok := inflight.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	wait := findMetric(rm, "contractscan.admission.wait.seconds")
	require.NotNil(t, wait)

	hist, ok := wait.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)

	assert.Equal(t, map[string]int64{"ok": 1}, sumByAttr(t, findMetric(rm, "contractscan.items.total"), "status"))
}

func TestPipelineMetrics_ErrorsAndBatches(t *testing.T) {
	t.Parallel()

	pm, reader := setupTestMeter(t)
	ctx := context.Background()

	pm.RecordAdmission(ctx, 0)
	pm.RecordItem(ctx, true, time.Millisecond)
	pm.RecordBatch(ctx, "CLOSED")
	pm.RecordBatch(ctx, "SKIPPED")
	pm.RecordBatch(ctx, "CLOSED")

	rm := collectMetrics(t, reader)

	assert.Equal(t, map[string]int64{"error": 1}, sumByAttr(t, findMetric(rm, "contractscan.items.total"), "status"))
	assert.Equal(t, map[string]int64{"CLOSED": 2, "SKIPPED": 1},
		sumByAttr(t, findMetric(rm, "contractscan.batches.total"), "state"))
}

func TestPipelineMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var pm *observability.PipelineMetrics

	assert.NotPanics(t, func() {
		pm.RecordAdmission(context.Background(), time.Second)
		pm.RecordItem(context.Background(), true, time.Second)
		pm.RecordBatch(context.Background(), "FAILED")
	})
}

func TestNewPipelineMetrics_NoopMeter(t *testing.T) {
	t.Parallel()

	pm, err := observability.NewPipelineMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	assert.NotNil(t, pm)
}
