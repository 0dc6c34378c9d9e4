package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ghsync/ghmirror/internal/model"
)

// MetricStats records tick statistics as OTel instruments: a counter of
// dequeues per category, and a gauge-like observation of the current
// saved_up carry. Built from any metric.Meter, so the caller chooses
// the exporter (stdoutmetric for local runs, otlp for a collector).
type MetricStats struct {
	dequeued metric.Int64Counter
	savedUp  metric.Float64Gauge
}

// NewMetricStats builds a MetricStats against meter, which the caller
// typically obtains from an sdk/metric MeterProvider configured with
// the stdoutmetric or otlp exporter.
func NewMetricStats(meter metric.Meter) (*MetricStats, error) {
	dequeued, err := meter.Int64Counter("ghmirror.requests.dequeued",
		metric.WithDescription("requests drained from the queue by the rate budgeter, per category"))
	if err != nil {
		return nil, fmt.Errorf("create dequeued counter: %w", err)
	}
	savedUp, err := meter.Float64Gauge("ghmirror.budget.saved_up",
		metric.WithDescription("carried-over token budget at the end of the most recent tick"))
	if err != nil {
		return nil, fmt.Errorf("create saved_up gauge: %w", err)
	}
	return &MetricStats{dequeued: dequeued, savedUp: savedUp}, nil
}

// RecordTick implements Stats.
func (s *MetricStats) RecordTick(dequeued map[model.Category]int, savedUp float64) {
	ctx := context.Background()
	for c, n := range dequeued {
		if n == 0 {
			continue
		}
		s.dequeued.Add(ctx, int64(n), metric.WithAttributes(attribute.String("category", c.String())))
	}
	s.savedUp.Record(ctx, savedUp)
}
