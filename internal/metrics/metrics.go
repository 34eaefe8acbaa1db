package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests     metric.Int64Counter
	HTTPDuration     metric.Float64Histogram
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	ReconcilePasses  metric.Int64Counter
	PrunedOperations metric.Int64Counter
	FinalizeAttempts metric.Int64Counter
	PriceFetches     metric.Int64Counter
	ScheduledTasks   metric.Int64Counter
	WSConnections    metric.Int64UpDownCounter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequests, "shl_http_requests_total", "Total number of HTTP requests"},
		{&m.CacheHits, "shl_cache_hits_total", "Total number of cache hits"},
		{&m.CacheMisses, "shl_cache_misses_total", "Total number of cache misses"},
		{&m.ReconcilePasses, "shl_ledger_reconcile_total", "Ledger reconciliation passes by kind"},
		{&m.PrunedOperations, "shl_ledger_pruned_total", "Finalized operations pruned from the ledger"},
		{&m.FinalizeAttempts, "shl_finalize_attempts_total", "Finalization attempts by stage and outcome"},
		{&m.PriceFetches, "shl_price_fetches_total", "Upstream price fetches by provider and outcome"},
		{&m.ScheduledTasks, "shl_scheduled_tasks_total", "Delayed tasks scheduled by scheduler and outcome"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.WSConnections, err = meter.Int64UpDownCounter(
		"shl_ws_connections",
		metric.WithDescription("Open WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"shl_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordReconcile(ctx context.Context, kind string, pruned int) {
	if m == nil {
		return
	}
	kindAttr := metric.WithAttributes(attribute.String("kind", kind))
	m.ReconcilePasses.Add(ctx, 1, kindAttr)
	if pruned > 0 {
		m.PrunedOperations.Add(ctx, int64(pruned), kindAttr)
	}
}

func (m *Metrics) RecordFinalize(ctx context.Context, stage, outcome string) {
	if m == nil {
		return
	}
	m.FinalizeAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordPriceFetch(ctx context.Context, provider string, ok bool) {
	if m == nil {
		return
	}
	m.PriceFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) RecordScheduled(ctx context.Context, scheduler string, ok bool) {
	if m == nil {
		return
	}
	m.ScheduledTasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scheduler", scheduler),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.WSConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.WSConnections.Add(ctx, -1)
}
