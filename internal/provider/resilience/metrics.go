package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/roadwatch/roadwatch/internal/provider/resilience"

// Metrics records the outcome of upstream requests and image cache
// lookups.
type Metrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
}

// NewMetrics creates upstream metrics instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}

	var err error
	m.requestDuration, err = meter.Float64Histogram(
		"upstream.request.duration",
		metric.WithDescription("Duration of upstream HTTP requests, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.requestTotal, err = meter.Int64Counter(
		"upstream.request.total",
		metric.WithDescription("Total upstream HTTP requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheHits, err = meter.Int64Counter(
		"upstream.cache.hits",
		metric.WithDescription("Lookups served from a local cache"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheMisses, err = meter.Int64Counter(
		"upstream.cache.misses",
		metric.WithDescription("Lookups that had to go to the upstream"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records one upstream exchange.
func (m *Metrics) RecordRequest(upstream, operation string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("upstream", upstream),
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	)
	ctx := context.Background()
	m.requestDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.requestTotal.Add(ctx, 1, attrs)
}

// RecordCacheHit records a lookup served without contacting the upstream.
func (m *Metrics) RecordCacheHit(upstream string) {
	m.cacheHits.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("upstream", upstream),
	))
}

// RecordCacheMiss records a lookup that required an upstream fetch.
func (m *Metrics) RecordCacheMiss(upstream string) {
	m.cacheMisses.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("upstream", upstream),
	))
}

var (
	metricsOnce   sync.Once
	metricsShared *Metrics
)

// sharedMetrics lazily builds the package-wide instruments. Instrument
// creation failures leave it nil and recording becomes a no-op.
func sharedMetrics() *Metrics {
	metricsOnce.Do(func() {
		if m, err := NewMetrics(); err == nil {
			metricsShared = m
		}
	})
	return metricsShared
}

// RecordCacheHit records a cache hit for the named upstream on the
// shared instruments.
func RecordCacheHit(upstream string) {
	if m := sharedMetrics(); m != nil {
		m.RecordCacheHit(upstream)
	}
}

// RecordCacheMiss records a cache miss for the named upstream on the
// shared instruments.
func RecordCacheMiss(upstream string) {
	if m := sharedMetrics(); m != nil {
		m.RecordCacheMiss(upstream)
	}
}
