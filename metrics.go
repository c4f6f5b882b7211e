package cache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/mxcd/go-lrucache"

// cacheMetrics holds synchronous instruments only, so the meter provider never
// keeps a reference to the cache.
type cacheMetrics struct {
	hits        metric.Int64Counter
	misses      metric.Int64Counter
	evictions   metric.Int64Counter
	expirations metric.Int64Counter
	size        metric.Int64UpDownCounter
	attrs       metric.MeasurementOption
}

// newCacheMetrics falls back to noop instruments if the provider rejects them.
func newCacheMetrics(provider metric.MeterProvider, name string, logger *zap.Logger) *cacheMetrics {
	m, err := buildCacheMetrics(provider.Meter(instrumentationName), name)
	if err != nil {
		logger.Warn("cache metrics disabled", zap.Error(err))
		m, _ = buildCacheMetrics(noop.NewMeterProvider().Meter(instrumentationName), name)
	}
	return m
}

func buildCacheMetrics(meter metric.Meter, name string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		attrs: metric.WithAttributes(attribute.String("cache.name", name)),
	}

	var err error
	m.hits, err = meter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Lookups that returned a live entry"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	m.misses, err = meter.Int64Counter(
		"cache.misses",
		metric.WithDescription("Lookups that found no live entry"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	m.evictions, err = meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Entries removed to stay within capacity"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	m.expirations, err = meter.Int64Counter(
		"cache.expirations",
		metric.WithDescription("Entries removed because their TTL elapsed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	m.size, err = meter.Int64UpDownCounter(
		"cache.size",
		metric.WithDescription("Number of stored entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) hit() {
	m.hits.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) miss() {
	m.misses.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) evicted() {
	m.evictions.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) expired() {
	m.expirations.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) resized(delta int) {
	if delta == 0 {
		return
	}
	m.size.Add(context.Background(), int64(delta), m.attrs)
}
