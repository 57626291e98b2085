package proxy

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/always-cache/respcache/proxy"

// result is how an exchange ended.
type result string

const (
	resultHit         result = "hit"
	resultRevalidated result = "revalidated"
	resultMiss        result = "miss"
	resultBypass      result = "bypass"
	resultError       result = "error"
)

type metrics struct {
	requests metric.Int64Counter
	stored   metric.Int64Counter
	evicted  metric.Int64Counter
	bytes    metric.Int64Counter
	failures metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	var m metrics
	var err error
	if m.requests, err = meter.Int64Counter("respcache.requests",
		metric.WithDescription("The number of proxied requests by result"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.stored, err = meter.Int64Counter("respcache.stored",
		metric.WithDescription("The number of responses written to the cache"),
		metric.WithUnit("{response}")); err != nil {
		return nil, err
	}
	if m.evicted, err = meter.Int64Counter("respcache.evicted",
		metric.WithDescription("The number of entries evicted or invalidated"),
		metric.WithUnit("{response}")); err != nil {
		return nil, err
	}
	if m.bytes, err = meter.Int64Counter("respcache.sent",
		metric.WithDescription("Response bytes sent to clients"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("respcache.cache.errors",
		metric.WithDescription("Failed cache operations by operation"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) request(ctx context.Context, r result, sent int64) {
	attrs := metric.WithAttributes(attribute.String("result", string(r)))
	m.requests.Add(ctx, 1, attrs)
	if sent > 0 {
		m.bytes.Add(ctx, sent, attrs)
	}
}

// cacheError records a failed cache operation such as "get" or "purge".
func (m *metrics) cacheError(ctx context.Context, op string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
