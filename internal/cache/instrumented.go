package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	statusHit   = "hit"
	statusMiss  = "miss"
	statusError = "error"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	computeDuration metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/logiflow/delivery-gateway/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Cache lookups and failed computations by status"),
		)
		if err != nil {
			otel.Handle(err)
		}

		computeDuration, err = meter.Float64Histogram(
			"cache.compute.duration",
			metric.WithDescription("Duration of computations triggered by cache misses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func (c *TTL[V]) recordOperation(ctx context.Context, status string) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("cache."+c.name+".status", status),
	)

	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.name", c.name),
			attribute.String("cache.status", status),
		),
	)
}

func (c *TTL[V]) recordDuration(ctx context.Context, duration time.Duration, err error) {
	if computeDuration == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	computeDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.name", c.name),
			attribute.String("cache.outcome", outcome),
		),
	)
}
