package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRegistry_Snapshot(t *testing.T) {
	ctx := context.Background()

	orders, err := New[[]string]("orders", 10)
	require.NoError(t, err)
	kpis, err := New[int]("kpis", 10)
	require.NoError(t, err)

	registry := NewRegistry()
	registry.Register(orders)
	registry.Register(kpis)

	_, err = orders.GetOrCompute(ctx, "a", time.Minute, func(context.Context) ([]string, error) {
		return []string{"x"}, nil
	})
	require.NoError(t, err)
	_, err = orders.GetOrCompute(ctx, "a", time.Minute, func(context.Context) ([]string, error) {
		return nil, nil
	})
	require.NoError(t, err)

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 2)

	assert.Equal(t, Metrics{Hits: 1, Misses: 1, Total: 2, HitRate: 0.5, Size: 1}, snapshot["orders"])
	assert.Equal(t, Metrics{}, snapshot["kpis"])
	assert.Equal(t, []string{"orders", "kpis"}, registry.Names())
}

func TestRegistry_ReplaceByName(t *testing.T) {
	first, err := New[int]("fleet", 10)
	require.NoError(t, err)
	second, err := New[int]("fleet", 10)
	require.NoError(t, err)

	registry := NewRegistry()
	registry.Register(first)
	registry.Register(second)

	assert.Equal(t, []string{"fleet"}, registry.Names())
}

func TestGetOrCompute_SetsSpanAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	c, err := New[string]("orders", 10)
	require.NoError(t, err)

	ctx, span := provider.Tracer("test").Start(context.Background(), "request")
	_, err = c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (string, error) {
		return "v", nil
	})
	require.NoError(t, err)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes(), attribute.String("cache.orders.status", "miss"))
}
