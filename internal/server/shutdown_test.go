package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownHooks_RunInReverseOrder(t *testing.T) {
	var order []string
	hooks := &ShutdownHooks{}

	hooks.AddFunc("telemetry", func() { order = append(order, "telemetry") })
	hooks.AddContext("auth", func(context.Context) error {
		order = append(order, "auth")
		return nil
	})
	hooks.AddFunc("server", func() { order = append(order, "server") })

	require.NoError(t, hooks.Execute(context.Background()))
	assert.Equal(t, []string{"server", "auth", "telemetry"}, order)
}

func TestShutdownHooks_ContinueAfterFailure(t *testing.T) {
	exporterErr := errors.New("exporter unreachable")
	var ran []string
	hooks := &ShutdownHooks{}

	hooks.AddFunc("first", func() { ran = append(ran, "first") })
	hooks.AddContext("telemetry", func(context.Context) error {
		ran = append(ran, "telemetry")
		return exporterErr
	})
	hooks.AddFunc("panics", func() {
		ran = append(ran, "panics")
		panic("boom")
	})

	err := hooks.Execute(context.Background())

	assert.Equal(t, []string{"panics", "telemetry", "first"}, ran)
	require.Error(t, err)
	assert.ErrorIs(t, err, exporterErr)
	assert.ErrorContains(t, err, "telemetry: exporter unreachable")
	assert.ErrorContains(t, err, "panics: panic: boom")
}

func TestShutdownHooks_PassContext(t *testing.T) {
	type key struct{}
	ctx, cancel := context.WithTimeout(context.WithValue(context.Background(), key{}, "v"), time.Minute)
	defer cancel()

	hooks := &ShutdownHooks{}
	hooks.AddContext("ctx", func(got context.Context) error {
		assert.Equal(t, "v", got.Value(key{}))
		_, hasDeadline := got.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})

	require.NoError(t, hooks.Execute(ctx))
}

func TestShutdownHooks_IgnoreNil(t *testing.T) {
	hooks := &ShutdownHooks{}
	hooks.AddContext("nil-context", nil)
	hooks.AddFunc("nil-func", nil)

	assert.Equal(t, 0, hooks.Len())
	assert.NoError(t, hooks.Execute(context.Background()))
}
