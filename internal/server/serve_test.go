package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeListener_GracefulShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	inFlight := make(chan struct{})
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(inFlight)
			time.Sleep(50 * time.Millisecond)
			_, _ = io.WriteString(w, "done")
		}),
	}

	var hookRan atomic.Bool
	hooks := &ShutdownHooks{}
	hooks.AddFunc("auth", func() { hookRan.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- ServeListener(ctx, srv, listener, 5*time.Second, hooks)
	}()

	body := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + listener.Addr().String() + "/")
		if err != nil {
			body <- err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body <- string(b)
	}()

	<-inFlight
	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Equal(t, "done", <-body, "in-flight request completes")
	assert.True(t, hookRan.Load())
}

func TestServeListener_ClosedListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	hooks := &ShutdownHooks{}
	var hookRan atomic.Bool
	hooks.AddFunc("auth", func() { hookRan.Store(true) })

	err = ServeListener(context.Background(), &http.Server{}, listener, time.Second, hooks)
	assert.Error(t, err)
	assert.True(t, hookRan.Load(), "hooks run even when serving fails")
}

func TestServeListener_HooksOutliveIncompleteDrain(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(inFlight)
			<-release
		}),
	}

	var hookErr atomic.Value
	hooks := &ShutdownHooks{}
	hooks.AddContext("telemetry", func(ctx context.Context) error {
		hookErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- ServeListener(ctx, srv, listener, 50*time.Millisecond, hooks)
	}()

	go func() {
		resp, err := http.Get("http://" + listener.Addr().String() + "/")
		if err == nil {
			resp.Body.Close()
		}
	}()

	<-inFlight
	cancel()

	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.DeadlineExceeded, "the request outlived the drain")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Equal(t, "<nil>", hookErr.Load(), "hooks receive a live context")
}
