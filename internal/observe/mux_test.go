package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSplitPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		method  string
		route   string
	}{
		{"GET with wildcard", "GET /orders/{id}", "GET", "/orders/{id}"},
		{"POST", "POST /incidents", "POST", "/incidents"},
		{"PATCH", "PATCH /users/{id}/contact", "PATCH", "/users/{id}/contact"},
		{"no method", "/healthcheck", "", "/healthcheck"},
		{"unknown method", "FETCH /orders", "", "FETCH /orders"},
		{"lowercase method not stripped", "get /orders", "", "get /orders"},
		{"empty", "", "", ""},
		{"method only", "GET", "", "GET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, route := SplitPattern(tt.pattern)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.route, route)
		})
	}
}

func TestMux_NamesSpansAfterRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	mux := NewMux(http.NewServeMux())
	mux.Handle("GET /orders/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/p1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /orders/{id}", spans[0].Name())
}
