package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux instruments every handler registered on the wrapped multiplexer. Routes
// that must stay out of telemetry (such as health checks) are registered on
// the wrapped multiplexer directly.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{
		wrapped: wrapped,
	}
}

// Handle registers handler with a server span named after the route, e.g.
// "GET /orders/{id}", so spans of one route group together regardless of
// path values.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	method, route := SplitPattern(pattern)

	operation := route
	if method != "" {
		operation = method + " " + route
	}

	taggedHandler := otelhttp.NewHandler(
		handler,
		operation,
		otelhttp.WithSpanOptions(trace.WithAttributes(attribute.String("http.route", route))),
	)

	mux.wrapped.Handle(pattern, taggedHandler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// SplitPattern separates the method of a ServeMux pattern from its route. The
// method is empty when the pattern does not start with a known HTTP method.
func SplitPattern(pattern string) (method, route string) {
	method, route, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return method, route
	}
	return "", pattern
}
