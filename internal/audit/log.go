// Package audit records one structured log entry per API request. Handlers
// annotate the request's Entry with the operation they perform, and the
// middleware writes the entry once the response is complete, including when
// the handler panics.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at.
const Level = zerolog.InfoLevel

// RequestIDHeader carries the request correlation ID. A caller-supplied ID is
// kept; otherwise one is generated.
const RequestIDHeader = "X-Request-Id"

type key struct{}

// Entry is the audit record of a single request.
type Entry struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string
	Duration  time.Duration

	// Operation names a state-changing action performed on an upstream
	// service, such as "assign" or "cancel".
	Operation  string
	OrderID    string
	DriverID   string
	VehicleID  string
	UserID     string
	IncidentID string
	Reason     string

	// UpstreamService and UpstreamStatus describe the upstream response that
	// failed the request.
	UpstreamService string
	UpstreamStatus  int

	Error string
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	event.Bool("audit", true)

	request := zerolog.Dict().
		Str("id", e.RequestID).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	if e.Duration > 0 {
		request.Dur("duration", e.Duration)
	}
	event.Dict("request", request)

	(&section{}).
		str("name", e.Operation).
		str("orderId", e.OrderID).
		str("driverId", e.DriverID).
		str("vehicleId", e.VehicleID).
		str("userId", e.UserID).
		str("incidentId", e.IncidentID).
		str("reason", e.Reason).
		writeTo(event, "operation")

	(&section{}).
		str("service", e.UpstreamService).
		num("status", e.UpstreamStatus).
		writeTo(event, "upstream")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin records the request attributes of the entry.
func (e *Entry) Begin(r *http.Request) {
	e.RequestID = r.Header.Get(RequestIDHeader)
	if e.RequestID == "" {
		e.RequestID = uuid.NewString()
	}
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = sourceIP(r)
}

// End returns a function that writes the entry. It is intended to be
// deferred: a panic in progress is recorded on the entry and then resumed.
func (e *Entry) End(ctx context.Context) func() {
	start := time.Now()

	return func() {
		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		r := recover()
		if r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			if e.Error != "" {
				msg = e.Error + "; " + msg
			}
			e.Error = msg
			e.Status = http.StatusInternalServerError
		}

		e.Duration = time.Since(start)
		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")

		if r != nil {
			panic(r)
		}
	}
}

// Context returns the Entry held by ctx, creating and attaching a new one if
// there is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the Entry for the current request. Outside the middleware a
// detached Entry is returned, so annotating it is always safe.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware creates and writes the audit entry of every request it wraps.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)
			defer entry.End(ctx)()

			w.Header().Set(RequestIDHeader, entry.RequestID)

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(status int) {
	s.entry.Status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func sourceIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
