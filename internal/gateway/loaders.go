package gateway

import (
	"context"
	"net/http"

	"github.com/logiflow/delivery-gateway/internal/loader"
	"github.com/logiflow/delivery-gateway/internal/upstream"
	"github.com/rs/zerolog/log"
)

type loadersKey struct{}

// Loaders holds the batch loaders of a single request.
type Loaders struct {
	Drivers *loader.Loader[string, *upstream.Driver]
}

// NewLoaders creates fresh loaders bound to ctx.
func (s *Service) NewLoaders(ctx context.Context) *Loaders {
	return &Loaders{
		Drivers: loader.New(ctx, "drivers", s.backends.Fleet.Drivers, loader.WithMaxBatch(s.driverBatchSize)),
	}
}

func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey{}, l)
}

// LoadersFromContext returns the request's loaders, if any.
func LoadersFromContext(ctx context.Context) (*Loaders, bool) {
	l, ok := ctx.Value(loadersKey{}).(*Loaders)
	return l, ok
}

// Middleware gives every request its own set of loaders, so results are
// batched within a request and never shared between requests.
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = WithLoaders(ctx, s.NewLoaders(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// loadersFor returns the request's loaders. Calls made outside the middleware
// get loaders scoped to this call only.
func (s *Service) loadersFor(ctx context.Context) *Loaders {
	if l, ok := LoadersFromContext(ctx); ok {
		return l
	}

	log.Ctx(ctx).Debug().Msg("no request loaders in context, using call-scoped loaders")
	return s.NewLoaders(ctx)
}
