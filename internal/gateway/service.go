// Package gateway composes the upstream services into the read and write
// operations exposed by the HTTP API. Reads go through the shared query
// caches and degrade to empty results when an upstream fails; writes always
// report upstream failures and invalidate the cached data they affect.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/logiflow/delivery-gateway/internal/cache"
	"github.com/logiflow/delivery-gateway/internal/config"
	"github.com/logiflow/delivery-gateway/internal/upstream"
)

type OrderClient interface {
	List(ctx context.Context, filter upstream.OrderFilter) ([]upstream.Order, error)
	Get(ctx context.Context, id string) (*upstream.Order, error)
	ByOriginCity(ctx context.Context, city string) ([]upstream.Order, error)
	ByDestinationCity(ctx context.Context, city string) ([]upstream.Order, error)
	Assign(ctx context.Context, id, driverID, vehicleID string) (*upstream.Order, error)
	Cancel(ctx context.Context, id, reason string) (*upstream.Order, error)
}

type FleetClient interface {
	DriversByZone(ctx context.Context, zone string) ([]upstream.Driver, error)
	Drivers(ctx context.Context, ids []string) (map[string]*upstream.Driver, error)
}

type TrackingClient interface {
	Location(ctx context.Context, driverID string) (*upstream.Location, error)
}

type IncidentClient interface {
	Register(ctx context.Context, in upstream.NewIncident) (*upstream.Incident, error)
	ByOrder(ctx context.Context, orderID string) ([]upstream.Incident, error)
	Get(ctx context.Context, id string) (*upstream.Incident, error)
}

type UserClient interface {
	User(ctx context.Context, id string) (*upstream.User, error)
	UpdateContact(ctx context.Context, userID string, update upstream.ContactUpdate) (*upstream.User, error)
}

// Backends are the upstream services the gateway aggregates.
type Backends struct {
	Orders    OrderClient
	Fleet     FleetClient
	Tracking  TrackingClient
	Incidents IncidentClient
	Identity  UserClient
}

// Service implements the gateway operations. One Service is shared by all
// requests; per-request state lives in Loaders.
type Service struct {
	backends Backends
	policy   config.CachePolicy
	registry *cache.Registry

	orders *cache.TTL[any]
	fleet  *cache.TTL[any]
	kpis   *cache.TTL[any]

	driverBatchSize int
}

type Option func(*Service)

// WithDriverBatchSize caps the size of the driver batches sent while
// resolving a request.
func WithDriverBatchSize(n int) Option {
	return func(s *Service) {
		s.driverBatchSize = n
	}
}

// NewService creates the service and its cache families, each bounded to
// maxSize entries.
func NewService(backends Backends, policy config.CachePolicy, maxSize int, opts ...Option) (*Service, error) {
	s := &Service{
		backends: backends,
		policy:   policy,
		registry: cache.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	families := []struct {
		name   string
		target **cache.TTL[any]
	}{
		{config.CacheOrders, &s.orders},
		{config.CacheFleet, &s.fleet},
		{config.CacheKPIs, &s.kpis},
	}

	for _, f := range families {
		c, err := cache.New[any](f.name, maxSize)
		if err != nil {
			return nil, fmt.Errorf("creating %s cache: %w", f.name, err)
		}
		*f.target = c
		s.registry.Register(c)
	}

	return s, nil
}

// Registry exposes the cache families for metrics reporting.
func (s *Service) Registry() *cache.Registry {
	return s.registry
}

// cached reads a typed value through one of the family caches. The cache key
// is derived from the operation and its arguments.
func cached[T any](ctx context.Context, s *Service, c *cache.TTL[any], operation string, args any, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	key, err := cache.Key(operation, args)
	if err != nil {
		return zero, err
	}

	v, err := c.GetOrCompute(ctx, key, s.ttl(c, operation), func(ctx context.Context) (any, error) {
		value, err := compute(ctx)
		return value, err
	})
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache %s: entry %s holds %T", c.Name(), key, v)
	}
	return typed, nil
}

func (s *Service) ttl(c *cache.TTL[any], operation string) time.Duration {
	return s.policy.TTL(c.Name(), operation)
}
