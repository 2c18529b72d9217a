package gateway

import (
	"context"
	"errors"

	"github.com/logiflow/delivery-gateway/internal/loader"
	"github.com/logiflow/delivery-gateway/internal/upstream"
	"github.com/rs/zerolog/log"
)

// OrderView is an order as returned by the API, with its driver resolved when
// requested.
type OrderView struct {
	upstream.Order
	Driver *upstream.Driver `json:"repartidor,omitempty"`
}

// Orders returns the orders matching filter. An upstream failure yields an
// empty list.
func (s *Service) Orders(ctx context.Context, filter upstream.OrderFilter) []upstream.Order {
	orders, err := cached(ctx, s, s.orders, "list", filter, func(ctx context.Context) ([]upstream.Order, error) {
		return s.backends.Orders.List(ctx, filter)
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("orders query failed, returning empty list")
		return []upstream.Order{}
	}
	if orders == nil {
		return []upstream.Order{}
	}
	return orders
}

// Order returns a single order, or nil when it does not exist or cannot be
// fetched.
func (s *Service) Order(ctx context.Context, id string) *upstream.Order {
	order, err := cached(ctx, s, s.orders, "order", id, func(ctx context.Context) (*upstream.Order, error) {
		return s.backends.Orders.Get(ctx, id)
	})
	if err != nil {
		if !errors.Is(err, upstream.ErrNotFound) {
			log.Ctx(ctx).Warn().Err(err).Str("order", id).Msg("order query failed")
		}
		return nil
	}
	return order
}

// OrdersWithDrivers returns the orders matching filter with each order's
// driver resolved. Drivers are fetched through the request's loader, so the
// whole list costs one batch.
func (s *Service) OrdersWithDrivers(ctx context.Context, filter upstream.OrderFilter) []OrderView {
	orders := s.Orders(ctx, filter)

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.DriverID != "" {
			ids = append(ids, o.DriverID)
		}
	}

	drivers, err := s.loadersFor(ctx).Drivers.LoadAll(ctx, ids)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Int("drivers", len(ids)).Msg("driver lookup failed")
	}

	views := make([]OrderView, len(orders))
	for i, o := range orders {
		views[i] = OrderView{Order: o, Driver: drivers[o.DriverID]}
	}
	return views
}

// OrderWithDriver is Order with the driver resolved.
func (s *Service) OrderWithDriver(ctx context.Context, id string) *OrderView {
	order := s.Order(ctx, id)
	if order == nil {
		return nil
	}

	return &OrderView{Order: *order, Driver: s.OrderDriver(ctx, *order).Resolve(ctx)}
}

// PendingDriver is a driver lookup queued on a request's loader.
type PendingDriver struct {
	id    string
	thunk *loader.Thunk[*upstream.Driver]
}

// OrderDriver queues the lookup of the driver assigned to order. Nothing is
// fetched until a PendingDriver of the request is resolved, and every lookup
// queued by then is fetched in the same batch: when resolving the drivers of
// sibling orders, queue all of them before resolving any.
func (s *Service) OrderDriver(ctx context.Context, order upstream.Order) PendingDriver {
	if order.DriverID == "" {
		return PendingDriver{}
	}
	return PendingDriver{
		id:    order.DriverID,
		thunk: s.loadersFor(ctx).Drivers.Load(order.DriverID),
	}
}

// Resolve waits for the driver. Orders without a driver, unknown drivers and
// failed lookups all resolve to nil.
func (p PendingDriver) Resolve(ctx context.Context) *upstream.Driver {
	if p.thunk == nil {
		return nil
	}

	driver, _, err := p.thunk.Get(ctx)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("driver", p.id).Msg("driver lookup failed")
		return nil
	}
	return driver
}

// Incidents lists the incidents registered against an order. They are not
// cached.
func (s *Service) Incidents(ctx context.Context, orderID string) []upstream.Incident {
	incidents, err := s.backends.Incidents.ByOrder(ctx, orderID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("order", orderID).Msg("incident query failed, returning empty list")
		return []upstream.Incident{}
	}
	if incidents == nil {
		return []upstream.Incident{}
	}
	return incidents
}

// Incident returns a single incident, or nil when it does not exist or cannot
// be fetched.
func (s *Service) Incident(ctx context.Context, id string) *upstream.Incident {
	incident, err := s.backends.Incidents.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, upstream.ErrNotFound) {
			log.Ctx(ctx).Warn().Err(err).Str("incident", id).Msg("incident query failed")
		}
		return nil
	}
	return incident
}
