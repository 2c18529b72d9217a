package gateway

import (
	"context"
	"errors"

	"github.com/logiflow/delivery-gateway/internal/upstream"
	"github.com/rs/zerolog/log"
)

// AssignOrder gives an order to a driver and vehicle. Cached orders and KPIs
// are discarded on success.
func (s *Service) AssignOrder(ctx context.Context, orderID, driverID, vehicleID string) (*upstream.Order, error) {
	order, err := s.backends.Orders.Assign(ctx, orderID, driverID, vehicleID)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("order", orderID).
		Str("driver", driverID).
		Str("vehicle", vehicleID).
		Msg("order assigned")

	s.invalidateOrders()
	return order, nil
}

// CancelOrder cancels an order. Cached orders and KPIs are discarded on
// success.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (*upstream.Order, error) {
	order, err := s.backends.Orders.Cancel(ctx, orderID, reason)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("order", orderID).Str("reason", reason).Msg("order cancelled")

	s.invalidateOrders()
	return order, nil
}

func (s *Service) RegisterIncident(ctx context.Context, in upstream.NewIncident) (*upstream.Incident, error) {
	incident, err := s.backends.Incidents.Register(ctx, in)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("order", in.OrderID).Str("incident", incident.ID).Msg("incident registered")
	return incident, nil
}

// User returns a user's profile, or nil when the user does not exist or
// cannot be fetched. Users are not cached, so a profile read after
// UpdateContact reflects the change.
func (s *Service) User(ctx context.Context, id string) *upstream.User {
	user, err := s.backends.Identity.User(ctx, id)
	if err != nil {
		if !errors.Is(err, upstream.ErrNotFound) {
			log.Ctx(ctx).Warn().Err(err).Str("user", id).Msg("user query failed")
		}
		return nil
	}
	return user
}

func (s *Service) UpdateContact(ctx context.Context, userID string, update upstream.ContactUpdate) (*upstream.User, error) {
	user, err := s.backends.Identity.UpdateContact(ctx, userID, update)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("user", userID).Msg("contact details updated")
	return user, nil
}

// invalidateOrders drops every cached result derived from order state.
func (s *Service) invalidateOrders() {
	s.orders.InvalidateAll()
	s.kpis.InvalidateAll()
}
