package gateway

import (
	"context"
	"errors"

	"github.com/logiflow/delivery-gateway/internal/upstream"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type DriverStatus string

const (
	DriverAvailable DriverStatus = "DISPONIBLE"
	DriverOnRoute   DriverStatus = "EN_RUTA"
)

// noPlate is shown for drivers without a vehicle.
const noPlate = "N/A"

// locationFetchLimit bounds concurrent tracking lookups for one zone.
const locationFetchLimit = 16

// FleetMember is a driver as shown on the live map.
type FleetMember struct {
	ID        string       `json:"id"`
	Name      string       `json:"nombre"`
	Plate     string       `json:"placa"`
	Latitude  float64      `json:"latitud"`
	Longitude float64      `json:"longitud"`
	Status    DriverStatus `json:"estado"`
	Speed     float64      `json:"velocidad"`
	UpdatedAt *string      `json:"ultimaActualizacion"`
}

type FleetSummary struct {
	Total     int `json:"total"`
	Available int `json:"disponibles"`
	OnRoute   int `json:"enRuta"`
}

// ActiveFleet merges the drivers of a zone with their live positions. A
// driver whose position cannot be fetched is placed at 0,0.
func (s *Service) ActiveFleet(ctx context.Context, zone string) []FleetMember {
	members, err := cached(ctx, s, s.fleet, "active", zone, func(ctx context.Context) ([]FleetMember, error) {
		return s.activeFleet(ctx, zone)
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("zone", zone).Msg("active fleet query failed, returning empty list")
		return []FleetMember{}
	}
	return members
}

func (s *Service) activeFleet(ctx context.Context, zone string) ([]FleetMember, error) {
	drivers, err := s.backends.Fleet.DriversByZone(ctx, zone)
	if err != nil {
		return nil, err
	}

	members := make([]FleetMember, len(drivers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(locationFetchLimit)

	for i, d := range drivers {
		g.Go(func() error {
			loc, err := s.backends.Tracking.Location(gctx, d.ID)
			if err != nil && !errors.Is(err, upstream.ErrNotFound) {
				log.Ctx(ctx).Debug().Err(err).Str("driver", d.ID).Msg("driver location unavailable")
			}
			if err != nil {
				loc = nil
			}
			members[i] = fleetMember(d, loc)
			return nil
		})
	}

	_ = g.Wait()

	return members, nil
}

func fleetMember(d upstream.Driver, loc *upstream.Location) FleetMember {
	m := FleetMember{
		ID:     d.ID,
		Name:   d.Name,
		Plate:  noPlate,
		Status: DriverOnRoute,
	}

	if d.Vehicle != nil && d.Vehicle.Plate != "" {
		m.Plate = d.Vehicle.Plate
	}
	if d.Available {
		m.Status = DriverAvailable
	}

	if loc != nil {
		m.Latitude = loc.Latitude
		m.Longitude = loc.Longitude
		m.Speed = loc.Speed
		if loc.UpdatedAt != "" {
			updated := loc.UpdatedAt
			m.UpdatedAt = &updated
		}
	}

	return m
}

// FleetSummary counts the drivers of a zone by availability. An upstream
// failure yields an all-zero summary.
func (s *Service) FleetSummary(ctx context.Context, zone string) FleetSummary {
	summary, err := cached(ctx, s, s.fleet, "summary", zone, func(ctx context.Context) (FleetSummary, error) {
		drivers, err := s.backends.Fleet.DriversByZone(ctx, zone)
		if err != nil {
			return FleetSummary{}, err
		}
		return summarize(drivers), nil
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("zone", zone).Msg("fleet summary query failed")
		return FleetSummary{}
	}
	return summary
}

func summarize(drivers []upstream.Driver) FleetSummary {
	summary := FleetSummary{Total: len(drivers)}
	for _, d := range drivers {
		if d.Available {
			summary.Available++
		}
	}
	summary.OnRoute = summary.Total - summary.Available
	return summary
}
