package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/logiflow/delivery-gateway/internal/upstream"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KPI summarizes the orders and drivers of a zone.
type KPI struct {
	ZoneID    string `json:"zonaId"`
	Pending   int    `json:"pedidosPendientes"`
	OnRoute   int    `json:"pedidosEnRuta"`
	Delivered int    `json:"pedidosEntregados"`
	// AverageDeliveryMinutes is nil when no delivered order reports its
	// elapsed time.
	AverageDeliveryMinutes *float64 `json:"tiempoPromedioEntrega"`
	ActiveDrivers          int      `json:"repartidoresActivos"`
	Date                   string   `json:"fecha,omitempty"`
}

// CityScope selects which orders count towards a city's KPIs.
type CityScope string

const (
	CityOrigin      CityScope = "origen"
	CityDestination CityScope = "destino"
	CityGeneral     CityScope = "general"
)

// ParseCityScope accepts the scope names case-insensitively. Unknown or empty
// names select CityGeneral.
func ParseCityScope(s string) CityScope {
	switch CityScope(strings.ToLower(s)) {
	case CityOrigin:
		return CityOrigin
	case CityDestination:
		return CityDestination
	default:
		return CityGeneral
	}
}

// allZones is the zone reported by daily KPIs requested without a zone.
const allZones = "ALL"

// KPIs computes the indicators of a zone. An upstream failure yields zeroed
// indicators.
func (s *Service) KPIs(ctx context.Context, zone string) KPI {
	kpi, err := s.zoneKPIs(ctx, zone)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("zone", zone).Msg("kpi query failed")
		return KPI{ZoneID: zone}
	}
	return kpi
}

func (s *Service) zoneKPIs(ctx context.Context, zone string) (KPI, error) {
	return cached(ctx, s, s.kpis, "zone", zone, func(ctx context.Context) (KPI, error) {
		var (
			orders  []upstream.Order
			drivers []upstream.Driver
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			orders, err = s.backends.Orders.List(gctx, upstream.OrderFilter{ZoneID: zone})
			return err
		})
		g.Go(func() (err error) {
			drivers, err = s.backends.Fleet.DriversByZone(gctx, zone)
			return err
		})
		if err := g.Wait(); err != nil {
			return KPI{}, err
		}

		kpi := aggregate(zone, orders)
		kpi.ActiveDrivers = len(drivers)
		return kpi, nil
	})
}

type dailyArgs struct {
	Date string `json:"fecha"`
	Zone string `json:"zonaId,omitempty"`
}

// DailyKPIs reports the indicators for a date. The upstream services keep no
// history, so the current indicators of the zone are reported under the
// requested date; without a zone, zeroed indicators for all zones are
// returned.
func (s *Service) DailyKPIs(ctx context.Context, date, zone string) KPI {
	if zone == "" {
		return KPI{ZoneID: allZones, Date: date}
	}

	kpi, err := cached(ctx, s, s.kpis, "daily", dailyArgs{Date: date, Zone: zone}, func(ctx context.Context) (KPI, error) {
		kpi, err := s.zoneKPIs(ctx, zone)
		if err != nil {
			return KPI{}, err
		}
		kpi.Date = date
		return kpi, nil
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("zone", zone).Str("date", date).Msg("daily kpi query failed")
		return KPI{ZoneID: zone, Date: date}
	}
	return kpi
}

type cityArgs struct {
	City  string    `json:"ciudad"`
	Scope CityScope `json:"tipo"`
}

// CityKPIs aggregates the orders leaving from, arriving at, or touching a
// city. The result holds a single KPI, or none when an upstream fails.
func (s *Service) CityKPIs(ctx context.Context, city string, scope CityScope) []KPI {
	kpis, err := cached(ctx, s, s.kpis, "city", cityArgs{City: city, Scope: scope}, func(ctx context.Context) ([]KPI, error) {
		orders, err := s.cityOrders(ctx, city, scope)
		if err != nil {
			return nil, err
		}
		return []KPI{aggregate(cityZone(city), orders)}, nil
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("city", city).Str("scope", string(scope)).Msg("city kpi query failed")
		return []KPI{}
	}
	return kpis
}

func (s *Service) cityOrders(ctx context.Context, city string, scope CityScope) ([]upstream.Order, error) {
	switch scope {
	case CityOrigin:
		return s.backends.Orders.ByOriginCity(ctx, city)
	case CityDestination:
		return s.backends.Orders.ByDestinationCity(ctx, city)
	}

	var origin, destination []upstream.Order

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		origin, err = s.backends.Orders.ByOriginCity(gctx, city)
		return err
	})
	g.Go(func() (err error) {
		destination, err = s.backends.Orders.ByDestinationCity(gctx, city)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("orders for city %s: %w", city, err)
	}

	// an order within the city appears in both lists
	seen := make(map[string]struct{}, len(origin)+len(destination))
	merged := make([]upstream.Order, 0, len(origin)+len(destination))
	for _, o := range append(origin, destination...) {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		merged = append(merged, o)
	}

	return merged, nil
}

func cityZone(city string) string {
	// Casers are stateful and must not be shared between goroutines
	return "CIUDAD_" + cases.Upper(language.Und).String(city)
}

func aggregate(zone string, orders []upstream.Order) KPI {
	kpi := KPI{ZoneID: zone}

	var total, timed int
	for _, o := range orders {
		switch o.Status {
		case upstream.OrderPending:
			kpi.Pending++
		case upstream.OrderInTransit:
			kpi.OnRoute++
		case upstream.OrderDelivered:
			kpi.Delivered++
			if o.ElapsedMinutes != nil {
				total += *o.ElapsedMinutes
				timed++
			}
		}
	}

	if timed > 0 {
		avg := float64(total) / float64(timed)
		kpi.AverageDeliveryMinutes = &avg
	}

	return kpi
}
