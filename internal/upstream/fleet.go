package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// driverFetchLimit bounds the concurrent single-driver requests made by
// Drivers.
const driverFetchLimit = 8

type Fleet struct {
	client
}

func NewFleet(baseURL string, hc *http.Client) *Fleet {
	return &Fleet{client: newClient("fleet", baseURL, hc)}
}

// DriversByZone lists the drivers assigned to a zone:
// GET /api/repartidores/zona/{zone}.
func (f *Fleet) DriversByZone(ctx context.Context, zone string) ([]Driver, error) {
	var drivers []Driver
	if err := f.getJSON(ctx, "/api/repartidores/zona/"+escape(zone), nil, &drivers); err != nil {
		return nil, err
	}
	return drivers, nil
}

func (f *Fleet) Driver(ctx context.Context, id string) (*Driver, error) {
	var driver Driver
	if err := f.getJSON(ctx, "/api/repartidores/"+escape(id), nil, &driver); err != nil {
		return nil, err
	}
	return &driver, nil
}

// Drivers fetches several drivers at once. The fleet service has no batch
// endpoint, so the lookups run concurrently. Unknown drivers are absent from
// the result; any other failure fails the whole call.
func (f *Fleet) Drivers(ctx context.Context, ids []string) (map[string]*Driver, error) {
	var mu sync.Mutex
	out := make(map[string]*Driver, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(driverFetchLimit)

	for _, id := range ids {
		g.Go(func() error {
			driver, err := f.Driver(gctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			mu.Lock()
			out[id] = driver
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

type Tracking struct {
	client
}

func NewTracking(baseURL string, hc *http.Client) *Tracking {
	return &Tracking{client: newClient("tracking", baseURL, hc)}
}

// Location returns the driver's last reported position:
// GET /api/tracking/repartidor/{id}/ubicacion.
func (t *Tracking) Location(ctx context.Context, driverID string) (*Location, error) {
	var loc Location
	if err := t.getJSON(ctx, "/api/tracking/repartidor/"+escape(driverID)+"/ubicacion", nil, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}
