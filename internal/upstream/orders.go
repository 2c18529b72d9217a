package upstream

import (
	"context"
	"net/http"
)

// Orders is the client for the order service, which also owns incidents.
type Orders struct {
	client
}

func NewOrders(baseURL string, hc *http.Client) *Orders {
	return &Orders{client: newClient("orders", baseURL, hc)}
}

// List returns the orders matching filter: GET /api/pedidos.
func (o *Orders) List(ctx context.Context, filter OrderFilter) ([]Order, error) {
	var orders []Order
	if err := o.getJSON(ctx, "/api/pedidos", filter.query(), &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Get returns a single order. A missing order yields an error matching
// ErrNotFound.
func (o *Orders) Get(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := o.getJSON(ctx, "/api/pedidos/"+escape(id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (o *Orders) ByOriginCity(ctx context.Context, city string) ([]Order, error) {
	return o.List(ctx, OrderFilter{OriginCity: city})
}

func (o *Orders) ByDestinationCity(ctx context.Context, city string) ([]Order, error) {
	return o.List(ctx, OrderFilter{DestinationCity: city})
}

type assignment struct {
	DriverID  string `json:"repartidorId"`
	VehicleID string `json:"vehiculoId"`
}

// Assign gives the order to a driver and vehicle: PATCH /api/pedidos/{id}/asignar.
func (o *Orders) Assign(ctx context.Context, id, driverID, vehicleID string) (*Order, error) {
	var order Order
	err := o.sendJSON(ctx, http.MethodPatch, "/api/pedidos/"+escape(id)+"/asignar",
		assignment{DriverID: driverID, VehicleID: vehicleID}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

type cancellation struct {
	Reason string `json:"motivo,omitempty"`
}

// Cancel cancels the order: PATCH /api/pedidos/{id}/cancelar.
func (o *Orders) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	var order Order
	err := o.sendJSON(ctx, http.MethodPatch, "/api/pedidos/"+escape(id)+"/cancelar",
		cancellation{Reason: reason}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Incidents is the incident API hosted by the order service.
type Incidents struct {
	client
}

func NewIncidents(baseURL string, hc *http.Client) *Incidents {
	return &Incidents{client: newClient("incidents", baseURL, hc)}
}

func (i *Incidents) Register(ctx context.Context, in NewIncident) (*Incident, error) {
	var incident Incident
	if err := i.sendJSON(ctx, http.MethodPost, "/api/incidencias", in, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

func (i *Incidents) ByOrder(ctx context.Context, orderID string) ([]Incident, error) {
	var incidents []Incident
	if err := i.getJSON(ctx, "/api/incidencias/pedido/"+escape(orderID), nil, &incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}

func (i *Incidents) Get(ctx context.Context, id string) (*Incident, error) {
	var incident Incident
	if err := i.getJSON(ctx, "/api/incidencias/"+escape(id), nil, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}
