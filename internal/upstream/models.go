package upstream

import "net/url"

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDIENTE"
	OrderAssigned  OrderStatus = "ASIGNADO"
	OrderInTransit OrderStatus = "EN_RUTA"
	OrderDelivered OrderStatus = "ENTREGADO"
	OrderCancelled OrderStatus = "CANCELADO"
)

type Customer struct {
	Name    string `json:"nombre"`
	Phone   string `json:"telefono,omitempty"`
	Address string `json:"direccion,omitempty"`
}

type Order struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"clienteId"`
	Customer    *Customer   `json:"cliente"`
	Destination string      `json:"destino"`
	Status      OrderStatus `json:"estado"`
	DriverID    string      `json:"repartidorId,omitempty"`
	// ElapsedMinutes is the time since the order was taken, set once it is
	// delivered.
	ElapsedMinutes *int   `json:"tiempoTranscurrido"`
	DelayMinutes   *int   `json:"retrasoMin"`
	CreatedAt      string `json:"fechaCreacion,omitempty"`
	UpdatedAt      string `json:"fechaActualizacion,omitempty"`
}

// OrderFilter selects orders. Empty fields do not filter.
type OrderFilter struct {
	ZoneID          string      `json:"zonaId,omitempty"`
	Status          OrderStatus `json:"estado,omitempty"`
	DriverID        string      `json:"repartidorId,omitempty"`
	OriginCity      string      `json:"ciudadOrigen,omitempty"`
	DestinationCity string      `json:"ciudadDestino,omitempty"`
}

func (f OrderFilter) query() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("zonaId", f.ZoneID)
	set("estado", string(f.Status))
	set("repartidorId", f.DriverID)
	set("ciudadOrigen", f.OriginCity)
	set("ciudadDestino", f.DestinationCity)
	return q
}

type VehicleType string

const (
	VehicleMotorbike VehicleType = "MOTO"
	VehicleCar       VehicleType = "AUTO"
	VehicleVan       VehicleType = "CAMIONETA"
	VehicleBicycle   VehicleType = "BICICLETA"
)

type Vehicle struct {
	ID       string      `json:"id"`
	Type     VehicleType `json:"tipo"`
	Plate    string      `json:"placa"`
	Model    string      `json:"modelo,omitempty"`
	Capacity *float64    `json:"capacidad,omitempty"`
}

type Driver struct {
	ID        string   `json:"id"`
	Name      string   `json:"nombre"`
	Vehicle   *Vehicle `json:"vehiculo"`
	Available bool     `json:"disponible"`
}

// Location is the last position reported by a driver's device.
type Location struct {
	DriverID  string  `json:"repartidorId,omitempty"`
	Latitude  float64 `json:"latitud"`
	Longitude float64 `json:"longitud"`
	Speed     float64 `json:"velocidad"`
	UpdatedAt string  `json:"ultimaActualizacion,omitempty"`
}

type Incident struct {
	ID          string `json:"id"`
	OrderID     string `json:"pedidoId"`
	Description string `json:"descripcion"`
	Kind        string `json:"tipo"`
	CreatedAt   string `json:"fechaCreacion,omitempty"`
}

// NewIncident is the payload used to register an incident.
type NewIncident struct {
	OrderID     string `json:"pedidoId"`
	Description string `json:"descripcion"`
	Kind        string `json:"tipo"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"nombre,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"telefono,omitempty"`
}

// ContactUpdate changes a user's contact details. Empty fields are left
// unchanged.
type ContactUpdate struct {
	Phone string `json:"telefono,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"nombre,omitempty"`
}

// LoginResult is the identity service's answer to a successful login.
type LoginResult struct {
	AccessToken string   `json:"accessToken"`
	TokenType   string   `json:"tokenType,omitempty"`
	ExpiresIn   int64    `json:"expiresIn,omitempty"`
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}
