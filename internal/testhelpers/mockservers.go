package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/logiflow/delivery-gateway/internal/upstream"
)

// StoredOrder is an order held by the mock backend, together with the
// attributes the order service filters on but does not return.
type StoredOrder struct {
	upstream.Order
	Zone            string
	OriginCity      string
	DestinationCity string
}

// MockBackend serves the order, fleet, tracking and identity APIs from a single
// test server. All base URLs of the gateway can point at Server.URL.
type MockBackend struct {
	Server *httptest.Server

	mu sync.Mutex

	// token is issued by POST /login. When requireToken is set, API routes
	// answer 401 unless called with it.
	token        string
	expiresIn    int64
	requireToken bool

	orders    map[string]StoredOrder
	drivers   map[string]upstream.Driver
	zones     map[string][]string
	locations map[string]upstream.Location
	incidents []upstream.Incident
	users     map[string]upstream.User
	failures  map[string]int
	requests  map[string]int
	logins    int
	lastAuth  string
}

// SetupMockBackend creates an empty mock backend, closed when the test ends.
func SetupMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mock := &MockBackend{
		token:     "test-service-token",
		orders:    map[string]StoredOrder{},
		drivers:   map[string]upstream.Driver{},
		zones:     map[string][]string{},
		locations: map[string]upstream.Location{},
		users:     map[string]upstream.User{},
		failures:  map[string]int{},
		requests:  map[string]int{},
	}

	router := http.NewServeMux()

	mock.handle(router, "POST /login", false, mock.login)
	mock.handle(router, "GET /api/pedidos", true, mock.listOrders)
	mock.handle(router, "GET /api/pedidos/{id}", true, mock.getOrder)
	mock.handle(router, "PATCH /api/pedidos/{id}/asignar", true, mock.assignOrder)
	mock.handle(router, "PATCH /api/pedidos/{id}/cancelar", true, mock.cancelOrder)
	mock.handle(router, "GET /api/repartidores/zona/{zone}", true, mock.driversByZone)
	mock.handle(router, "GET /api/repartidores/{id}", true, mock.getDriver)
	mock.handle(router, "GET /api/tracking/repartidor/{id}/ubicacion", true, mock.getLocation)
	mock.handle(router, "POST /api/incidencias", true, mock.registerIncident)
	mock.handle(router, "GET /api/incidencias/pedido/{id}", true, mock.incidentsByOrder)
	mock.handle(router, "GET /api/incidencias/{id}", true, mock.getIncident)
	mock.handle(router, "PATCH /api/usuarios/{id}/contacto", true, mock.updateContact)
	mock.handle(router, "GET /api/usuarios/{id}", true, mock.getUser)

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.Server.Close()
}

func (m *MockBackend) URL() string {
	return m.Server.URL
}

func (m *MockBackend) AddOrder(o StoredOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *MockBackend) AddDriver(zone string, d upstream.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	m.zones[zone] = append(m.zones[zone], d.ID)
}

func (m *MockBackend) SetLocation(driverID string, loc upstream.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[driverID] = loc
}

func (m *MockBackend) AddUser(u upstream.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// Fail makes the route registered under pattern (for example
// "GET /api/repartidores/{id}") answer with status. Zero clears the failure.
func (m *MockBackend) Fail(pattern string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.failures, pattern)
		return
	}
	m.failures[pattern] = status
}

// Requests returns how many requests the route registered under pattern
// received.
func (m *MockBackend) Requests(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[pattern]
}

func (m *MockBackend) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

func (m *MockBackend) LastAuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

// SetToken changes the token issued by future logins and, when tokens are
// required, the only token accepted by the API.
func (m *MockBackend) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func (m *MockBackend) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// SetExpiresIn sets the expiresIn seconds reported by login. Zero omits it.
func (m *MockBackend) SetExpiresIn(seconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = seconds
}

// RequireToken makes the API routes reject requests without the current
// token.
func (m *MockBackend) RequireToken(required bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireToken = required
}

func (m *MockBackend) handle(router *http.ServeMux, pattern string, protected bool, h http.HandlerFunc) {
	router.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[pattern]++
		status := m.failures[pattern]
		header := r.Header.Get("Authorization")
		if protected {
			m.lastAuth = header
		}
		want := "Bearer " + m.token
		enforce := m.requireToken
		m.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}

		if protected && enforce && header != want {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		h(w, r)
	})
}

func (m *MockBackend) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	m.mu.Lock()
	m.logins++
	token := m.token
	expiresIn := m.expiresIn
	m.mu.Unlock()

	WriteJSON(w, upstream.LoginResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Username:    creds.Username,
	})
}

func (m *MockBackend) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	match := func(want, got string) bool { return want == "" || strings.EqualFold(want, got) }

	m.mu.Lock()
	out := []upstream.Order{}
	for _, o := range m.orders {
		if match(q.Get("zonaId"), o.Zone) &&
			match(q.Get("estado"), string(o.Status)) &&
			match(q.Get("repartidorId"), o.DriverID) &&
			match(q.Get("ciudadOrigen"), o.OriginCity) &&
			match(q.Get("ciudadDestino"), o.DestinationCity) {
			out = append(out, o.Order)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b upstream.Order) int { return strings.Compare(a.ID, b.ID) })
	WriteJSON(w, out)
}

func (m *MockBackend) getOrder(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	o, ok := m.orders[r.PathValue("id")]
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	WriteJSON(w, o.Order)
}

func (m *MockBackend) assignOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID  string `json:"repartidorId"`
		VehicleID string `json:"vehiculoId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		http.Error(w, "repartidorId is required", http.StatusBadRequest)
		return
	}

	m.updateOrder(w, r, func(o *StoredOrder) {
		o.DriverID = body.DriverID
		o.Status = upstream.OrderAssigned
	})
}

func (m *MockBackend) cancelOrder(w http.ResponseWriter, r *http.Request) {
	m.updateOrder(w, r, func(o *StoredOrder) {
		o.Status = upstream.OrderCancelled
	})
}

func (m *MockBackend) updateOrder(w http.ResponseWriter, r *http.Request, update func(*StoredOrder)) {
	m.mu.Lock()
	o, ok := m.orders[r.PathValue("id")]
	if ok {
		update(&o)
		m.orders[o.ID] = o
	}
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	WriteJSON(w, o.Order)
}

func (m *MockBackend) driversByZone(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := []upstream.Driver{}
	for _, id := range m.zones[r.PathValue("zone")] {
		out = append(out, m.drivers[id])
	}
	m.mu.Unlock()

	WriteJSON(w, out)
}

func (m *MockBackend) getDriver(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	d, ok := m.drivers[r.PathValue("id")]
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	WriteJSON(w, d)
}

func (m *MockBackend) getLocation(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	loc, ok := m.locations[r.PathValue("id")]
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	WriteJSON(w, loc)
}

func (m *MockBackend) registerIncident(w http.ResponseWriter, r *http.Request) {
	var in upstream.NewIncident
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.OrderID == "" {
		http.Error(w, "pedidoId is required", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	incident := upstream.Incident{
		ID:          fmt.Sprintf("inc-%d", len(m.incidents)+1),
		OrderID:     in.OrderID,
		Description: in.Description,
		Kind:        in.Kind,
	}
	m.incidents = append(m.incidents, incident)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(incident)
}

func (m *MockBackend) incidentsByOrder(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := []upstream.Incident{}
	for _, inc := range m.incidents {
		if inc.OrderID == r.PathValue("id") {
			out = append(out, inc)
		}
	}
	m.mu.Unlock()

	WriteJSON(w, out)
}

func (m *MockBackend) getIncident(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inc := range m.incidents {
		if inc.ID == r.PathValue("id") {
			WriteJSON(w, inc)
			return
		}
	}
	http.NotFound(w, r)
}

func (m *MockBackend) updateContact(w http.ResponseWriter, r *http.Request) {
	var update upstream.ContactUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	u, ok := m.users[r.PathValue("id")]
	if ok {
		if update.Phone != "" {
			u.Phone = update.Phone
		}
		if update.Email != "" {
			u.Email = update.Email
		}
		if update.Name != "" {
			u.Name = update.Name
		}
		m.users[u.ID] = u
	}
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	WriteJSON(w, u)
}

func (m *MockBackend) getUser(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	u, ok := m.users[r.PathValue("id")]
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	WriteJSON(w, u)
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
