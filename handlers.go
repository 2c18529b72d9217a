package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/logiflow/delivery-gateway/internal/audit"
	"github.com/logiflow/delivery-gateway/internal/auth"
	"github.com/logiflow/delivery-gateway/internal/gateway"
	"github.com/logiflow/delivery-gateway/internal/upstream"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// includesDriver reports whether the caller asked for each order's driver to
// be resolved.
func includesDriver(r *http.Request) bool {
	for _, field := range strings.Split(r.URL.Query().Get("include"), ",") {
		if strings.TrimSpace(field) == "driver" {
			return true
		}
	}
	return false
}

func orderFilter(r *http.Request) upstream.OrderFilter {
	q := r.URL.Query()
	return upstream.OrderFilter{
		ZoneID:          q.Get("zonaId"),
		Status:          upstream.OrderStatus(strings.ToUpper(q.Get("estado"))),
		DriverID:        q.Get("repartidorId"),
		OriginCity:      q.Get("ciudadOrigen"),
		DestinationCity: q.Get("ciudadDestino"),
	}
}

func handleListOrders(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		filter := orderFilter(r)
		if includesDriver(r) {
			writeJSON(w, http.StatusOK, svc.OrdersWithDrivers(r.Context(), filter))
			return
		}

		writeJSON(w, http.StatusOK, svc.Orders(r.Context(), filter))
	})
}

func handleGetOrder(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		id := r.PathValue("id")

		var order any
		if includesDriver(r) {
			if view := svc.OrderWithDriver(r.Context(), id); view != nil {
				order = view
			}
		} else if o := svc.Order(r.Context(), id); o != nil {
			order = o
		}

		if order == nil {
			writeJSONError(w, http.StatusNotFound, "order not found")
			return
		}

		writeJSON(w, http.StatusOK, order)
	})
}

func handleOrderIncidents(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, svc.Incidents(r.Context(), r.PathValue("id")))
	})
}

func handleGetIncident(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		incident := svc.Incident(r.Context(), r.PathValue("id"))
		if incident == nil {
			writeJSONError(w, http.StatusNotFound, "incident not found")
			return
		}

		writeJSON(w, http.StatusOK, incident)
	})
}

func handleGetUser(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		user := svc.User(r.Context(), r.PathValue("id"))
		if user == nil {
			writeJSONError(w, http.StatusNotFound, "user not found")
			return
		}

		writeJSON(w, http.StatusOK, user)
	})
}

func handleActiveFleet(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, svc.ActiveFleet(r.Context(), r.PathValue("zone")))
	})
}

func handleFleetSummary(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, svc.FleetSummary(r.Context(), r.PathValue("zone")))
	})
}

func handleZoneKPIs(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, svc.KPIs(r.Context(), r.PathValue("zone")))
	})
}

func handleDailyKPIs(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		date := r.PathValue("date")
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			writeJSONError(w, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
			return
		}

		writeJSON(w, http.StatusOK, svc.DailyKPIs(r.Context(), date, r.URL.Query().Get("zonaId")))
	})
}

func handleCityKPIs(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		scope := gateway.ParseCityScope(r.URL.Query().Get("tipo"))
		writeJSON(w, http.StatusOK, svc.CityKPIs(r.Context(), r.PathValue("city"), scope))
	})
}

func handleCacheMetrics(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, svc.CacheMetrics())
	})
}

type assignRequest struct {
	DriverID  string `json:"repartidorId"`
	VehicleID string `json:"vehiculoId"`
}

func handleAssignOrder(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req assignRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.DriverID == "" || req.VehicleID == "" {
			writeJSONError(w, http.StatusBadRequest, "repartidorId and vehiculoId are required")
			return
		}

		entry := audit.Log(r.Context())
		entry.Operation = "assign"
		entry.OrderID = r.PathValue("id")
		entry.DriverID = req.DriverID
		entry.VehicleID = req.VehicleID

		order, err := svc.AssignOrder(r.Context(), r.PathValue("id"), req.DriverID, req.VehicleID)
		if err != nil {
			mutationFailed(w, r, "order assignment", err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	})
}

type cancelRequest struct {
	Reason string `json:"motivo"`
}

func handleCancelOrder(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req cancelRequest
		if !readJSON(w, r, &req) {
			return
		}

		entry := audit.Log(r.Context())
		entry.Operation = "cancel"
		entry.OrderID = r.PathValue("id")
		entry.Reason = req.Reason

		order, err := svc.CancelOrder(r.Context(), r.PathValue("id"), req.Reason)
		if err != nil {
			mutationFailed(w, r, "order cancellation", err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	})
}

func handleRegisterIncident(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req upstream.NewIncident
		if !readJSON(w, r, &req) {
			return
		}
		if req.OrderID == "" || req.Description == "" {
			writeJSONError(w, http.StatusBadRequest, "pedidoId and descripcion are required")
			return
		}

		entry := audit.Log(r.Context())
		entry.Operation = "incident"
		entry.OrderID = req.OrderID

		incident, err := svc.RegisterIncident(r.Context(), req)
		if err != nil {
			mutationFailed(w, r, "incident registration", err)
			return
		}
		entry.IncidentID = incident.ID

		writeJSON(w, http.StatusCreated, incident)
	})
}

func handleUpdateContact(svc *gateway.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req upstream.ContactUpdate
		if !readJSON(w, r, &req) {
			return
		}
		if req == (upstream.ContactUpdate{}) {
			writeJSONError(w, http.StatusBadRequest, "no contact details supplied")
			return
		}

		entry := audit.Log(r.Context())
		entry.Operation = "contact"
		entry.UserID = r.PathValue("id")

		user, err := svc.UpdateContact(r.Context(), r.PathValue("id"), req)
		if err != nil {
			mutationFailed(w, r, "contact update", err)
			return
		}

		writeJSON(w, http.StatusOK, user)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// readJSON decodes the request body into v. On failure the error response has
// already been written and false is returned.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "request body could not be read")
		return false
	}

	err = json.Unmarshal(body, v)
	if err == nil {
		return true
	}

	log.Ctx(r.Context()).Info().Err(err).Msg("invalid request body")
	writeJSONError(w, http.StatusBadRequest, "request body must be a JSON object")
	return false
}

func mutationFailed(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, message := errorStatus(err)

	entry := audit.Log(r.Context())
	entry.Error = err.Error()
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		entry.UpstreamService = statusErr.Service
		entry.UpstreamStatus = statusErr.Code
	}

	log.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msgf("%s failed", operation)
	writeJSONError(w, status, message)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal response")
		writeJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Err(err).Msg("failed to write response")
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error. Errors
// without status information are reported as a bad gateway, except a missing
// service credential, which makes the gateway unavailable.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}

	if errors.Is(err, auth.ErrCredentialUnavailable) || errors.Is(err, auth.ErrShutdown) {
		return http.StatusServiceUnavailable, "gateway credential unavailable"
	}

	return http.StatusBadGateway, "upstream request failed"
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
