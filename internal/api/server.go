package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	httptrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/net/http"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/Rain1971/V2C-trydant/internal/bridge"
	"github.com/Rain1971/V2C-trydant/internal/config"
	"github.com/Rain1971/V2C-trydant/internal/entities"
	"github.com/Rain1971/V2C-trydant/internal/pvpc"
	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// Server provides the HTTP API for inspecting and controlling chargers
type Server struct {
	service *bridge.Service
	logger  *zap.Logger
	addr    string
	auth    config.AuthConfig
}

// NewServer creates a new API server
func NewServer(service *bridge.Service, logger *zap.Logger, addr string, auth config.AuthConfig) *Server {
	return &Server{
		service: service,
		logger:  logger,
		addr:    addr,
		auth:    auth,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	// Use Datadog HTTP tracing middleware
	mux := httptrace.NewServeMux()
	mux.HandleFunc("/api/chargers", s.listChargers)
	mux.HandleFunc("/api/chargers/", s.handleCharger)

	var handler http.Handler = mux
	handler = s.securityMiddleware(handler)

	// Add Basic Auth middleware if enabled
	if s.auth.Enabled {
		handler = s.basicAuthMiddleware(handler)
		s.logger.Info("API Authentication enabled")
	}

	s.logger.Info("Starting API server", zap.String("addr", s.addr))
	return http.ListenAndServe(s.addr, handler)
}

// basicAuthMiddleware enforces Basic Authentication
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()

		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(s.auth.Username)) != 1 || subtle.ConstantTimeCompare([]byte(pass), []byte(s.auth.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityMiddleware sets defensive response headers
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		next.ServeHTTP(w, r)
	})
}

// Response types
type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Name            string                 `json:"name"`
	Host            string                 `json:"host"`
	Available       bool                   `json:"available"`
	Fields          map[string]interface{} `json:"fields,omitempty"`
	ChargeKm        *float64               `json:"charge_km,omitempty"`
	NumericStatus   *int                   `json:"numeric_status,omitempty"`
	ChargeStateText string                 `json:"charge_state_text,omitempty"`
	ChargeTimeText  string                 `json:"charge_time_text,omitempty"`
	KmToCharge      float64                `json:"km_to_charge"`
	MaxPrice        float64                `json:"max_price"`
	PvpcEnabled     bool                   `json:"pvpc_enabled"`
}

type SetValueRequest struct {
	Value int `json:"value"`
}

type TargetRequest struct {
	KmToCharge *float64 `json:"km_to_charge,omitempty"`
	MaxPrice   *float64 `json:"max_price,omitempty"`
	Pvpc       *bool    `json:"pvpc,omitempty"`
}

type PvpcResponse struct {
	Enabled    bool            `json:"enabled"`
	MaxPrice   float64         `json:"max_price"`
	CheapHours pvpc.CheapHours `json:"cheap_hours"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// setpointActions maps URL actions to device setpoint fields.
var setpointActions = map[string]string{
	"intensity":          trydan.FieldIntensity,
	"min-intensity":      trydan.FieldMinIntensity,
	"max-intensity":      trydan.FieldMaxIntensity,
	"dynamic-power-mode": trydan.FieldDynamicPowerMode,
}

// listChargers returns all chargers
func (s *Server) listChargers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	chargers := s.service.ListChargers()
	statuses := make([]StatusResponse, 0, len(chargers))

	for _, c := range chargers {
		statuses = append(statuses, s.chargerToStatus(c))
	}

	s.writeJSON(w, http.StatusOK, statuses)
}

// handleCharger handles charger-specific operations
func (s *Server) handleCharger(w http.ResponseWriter, r *http.Request) {
	span, ctx := tracer.StartSpanFromContext(r.Context(), "api.handle_charger")
	defer span.Finish()

	// Extract charger name from path: /api/chargers/{name}/{action}
	path := r.URL.Path[len("/api/chargers/"):]
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "charger name required")
		return
	}

	chargerName := parts[0]
	span.SetTag("charger", chargerName)

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	span.SetTag("action", action)

	charger, err := s.service.GetCharger(chargerName)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if field, ok := setpointActions[action]; ok {
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req SetValueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if err := charger.SetSetpoint(ctx, field, req.Value); err != nil {
			s.writeControlError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: fmt.Sprintf("%s set to %d", field, req.Value),
		})
		return
	}

	switch action {
	case "", "status":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.writeJSON(w, http.StatusOK, s.chargerToStatus(charger))

	case "pause":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := charger.Pause(ctx); err != nil {
			s.writeControlError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Charging paused"})

	case "resume":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := charger.Resume(ctx); err != nil {
			s.writeControlError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Charging resumed"})

	case "lock", "unlock":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := charger.SetSwitch(ctx, trydan.FieldLocked, action == "lock"); err != nil {
			s.writeControlError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Charger " + action + "ed"})

	case "target":
		s.handleTarget(w, r, charger)

	case "pvpc":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		maxPrice, _ := charger.States().Number(entities.MaxPriceNumber)
		s.writeJSON(w, http.StatusOK, PvpcResponse{
			Enabled:    charger.States().IsOn(entities.PvpcSwitch),
			MaxPrice:   maxPrice,
			CheapHours: charger.PriceForecast(),
		})

	default:
		s.writeError(w, http.StatusNotFound, "unknown action")
	}
}

// handleTarget reads or updates the charge-target configuration.
func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request, charger *bridge.Charger) {
	switch r.Method {
	case http.MethodGet:
		km, _ := charger.States().Number(entities.KmToChargeNumber)
		maxPrice, _ := charger.States().Number(entities.MaxPriceNumber)
		pvpcOn := charger.States().IsOn(entities.PvpcSwitch)
		s.writeJSON(w, http.StatusOK, TargetRequest{
			KmToCharge: &km,
			MaxPrice:   &maxPrice,
			Pvpc:       &pvpcOn,
		})

	case http.MethodPut, http.MethodPost:
		var req TargetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.KmToCharge != nil {
			if err := charger.SetKmToCharge(*req.KmToCharge); err != nil {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if req.MaxPrice != nil {
			if err := charger.SetMaxPrice(*req.MaxPrice); err != nil {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if req.Pvpc != nil {
			charger.SetPvpc(*req.Pvpc)
		}
		s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Target updated"})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// chargerToStatus converts a charger to its status response
func (s *Server) chargerToStatus(charger *bridge.Charger) StatusResponse {
	resp := StatusResponse{
		Name:      charger.Name(),
		Host:      charger.Host(),
		Available: charger.Available(),
	}

	resp.KmToCharge, _ = charger.States().Number(entities.KmToChargeNumber)
	resp.MaxPrice, _ = charger.States().Number(entities.MaxPriceNumber)
	resp.PvpcEnabled = charger.States().IsOn(entities.PvpcSwitch)

	snap := charger.Snapshot()
	if snap == nil {
		return resp
	}

	resp.Fields = snap
	if km, ok := snap.RangeEstimate(charger.KwhPer100km()); ok {
		resp.ChargeKm = &km
	}
	if status, ok := snap.NumericStatus(); ok {
		resp.NumericStatus = &status
		resp.ChargeStateText = trydan.ChargeStateText(status)
	}
	if secs, ok := snap.Int(trydan.FieldChargeTime); ok {
		resp.ChargeTimeText = trydan.FormatChargeTime(secs)
	}

	return resp
}

// writeControlError maps control failures onto HTTP statuses: local or
// device rejection is the caller's fault, transport trouble is the
// device's.
func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case trydan.IsRejected(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, trydan.ErrTransport):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Helper functions
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.logger.Warn("API error", zap.String("error", message), zap.Int("status", status))
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
