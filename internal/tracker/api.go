package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fleetwatch.dev/fleetwatch/internal/dispatch"
	"fleetwatch.dev/fleetwatch/internal/registry"
	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/metrics"
)

// deviceView is a device record plus the presentation-time derivations the
// dashboard renders: status badge, battery bucket, signal bars, freshness.
type deviceView struct {
	fleet.DeviceRecord
	Status        fleet.DeviceStatus     `json:"status"`
	BatteryBucket registry.BatteryBucket `json:"batteryBucket"`
	SignalBars    int                    `json:"signalBars"`
	Fresh         bool                   `json:"fresh"`
}

// commandBody is the POST body for issuing a command.
type commandBody struct {
	CommandType fleet.CommandType `json:"commandType"`
	Payload     string            `json:"payload"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newDeviceView(record fleet.DeviceRecord, now time.Time) deviceView {
	return deviceView{
		DeviceRecord:  record,
		Status:        record.Status(),
		BatteryBucket: registry.Battery(record.BatteryLevel),
		SignalBars:    registry.SignalBars(record.SignalStrength),
		Fresh:         record.Fresh(now),
	}
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/devices", s.instrument("devices", s.handleDevices))
	mux.HandleFunc("GET /api/devices/{id}", s.instrument("device", s.handleDevice))
	mux.HandleFunc("GET /api/trails/{owner}", s.instrument("trail", s.handleTrail))
	mux.HandleFunc("GET /api/positions/{owner}", s.instrument("position", s.handlePosition))
	mux.HandleFunc("GET /api/history/{owner}", s.instrument("history", s.handleHistory))
	mux.HandleFunc("POST /api/devices/{id}/commands", s.instrument("dispatch", s.handleDispatch))
	mux.HandleFunc("GET /api/commands/{id}", s.instrument("command", s.handleCommand))

	return mux
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request counting and latency metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		s.metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		s.metrics.HTTPRequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// handleHealth serves the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleDevices serves the full device list with derived presentation
// fields.
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().UTC()
	records := s.registry.Devices()

	views := make([]deviceView, 0, len(records))
	for _, record := range records {
		views = append(views, newDeviceView(record, now))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleDevice serves one device by id.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	record, ok := s.registry.Device(deviceID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	s.writeJSON(w, http.StatusOK, newDeviceView(record, time.Now().UTC()))
}

// handleTrail serves an owner's retained trail, oldest to newest.
func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	samples := s.trails.TrailFor(owner)
	if samples == nil {
		samples = []fleet.LocationSample{}
	}
	s.writeJSON(w, http.StatusOK, samples)
}

// handlePosition serves an owner's last known position.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	sample, ok := s.trails.LastPosition(owner)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no position for owner")
		return
	}
	s.writeJSON(w, http.StatusOK, sample)
}

// handleHistory serves an owner's archived samples, newest first. The trail
// endpoints cover the retained window; this one reaches into the archive.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history archive not configured")
		return
	}

	samples, err := s.store.SamplesFor(r.Context(), owner, limit)
	if err != nil {
		s.logger.Error("failed to fetch sample history", "owner_id", owner, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	s.writeJSON(w, http.StatusOK, samples)
}

// handleDispatch issues one command to one device.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var body commandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd, err := s.dispatcher.Dispatch(r.Context(), deviceID, body.CommandType, body.Payload)
	switch {
	case errors.Is(err, dispatch.ErrInvalidPayload):
		s.writeJSON(w, http.StatusUnprocessableEntity, cmd)
	case errors.Is(err, dispatch.ErrDeviceOffline), errors.Is(err, dispatch.ErrDeviceBusy):
		s.writeJSON(w, http.StatusConflict, cmd)
	case err != nil:
		s.writeJSON(w, http.StatusBadGateway, cmd)
	default:
		s.writeJSON(w, http.StatusAccepted, cmd)
	}
}

// handleCommand serves the tracked state of one command.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	commandID := r.PathValue("id")

	cmd, ok := s.dispatcher.Command(commandID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown command")
		return
	}
	s.writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
