package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-session/internal/dispatch"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/route"
	"github.com/example/driver-session/internal/session"
	"github.com/example/driver-session/internal/traffic"
)

// Controller is the driver-facing command surface of a session.
type Controller interface {
	RequestTrip(ctx context.Context) (session.Outcome, error)
	Accept(ctx context.Context) (session.Outcome, error)
	Reject(ctx context.Context) (session.Outcome, error)
	EndTrip(ctx context.Context) (session.Outcome, error)
	RetryPayment(ctx context.Context) (session.Outcome, error)
	UpdateLocation(ctx context.Context, p models.GeoPoint) (session.Outcome, error)
	Snapshot() session.Snapshot
}

// TripHistory lists finished trips.
type TripHistory interface {
	RecentTrips(ctx context.Context, driverID string, limit int) ([]models.TripRecord, error)
}

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	controller Controller
	history    TripHistory
	hub        *dispatch.Hub
	checks     map[string]ReadinessCheck
	logger     *slog.Logger
	mux        *mux.Router
}

type Option func(*Server)

func WithHistory(h TripHistory) Option { return func(s *Server) { s.history = h } }

func WithHub(h *dispatch.Hub) Option { return func(s *Server) { s.hub = h } }

func WithReadinessCheck(name string, c ReadinessCheck) Option {
	return func(s *Server) { s.checks[name] = c }
}

func NewServer(c Controller, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		controller: c,
		checks:     make(map[string]ReadinessCheck),
		logger:     logger.With("component", "http"),
		mux:        mux.NewRouter(),
	}
	for _, o := range opts {
		o(s)
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	// Registered on the root router so a wrong method gets 405, not 404.
	const api = "/api/v1"
	s.mux.HandleFunc(api+"/trip", s.handleTrip).Methods(http.MethodGet)
	s.mux.HandleFunc(api+"/trip/request", s.command(s.controller.RequestTrip)).Methods(http.MethodPost)
	s.mux.HandleFunc(api+"/trip/accept", s.command(s.controller.Accept)).Methods(http.MethodPost)
	s.mux.HandleFunc(api+"/trip/reject", s.command(s.controller.Reject)).Methods(http.MethodPost)
	s.mux.HandleFunc(api+"/trip/end", s.command(s.controller.EndTrip)).Methods(http.MethodPost)
	s.mux.HandleFunc(api+"/trip/payment/retry", s.command(s.controller.RetryPayment)).Methods(http.MethodPost)
	s.mux.HandleFunc(api+"/driver/location", s.handleLocation).Methods(http.MethodPost)
	s.mux.HandleFunc(api+"/trips", s.handleTrips).Methods(http.MethodGet)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/updates", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// tripView is the display form of a snapshot.
type tripView struct {
	session.Snapshot
	Distance   string `json:"distance,omitempty"`
	Duration   string `json:"duration,omitempty"`
	ETAText    string `json:"eta_text,omitempty"`
	LegLabel   string `json:"leg_label,omitempty"`
	CanEndTrip bool   `json:"can_end_trip"`
}

func newTripView(snap session.Snapshot) tripView {
	v := tripView{Snapshot: snap, CanEndTrip: snap.CanEndTrip()}
	if snap.Route != nil {
		v.Distance = route.Kilometers(snap.Route.TotalDistanceMeters)
		v.Duration = route.Minutes(snap.Route.TotalDurationSeconds)
		if snap.CurrentLeg < len(snap.Route.Legs) {
			v.LegLabel = snap.Route.Legs[snap.CurrentLeg].Label
		}
		v.ETAText = traffic.FormatETA(snap.ETA)
	}
	return v
}

type commandResponse struct {
	Trip     tripView `json:"trip"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) command(fn func(context.Context) (session.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context())
		s.reply(w, r, out, err)
	}
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, out session.Outcome, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Trip: newTripView(out.Snapshot), Warnings: out.Warnings})
}

func (s *Server) handleTrip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newTripView(s.controller.Snapshot()))
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lon == nil {
		http.Error(w, "lat and lon are required", http.StatusBadRequest)
		return
	}
	out, err := s.controller.UpdateLocation(r.Context(), models.GeoPoint{Lat: *req.Lat, Lon: *req.Lon})
	s.reply(w, r, out, err)
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "trip history unavailable", http.StatusNotImplemented)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}
	trips, err := s.history.RecentTrips(r.Context(), s.controller.Snapshot().DriverID, limit)
	if err != nil {
		s.logger.Error("recent trips", "error", err)
		http.Error(w, "trip history unavailable", http.StatusServiceUnavailable)
		return
	}
	if trips == nil {
		trips = []models.TripRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trips": trips})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	result := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "updates unavailable", http.StatusNotImplemented)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	id, err := s.hub.Add(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	if err := s.hub.Send(id, newTripView(s.controller.Snapshot())); err != nil {
		s.hub.Remove(id)
		return
	}
	go func() {
		// Drain client frames so close and ping control messages are handled.
		defer s.hub.Remove(id)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("command failed", "error", err, "request_id", requestIDFromContext(r.Context()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrPaymentNotConfirmed),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNoPendingPayment),
		errors.Is(err, session.ErrPaymentInFlight):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidLocation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

