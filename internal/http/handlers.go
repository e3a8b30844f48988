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

	"github.com/likmaa/apk-tic-dev-dashboard/internal/backend"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/dispatch"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/panels"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/ridesync"
)

const refreshTimeout = 30 * time.Second

// Syncer is what the console views need from the synchronizer.
type Syncer interface {
	Snapshot() ridesync.Snapshot
	Refresh(ctx context.Context) ([]models.RideRecord, error)
	CancelRide(ctx context.Context, id int64) error
}

// Admin is the part of the admin API served to the driver and reporting pages.
type Admin interface {
	ListDrivers(ctx context.Context, online *bool) ([]models.OnlineDriver, error)
	DriverLocation(ctx context.Context, id int64) (models.DriverLocation, error)
	ForceOffline(ctx context.Context, id int64) error
	PerformanceMetrics(ctx context.Context, period string) (models.PerformanceMetrics, error)
	ReconnectionStats(ctx context.Context, period string) (models.ReconnectionStats, error)
	DriverDailyStats(ctx context.Context, q models.StatsQuery) (models.DriverDailyStats, error)
	TopDriversDaily(ctx context.Context, q models.StatsQuery) (models.TopDriversDaily, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps lists what the server is built from. Admin and the panels are
// optional; their routes are only registered when present, the panels
// only together with Admin.
type Deps struct {
	Sync                Syncer
	Stream              *dispatch.WSRegistry
	Ready               Pinger
	Admin               Admin
	Metrics             *panels.Panel[models.PerformanceMetrics]
	MetricsPeriod       string
	Reconnections       *panels.Panel[models.ReconnectionStats]
	ReconnectionsPeriod string
	Logger              *slog.Logger
}

type Server struct {
	Sync   Syncer
	Stream *dispatch.WSRegistry
	Ready  Pinger // optional readiness dependency
	Admin  Admin
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{Sync: d.Sync, Stream: d.Stream, Ready: d.Ready, Admin: d.Admin, deps: d, logger: d.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/active", s.handleActiveRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/active/refresh", s.handleRefresh).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/ws", s.handleWS)
	if s.Admin != nil {
		s.mux.HandleFunc("/api/v1/drivers", s.handleDrivers).Methods("GET")
		s.mux.HandleFunc("/api/v1/drivers/{id}/location", s.handleDriverLocation).Methods("GET")
		s.mux.HandleFunc("/api/v1/drivers/{id}/force-offline", s.handleForceOffline).Methods("POST")
		s.mux.HandleFunc("/api/v1/stats/drivers/daily", s.handleDriverDaily).Methods("GET")
		s.mux.HandleFunc("/api/v1/stats/drivers/daily/top", s.handleTopDrivers).Methods("GET")
		if s.deps.Metrics != nil {
			s.mux.HandleFunc("/api/v1/metrics/performance", s.handlePerformance).Methods("GET")
		}
		if s.deps.Reconnections != nil {
			s.mux.HandleFunc("/api/v1/analytics/reconnections", s.handleReconnections).Methods("GET")
		}
	}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleActiveRides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sync.Snapshot())
}

type errorResponse struct {
	Error    string            `json:"error"`
	Snapshot ridesync.Snapshot `json:"snapshot"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// the refresh is shared state; a client hanging up must not fail it for every view
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), refreshTimeout)
	defer cancel()
	if _, err := s.Sync.Refresh(ctx); err != nil {
		// the last good list goes out with the error
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Snapshot: s.Sync.Snapshot()})
		return
	}
	writeJSON(w, http.StatusOK, s.Sync.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.Sync.CancelRide(r.Context(), id); err != nil {
		writeJSON(w, upstreamStatus(err), errorResponse{Error: err.Error(), Snapshot: s.Sync.Snapshot()})
		return
	}
	writeJSON(w, http.StatusOK, s.Sync.Snapshot())
}

// upstreamStatus passes business rejections through and reports everything
// else, including an expired console token, as an upstream failure.
func upstreamStatus(err error) int {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusUnauthorized {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready.Ping(r.Context()); err != nil {
			http.Error(w, "snapshot store not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		return
	}
	id := s.Stream.Add(conn, func() ([]byte, error) {
		return json.Marshal(s.Sync.Snapshot())
	})
	s.logger.Info("ws session opened", "session_id", id, "sessions", s.Stream.Len(), "request_id", requestIDFromContext(r.Context()))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

type apiError struct {
	Error string `json:"error"`
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	writeJSON(w, upstreamStatus(err), apiError{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
