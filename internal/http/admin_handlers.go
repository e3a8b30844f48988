package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/observability"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/panels"
)

func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	var online *bool
	switch r.URL.Query().Get("online") {
	case "":
	case "1", "true":
		v := true
		online = &v
	case "0", "false":
		v := false
		online = &v
	default:
		http.Error(w, "online must be 0 or 1", http.StatusBadRequest)
		return
	}
	drivers, err := s.Admin.ListDrivers(r.Context(), online)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driversResponse{Data: drivers, Online: countOnline(drivers), Total: len(drivers)})
}

type driversResponse struct {
	Data   []models.OnlineDriver `json:"data"`
	Online int                   `json:"online"`
	Total  int                   `json:"total"`
}

func countOnline(drivers []models.OnlineDriver) int {
	n := 0
	for _, d := range drivers {
		if d.IsOnline {
			n++
		}
	}
	return n
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loc, err := s.Admin.DriverLocation(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleForceOffline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.Admin.ForceOffline(r.Context(), id); err != nil {
		observability.DriverActionsTotal.WithLabelValues("force_offline", "rejected").Inc()
		s.logger.Warn("force offline rejected", "driver_id", id, "error", err)
		writeUpstreamError(w, err)
		return
	}
	observability.DriverActionsTotal.WithLabelValues("force_offline", "ok").Inc()
	s.logger.Info("driver forced offline", "driver_id", id, "request_id", requestIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_online": false})
}

func (s *Server) handleDriverDaily(w http.ResponseWriter, r *http.Request) {
	q, ok := statsQuery(w, r)
	if !ok {
		return
	}
	if q.DriverID <= 0 {
		http.Error(w, "driver_id is required", http.StatusBadRequest)
		return
	}
	stats, err := s.Admin.DriverDailyStats(r.Context(), q)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTopDrivers(w http.ResponseWriter, r *http.Request) {
	q, ok := statsQuery(w, r)
	if !ok {
		return
	}
	stats, err := s.Admin.TopDriversDaily(r.Context(), q)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func statsQuery(w http.ResponseWriter, r *http.Request) (models.StatsQuery, bool) {
	v := r.URL.Query()
	q := models.StatsQuery{From: v.Get("from"), To: v.Get("to"), TZ: v.Get("tz")}
	if s := v.Get("driver_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid driver_id", http.StatusBadRequest)
			return q, false
		}
		q.DriverID = id
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return q, false
		}
		q.Limit = n
	}
	return q, true
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	servePanel(w, r, s.deps.Metrics, s.deps.MetricsPeriod, s.Admin.PerformanceMetrics)
}

func (s *Server) handleReconnections(w http.ResponseWriter, r *http.Request) {
	servePanel(w, r, s.deps.Reconnections, s.deps.ReconnectionsPeriod, s.Admin.ReconnectionStats)
}

// servePanel answers from the polled panel for its own period and fetches
// any other period on demand.
func servePanel[T any](w http.ResponseWriter, r *http.Request, p *panels.Panel[T], polled string, fetch func(context.Context, string) (T, error)) {
	period := r.URL.Query().Get("period")
	if period == "" || period == polled {
		writeJSON(w, http.StatusOK, p.View())
		return
	}
	if !models.ValidPeriod(period) {
		http.Error(w, "period must be 24h, 7d or 30d", http.StatusBadRequest)
		return
	}
	v, err := fetch(r.Context(), period)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, panels.View[T]{Data: &v})
}
