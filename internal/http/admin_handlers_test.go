package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/backend"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/dispatch"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/panels"
)

type fakeAdmin struct {
	drivers       []models.OnlineDriver
	gotOnline     *bool
	offline       []int64
	offlineErr    error
	metricCalls   []string
	gotStatsQuery models.StatsQuery
}

func (f *fakeAdmin) ListDrivers(ctx context.Context, online *bool) ([]models.OnlineDriver, error) {
	f.gotOnline = online
	return f.drivers, nil
}

func (f *fakeAdmin) DriverLocation(ctx context.Context, id int64) (models.DriverLocation, error) {
	for _, d := range f.drivers {
		if d.ID == id {
			return d.Location(), nil
		}
	}
	return models.DriverLocation{}, &backend.APIError{StatusCode: 404, Message: "driver not found"}
}

func (f *fakeAdmin) ForceOffline(ctx context.Context, id int64) error {
	f.offline = append(f.offline, id)
	return f.offlineErr
}

func (f *fakeAdmin) PerformanceMetrics(ctx context.Context, period string) (models.PerformanceMetrics, error) {
	f.metricCalls = append(f.metricCalls, period)
	return models.PerformanceMetrics{Total: int64(len(period))}, nil
}

func (f *fakeAdmin) ReconnectionStats(ctx context.Context, period string) (models.ReconnectionStats, error) {
	return models.ReconnectionStats{Total: 3}, nil
}

func (f *fakeAdmin) DriverDailyStats(ctx context.Context, q models.StatsQuery) (models.DriverDailyStats, error) {
	f.gotStatsQuery = q
	return models.DriverDailyStats{DriverID: q.DriverID}, nil
}

func (f *fakeAdmin) TopDriversDaily(ctx context.Context, q models.StatsQuery) (models.TopDriversDaily, error) {
	f.gotStatsQuery = q
	return models.TopDriversDaily{Limit: q.Limit}, nil
}

func newAdminServer(admin *fakeAdmin) *Server {
	metrics := panels.New("performance", time.Minute, func(ctx context.Context) (models.PerformanceMetrics, error) {
		return admin.PerformanceMetrics(ctx, models.Period24h)
	}, quiet)
	_, _ = metrics.Refresh(context.Background())
	return NewServer(Deps{
		Sync:          &fakeSync{snap: sampleSnapshot()},
		Stream:        dispatch.NewWSRegistry(quiet),
		Admin:         admin,
		Metrics:       metrics,
		MetricsPeriod: models.Period24h,
		Logger:        quiet,
	})
}

func TestDriversList(t *testing.T) {
	admin := &fakeAdmin{drivers: []models.OnlineDriver{{ID: 3, IsOnline: true}, {ID: 4}}}
	s := newAdminServer(admin)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/drivers?online=1", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if admin.gotOnline == nil || !*admin.gotOnline {
		t.Fatalf("online filter not forwarded")
	}
	var body driversResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 || body.Online != 1 {
		t.Fatalf("unexpected counts %+v", body)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/drivers?online=maybe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad filter, got %d", rec.Code)
	}
}

func TestForceOfflineRoute(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"ok", "/api/v1/drivers/3/force-offline", nil, 200},
		{"bad id", "/api/v1/drivers/x/force-offline", nil, 400},
		{"not found", "/api/v1/drivers/3/force-offline", &backend.APIError{StatusCode: 404, Message: "driver not found"}, 404},
		{"upstream down", "/api/v1/drivers/3/force-offline", &backend.APIError{StatusCode: 503}, 502},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			admin := &fakeAdmin{offlineErr: tc.err}
			rec := httptest.NewRecorder()
			newAdminServer(admin).ServeHTTP(rec, httptest.NewRequest("POST", tc.path, nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status != 400 && (len(admin.offline) != 1 || admin.offline[0] != 3) {
				t.Fatalf("expected force offline of 3, got %v", admin.offline)
			}
		})
	}
}

func TestDriverLocationRoute(t *testing.T) {
	lat := 6.37
	admin := &fakeAdmin{drivers: []models.OnlineDriver{{ID: 3, LastLat: &lat}}}
	s := newAdminServer(admin)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/drivers/3/location", nil))
	var loc models.DriverLocation
	if err := json.NewDecoder(rec.Body).Decode(&loc); err != nil || loc.LastLat == nil || *loc.LastLat != lat {
		t.Fatalf("unexpected location %+v err=%v", loc, err)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/drivers/9/location", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPerformancePanel(t *testing.T) {
	admin := &fakeAdmin{}
	s := newAdminServer(admin)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/metrics/performance", nil))
	var v panels.View[models.PerformanceMetrics]
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil || v.Data == nil {
		t.Fatalf("unexpected view %+v err=%v", v, err)
	}
	if len(admin.metricCalls) != 1 {
		t.Fatalf("polled period should come from the panel, calls=%v", admin.metricCalls)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/metrics/performance?period=7d", nil))
	if rec.Code != 200 || len(admin.metricCalls) != 2 || admin.metricCalls[1] != "7d" {
		t.Fatalf("expected an on-demand fetch for 7d, code=%d calls=%v", rec.Code, admin.metricCalls)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/metrics/performance?period=1y", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown period, got %d", rec.Code)
	}
}

func TestDriverStatsRoutes(t *testing.T) {
	admin := &fakeAdmin{}
	s := newAdminServer(admin)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats/drivers/daily?from=2024-05-01", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without driver_id, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats/drivers/daily?driver_id=3&tz=Africa/Porto-Novo", nil))
	if rec.Code != 200 || admin.gotStatsQuery.DriverID != 3 || admin.gotStatsQuery.TZ != "Africa/Porto-Novo" {
		t.Fatalf("unexpected daily call code=%d q=%+v", rec.Code, admin.gotStatsQuery)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats/drivers/daily/top?limit=5", nil))
	if rec.Code != 200 || admin.gotStatsQuery.Limit != 5 {
		t.Fatalf("unexpected top call code=%d q=%+v", rec.Code, admin.gotStatsQuery)
	}
}

func TestAdminRoutesAbsentWithoutAdmin(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeSync{}, nil).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/drivers/3/force-offline", nil))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected no admin routes, got %d", rec.Code)
	}
}
