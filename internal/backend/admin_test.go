package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

func TestListDriversAcceptsBothShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"envelope", `{"data":[{"id":3,"name":"Kofi","is_online":1,"last_lat":"6.37","last_lng":2.39,"last_location_at":"2024-05-01 10:00:00"},{"name":"no id"}]}`},
		{"bare", `[{"id":3,"name":"Kofi","is_online":true,"last_lat":6.37,"last_lng":2.39,"last_location_at":"2024-05-01T10:00:00Z"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotOnline string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/admin/drivers/online" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				gotOnline = r.URL.Query().Get("online")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			online := true
			drivers, err := NewClient(srv.URL, "tok", time.Second, quiet).ListDrivers(context.Background(), &online)
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if gotOnline != "1" {
				t.Fatalf("expected online=1, got %q", gotOnline)
			}
			if len(drivers) != 1 {
				t.Fatalf("expected 1 driver, got %d", len(drivers))
			}
			d := drivers[0]
			if d.ID != 3 || !d.IsOnline || d.LastLat == nil || *d.LastLat != 6.37 || d.LastLocationAt == nil {
				t.Fatalf("unexpected driver %+v", d)
			}
		})
	}
}

func TestListDriversWithoutFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("expected no filter, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	drivers, err := NewClient(srv.URL, "", time.Second, quiet).ListDrivers(context.Background(), nil)
	if err != nil || len(drivers) != 0 {
		t.Fatalf("unexpected result %v %v", drivers, err)
	}
}

func TestForceOffline(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if r.URL.Path == "/api/admin/drivers/99/force-offline" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"driver not found"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "tok", time.Second, quiet)

	if err := c.ForceOffline(context.Background(), 3); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if method != http.MethodPost || path != "/api/admin/drivers/3/force-offline" {
		t.Fatalf("unexpected request %s %s", method, path)
	}

	err := c.ForceOffline(context.Background(), 99)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 || apiErr.Message != "driver not found" {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestDriverLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":3,"name":"Kofi","phone":"+22990000000","is_online":false,"last_lat":null,"last_lng":null,"last_location_at":null}`))
	}))
	defer srv.Close()

	loc, err := NewClient(srv.URL, "tok", time.Second, quiet).DriverLocation(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if loc.ID != 3 || loc.IsOnline || loc.LastLat != nil || loc.LastLocationAt != nil {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestPerformanceMetrics(t *testing.T) {
	var period string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admin/metrics" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		period = r.URL.Query().Get("period")
		_, _ = w.Write([]byte(`{"total":100,"apiCalls":40,"websocketEvents":45,"pollingTriggers":15,"networkChanges":3,"reduction":{"pollingVsWebsocket":"75.0"},"period":{"from":"2024-05-01","to":"2024-05-02"}}`))
	}))
	defer srv.Close()

	m, err := NewClient(srv.URL, "tok", time.Second, quiet).PerformanceMetrics(context.Background(), models.Period24h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if period != "24h" || m.WebsocketEvents != 45 || m.Reduction.PollingVsWebsocket != "75.0" {
		t.Fatalf("unexpected metrics %+v (period %q)", m, period)
	}
	if got := m.PollingShare(); got != 25 {
		t.Fatalf("expected 25%% polling share, got %d", got)
	}
}

func TestDriverStatsQueries(t *testing.T) {
	var paths, queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		queries = append(queries, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"range":{"from":"2024-05-01","to":"2024-05-07"},"timezone":"Africa/Porto-Novo","data":[]}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "tok", time.Second, quiet)

	if _, err := c.DriverDailyStats(context.Background(), models.StatsQuery{DriverID: 3, From: "2024-05-01"}); err != nil {
		t.Fatalf("daily: %v", err)
	}
	top, err := c.TopDriversDaily(context.Background(), models.StatsQuery{Limit: 5})
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if paths[0] != "/api/admin/stats/drivers/daily" || queries[0] != "driver_id=3&from=2024-05-01" {
		t.Fatalf("unexpected daily request %s?%s", paths[0], queries[0])
	}
	if paths[1] != "/api/admin/stats/drivers/daily/top" || queries[1] != "limit=5" {
		t.Fatalf("unexpected top request %s?%s", paths[1], queries[1])
	}
	if top.Timezone != "Africa/Porto-Novo" {
		t.Fatalf("unexpected top response %+v", top)
	}
}
