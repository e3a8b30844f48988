package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/observability"
)

// ListDrivers returns drivers with their connection state. online filters
// to connected (true) or disconnected (false) drivers; nil returns both.
func (c *Client) ListDrivers(ctx context.Context, online *bool) ([]models.OnlineDriver, error) {
	path := "/api/admin/drivers/online"
	if online != nil {
		q := url.Values{}
		q.Set("online", "0")
		if *online {
			q.Set("online", "1")
		}
		path += "?" + q.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var body json.RawMessage
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("decode drivers: %w", err)
	}

	out := make([]models.OnlineDriver, 0, len(rows))
	for _, raw := range rows {
		d, err := models.ParseDriver(raw)
		if err != nil {
			observability.RecordsRejected.Inc()
			c.Logger.Warn("skipping driver row", "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// decodeRows accepts both the {"data":[...]} envelope and a bare array.
func decodeRows(body json.RawMessage) ([]map[string]any, error) {
	var rows []map[string]any
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &rows)
		return rows, err
	}
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) DriverLocation(ctx context.Context, id int64) (models.DriverLocation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/api/admin/drivers/%d/location", id))
	if err != nil {
		return models.DriverLocation{}, err
	}
	var raw map[string]any
	if err := c.do(req, &raw); err != nil {
		return models.DriverLocation{}, err
	}
	d, err := models.ParseDriver(raw)
	if err != nil {
		return models.DriverLocation{}, err
	}
	return d.Location(), nil
}

// ForceOffline disconnects a driver on the server side.
func (c *Client) ForceOffline(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/admin/drivers/%d/force-offline", id))
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) PerformanceMetrics(ctx context.Context, period string) (models.PerformanceMetrics, error) {
	var m models.PerformanceMetrics
	err := c.getJSON(ctx, "/api/admin/metrics", url.Values{"period": {period}}, &m)
	return m, err
}

func (c *Client) ReconnectionStats(ctx context.Context, period string) (models.ReconnectionStats, error) {
	var s models.ReconnectionStats
	err := c.getJSON(ctx, "/api/admin/analytics/reconnections", url.Values{"period": {period}}, &s)
	return s, err
}

func (c *Client) DriverDailyStats(ctx context.Context, q models.StatsQuery) (models.DriverDailyStats, error) {
	var s models.DriverDailyStats
	err := c.getJSON(ctx, "/api/admin/stats/drivers/daily", statsValues(q), &s)
	return s, err
}

func (c *Client) TopDriversDaily(ctx context.Context, q models.StatsQuery) (models.TopDriversDaily, error) {
	var s models.TopDriversDaily
	err := c.getJSON(ctx, "/api/admin/stats/drivers/daily/top", statsValues(q), &s)
	return s, err
}

// statsValues drops empty filters so the API applies its own defaults.
func statsValues(q models.StatsQuery) url.Values {
	v := url.Values{}
	if q.DriverID > 0 {
		v.Set("driver_id", strconv.FormatInt(q.DriverID, 10))
	}
	if q.From != "" {
		v.Set("from", q.From)
	}
	if q.To != "" {
		v.Set("to", q.To)
	}
	if q.TZ != "" {
		v.Set("tz", q.TZ)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	return c.do(req, out)
}
