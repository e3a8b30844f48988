package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/observability"
)

var ErrUnauthorized = errors.New("admin token rejected")

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("admin api: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Client talks to the admin REST API with a bearer token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *slog.Logger
	now     func() time.Time
}

func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
		now:     time.Now,
	}
}

type listEnvelope struct {
	Data []map[string]any `json:"data"`
}

// ListRides returns the rides of one status partition. Records without an id
// or status are skipped.
func (c *Client) ListRides(ctx context.Context, status models.Status) ([]models.RideRecord, error) {
	q := url.Values{}
	q.Set("status", string(status))
	// cache buster, some proxies in front of the API ignore Cache-Control
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))

	req, err := c.newRequest(ctx, http.MethodGet, "/api/admin/rides?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var env listEnvelope
	if err := c.do(req, &env); err != nil {
		return nil, err
	}

	out := make([]models.RideRecord, 0, len(env.Data))
	for _, raw := range env.Data {
		r, err := models.ParseRide(raw)
		if err != nil {
			observability.RecordsRejected.Inc()
			c.Logger.Warn("skipping ride record", "status", status, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) CancelRide(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/admin/rides/%d/cancel", id))
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &msg) == nil {
		apiErr.Message = msg.Message
		if apiErr.Message == "" {
			apiErr.Message = msg.Error
		}
	}
	return apiErr
}
