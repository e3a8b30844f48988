package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestListRidesSendsStatusAndToken(t *testing.T) {
	var gotAuth, gotAccept, gotStatus, gotT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admin/rides" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotStatus = r.URL.Query().Get("status")
		gotT = r.URL.Query().Get("t")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id": 12, "status": "accepted", "fare": 2500},
			{"status": "accepted"},
			{"id": 11, "status": "accepted", "driver": {"id": 4, "name": "Sena"}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", time.Second, quiet)
	rides, err := c.ListRides(context.Background(), models.StatusAccepted)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotAuth != "Bearer tok" || gotAccept != "application/json" {
		t.Fatalf("bad headers auth=%q accept=%q", gotAuth, gotAccept)
	}
	if gotStatus != "accepted" || gotT == "" {
		t.Fatalf("bad query status=%q t=%q", gotStatus, gotT)
	}
	if len(rides) != 2 {
		t.Fatalf("expected 2 rides (one rejected), got %d", len(rides))
	}
	if rides[0].ID != 12 || rides[0].Fare != 2500 || rides[1].Driver == nil || rides[1].Driver.Name != "Sena" {
		t.Fatalf("unexpected rides %+v", rides)
	}
}

func TestListRidesEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	rides, err := NewClient(srv.URL, "", time.Second, quiet).ListRides(context.Background(), models.StatusOngoing)
	if err != nil || len(rides) != 0 {
		t.Fatalf("expected empty result, got %v err=%v", rides, err)
	}
}

func TestListRidesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"Server Error"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second, quiet).ListRides(context.Background(), models.StatusRequested)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 || apiErr.Message != "Server Error" {
		t.Fatalf("expected APIError 500, got %v", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("500 must not look like an auth failure")
	}
}

func TestListRidesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "", time.Second, quiet).ListRides(context.Background(), models.StatusRequested); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestCancelRide(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		if r.URL.Path == "/api/admin/rides/8/cancel" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Ride already completed"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "tok", time.Second, quiet)

	if err := c.CancelRide(context.Background(), 7); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if path != "/api/admin/rides/7/cancel" || method != http.MethodPost {
		t.Fatalf("unexpected request %s %s", method, path)
	}

	err := c.CancelRide(context.Background(), 8)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 422 || apiErr.Message != "Ride already completed" {
		t.Fatalf("expected 422 APIError, got %v", err)
	}
}

func TestUnauthorizedIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "expired", time.Second, quiet).CancelRide(context.Background(), 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1", "exp": exp.Unix()}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, ok, err := TokenExpiry(signed)
	if err != nil || !ok || !got.Equal(exp) {
		t.Fatalf("expected %v, got %v ok=%v err=%v", exp, got, ok, err)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("secret"))
	if _, ok, err := TokenExpiry(noExp); err != nil || ok {
		t.Fatalf("expected no exp, got ok=%v err=%v", ok, err)
	}

	if _, _, err := TokenExpiry("opaque-sanctum-token"); err == nil {
		t.Fatalf("expected parse error for non-JWT token")
	}
}
