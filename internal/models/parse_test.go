package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return m
}

func TestParseRideFullRecord(t *testing.T) {
	raw := decode(t, `{
		"id": 42, "status": "accepted", "fare": "1500.50",
		"pickup_address": "Rue 12", "dropoff_address": "Marché Dantokpa",
		"created_at": "2024-05-01T10:30:00Z",
		"driver": {"id": 7, "name": "Koffi", "phone": "+22990000000"},
		"passenger": {"id": 3, "name": "Ama", "phone": "111"},
		"passenger_name": "Ama B.",
		"vehicle_type": "vip", "has_baggage": 1
	}`)
	r, err := ParseRide(raw)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.ID != 42 || r.Status != StatusAccepted {
		t.Fatalf("bad identity: %+v", r)
	}
	if r.Fare != 1500.50 {
		t.Fatalf("expected fare 1500.50, got %f", r.Fare)
	}
	if r.Driver == nil || r.Driver.Name != "Koffi" || r.Driver.ID != 7 {
		t.Fatalf("bad driver: %+v", r.Driver)
	}
	if r.Passenger.Name != "Ama B." || r.Passenger.Phone != "111" {
		t.Fatalf("top-level passenger fields should win: %+v", r.Passenger)
	}
	if r.VehicleType != VehicleVIP || !r.HasBaggage {
		t.Fatalf("bad vehicle/baggage: %+v", r)
	}
	if !r.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("bad created_at: %v", r.CreatedAt)
	}
}

func TestParseRideDefaults(t *testing.T) {
	r, err := ParseRide(decode(t, `{"id": "9", "status": "requested", "driver": null, "vehicle_type": "truck"}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.ID != 9 {
		t.Fatalf("expected id 9, got %d", r.ID)
	}
	if r.Driver != nil {
		t.Fatalf("expected no driver, got %+v", r.Driver)
	}
	if r.Fare != DefaultFare || r.VehicleType != DefaultVehicleType || r.HasBaggage != DefaultHasBaggage {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if !r.CreatedAt.IsZero() {
		t.Fatalf("expected zero created_at, got %v", r.CreatedAt)
	}
}

func TestParseRideLaravelTimestamp(t *testing.T) {
	r, err := ParseRide(decode(t, `{"id": 1, "status": "ongoing", "created_at": "2024-05-01 08:00:00"}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.CreatedAt.Hour() != 8 {
		t.Fatalf("expected hour 8, got %v", r.CreatedAt)
	}
}

func TestParseRideRejectsMissingIdentity(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"no id", `{"status": "requested"}`, ErrMissingID},
		{"fractional id", `{"id": 1.5, "status": "requested"}`, ErrMissingID},
		{"garbage id", `{"id": "abc", "status": "requested"}`, ErrMissingID},
		{"no status", `{"id": 3}`, ErrMissingStatus},
		{"blank status", `{"id": 3, "status": "  "}`, ErrMissingStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRide(decode(t, tc.in))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStatusActive(t *testing.T) {
	for _, s := range ActiveStatuses {
		if !s.Active() {
			t.Fatalf("%s should be active", s)
		}
	}
	if StatusCompleted.Active() || StatusCancelled.Active() {
		t.Fatalf("terminal statuses must not be active")
	}
}
