package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingID     = errors.New("ride record has no usable id")
	ErrMissingStatus = errors.New("ride record has no status")
)

// Defaults applied by ParseRide when the backend omits a field.
const (
	DefaultFare        = 0.0
	DefaultAddress     = ""
	DefaultVehicleType = VehicleStandard
	DefaultHasBaggage  = false
)

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02 15:04:05",
}

// ParseRide maps one loosely typed backend record into a RideRecord.
// Only a missing id or status rejects the record; every other field falls
// back to its default.
func ParseRide(raw map[string]any) (RideRecord, error) {
	id, ok := asInt(raw["id"])
	if !ok || id <= 0 {
		return RideRecord{}, ErrMissingID
	}
	status := strings.ToLower(strings.TrimSpace(asString(raw["status"])))
	if status == "" {
		return RideRecord{}, fmt.Errorf("ride %d: %w", id, ErrMissingStatus)
	}

	r := RideRecord{
		ID:             id,
		Status:         Status(status),
		Fare:           DefaultFare,
		PickupAddress:  DefaultAddress,
		DropoffAddress: DefaultAddress,
		VehicleType:    DefaultVehicleType,
		HasBaggage:     DefaultHasBaggage,
	}
	if f, ok := asFloat(raw["fare"]); ok {
		r.Fare = f
	}
	if s := asString(raw["pickup_address"]); s != "" {
		r.PickupAddress = s
	}
	if s := asString(raw["dropoff_address"]); s != "" {
		r.DropoffAddress = s
	}
	if s := asString(raw["created_at"]); s != "" {
		r.CreatedAt = parseTime(s)
	}
	if d, ok := raw["driver"].(map[string]any); ok {
		p := parsePerson(d)
		r.Driver = &p
	}
	if p, ok := raw["passenger"].(map[string]any); ok {
		r.Passenger = parsePerson(p)
	}
	if s := asString(raw["passenger_name"]); s != "" {
		r.Passenger.Name = s
	}
	if s := asString(raw["passenger_phone"]); s != "" {
		r.Passenger.Phone = s
	}
	if s := strings.ToLower(asString(raw["vehicle_type"])); s == VehicleVIP || s == VehicleStandard {
		r.VehicleType = s
	}
	if b, ok := asBool(raw["has_baggage"]); ok {
		r.HasBaggage = b
	}
	return r, nil
}

func parsePerson(m map[string]any) Person {
	var p Person
	if id, ok := asInt(m["id"]); ok {
		p.ID = id
	}
	p.Name = asString(m["name"])
	p.Phone = asString(m["phone"])
	return p
}

func parseTime(s string) time.Time {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}
