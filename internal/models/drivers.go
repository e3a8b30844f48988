package models

import (
	"fmt"
	"time"
)

// OnlineDriver is one row of the driver connection list.
type OnlineDriver struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	Email          string     `json:"email,omitempty"`
	IsOnline       bool       `json:"is_online"`
	LastLat        *float64   `json:"last_lat,omitempty"`
	LastLng        *float64   `json:"last_lng,omitempty"`
	LastLocationAt *time.Time `json:"last_location_at,omitempty"`
	Status         string     `json:"status,omitempty"`
	VehicleNumber  string     `json:"vehicle_number,omitempty"`
	LicenseNumber  string     `json:"license_number,omitempty"`
}

// DriverLocation is the last known position of one driver.
type DriverLocation struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	IsOnline       bool       `json:"is_online"`
	LastLat        *float64   `json:"last_lat,omitempty"`
	LastLng        *float64   `json:"last_lng,omitempty"`
	LastLocationAt *time.Time `json:"last_location_at,omitempty"`
}

// ParseDriver maps one loosely typed driver row. is_online arrives as a
// bool or as 0/1 depending on the endpoint.
func ParseDriver(raw map[string]any) (OnlineDriver, error) {
	id, ok := asInt(raw["id"])
	if !ok || id <= 0 {
		return OnlineDriver{}, fmt.Errorf("driver row: %w", ErrMissingID)
	}
	d := OnlineDriver{
		ID:            id,
		Name:          asString(raw["name"]),
		Phone:         asString(raw["phone"]),
		Email:         asString(raw["email"]),
		Status:        asString(raw["status"]),
		VehicleNumber: asString(raw["vehicle_number"]),
		LicenseNumber: asString(raw["license_number"]),
	}
	d.IsOnline, _ = asBool(raw["is_online"])
	d.LastLat = optFloat(raw["last_lat"])
	d.LastLng = optFloat(raw["last_lng"])
	d.LastLocationAt = optTime(raw["last_location_at"])
	return d, nil
}

// Location projects the row onto its position fields.
func (d OnlineDriver) Location() DriverLocation {
	return DriverLocation{
		ID:             d.ID,
		Name:           d.Name,
		Phone:          d.Phone,
		IsOnline:       d.IsOnline,
		LastLat:        d.LastLat,
		LastLng:        d.LastLng,
		LastLocationAt: d.LastLocationAt,
	}
}

func optFloat(v any) *float64 {
	if f, ok := asFloat(v); ok {
		return &f
	}
	return nil
}

func optTime(v any) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	if t := parseTime(s); !t.IsZero() {
		return &t
	}
	return nil
}
