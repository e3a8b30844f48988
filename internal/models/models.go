package models

import "time"

type Status string

const (
	StatusRequested Status = "requested"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses lists the partitions queried on every refresh, in the order
// their results are concatenated.
var ActiveStatuses = []Status{StatusRequested, StatusAccepted, StatusOngoing}

func (s Status) Active() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusOngoing:
		return true
	}
	return false
}

const (
	VehicleStandard = "standard"
	VehicleVIP      = "vip"
)

type Person struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type RideRecord struct {
	ID             int64     `json:"id"`
	Status         Status    `json:"status"`
	Fare           float64   `json:"fare"`
	PickupAddress  string    `json:"pickup_address"`
	DropoffAddress string    `json:"dropoff_address"`
	CreatedAt      time.Time `json:"created_at"`
	Driver         *Person   `json:"driver,omitempty"`
	Passenger      Person    `json:"passenger"`
	VehicleType    string    `json:"vehicle_type"`
	HasBaggage     bool      `json:"has_baggage"`
}

// RideEvent is emitted whenever a ride leaves the active list outside of a refresh.
type RideEvent struct {
	Type   string    `json:"type"`
	RideID int64     `json:"ride_id"`
	Source string    `json:"source"` // push, operator
	At     time.Time `json:"at"`
}

const EventRideRemoved = "ride.removed"

// CancelAction is one operator cancel attempt, successful or not.
type CancelAction struct {
	RideID    int64     `json:"ride_id"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
