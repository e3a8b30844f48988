package models

// Reporting periods accepted by the metrics and analytics endpoints.
const (
	Period24h = "24h"
	Period7d  = "7d"
	Period30d = "30d"
)

func ValidPeriod(p string) bool {
	return p == Period24h || p == Period7d || p == Period30d
}

type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PerformanceMetrics counts how clients learned about changes: API calls,
// websocket events and polling fallbacks.
type PerformanceMetrics struct {
	Total           int64     `json:"total"`
	APICalls        int64     `json:"apiCalls"`
	WebsocketEvents int64     `json:"websocketEvents"`
	PollingTriggers int64     `json:"pollingTriggers"`
	NetworkChanges  int64     `json:"networkChanges"`
	Reduction       Reduction `json:"reduction"`
	Period          DateRange `json:"period"`
}

type Reduction struct {
	PollingVsWebsocket string `json:"pollingVsWebsocket"`
}

// PollingShare is the percentage of change notifications that came from
// polling rather than websocket events, 0 when there were none.
func (m PerformanceMetrics) PollingShare() int {
	total := m.PollingTriggers + m.WebsocketEvents
	if total == 0 {
		return 0
	}
	return int((m.PollingTriggers*100 + total/2) / total)
}

type ReconnectionEvent struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	RideID         *int64 `json:"ride_id"`
	DisconnectedAt string `json:"disconnected_at"`
	ReconnectedAt  string `json:"reconnected_at"`
	DurationMS     int64  `json:"duration_ms"`
	DataSynced     bool   `json:"data_synced"`
	SyncDurationMS *int64 `json:"sync_duration_ms"`
	AppType        string `json:"app_type"`
	CreatedAt      string `json:"created_at"`
}

// ReconnectionStats summarises mobile app reconnections over a period.
type ReconnectionStats struct {
	Total               int64               `json:"total"`
	AverageDuration     float64             `json:"averageDuration"`
	AverageSyncDuration float64             `json:"averageSyncDuration"`
	SuccessRate         float64             `json:"successRate"`
	ByAppType           map[string]int64    `json:"byAppType"`
	RecentEvents        []ReconnectionEvent `json:"recentEvents"`
}

// StatsQuery filters the daily driver statistics.
type StatsQuery struct {
	DriverID int64
	From     string
	To       string
	TZ       string
	Limit    int
}

type DriverDailyRow struct {
	Date            string  `json:"date"`
	TotalRides      int64   `json:"total_rides"`
	CompletedRides  int64   `json:"completed_rides"`
	CancelledRides  int64   `json:"cancelled_rides"`
	GrossVolume     float64 `json:"gross_volume"`
	CommissionTotal float64 `json:"commission_total"`
	EarningsTotal   float64 `json:"earnings_total"`
	Currency        string  `json:"currency"`
}

type DriverDailyStats struct {
	Range    DateRange        `json:"range"`
	Timezone string           `json:"timezone"`
	DriverID int64            `json:"driver_id"`
	Data     []DriverDailyRow `json:"data"`
}

type TopDriverRow struct {
	DriverID        int64   `json:"driver_id"`
	DriverName      *string `json:"driver_name"`
	DriverPhone     *string `json:"driver_phone"`
	CompletedRides  int64   `json:"completed_rides"`
	GrossVolume     float64 `json:"gross_volume"`
	CommissionTotal float64 `json:"commission_total"`
	EarningsTotal   float64 `json:"earnings_total"`
	Currency        string  `json:"currency"`
}

type TopDriversDay struct {
	Date string         `json:"date"`
	Top  []TopDriverRow `json:"top"`
}

type TopDriversDaily struct {
	Range    DateRange       `json:"range"`
	Timezone string          `json:"timezone"`
	Limit    int             `json:"limit"`
	Data     []TopDriversDay `json:"data"`
}
