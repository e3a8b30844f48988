package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_console"

var (
	RefreshTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "refresh_total", Help: "Active ride refreshes by outcome"}, []string{"outcome"})
	RefreshDuration  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "refresh_duration_seconds", Help: "Time to fetch and merge all active partitions"})
	ActiveRides      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_rides", Help: "Rides currently held in the active list"})
	PushEventsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "push_events_total", Help: "Push events received by event name and result"}, []string{"event", "result"})
	CancelTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "cancel_total", Help: "Operator cancel requests by outcome"}, []string{"outcome"})
	RecordsRejected  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "records_rejected_total", Help: "Backend ride records dropped for missing id or status"})
	GhostsSuppressed = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ghosts_suppressed_total", Help: "Rides removed during an in-flight refresh and re-removed on install"})

	PanelRefreshTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "panel_refresh_total", Help: "Polled admin panel refreshes by panel and outcome"}, []string{"panel", "outcome"})
	DriverActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "driver_actions_total", Help: "Operator actions on drivers by action and outcome"}, []string{"action", "outcome"})
	PushSessionsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "push_sessions_total", Help: "Push connection lifecycle events"}, []string{"outcome"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_clients", Help: "Connected snapshot stream clients"})
)
