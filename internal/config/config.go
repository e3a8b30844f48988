package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

const (
	PushDriverPusher = "pusher"
	PushDriverKafka  = "kafka"
	PushDriverNone   = "none"
)

// ServerConfig captures all tunable parameters of the console process.
// Values come from environment variables with defaults that match a local
// admin API and Pusher-compatible websocket server.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	PushDriver       string
	PushChannel      string
	PusherKey        string
	PusherHost       string
	PusherPort       int
	PusherTLS        bool
	PusherAuthURL    string
	PollInterval     time.Duration
	HandshakeTimeout time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisSnapshotKey string
	SnapshotTTL      time.Duration

	KafkaBrokers     []string
	KafkaEventsTopic string
	KafkaAlertsTopic string
	KafkaGroup       string

	PGDSN string

	MetricsPeriod         string
	MetricsInterval       time.Duration
	ReconnectionsPeriod   string
	ReconnectionsInterval time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		APIBaseURL:       "http://localhost:8000",
		APITimeout:       10 * time.Second,
		PushDriver:       PushDriverPusher,
		PushChannel:      "private-admin.alerts",
		PusherKey:        "local-key",
		PusherHost:       "localhost",
		PusherPort:       6001,
		PollInterval:     15 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		RedisSnapshotKey: "console:active_rides",
		SnapshotTTL:      10 * time.Minute,
		KafkaEventsTopic: "console-ride-events",
		KafkaAlertsTopic: "admin-alerts",
		KafkaGroup:       "ride-console",
		LogLevel:         "info",

		MetricsPeriod:         "24h",
		MetricsInterval:       30 * time.Second,
		ReconnectionsPeriod:   "7d",
		ReconnectionsInterval: 60 * time.Second,
	}
}

// LoadDotEnv loads path into the environment when it exists. Variables
// already set win over the file.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.APIToken = strings.TrimSpace(os.Getenv("API_TOKEN"))
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)

	if v := os.Getenv("PUSH_DRIVER"); v != "" {
		cfg.PushDriver = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&cfg.PushChannel, "PUSH_CHANNEL")
	setStringFromEnv(&cfg.PusherKey, "PUSHER_KEY")
	setStringFromEnv(&cfg.PusherHost, "PUSHER_HOST")
	setIntFromEnv(&cfg.PusherPort, "PUSHER_PORT", &errs)
	cfg.PusherTLS = strings.EqualFold(os.Getenv("PUSHER_TLS"), "true")
	cfg.PusherAuthURL = cfg.APIBaseURL + "/broadcasting/auth"
	setStringFromEnv(&cfg.PusherAuthURL, "PUSHER_AUTH_URL")
	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.HandshakeTimeout, "PUSH_HANDSHAKE_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisSnapshotKey, "REDIS_SNAPSHOT_KEY")
	setDurationFromEnv(&cfg.SnapshotTTL, "SNAPSHOT_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaAlertsTopic, "KAFKA_ALERTS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.MetricsPeriod, "METRICS_PERIOD")
	setDurationFromEnv(&cfg.MetricsInterval, "METRICS_INTERVAL", &errs)
	setStringFromEnv(&cfg.ReconnectionsPeriod, "RECONNECTIONS_PERIOD")
	setDurationFromEnv(&cfg.ReconnectionsInterval, "RECONNECTIONS_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch cfg.PushDriver {
	case PushDriverPusher, PushDriverNone:
	case PushDriverKafka:
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("PUSH_DRIVER=kafka requires KAFKA_BROKERS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PUSH_DRIVER %q", cfg.PushDriver))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}
	for key, period := range map[string]string{"METRICS_PERIOD": cfg.MetricsPeriod, "RECONNECTIONS_PERIOD": cfg.ReconnectionsPeriod} {
		if !models.ValidPeriod(period) {
			errs = append(errs, fmt.Errorf("%s must be 24h, 7d or 30d, got %q", key, period))
		}
	}
	if cfg.MetricsInterval <= 0 || cfg.ReconnectionsInterval <= 0 {
		errs = append(errs, fmt.Errorf("panel intervals must be > 0"))
	}
	if cfg.PusherPort <= 0 || cfg.PusherPort > 65535 {
		errs = append(errs, fmt.Errorf("PUSHER_PORT out of range"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
