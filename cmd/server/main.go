package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/backend"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/config"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/dispatch"
	httpapi "github.com/likmaa/apk-tic-dev-dashboard/internal/http"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/ingest"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/logging"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/panels"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/push"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/ridesync"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("load .env: %v", err)
	}
	cfg, cfgErr := config.LoadServerConfig()
	logger := logging.NewLogger("ride-console", cfg.LogLevel)
	if cfgErr != nil {
		logger.Error("invalid configuration", "error", cfgErr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ride console stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	checkToken(cfg.APIToken, logger)
	api := backend.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout, logger)

	opts := ridesync.Options{Channel: cfg.PushChannel, Interval: cfg.PollInterval, Logger: logger}

	if cfg.PGDSN != "" {
		al, err := storage.NewPostgresActionLog(ctx, cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres unavailable, cancel audit kept in memory", "error", err)
			opts.Audit = storage.NewMemoryActionLog()
		} else {
			defer al.Close()
			if cfg.RunMigrations {
				migrate(ctx, al, logger)
			}
			opts.Audit = al
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer kp.Close()
		opts.Publisher = kp
	}

	var sup *push.Supervisor
	switch cfg.PushDriver {
	case config.PushDriverPusher:
		sup = push.NewSupervisor(push.Config{
			Key:              cfg.PusherKey,
			Host:             cfg.PusherHost,
			Port:             cfg.PusherPort,
			TLS:              cfg.PusherTLS,
			AuthEndpoint:     cfg.PusherAuthURL,
			Token:            cfg.APIToken,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}, logger)
		opts.Events = sup
	case config.PushDriverKafka:
		opts.Events = ingest.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaAlertsTopic, cfg.KafkaGroup, logger)
	}

	syncer := ridesync.New(api, opts)
	if sup != nil {
		sup.OnSubscribed = func(resumed bool) {
			if !resumed {
				return
			}
			// removals pushed while disconnected were missed
			go func() {
				if _, err := syncer.Refresh(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("resync after push reconnect failed", "error", err)
				}
			}()
		}
	}

	metrics := panels.New("performance", cfg.MetricsInterval, func(ctx context.Context) (models.PerformanceMetrics, error) {
		return api.PerformanceMetrics(ctx, cfg.MetricsPeriod)
	}, logger)
	reconnections := panels.New("reconnections", cfg.ReconnectionsInterval, func(ctx context.Context) (models.ReconnectionStats, error) {
		return api.ReconnectionStats(ctx, cfg.ReconnectionsPeriod)
	}, logger)

	var snapshots storage.SnapshotStore = storage.NewMemorySnapshotStore()
	var ready httpapi.Pinger
	if cfg.RedisAddr != "" {
		rs := storage.NewRedisSnapshotStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisSnapshotKey, cfg.SnapshotTTL)
		defer rs.Close()
		snapshots, ready = rs, rs
	}
	if rides, err := snapshots.Load(ctx); err != nil {
		logger.Warn("snapshot load failed", "error", err)
	} else if len(rides) > 0 && syncer.Seed(rides) {
		logger.Info("seeded active rides from snapshot", "rides", len(rides))
	}
	writer := storage.NewSnapshotWriter(snapshots, logger)

	stream := dispatch.NewWSRegistry(logger)
	defer stream.CloseAll()
	unwatch := syncer.Watch(func(snap ridesync.Snapshot) {
		if err := stream.Broadcast(snap); err != nil {
			logger.Warn("snapshot broadcast failed", "error", err)
		}
		writer.Offer(snap.Rides)
	})
	defer unwatch()

	handler := httpapi.NewServer(httpapi.Deps{
		Sync:                syncer,
		Stream:              stream,
		Ready:               ready,
		Admin:               api,
		Metrics:             metrics,
		MetricsPeriod:       cfg.MetricsPeriod,
		Reconnections:       reconnections,
		ReconnectionsPeriod: cfg.ReconnectionsPeriod,
		Logger:              logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		writer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		metrics.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reconnections.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := syncer.Run(ctx); err != nil {
			logger.Error("synchronizer stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride console listening", "addr", cfg.HTTPAddr, "push_driver", cfg.PushDriver, "poll_interval", cfg.PollInterval.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if serveErr == nil {
		wg.Wait()
	}
	logger.Info("ride console stopped")
	return serveErr
}

func migrate(ctx context.Context, al *storage.PostgresActionLog, logger *slog.Logger) {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_actions.sql"))
	if err != nil {
		logger.Warn("migration file unreadable", "error", err)
		return
	}
	if err := al.Migrate(ctx, string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_ride_actions.sql")
}

func checkToken(token string, logger *slog.Logger) {
	if token == "" {
		logger.Warn("API_TOKEN is empty, admin API calls will be rejected")
		return
	}
	exp, ok, err := backend.TokenExpiry(token)
	if err != nil {
		// opaque tokens are fine, only JWTs carry an expiry
		logger.Debug("admin token is not a JWT", "error", err)
		return
	}
	if ok && time.Now().After(exp) {
		logger.Warn("admin token expired", "expired_at", exp)
	}
}
