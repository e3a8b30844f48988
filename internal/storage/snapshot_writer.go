package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

// SnapshotWriter persists lists in the background. Only the newest pending
// list is kept; older ones are dropped unwritten.
type SnapshotWriter struct {
	store   SnapshotStore
	logger  *slog.Logger
	timeout time.Duration
	latest  chan []models.RideRecord
}

func NewSnapshotWriter(store SnapshotStore, logger *slog.Logger) *SnapshotWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWriter{store: store, logger: logger, timeout: 3 * time.Second, latest: make(chan []models.RideRecord, 1)}
}

// Offer never blocks.
func (w *SnapshotWriter) Offer(rides []models.RideRecord) {
	for {
		select {
		case w.latest <- rides:
			return
		default:
		}
		select {
		case <-w.latest:
		default:
		}
	}
}

func (w *SnapshotWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rides := <-w.latest:
			sctx, cancel := context.WithTimeout(ctx, w.timeout)
			if err := w.store.Save(sctx, rides); err != nil {
				w.logger.Warn("snapshot save failed", "rides", len(rides), "error", err)
			}
			cancel()
		}
	}
}
