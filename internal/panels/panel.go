package panels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/observability"
)

// View is what a console page renders for a polled panel. Data keeps the
// last good result while Error reports the most recent failure.
type View[T any] struct {
	Data          *T        `json:"data"`
	Loading       bool      `json:"loading"`
	Error         string    `json:"error,omitempty"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// Panel polls one admin report on a fixed interval and holds the latest result.
type Panel[T any] struct {
	name     string
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)
	logger   *slog.Logger

	mu            sync.Mutex
	seq           uint64
	installed     uint64
	inflight      int
	data          *T
	err           error
	errSeq        uint64
	lastRefreshed time.Time
}

func New[T any](name string, interval time.Duration, fetch func(ctx context.Context) (T, error), logger *slog.Logger) *Panel[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel[T]{name: name, interval: interval, fetch: fetch, logger: logger.With("panel", name)}
}

func (p *Panel[T]) Name() string { return p.name }

// Refresh fetches once. A result from a fetch that started before the one
// already installed is dropped.
func (p *Panel[T]) Refresh(ctx context.Context) (View[T], error) {
	p.mu.Lock()
	p.seq++
	start := p.seq
	p.inflight++
	p.mu.Unlock()

	v, err := p.fetch(ctx)

	p.mu.Lock()
	p.inflight--
	switch {
	case err != nil:
		observability.PanelRefreshTotal.WithLabelValues(p.name, "error").Inc()
		if start > p.installed && start > p.errSeq {
			p.err, p.errSeq = err, start
		}
	case start < p.installed:
		observability.PanelRefreshTotal.WithLabelValues(p.name, "superseded").Inc()
	default:
		observability.PanelRefreshTotal.WithLabelValues(p.name, "ok").Inc()
		p.data = &v
		p.installed = start
		if start > p.errSeq {
			p.err = nil
		}
		p.lastRefreshed = time.Now()
	}
	p.mu.Unlock()
	return p.View(), err
}

func (p *Panel[T]) View() View[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := View[T]{Loading: p.inflight > 0, LastRefreshed: p.lastRefreshed}
	if p.data != nil {
		d := *p.data
		v.Data = &d
	}
	if p.err != nil {
		v.Error = p.err.Error()
	}
	return v
}

// Run refreshes immediately and then on every tick until ctx is done.
func (p *Panel[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("panel refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
