package ridesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
	"github.com/likmaa/apk-tic-dev-dashboard/internal/observability"
)

const (
	DefaultChannel  = "private-admin.alerts"
	DefaultInterval = 15 * time.Second

	EventRideCancelled = "ride.cancelled"
)

// RideSource is the backend the synchronizer reads partitions from and sends
// cancel requests to.
type RideSource interface {
	ListRides(ctx context.Context, status models.Status) ([]models.RideRecord, error)
	CancelRide(ctx context.Context, id int64) error
}

// EventSource subscribes handler to channel. The returned stop func unbinds
// the handler and releases the subscription.
type EventSource interface {
	Listen(ctx context.Context, channel string, handler func(event string, data []byte)) (stop func() error, err error)
}

type ActionRecorder interface {
	RecordCancel(ctx context.Context, a models.CancelAction) error
}

type EventPublisher interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

type Options struct {
	Channel   string
	Interval  time.Duration
	Events    EventSource    // optional; polling only when nil
	Audit     ActionRecorder // optional
	Publisher EventPublisher // optional
	Logger    *slog.Logger
}

// Snapshot is a fully formed view of the synchronizer state.
type Snapshot struct {
	Rides         []models.RideRecord `json:"rides"`
	Loading       bool                `json:"loading"`
	Error         string              `json:"error,omitempty"`
	LastRefreshed time.Time           `json:"last_refreshed"`
}

// Synchronizer keeps the deduplicated list of active rides current from two
// sources: periodic full refreshes and push removals.
type Synchronizer struct {
	source    RideSource
	events    EventSource
	audit     ActionRecorder
	publisher EventPublisher
	channel   string
	interval  time.Duration
	logger    *slog.Logger

	mu            sync.Mutex
	rides         []models.RideRecord
	seq           uint64              // bumped on every refresh start and removal
	installed     uint64              // start seq of the refresh currently shown
	inflight      map[uint64]struct{} // start seqs of running refreshes
	removed       map[int64]uint64    // removals a running refresh may not reflect
	lastErr       error
	errStart      uint64
	lastRefreshed time.Time

	notifyMu sync.Mutex
	watchers map[int]func(Snapshot)
	nextW    int
}

func New(source RideSource, opts Options) *Synchronizer {
	s := &Synchronizer{
		source:    source,
		events:    opts.Events,
		audit:     opts.Audit,
		publisher: opts.Publisher,
		channel:   opts.Channel,
		interval:  opts.Interval,
		logger:    opts.Logger,
		inflight:  make(map[uint64]struct{}),
		removed:   make(map[int64]uint64),
		watchers:  make(map[int]func(Snapshot)),
	}
	if s.channel == "" {
		s.channel = DefaultChannel
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run subscribes to the push channel, refreshes immediately and then on every
// tick until ctx is done. The subscription and ticker are released on return.
func (s *Synchronizer) Run(ctx context.Context) error {
	if s.events != nil {
		stop, err := s.events.Listen(ctx, s.channel, s.OnPushEvent)
		if err != nil {
			// polling still covers additions and removals, only later
			s.logger.Error("push subscribe failed, polling only", "channel", s.channel, "error", err)
		} else {
			defer func() {
				if err := stop(); err != nil {
					s.logger.Warn("push unsubscribe failed", "channel", s.channel, "error", err)
				}
			}()
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.refreshAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refreshAndLog(ctx)
		}
	}
}

func (s *Synchronizer) refreshAndLog(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("active rides refresh failed", "error", err)
	}
}

// Refresh fetches the three active partitions concurrently and installs the
// merged result. On failure the held list is left untouched.
func (s *Synchronizer) Refresh(ctx context.Context) ([]models.RideRecord, error) {
	start := s.begin()
	s.notify()

	began := time.Now()
	parts, err := s.fetchPartitions(ctx)
	observability.RefreshDuration.Observe(time.Since(began).Seconds())

	rides, err := s.finish(start, parts, err)
	s.notify()
	return rides, err
}

func (s *Synchronizer) fetchPartitions(ctx context.Context) ([][]models.RideRecord, error) {
	parts := make([][]models.RideRecord, len(models.ActiveStatuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, status := range models.ActiveStatuses {
		i, status := i, status
		g.Go(func() error {
			rides, err := s.source.ListRides(gctx, status)
			if err != nil {
				return &FetchError{Status: status, Err: err}
			}
			parts[i] = rides
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *Synchronizer) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.inflight[s.seq] = struct{}{}
	return s.seq
}

func (s *Synchronizer) finish(start uint64, parts [][]models.RideRecord, err error) ([]models.RideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, start)
	defer s.pruneRemovals()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// the caller gave up, the backend said nothing about the list
			observability.RefreshTotal.WithLabelValues("cancelled").Inc()
			return slices.Clone(s.rides), err
		}
		observability.RefreshTotal.WithLabelValues("error").Inc()
		if start > s.installed && start > s.errStart {
			s.lastErr = err
			s.errStart = start
		}
		return slices.Clone(s.rides), err
	}
	if start < s.installed {
		observability.RefreshTotal.WithLabelValues("superseded").Inc()
		s.logger.Debug("discarding refresh older than installed list", "start", start, "installed", s.installed)
		return slices.Clone(s.rides), nil
	}

	merged := MergePartitions(parts...)
	for id, at := range s.removed {
		if at <= start {
			continue
		}
		var ghost bool
		if merged, ghost = RemoveRide(merged, id); ghost {
			observability.GhostsSuppressed.Inc()
		}
	}
	s.rides = merged
	s.installed = start
	if start > s.errStart {
		s.lastErr = nil
	}
	s.lastRefreshed = time.Now()
	observability.RefreshTotal.WithLabelValues("ok").Inc()
	observability.ActiveRides.Set(float64(len(merged)))
	return slices.Clone(merged), nil
}

// pruneRemovals drops removals that no running refresh started before.
// Callers hold s.mu.
func (s *Synchronizer) pruneRemovals() {
	oldest := uint64(math.MaxUint64)
	for start := range s.inflight {
		oldest = min(oldest, start)
	}
	for id, at := range s.removed {
		if at <= oldest {
			delete(s.removed, id)
		}
	}
}

// remove drops id from the held list and remembers the removal for any
// refresh still in flight. It reports whether the list changed.
func (s *Synchronizer) remove(id int64) bool {
	s.mu.Lock()
	s.seq++
	if len(s.inflight) > 0 {
		s.removed[id] = s.seq
	}
	next, changed := RemoveRide(s.rides, id)
	s.rides = next
	if changed {
		observability.ActiveRides.Set(float64(len(next)))
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// OnPushEvent applies one event from the alerts channel. It never touches
// the network.
func (s *Synchronizer) OnPushEvent(event string, data []byte) {
	switch event {
	case EventRideCancelled:
		id, err := parseRideID(data)
		if err != nil {
			observability.PushEventsTotal.WithLabelValues(event, "invalid").Inc()
			s.logger.Warn("invalid push payload", "event", event, "error", err)
			return
		}
		if !s.remove(id) {
			observability.PushEventsTotal.WithLabelValues(event, "noop").Inc()
			return
		}
		observability.PushEventsTotal.WithLabelValues(event, "removed").Inc()
		s.logger.Info("ride removed by push", "ride_id", id)
		s.publish(id, "push")
	default:
		observability.PushEventsTotal.WithLabelValues("other", "ignored").Inc()
	}
}

// CancelRide asks the backend to cancel id and removes it locally only once
// the backend has accepted.
func (s *Synchronizer) CancelRide(ctx context.Context, id int64) error {
	err := s.source.CancelRide(ctx, id)
	s.record(ctx, id, err)
	if err != nil {
		observability.CancelTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("ride cancel rejected", "ride_id", id, "error", err)
		return &ActionError{RideID: id, Err: err}
	}
	observability.CancelTotal.WithLabelValues("ok").Inc()
	s.logger.Info("ride cancelled by operator", "ride_id", id)
	if s.remove(id) {
		s.publish(id, "operator")
	}
	return nil
}

// Seed installs a previously persisted list. It is ignored once a refresh
// result has been installed.
func (s *Synchronizer) Seed(rides []models.RideRecord) bool {
	s.mu.Lock()
	if s.installed > 0 {
		s.mu.Unlock()
		return false
	}
	s.rides = MergePartitions(rides)
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Rides:         slices.Clone(s.rides),
		Loading:       len(s.inflight) > 0,
		LastRefreshed: s.lastRefreshed,
	}
	if snap.Rides == nil {
		snap.Rides = []models.RideRecord{}
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// LastError returns the error of the most recent failed refresh, or nil once
// a later refresh succeeded.
func (s *Synchronizer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Watch registers fn to receive a snapshot after every state change.
// Notifications are delivered one at a time, oldest first.
func (s *Synchronizer) Watch(fn func(Snapshot)) (cancel func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	id := s.nextW
	s.nextW++
	s.watchers[id] = fn
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.watchers, id)
	}
}

func (s *Synchronizer) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if len(s.watchers) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range s.watchers {
		fn(snap)
	}
}

func (s *Synchronizer) record(ctx context.Context, id int64, err error) {
	if s.audit == nil {
		return
	}
	a := models.CancelAction{RideID: id, Succeeded: err == nil, At: time.Now().UTC()}
	if err != nil {
		a.Error = err.Error()
	}
	if rerr := s.audit.RecordCancel(context.WithoutCancel(ctx), a); rerr != nil {
		s.logger.Warn("audit record failed", "ride_id", id, "error", rerr)
	}
}

func (s *Synchronizer) publish(id int64, source string) {
	if s.publisher == nil {
		return
	}
	ev := models.RideEvent{Type: models.EventRideRemoved, RideID: id, Source: source, At: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.PublishRideEvent(ctx, ev); err != nil {
			s.logger.Warn("ride event publish failed", "ride_id", id, "error", err)
		}
	}()
}

var errNoRideID = errors.New("payload carries no rideId")

func parseRideID(data []byte) (int64, error) {
	var p struct {
		RideID    json.RawMessage `json:"rideId"`
		RideIDAlt json.RawMessage `json:"ride_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, err
	}
	raw := p.RideID
	if len(raw) == 0 || string(raw) == "null" {
		raw = p.RideIDAlt
	}
	raw = bytes.Trim(bytes.TrimSpace(raw), `"`)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errNoRideID
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return id, nil
}
