package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

// SnapshotStore keeps the last known good active list across restarts.
type SnapshotStore interface {
	Save(ctx context.Context, rides []models.RideRecord) error
	Load(ctx context.Context) ([]models.RideRecord, error)
}

// ActionLog records operator actions against rides.
type ActionLog interface {
	RecordCancel(ctx context.Context, a models.CancelAction) error
}

type MemorySnapshotStore struct {
	mu    sync.RWMutex
	rides []models.RideRecord
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (m *MemorySnapshotStore) Save(ctx context.Context, rides []models.RideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides = slices.Clone(rides)
	return nil
}

func (m *MemorySnapshotStore) Load(ctx context.Context) ([]models.RideRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.rides), nil
}

type MemoryActionLog struct {
	mu      sync.RWMutex
	actions []models.CancelAction
}

func NewMemoryActionLog() *MemoryActionLog {
	return &MemoryActionLog{}
}

func (m *MemoryActionLog) RecordCancel(ctx context.Context, a models.CancelAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, a)
	return nil
}

func (m *MemoryActionLog) Actions() []models.CancelAction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.actions)
}
