package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"meeting-sync/internal/domain"
)

// StateRepository is a mock of repository.StateRepository.
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) NextSeq(ctx context.Context, sessionID string) (uint64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *StateRepository) RollbackSeq(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *StateRepository) AppendEvent(ctx context.Context, sessionID string, ev domain.Event) error {
	args := m.Called(ctx, sessionID, ev)
	return args.Error(0)
}

func (m *StateRepository) EventsFrom(ctx context.Context, sessionID string, seq uint64) ([]domain.Event, error) {
	args := m.Called(ctx, sessionID, seq)
	var events []domain.Event
	if args.Get(0) != nil {
		events = args.Get(0).([]domain.Event)
	}
	return events, args.Error(1)
}

func (m *StateRepository) BaseSeq(ctx context.Context, sessionID string) (uint64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *StateRepository) TrimThrough(ctx context.Context, sessionID string, seq uint64) error {
	args := m.Called(ctx, sessionID, seq)
	return args.Error(0)
}

func (m *StateRepository) GetSnapshotCache(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	args := m.Called(ctx, sessionID)
	var snapshot *domain.Snapshot
	if args.Get(0) != nil {
		snapshot = args.Get(0).(*domain.Snapshot)
	}
	return snapshot, args.Error(1)
}

func (m *StateRepository) SetSnapshotCache(ctx context.Context, sessionID string, snapshot *domain.Snapshot, ttl time.Duration) error {
	args := m.Called(ctx, sessionID, snapshot, ttl)
	return args.Error(0)
}

func (m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *StateRepository) GetLastSnapshotTime(ctx context.Context, sessionID string) (time.Time, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *StateRepository) SetLastSnapshotTime(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	args := m.Called(ctx, sessionID, at, ttl)
	return args.Error(0)
}

func (m *StateRepository) CleanupSessionState(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}
