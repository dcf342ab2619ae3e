package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"meeting-sync/internal/domain"
)

// SnapshotRepository is a mock of repository.SnapshotRepository.
type SnapshotRepository struct {
	mock.Mock
}

func (m *SnapshotRepository) Latest(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	args := m.Called(ctx, sessionID)
	var snapshot *domain.Snapshot
	if args.Get(0) != nil {
		snapshot = args.Get(0).(*domain.Snapshot)
	}
	return snapshot, args.Error(1)
}

func (m *SnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}
