package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"meeting-sync/internal/domain"
)

// EventRepository is a mock of repository.EventRepository.
type EventRepository struct {
	mock.Mock
}

func (m *EventRepository) SaveBatch(ctx context.Context, events []domain.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *EventRepository) CountSince(ctx context.Context, sessionID string, afterSeq uint64) (int64, error) {
	args := m.Called(ctx, sessionID, afterSeq)
	return args.Get(0).(int64), args.Error(1)
}

func (m *EventRepository) LoadFrom(ctx context.Context, sessionID string, fromSeq uint64, limit int) ([]domain.Event, error) {
	args := m.Called(ctx, sessionID, fromSeq, limit)
	var events []domain.Event
	if args.Get(0) != nil {
		events = args.Get(0).([]domain.Event)
	}
	return events, args.Error(1)
}
