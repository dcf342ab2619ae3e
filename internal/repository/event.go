package repository

import (
	"context"

	"meeting-sync/internal/domain"
)

// EventRepository archives committed events to durable storage. The
// commit store (Redis) is the synchronous commit point; this archive
// is written asynchronously by the worker and read back for audit and
// deep history queries.
type EventRepository interface {
	// SaveBatch persists a batch of committed events.
	SaveBatch(ctx context.Context, events []domain.Event) error

	// CountSince reports how many events a session committed after the
	// given sequence number. Used to decide whether a snapshot is due.
	CountSince(ctx context.Context, sessionID string, afterSeq uint64) (int64, error)

	// LoadFrom reads archived events in sequence order starting at
	// fromSeq, at most limit records.
	LoadFrom(ctx context.Context, sessionID string, fromSeq uint64, limit int) ([]domain.Event, error)
}
