package repository

import (
	"context"

	"meeting-sync/internal/domain"
)

// SnapshotRepository stores compacted session state.
type SnapshotRepository interface {
	// Latest returns the newest snapshot for the session, or
	// ErrNotFound when none has been taken.
	Latest(ctx context.Context, sessionID string) (*domain.Snapshot, error)

	// Save persists a snapshot record.
	Save(ctx context.Context, snapshot *domain.Snapshot) error
}
