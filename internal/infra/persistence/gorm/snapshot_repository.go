package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/repository"
)

// GormSnapshotRepository is the GORM implementation of SnapshotRepository.
type GormSnapshotRepository struct {
	db *gorm.DB
}

func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSnapshotRepository")
	}
	return &GormSnapshotRepository{db: db}
}

// Latest returns the newest snapshot for the session, ordered by the
// sequence number it was folded at.
func (r *GormSnapshotRepository) Latest(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("base_seq DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("gorm: failed to get latest snapshot for session %s: %w", sessionID, err)
	}
	return &snapshot, nil
}

// Save inserts a new snapshot record. Snapshots are immutable once
// written; each compaction produces a fresh row.
func (r *GormSnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	err := r.db.WithContext(ctx).Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save snapshot (session %s, base seq %d): %w", snapshot.SessionID, snapshot.BaseSeq, err)
	}
	return nil
}
