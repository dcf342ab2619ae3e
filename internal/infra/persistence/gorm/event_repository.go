package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meeting-sync/internal/domain"
)

// GormEventRepository is the GORM implementation of EventRepository:
// the durable archive trailing the Redis commit store.
type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	if db == nil {
		panic("database connection cannot be nil for GormEventRepository")
	}
	return &GormEventRepository{db: db}
}

// SaveBatch archives a batch of committed events. The archive worker
// retries on failure, so a replayed batch must not error on rows that
// already landed; conflicts on (session_id, seq) are skipped.
func (r *GormEventRepository) SaveBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&events).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save event batch (size %d): %w", len(events), err)
	}
	return nil
}

// CountSince reports how many archived events a session has beyond
// the given sequence number.
func (r *GormEventRepository) CountSince(ctx context.Context, sessionID string, afterSeq uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("session_id = ? AND seq > ?", sessionID, afterSeq).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: failed to count events for session %s after seq %d: %w", sessionID, afterSeq, err)
	}
	return count, nil
}

// LoadFrom reads archived events in sequence order starting at fromSeq.
func (r *GormEventRepository) LoadFrom(ctx context.Context, sessionID string, fromSeq uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	var events []domain.Event
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND seq >= ?", sessionID, fromSeq).
		Order("seq asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to load events for session %s from seq %d: %w", sessionID, fromSeq, err)
	}
	return events, nil
}
