package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/repository"
)

// GormSessionRepository is the GORM implementation of SessionRepository.
type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id %s: %w", id, err)
	}
	return &session, nil
}

func (r *GormSessionRepository) FindByInviteCode(ctx context.Context, code string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("invite_code = ?", code).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by invite code %q: %w", code, err)
	}
	return &session, nil
}

func (r *GormSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	err := r.db.WithContext(ctx).Save(session).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save session (id: %s, invite_code: %s): %w", session.ID, session.InviteCode, err)
	}
	return nil
}

func (r *GormSessionRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("invite_code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count sessions by invite code %q: %w", code, err)
	}
	return count > 0, nil
}
