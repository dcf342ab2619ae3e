package repository

import (
	"context"

	"meeting-sync/internal/domain"
)

// SessionRepository stores session records.
type SessionRepository interface {
	// FindByID looks a session up by its identifier. Returns
	// ErrNotFound when it does not exist.
	FindByID(ctx context.Context, id string) (*domain.Session, error)

	// FindByInviteCode looks a session up by invite code.
	FindByInviteCode(ctx context.Context, code string) (*domain.Session, error)

	// Save creates the session or updates it by ID.
	Save(ctx context.Context, session *domain.Session) error

	// InviteCodeExists reports whether the code is already taken.
	InviteCodeExists(ctx context.Context, code string) (bool, error)
}
