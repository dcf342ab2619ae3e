package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/repository"
)

// SessionService handles session lifecycle outside the live actor:
// creating session records, resolving invite codes, and destroying
// expired sessions' storage.
type SessionService struct {
	sessionRepo repository.SessionRepository
	stateRepo   repository.StateRepository
}

func NewSessionService(sessionRepo repository.SessionRepository, stateRepo repository.StateRepository) *SessionService {
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for SessionService")
	}
	return &SessionService{
		sessionRepo: sessionRepo,
		stateRepo:   stateRepo,
	}
}

// CreateSession registers a new session with a fresh id and a unique
// invite code.
func (s *SessionService) CreateSession(ctx context.Context, creatorID string) (*domain.Session, error) {
	logCtx := logrus.WithField("creator_id", creatorID)

	inviteCode, err := s.generateUniqueInviteCode(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique invite code")
		return nil, ErrInternalServer
	}

	session := &domain.Session{
		ID:         uuid.NewString(),
		CreatorID:  creatorID,
		InviteCode: inviteCode,
		LastActive: time.Now().UTC(),
	}

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Error("Failed to save new session due to duplicate entry")
			return nil, ErrInternalServer
		}
		logCtx.WithError(err).Error("Failed to save new session to database")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"invite_code": inviteCode,
	}).Info("Session created successfully")
	return session, nil
}

// ResolveInviteCode returns the session an invite code belongs to.
func (s *SessionService) ResolveInviteCode(ctx context.Context, inviteCode string) (*domain.Session, error) {
	logCtx := logrus.WithField("invite_code", inviteCode)

	session, err := s.sessionRepo.FindByInviteCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.Warn("Invite code did not resolve to a session")
			return nil, ErrInvalidInviteCode
		}
		logCtx.WithError(err).Error("Failed to resolve invite code")
		return nil, ErrInternalServer
	}
	return session, nil
}

// FindSessionByID looks a session record up for the WebSocket handler.
func (s *SessionService) FindSessionByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	logCtx := logrus.WithField("session_id", sessionID)

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.Warn("Session not found")
			return nil, ErrSessionNotFound
		}
		logCtx.WithError(err).Error("Failed to find session")
		return nil, ErrInternalServer
	}
	return session, nil
}

// TouchSession bumps the session's last activity timestamp.
func (s *SessionService) TouchSession(ctx context.Context, sessionID string) error {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return ErrInternalServer
	}
	session.LastActive = time.Now().UTC()
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		return ErrInternalServer
	}
	return nil
}

// DestroySessionState drops the session's volatile state after it
// closed and its grace period expired. The relational archive is kept.
func (s *SessionService) DestroySessionState(ctx context.Context, sessionID string) error {
	if s.stateRepo == nil {
		return nil
	}
	if err := s.stateRepo.CleanupSessionState(ctx, sessionID); err != nil {
		logrus.WithField("session_id", sessionID).WithError(err).Error("Failed to clean up session state")
		return ErrInternalServer
	}
	logrus.WithField("session_id", sessionID).Info("Session state destroyed")
	return nil
}

func (s *SessionService) generateUniqueInviteCode(ctx context.Context) (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const codeLength = 6
	const maxAttempts = 10

	b := make([]byte, codeLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = letters[int(b[i])%len(letters)]
		}
		code := string(b)

		exists, err := s.sessionRepo.InviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("database error checking invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
		logrus.WithField("invite_code", code).Warnf("Generated invite code already exists, retrying (attempt %d)", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique invite code after %d attempts", maxAttempts)
}
