package repository

import (
	"context"
	"time"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/eventlog"
)

// StateRepository is the fast shared state layer, implemented on
// Redis. It carries the commit store backing every session's event
// log plus the caches and counters the services and middleware use.
type StateRepository interface {
	// The synchronous commit point for session event logs.
	eventlog.CommitStore

	// GetSnapshotCache returns the cached snapshot for the session, or
	// ErrNotFound on a miss.
	GetSnapshotCache(ctx context.Context, sessionID string) (*domain.Snapshot, error)

	// SetSnapshotCache caches a snapshot. ttl of zero means no expiry.
	SetSnapshotCache(ctx context.Context, sessionID string, snapshot *domain.Snapshot, ttl time.Duration) error

	// CheckRateLimit increments the counter for key and reports whether
	// the limit was exceeded within the window.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// GetLastSnapshotTime returns when the session was last
	// snapshotted, or a zero time when never.
	GetLastSnapshotTime(ctx context.Context, sessionID string) (time.Time, error)

	// SetLastSnapshotTime records a snapshot completion.
	SetLastSnapshotTime(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error

	// CleanupSessionState removes every volatile key a session owns.
	CleanupSessionState(ctx context.Context, sessionID string) error
}
