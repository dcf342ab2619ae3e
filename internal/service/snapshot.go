package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"meeting-sync/internal/coordinator"
	"meeting-sync/internal/domain"
	"meeting-sync/internal/repository"
)

// SnapshotService compacts session logs. A snapshot is the folded
// view at some sequence number; once persisted, the log prefix up to
// that number can be trimmed from the commit store and late joiners
// are served the snapshot instead of a full replay.
type SnapshotService struct {
	snapshotRepo repository.SnapshotRepository
	stateRepo    repository.StateRepository
	eventRepo    repository.EventRepository
}

func NewSnapshotService(
	snapshotRepo repository.SnapshotRepository,
	stateRepo repository.StateRepository,
	eventRepo repository.EventRepository,
) *SnapshotService {
	return &SnapshotService{
		snapshotRepo: snapshotRepo,
		stateRepo:    stateRepo,
		eventRepo:    eventRepo,
	}
}

// GetSnapshotForClient serves the latest snapshot, cache first with
// database fallback and asynchronous cache warming.
func (s *SnapshotService) GetSnapshotForClient(ctx context.Context, sessionID string) (*domain.Snapshot, *domain.SessionView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "operation": "GetSnapshotForClient"})

	cached, err := s.stateRepo.GetSnapshotCache(ctx, sessionID)
	if err == nil && cached != nil {
		view, parseErr := cached.ParseState()
		if parseErr != nil {
			logCtx.WithError(parseErr).Error("Failed to parse snapshot state from cache")
		} else {
			logCtx.Debug("Snapshot cache hit")
			return cached, view, nil
		}
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Warn("Failed to get snapshot from cache")
	}

	dbSnapshot, err := s.snapshotRepo.Latest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			logCtx.Debug("No snapshot found, returning empty state")
			empty := &domain.Snapshot{SessionID: sessionID, BaseSeq: 0}
			return empty, domain.NewSessionView(), nil
		}
		logCtx.WithError(err).Error("Failed to get latest snapshot from database")
		return nil, nil, ErrInternalServer
	}

	view, parseErr := dbSnapshot.ParseState()
	if parseErr != nil {
		logCtx.WithError(parseErr).Error("Failed to parse snapshot state from database")
		return nil, nil, ErrInternalServer
	}

	go func(snap *domain.Snapshot) {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.stateRepo.SetSnapshotCache(cacheCtx, snap.SessionID, snap, snapshotCacheTTL); err != nil {
			logrus.WithFields(logrus.Fields{
				"session_id": snap.SessionID,
				"base_seq":   snap.BaseSeq,
			}).WithError(err).Warn("Failed to warm snapshot cache after DB load")
		}
	}(dbSnapshot)

	return dbSnapshot, view, nil
}

const (
	snapshotCacheTTL   = time.Hour
	lastSnapshotTTL    = 72 * time.Hour
	minEventsToCompact = 1
)

// SessionState primes an HTTP client before it attaches to the live
// channel: the folded state at BaseSeq plus the archived suffix after
// it. Remaining reports how many archived events follow the returned
// page.
type SessionState struct {
	BaseSeq   uint64              `json:"base_seq"`
	State     *domain.SessionView `json:"state"`
	Events    []domain.Event      `json:"events"`
	Remaining int64               `json:"remaining"`
}

// GetSessionState serves the snapshot plus up to limit archived events
// after it.
func (s *SnapshotService) GetSessionState(ctx context.Context, sessionID string, limit int) (*SessionState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "operation": "GetSessionState"})

	snap, view, err := s.GetSnapshotForClient(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.eventRepo.LoadFrom(ctx, sessionID, snap.BaseSeq+1, limit)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load archived events after snapshot")
		return nil, ErrInternalServer
	}

	last := snap.BaseSeq
	if n := len(events); n > 0 {
		last = events[n-1].Seq
	}
	remaining, err := s.eventRepo.CountSince(ctx, sessionID, last)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to count remaining archived events")
		remaining = 0
	}

	return &SessionState{
		BaseSeq:   snap.BaseSeq,
		State:     view,
		Events:    events,
		Remaining: remaining,
	}, nil
}

// CheckAndCompact decides whether the session is due for a snapshot
// and, if so, persists one and trims the log behind it. The check
// interval adapts to activity: busy sessions compact often, quiet
// ones rarely.
func (s *SnapshotService) CheckAndCompact(ctx context.Context, sess *coordinator.Session) error {
	sessionID := sess.ID()
	logCtx := logrus.WithField("session_id", sessionID)

	lastTime, err := s.stateRepo.GetLastSnapshotTime(ctx, sessionID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to get last snapshot time")
		return ErrInternalServer
	}

	lastBase := uint64(0)
	if prev, err := s.snapshotRepo.Latest(ctx, sessionID); err == nil {
		lastBase = prev.BaseSeq
	} else if !errors.Is(err, repository.ErrSnapshotNotFound) {
		logCtx.WithError(err).Error("Failed to read previous snapshot")
		return ErrInternalServer
	}

	head, err := sess.Head(ctx)
	if err != nil {
		return err
	}
	pending := int64(0)
	if head > lastBase {
		pending = int64(head - lastBase)
	}

	interval := calculateSnapshotInterval(pending)
	if pending < minEventsToCompact || !shouldGenerateSnapshot(lastTime, interval) {
		logCtx.Debugf("Snapshot condition not met (pending: %d, interval: %s)", pending, interval)
		return nil
	}

	logCtx.WithFields(logrus.Fields{"pending": pending, "head": head}).Info("Snapshot condition met, compacting")
	return s.compact(ctx, sess)
}

// compact folds the session's current view into a snapshot row, caches
// it and trims the commit store behind it.
func (s *SnapshotService) compact(ctx context.Context, sess *coordinator.Session) error {
	sessionID := sess.ID()
	logCtx := logrus.WithField("session_id", sessionID)

	view, head, err := sess.View(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read session view for snapshot")
		return err
	}
	if view.Seq == 0 {
		return nil
	}

	snapshot := &domain.Snapshot{
		SessionID: sessionID,
		BaseSeq:   view.Seq,
		CreatedAt: time.Now().UTC(),
	}
	if err := snapshot.SetState(view); err != nil {
		logCtx.WithError(err).Error("Failed to serialize snapshot state")
		return err
	}

	if err := s.snapshotRepo.Save(ctx, snapshot); err != nil {
		logCtx.WithError(err).Error("Failed to save snapshot to database")
		return err
	}

	if err := s.stateRepo.SetSnapshotCache(ctx, sessionID, snapshot, snapshotCacheTTL); err != nil {
		logCtx.WithError(err).Warn("Failed to update snapshot cache after compaction")
	}
	if err := s.stateRepo.SetLastSnapshotTime(ctx, sessionID, time.Now(), lastSnapshotTTL); err != nil {
		logCtx.WithError(err).Warn("Failed to record last snapshot time")
	}

	// Trim only after the snapshot row is durable; a failed trim just
	// leaves extra replayable tail behind.
	if err := sess.Compact(ctx, snapshot.BaseSeq); err != nil {
		logCtx.WithError(err).Warn("Snapshot saved but log trim failed")
		return nil
	}

	logCtx.WithFields(logrus.Fields{"base_seq": snapshot.BaseSeq, "head": head}).Info("Snapshot generated and log compacted")
	return nil
}

func calculateSnapshotInterval(pendingEvents int64) time.Duration {
	if pendingEvents > 100 {
		return 30 * time.Second
	} else if pendingEvents > 20 {
		return 2 * time.Minute
	}
	return 10 * time.Minute
}

func shouldGenerateSnapshot(lastSnapshotTime time.Time, interval time.Duration) bool {
	return lastSnapshotTime.IsZero() || time.Since(lastSnapshotTime) >= interval
}
