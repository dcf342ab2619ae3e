// Package eventlog implements the append-only, totally ordered event
// log that is the single source of truth for a session. Appends are
// serialized externally by the session coordinator (single-writer per
// session), so the log itself carries no locking.
package eventlog

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"meeting-sync/internal/domain"
)

// CommitStore is the synchronous commit point for appends. An event is
// acknowledged to its sender only once the store has accepted it; the
// relational archive runs behind a background worker. Implemented by
// the Redis state repository.
type CommitStore interface {
	// NextSeq atomically advances and returns the session's sequence
	// counter.
	NextSeq(ctx context.Context, sessionID string) (uint64, error)
	// RollbackSeq undoes the last NextSeq after a failed append. Safe
	// under the single-writer discipline.
	RollbackSeq(ctx context.Context, sessionID string) error
	// AppendEvent commits the event at its assigned sequence.
	AppendEvent(ctx context.Context, sessionID string, ev domain.Event) error
	// EventsFrom returns all committed events with Seq >= seq, in
	// sequence order. The result is a finite prefix copy: callers can
	// iterate it without blocking new appends, and restart at any seq.
	EventsFrom(ctx context.Context, sessionID string, seq uint64) ([]domain.Event, error)
	// BaseSeq returns the compaction point: events at or below it have
	// been folded into a snapshot and trimmed from the store.
	BaseSeq(ctx context.Context, sessionID string) (uint64, error)
	// TrimThrough drops committed events with Seq <= seq and records
	// the new compaction point.
	TrimThrough(ctx context.Context, sessionID string, seq uint64) error
}

// Archiver hands an accepted event to the durable archive (an asynq
// task persisting through GORM). Archive failures never reject the
// append, since the commit store already holds the event.
type Archiver interface {
	Archive(ctx context.Context, ev domain.Event) error
}

// ArchiverFunc adapts a function to the Archiver interface.
type ArchiverFunc func(ctx context.Context, ev domain.Event) error

func (f ArchiverFunc) Archive(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }

// Log is one session's append-only event log.
type Log struct {
	sessionID string
	store     CommitStore
	archive   Archiver
	head      uint64
	log       *logrus.Entry
}

// New opens the log for a session, recovering the head sequence from
// the commit store.
func New(ctx context.Context, sessionID string, store CommitStore, archive Archiver) (*Log, error) {
	if store == nil {
		panic("commit store cannot be nil for event log")
	}
	l := &Log{
		sessionID: sessionID,
		store:     store,
		archive:   archive,
		log:       logrus.WithFields(logrus.Fields{"component": "eventlog", "session_id": sessionID}),
	}
	base, err := store.BaseSeq(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: failed to read base seq for session %s: %w", sessionID, err)
	}
	events, err := store.EventsFrom(ctx, sessionID, base+1)
	if err != nil {
		return nil, fmt.Errorf("eventlog: failed to read tail for session %s: %w", sessionID, err)
	}
	l.head = base
	if n := len(events); n > 0 {
		l.head = events[n-1].Seq
	}
	return l, nil
}

// Head returns the sequence number of the last acknowledged event, or
// zero for an empty log.
func (l *Log) Head() uint64 { return l.head }

// Append assigns the next sequence number to ev and commits it. On a
// store failure the counter is rolled back and ErrLogWriteFailure is
// returned: no event is ever acknowledged without a committed entry,
// and no gap is ever introduced.
func (l *Log) Append(ctx context.Context, ev *domain.Event) (uint64, error) {
	seq, err := l.store.NextSeq(ctx, l.sessionID)
	if err != nil {
		l.log.WithError(err).Error("Failed to advance sequence counter")
		return 0, fmt.Errorf("%w: %v", ErrLogWriteFailure, err)
	}
	ev.SessionID = l.sessionID
	ev.Seq = seq

	if err := l.store.AppendEvent(ctx, l.sessionID, *ev); err != nil {
		l.log.WithError(err).WithField("seq", seq).Error("Commit store rejected append, rolling back sequence")
		if rbErr := l.store.RollbackSeq(ctx, l.sessionID); rbErr != nil {
			// The counter and the store now disagree; the coordinator
			// marks the session degraded when appends keep failing.
			l.log.WithError(rbErr).WithField("seq", seq).Error("Sequence rollback failed")
		}
		return 0, fmt.Errorf("%w: %v", ErrLogWriteFailure, err)
	}
	l.head = seq

	if l.archive != nil {
		if err := l.archive.Archive(ctx, *ev); err != nil {
			l.log.WithError(err).WithField("seq", seq).Warn("Failed to enqueue event for archival")
		}
	}
	return seq, nil
}

// ReadFrom returns the committed events with Seq >= seq as a finite,
// restartable prefix copy for catch-up replay. Events compacted away
// (Seq <= the store's base) are no longer served here; callers below
// the base must take a snapshot instead.
func (l *Log) ReadFrom(ctx context.Context, seq uint64) ([]domain.Event, error) {
	if seq == 0 {
		seq = 1
	}
	events, err := l.store.EventsFrom(ctx, l.sessionID, seq)
	if err != nil {
		return nil, fmt.Errorf("eventlog: failed to read from seq %d for session %s: %w", seq, l.sessionID, err)
	}
	return events, nil
}

// BaseSeq returns the current compaction point.
func (l *Log) BaseSeq(ctx context.Context) (uint64, error) {
	return l.store.BaseSeq(ctx, l.sessionID)
}

// TrimThrough compacts the log through seq after a snapshot has been
// persisted at that position.
func (l *Log) TrimThrough(ctx context.Context, seq uint64) error {
	if err := l.store.TrimThrough(ctx, l.sessionID, seq); err != nil {
		return fmt.Errorf("eventlog: failed to trim through seq %d for session %s: %w", seq, l.sessionID, err)
	}
	l.log.WithField("base_seq", seq).Debug("Log compacted")
	return nil
}
