package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meeting-sync/internal/eventlog"
	"meeting-sync/internal/negotiation"
	"meeting-sync/internal/repository"
)

// Config carries the per-session tunables. Zero values are replaced by
// the defaults below.
type Config struct {
	// MaxPayload is the largest accepted event payload in bytes.
	MaxPayload int
	// SnapshotLag is how many events behind the head a catch-up may be
	// before it is served as a snapshot instead of a replay.
	SnapshotLag uint64
	// AppendRetries is how many times a failed commit store append is
	// retried before the session is marked degraded.
	AppendRetries    int
	AppendRetryDelay time.Duration
	// Grace is the reconnect window after a dropped connection and the
	// idle window before an empty session destroys itself.
	Grace         time.Duration
	SweepInterval time.Duration
	RequestBuffer int
	Negotiation   negotiation.Config
}

const (
	defaultMaxPayload       = 64 * 1024
	defaultSnapshotLag      = 256
	defaultAppendRetries    = 2
	defaultAppendRetryDelay = 100 * time.Millisecond
	defaultGrace            = 30 * time.Second
	defaultSweepInterval    = 5 * time.Second
	defaultRequestBuffer    = 128
)

func (c Config) withDefaults() Config {
	if c.MaxPayload <= 0 {
		c.MaxPayload = defaultMaxPayload
	}
	if c.SnapshotLag == 0 {
		c.SnapshotLag = defaultSnapshotLag
	}
	if c.AppendRetries <= 0 {
		c.AppendRetries = defaultAppendRetries
	}
	if c.AppendRetryDelay <= 0 {
		c.AppendRetryDelay = defaultAppendRetryDelay
	}
	if c.Grace <= 0 {
		c.Grace = defaultGrace
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.RequestBuffer <= 0 {
		c.RequestBuffer = defaultRequestBuffer
	}
	return c
}

// Deps are the external collaborators a session needs: the commit
// store backing its log, the async archiver and the snapshot store
// used for restore and compaction.
type Deps struct {
	Store     eventlog.CommitStore
	Archive   eventlog.Archiver
	Snapshots repository.SnapshotRepository
	// OnExpired runs after a session destroyed itself because it stayed
	// empty past the grace period. This is where the volatile state
	// behind the session (sequence counter, log tail, caches) gets
	// cleaned up; a plain Close, as on server shutdown, keeps it so the
	// session can be reopened.
	OnExpired func(sessionID string)
}

// Coordinator owns the live sessions. Each session is an independent
// single-writer actor; the coordinator only maps ids to actors and
// reaps the ones that closed themselves.
type Coordinator struct {
	cfg  Config
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session

	log *logrus.Entry
}

func New(cfg Config, deps Deps) *Coordinator {
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		sessions: make(map[string]*Session),
		log:      logrus.WithField("component", "coordinator"),
	}
}

// Open returns the live actor for sessionID, starting one (and
// restoring its state from snapshot and log) if none is running.
func (c *Coordinator) Open(ctx context.Context, sessionID string) (*Session, error) {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		return s, nil
	}

	s, err := newSession(ctx, sessionID, c.cfg, c.deps, c.remove)
	if err != nil {
		return nil, err
	}
	c.sessions[sessionID] = s
	c.log.WithField("session_id", sessionID).Info("Session actor started")
	return s, nil
}

// Get returns the live actor for sessionID without starting one.
func (c *Coordinator) Get(sessionID string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// ActiveSessionIDs lists the sessions with a running actor. Used by
// the snapshot scheduler to enumerate compaction candidates.
func (c *Coordinator) ActiveSessionIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) remove(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	c.log.WithField("session_id", sessionID).Info("Session actor removed")
}

// Shutdown stops every live actor.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	c.log.WithField("count", len(sessions)).Info("All session actors stopped")
}
