package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"meeting-sync/internal/coordinator"
	"meeting-sync/internal/domain"
	"meeting-sync/internal/repository"
	"meeting-sync/internal/repository/mocks"
	"meeting-sync/internal/service"
)

func snapshotAt(t *testing.T, sessionID string, baseSeq uint64) *domain.Snapshot {
	t.Helper()
	view := domain.NewSessionView()
	view.Seq = baseSeq
	snap := &domain.Snapshot{SessionID: sessionID, BaseSeq: baseSeq}
	require.NoError(t, snap.SetState(view))
	return snap
}

func TestGetSnapshotForClient_CacheHit(t *testing.T) {
	stateRepo := new(mocks.StateRepository)
	snapshotRepo := new(mocks.SnapshotRepository)
	cached := snapshotAt(t, "sess-1", 42)
	stateRepo.On("GetSnapshotCache", mock.Anything, "sess-1").Return(cached, nil).Once()

	svc := service.NewSnapshotService(snapshotRepo, stateRepo, nil)
	snap, view, err := svc.GetSnapshotForClient(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.BaseSeq)
	assert.Equal(t, uint64(42), view.Seq)
	snapshotRepo.AssertNotCalled(t, "Latest", mock.Anything, mock.Anything)
	stateRepo.AssertExpectations(t)
}

func TestGetSnapshotForClient_CacheMissFallsBackToDB(t *testing.T) {
	stateRepo := new(mocks.StateRepository)
	snapshotRepo := new(mocks.SnapshotRepository)
	stored := snapshotAt(t, "sess-1", 17)
	stateRepo.On("GetSnapshotCache", mock.Anything, "sess-1").Return(nil, repository.ErrNotFound).Once()
	snapshotRepo.On("Latest", mock.Anything, "sess-1").Return(stored, nil).Once()
	// Cache warming runs asynchronously and may or may not land before
	// the test finishes.
	stateRepo.On("SetSnapshotCache", mock.Anything, "sess-1", stored, mock.Anything).Return(nil).Maybe()

	svc := service.NewSnapshotService(snapshotRepo, stateRepo, nil)
	snap, view, err := svc.GetSnapshotForClient(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, uint64(17), snap.BaseSeq)
	assert.Equal(t, uint64(17), view.Seq)
	snapshotRepo.AssertExpectations(t)
}

func TestGetSnapshotForClient_NoSnapshotReturnsEmptyState(t *testing.T) {
	stateRepo := new(mocks.StateRepository)
	snapshotRepo := new(mocks.SnapshotRepository)
	stateRepo.On("GetSnapshotCache", mock.Anything, "sess-1").Return(nil, repository.ErrNotFound).Once()
	snapshotRepo.On("Latest", mock.Anything, "sess-1").Return(nil, repository.ErrSnapshotNotFound).Once()

	svc := service.NewSnapshotService(snapshotRepo, stateRepo, nil)
	snap, view, err := svc.GetSnapshotForClient(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Zero(t, snap.BaseSeq)
	assert.Zero(t, view.Seq)
	assert.Empty(t, view.Chat)
}

// compactStore is a minimal in-memory commit store for driving a live
// session actor under the snapshot service.
type compactStore struct {
	mu     sync.Mutex
	seq    uint64
	base   uint64
	events []domain.Event
}

func (s *compactStore) NextSeq(_ context.Context, _ string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *compactStore) RollbackSeq(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq--
	return nil
}

func (s *compactStore) AppendEvent(_ context.Context, _ string, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *compactStore) EventsFrom(_ context.Context, _ string, seq uint64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Seq >= seq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *compactStore) BaseSeq(_ context.Context, _ string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base, nil
}

func (s *compactStore) TrimThrough(_ context.Context, _ string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.Event
	for _, ev := range s.events {
		if ev.Seq > seq {
			kept = append(kept, ev)
		}
	}
	s.events = kept
	s.base = seq
	return nil
}

func (s *compactStore) snapshot() (uint64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base, len(s.events)
}

type nullSub struct{ id string }

func (n nullSub) ParticipantID() string { return n.id }
func (n nullSub) Deliver(_ []byte) bool { return true }

func activeSession(t *testing.T, store *compactStore) *coordinator.Session {
	t.Helper()
	ctx := context.Background()
	coord := coordinator.New(coordinator.Config{}, coordinator.Deps{Store: store})
	t.Cleanup(coord.Shutdown)
	sess, err := coord.Open(ctx, "sess-1")
	require.NoError(t, err)

	_, err = sess.Join(ctx, "alice", "Alice", nullSub{id: "alice"}, 0)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := sess.Submit(ctx, "alice", domain.KindChat, json.RawMessage(`{"content":"hi"}`))
		require.NoError(t, err)
	}
	return sess
}

func TestCheckAndCompact_PersistsSnapshotAndTrims(t *testing.T) {
	ctx := context.Background()
	store := &compactStore{}
	sess := activeSession(t, store)

	stateRepo := new(mocks.StateRepository)
	snapshotRepo := new(mocks.SnapshotRepository)
	stateRepo.On("GetLastSnapshotTime", mock.Anything, "sess-1").Return(time.Time{}, nil).Once()
	snapshotRepo.On("Latest", mock.Anything, "sess-1").Return(nil, repository.ErrSnapshotNotFound).Once()
	snapshotRepo.On("Save", mock.Anything, mock.MatchedBy(func(snap *domain.Snapshot) bool {
		return snap.SessionID == "sess-1" && snap.BaseSeq == 5
	})).Return(nil).Once()
	stateRepo.On("SetSnapshotCache", mock.Anything, "sess-1", mock.Anything, mock.Anything).Return(nil).Once()
	stateRepo.On("SetLastSnapshotTime", mock.Anything, "sess-1", mock.Anything, mock.Anything).Return(nil).Once()

	svc := service.NewSnapshotService(snapshotRepo, stateRepo, nil)
	require.NoError(t, svc.CheckAndCompact(ctx, sess))

	base, remaining := store.snapshot()
	assert.Equal(t, uint64(5), base)
	assert.Zero(t, remaining, "the commit store tail is trimmed behind the snapshot")
	snapshotRepo.AssertExpectations(t)
	stateRepo.AssertExpectations(t)
}

func TestCheckAndCompact_SkipsWhenNothingPending(t *testing.T) {
	ctx := context.Background()
	store := &compactStore{}
	sess := activeSession(t, store)

	head, err := sess.Head(ctx)
	require.NoError(t, err)

	stateRepo := new(mocks.StateRepository)
	snapshotRepo := new(mocks.SnapshotRepository)
	stateRepo.On("GetLastSnapshotTime", mock.Anything, "sess-1").Return(time.Now(), nil).Once()
	snapshotRepo.On("Latest", mock.Anything, "sess-1").Return(snapshotAt(t, "sess-1", head), nil).Once()

	svc := service.NewSnapshotService(snapshotRepo, stateRepo, nil)
	require.NoError(t, svc.CheckAndCompact(ctx, sess))

	snapshotRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestCheckAndCompact_RespectsQuietInterval(t *testing.T) {
	ctx := context.Background()
	store := &compactStore{}
	sess := activeSession(t, store)

	stateRepo := new(mocks.StateRepository)
	snapshotRepo := new(mocks.SnapshotRepository)
	// Few pending events and a recent snapshot: the ten-minute interval
	// for quiet sessions has not elapsed.
	stateRepo.On("GetLastSnapshotTime", mock.Anything, "sess-1").Return(time.Now().Add(-time.Minute), nil).Once()
	snapshotRepo.On("Latest", mock.Anything, "sess-1").Return(snapshotAt(t, "sess-1", 1), nil).Once()

	svc := service.NewSnapshotService(snapshotRepo, stateRepo, nil)
	require.NoError(t, svc.CheckAndCompact(ctx, sess))

	snapshotRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}
