package eventlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/eventlog"
)

// memStore is an in-memory CommitStore with the same semantics as the
// Redis implementation: a sequence counter, an event tail above the
// compaction base, and injectable failures.
type memStore struct {
	seq        uint64
	base       uint64
	events     []domain.Event
	failAppend error
	failSeq    error
}

func (s *memStore) NextSeq(_ context.Context, _ string) (uint64, error) {
	if s.failSeq != nil {
		return 0, s.failSeq
	}
	s.seq++
	return s.seq, nil
}

func (s *memStore) RollbackSeq(_ context.Context, _ string) error {
	s.seq--
	return nil
}

func (s *memStore) AppendEvent(_ context.Context, _ string, ev domain.Event) error {
	if s.failAppend != nil {
		return s.failAppend
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) EventsFrom(_ context.Context, _ string, seq uint64) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Seq >= seq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memStore) BaseSeq(_ context.Context, _ string) (uint64, error) {
	return s.base, nil
}

func (s *memStore) TrimThrough(_ context.Context, _ string, seq uint64) error {
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

func newChatEvent(t *testing.T, participantID, content string) *domain.Event {
	t.Helper()
	ev := &domain.Event{
		ParticipantID: participantID,
		Kind:          domain.KindChat,
		Timestamp:     time.Now().UTC(),
	}
	require.NoError(t, ev.SetPayload(domain.ChatPayload{Content: content}))
	return ev
}

func TestLog_Append_AssignsGaplessSequence(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	log, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		seq, err := log.Append(ctx, newChatEvent(t, "alice", "msg"))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	assert.Equal(t, uint64(5), log.Head())

	events, err := log.ReadFrom(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "sess-1", ev.SessionID)
	}
}

func TestLog_Append_RollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	log, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)

	_, err = log.Append(ctx, newChatEvent(t, "alice", "first"))
	require.NoError(t, err)

	store.failAppend = errors.New("redis: connection refused")
	_, err = log.Append(ctx, newChatEvent(t, "alice", "lost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, eventlog.ErrLogWriteFailure)

	// The failed append left no gap: the next commit reuses seq 2.
	store.failAppend = nil
	seq, err := log.Append(ctx, newChatEvent(t, "alice", "second"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	events, err := log.ReadFrom(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
}

func TestLog_Append_SeqCounterFailure(t *testing.T) {
	ctx := context.Background()
	store := &memStore{failSeq: errors.New("redis down")}
	log, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)

	_, err = log.Append(ctx, newChatEvent(t, "alice", "msg"))
	assert.ErrorIs(t, err, eventlog.ErrLogWriteFailure)
	assert.Zero(t, log.Head())
}

func TestLog_New_RecoversHeadFromStore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}

	first, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := first.Append(ctx, newChatEvent(t, "alice", "msg"))
		require.NoError(t, err)
	}

	// A fresh Log over the same store resumes at the committed head.
	reopened, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.Head())

	seq, err := reopened.Append(ctx, newChatEvent(t, "bob", "msg"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestLog_New_RecoversHeadAfterCompaction(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}

	log, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := log.Append(ctx, newChatEvent(t, "alice", "msg"))
		require.NoError(t, err)
	}
	require.NoError(t, log.TrimThrough(ctx, 4))

	// All events trimmed: the head is the compaction base itself.
	reopened, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), reopened.Head())

	base, err := reopened.BaseSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), base)
}

func TestLog_ReadFrom_RestartableSuffix(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	log, err := eventlog.New(ctx, "sess-1", store, nil)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := log.Append(ctx, newChatEvent(t, "alice", "msg"))
		require.NoError(t, err)
	}

	events, err := log.ReadFrom(ctx, 4)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(4), events[0].Seq)

	// Restarting from the same position yields the same suffix.
	again, err := log.ReadFrom(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, events, again)
}

func TestLog_Append_HandsEventToArchiver(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	var archived []domain.Event
	archiver := eventlog.ArchiverFunc(func(_ context.Context, ev domain.Event) error {
		archived = append(archived, ev)
		return nil
	})
	log, err := eventlog.New(ctx, "sess-1", store, archiver)
	require.NoError(t, err)

	_, err = log.Append(ctx, newChatEvent(t, "alice", "msg"))
	require.NoError(t, err)

	require.Len(t, archived, 1)
	assert.Equal(t, uint64(1), archived[0].Seq)
}

func TestLog_Append_ArchiverFailureDoesNotRejectAppend(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	archiver := eventlog.ArchiverFunc(func(_ context.Context, _ domain.Event) error {
		return errors.New("queue full")
	})
	log, err := eventlog.New(ctx, "sess-1", store, archiver)
	require.NoError(t, err)

	seq, err := log.Append(ctx, newChatEvent(t, "alice", "msg"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}
