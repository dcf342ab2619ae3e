package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/repository"
)

// RedisStateRepository implements repository.StateRepository. It is
// the synchronous commit point for every session's event log: an
// append is acknowledged once the event sits in the session's Redis
// list, and the relational archive trails behind a worker.
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "ms:"
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---

func (r *RedisStateRepository) seqKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:seq", r.keyPrefix, sessionID)
}

func (r *RedisStateRepository) eventsKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:events", r.keyPrefix, sessionID)
}

func (r *RedisStateRepository) baseKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:base", r.keyPrefix, sessionID)
}

func (r *RedisStateRepository) snapshotCacheKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:snapshot", r.keyPrefix, sessionID)
}

func (r *RedisStateRepository) lastSnapshotKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:last_snapshot", r.keyPrefix, sessionID)
}

// --- eventlog.CommitStore Implementation ---

// NextSeq atomically advances the session's sequence counter.
func (r *RedisStateRepository) NextSeq(ctx context.Context, sessionID string) (uint64, error) {
	key := r.seqKey(sessionID)
	seq, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to advance sequence for session %s on key %s: %w", sessionID, key, err)
	}
	return uint64(seq), nil
}

// RollbackSeq undoes the last NextSeq after a rejected append. Safe
// only under the per-session single-writer discipline, which is how
// the event log calls it.
func (r *RedisStateRepository) RollbackSeq(ctx context.Context, sessionID string) error {
	key := r.seqKey(sessionID)
	if err := r.client.Decr(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to roll back sequence for session %s on key %s: %w", sessionID, key, err)
	}
	return nil
}

// AppendEvent commits the event at the tail of the session's list.
// The list holds the events above the compaction point in sequence
// order, so list position plus base is always the sequence number.
func (r *RedisStateRepository) AppendEvent(ctx context.Context, sessionID string, ev domain.Event) error {
	bytes, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal event seq %d for session %s: %w", ev.Seq, sessionID, err)
	}
	key := r.eventsKey(sessionID)
	if err := r.client.RPush(ctx, key, string(bytes)).Err(); err != nil {
		return fmt.Errorf("redis: failed to append event seq %d for session %s on key %s: %w", ev.Seq, sessionID, key, err)
	}
	return nil
}

// EventsFrom returns the committed events with Seq >= seq that are
// still above the compaction point, in sequence order.
func (r *RedisStateRepository) EventsFrom(ctx context.Context, sessionID string, seq uint64) ([]domain.Event, error) {
	base, err := r.BaseSeq(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var offset int64
	if seq > base {
		offset = int64(seq - base - 1)
	}

	key := r.eventsKey(sessionID)
	raw, err := r.client.LRange(ctx, key, offset, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read events from seq %d for session %s on key %s: %w", seq, sessionID, key, err)
	}

	events := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var ev domain.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("redis: corrupt event in log for session %s on key %s: %w", sessionID, key, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// BaseSeq returns the compaction point, zero when the log has never
// been trimmed.
func (r *RedisStateRepository) BaseSeq(ctx context.Context, sessionID string) (uint64, error) {
	key := r.baseKey(sessionID)
	baseStr, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: failed to read base seq for session %s from %s: %w", sessionID, key, err)
	}
	base, parseErr := strconv.ParseUint(baseStr, 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("redis: failed to parse base seq %q for session %s from %s: %w", baseStr, sessionID, key, parseErr)
	}
	return base, nil
}

// TrimThrough drops the events with Seq <= seq and records seq as the
// new compaction point. The trim and the base update ride one
// transaction so a reader never sees them disagree.
func (r *RedisStateRepository) TrimThrough(ctx context.Context, sessionID string, seq uint64) error {
	base, err := r.BaseSeq(ctx, sessionID)
	if err != nil {
		return err
	}
	if seq <= base {
		return nil
	}
	drop := int64(seq - base)

	pipe := r.client.TxPipeline()
	pipe.LTrim(ctx, r.eventsKey(sessionID), drop, -1)
	pipe.Set(ctx, r.baseKey(sessionID), strconv.FormatUint(seq, 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to trim log through seq %d for session %s: %w", seq, sessionID, err)
	}
	return nil
}

// --- Snapshot Caching ---

// GetSnapshotCache returns the cached snapshot for the session, or
// repository.ErrNotFound on a miss.
func (r *RedisStateRepository) GetSnapshotCache(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	key := r.snapshotCacheKey(sessionID)
	snapshotStr, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis: failed to get snapshot cache for session %s from %s: %w", sessionID, key, err)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal([]byte(snapshotStr), &snapshot); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal snapshot cache for session %s from %s: %w", sessionID, key, err)
	}
	return &snapshot, nil
}

// SetSnapshotCache caches a snapshot. A ttl of zero means no expiry.
func (r *RedisStateRepository) SetSnapshotCache(ctx context.Context, sessionID string, snapshot *domain.Snapshot, ttl time.Duration) error {
	key := r.snapshotCacheKey(sessionID)
	snapshotBytes, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal snapshot for cache (session %s, base seq %d): %w", sessionID, snapshot.BaseSeq, err)
	}
	if err := r.client.Set(ctx, key, string(snapshotBytes), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set snapshot cache for session %s on key %s: %w", sessionID, key, err)
	}
	return nil
}

// --- Rate Limiting ---

// CheckRateLimit increments the counter for key and reports whether
// the limit was exceeded within the window.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}

// --- Snapshot Worker State ---

// GetLastSnapshotTime returns when the session was last snapshotted,
// or a zero time when never.
func (r *RedisStateRepository) GetLastSnapshotTime(ctx context.Context, sessionID string) (time.Time, error) {
	key := r.lastSnapshotKey(sessionID)
	tsStr, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis: failed to get last snapshot time for session %s from %s: %w", sessionID, key, err)
	}
	tsUnix, parseErr := strconv.ParseInt(tsStr, 10, 64)
	if parseErr != nil {
		return time.Time{}, fmt.Errorf("redis: failed to parse last snapshot time %q for session %s: %w", tsStr, sessionID, parseErr)
	}
	return time.Unix(tsUnix, 0), nil
}

// SetLastSnapshotTime records a snapshot completion.
func (r *RedisStateRepository) SetLastSnapshotTime(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	key := r.lastSnapshotKey(sessionID)
	if err := r.client.Set(ctx, key, strconv.FormatInt(at.Unix(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set last snapshot time for session %s on key %s: %w", sessionID, key, err)
	}
	return nil
}

// CleanupSessionState removes every volatile key a session owns. Used
// when a session is destroyed after its grace period.
func (r *RedisStateRepository) CleanupSessionState(ctx context.Context, sessionID string) error {
	keys := []string{
		r.seqKey(sessionID),
		r.eventsKey(sessionID),
		r.baseKey(sessionID),
		r.snapshotCacheKey(sessionID),
		r.lastSnapshotKey(sessionID),
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"keys":       len(keys),
		}).WithError(err).Error("Redis cleanup failed")
		return fmt.Errorf("redis: failed to clean up state for session %s: %w", sessionID, err)
	}
	return nil
}
