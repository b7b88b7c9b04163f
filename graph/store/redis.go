package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store.
//
// Designed for:
//   - Multi-replica deployments sharing one checkpoint log
//   - Deployments where checkpoints may expire after a retention window
//
// Key scheme per session:
//
//	checkpoint:{session_id}:latest   most recent checkpoint (string)
//	checkpoint:{session_id}:history  full log in order (list)
//
// Both keys carry the configured TTL, refreshed on every Save.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration

	mu       sync.Mutex
	lastTime time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the retention window for checkpoint keys. Zero means
// keys never expire.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) { r.ttl = ttl }
}

// NewRedisStore creates a Redis-backed checkpoint store.
//
// url uses the standard scheme, e.g. "redis://localhost:6379/0". The
// connection is verified with a ping before the store is returned.
func NewRedisStore(url string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %s: %w", url, err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", url, err)
	}

	s := &RedisStore{
		client: client,
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func latestKey(sessionID string) string {
	return "checkpoint:" + sessionID + ":latest"
}

func historyKey(sessionID string) string {
	return "checkpoint:" + sessionID + ":history"
}

// Save appends a checkpoint for the session and refreshes the TTL on both
// session keys.
func (r *RedisStore) Save(ctx context.Context, sessionID, nodeID string, state any, metadata map[string]any) (string, error) {
	stateJSON, _, err := marshalState(state, metadata)
	if err != nil {
		return "", err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := Checkpoint{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		NodeID:    nodeID,
		State:     stateJSON,
		Metadata:  metadata,
		CreatedAt: r.nextTimestamp(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, latestKey(sessionID), data, r.ttl)
	pipe.RPush(ctx, historyKey(sessionID), data)
	if r.ttl > 0 {
		pipe.Expire(ctx, historyKey(sessionID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return cp.ID, nil
}

// nextTimestamp returns a timestamp strictly greater than any previously
// issued one. Callers must hold r.mu.
func (r *RedisStore) nextTimestamp() time.Time {
	now := time.Now().UTC()
	if !now.After(r.lastTime) {
		now = r.lastTime.Add(time.Nanosecond)
	}
	r.lastTime = now
	return now
}

// LoadLatest returns the most recent checkpoint for the session.
func (r *RedisStore) LoadLatest(ctx context.Context, sessionID string) (Checkpoint, error) {
	data, err := r.client.Get(ctx, latestKey(sessionID)).Bytes()
	if err == redis.Nil {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("corrupt checkpoint record: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints for the session in chronological order.
func (r *RedisStore) List(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	entries, err := r.client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(entries))
	for _, entry := range entries {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(entry), &cp); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint record: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// Clear removes all checkpoints for the session.
func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, latestKey(sessionID), historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping verifies the Redis connection is alive. Used by health checks.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
