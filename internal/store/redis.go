package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore holds the Redis-backed helpers: the fingerprint cache, the
// per-order write lock and the client shared with the ingest rate limiter.
type RedisStore struct {
	client     *redis.Client
	cacheTTL   time.Duration
	lockPrefix string
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:     client,
		cacheTTL:   7 * 24 * time.Hour,
		lockPrefix: "lock:order:",
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func fpKey(fingerprint string) string {
	return fmt.Sprintf("fp:%s", fingerprint)
}

// Seen reports, per fingerprint, whether it is known to be stored already.
// A miss only means "unknown": the store remains the source of truth.
func (s *RedisStore) Seen(ctx context.Context, fingerprints []string) ([]bool, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(fingerprints))
	for i, fp := range fingerprints {
		cmds[i] = pipe.Exists(ctx, fpKey(fp))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("checking fingerprint cache: %w", err)
	}

	seen := make([]bool, len(fingerprints))
	for i, cmd := range cmds {
		seen[i] = cmd.Val() > 0
	}
	return seen, nil
}

// Remember records fingerprints the store has confirmed as persisted.
func (s *RedisStore) Remember(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, fp := range fingerprints {
		pipe.Set(ctx, fpKey(fp), 1, s.cacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing fingerprint cache: %w", err)
	}
	return nil
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockOrder tries to take the write lock for orderRef. It returns the token
// needed to release it, or ok=false when another writer holds it.
func (s *RedisStore) LockOrder(ctx context.Context, orderRef string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.lockPrefix+orderRef, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("locking order %s: %w", orderRef, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// UnlockOrder releases a lock taken by LockOrder.
func (s *RedisStore) UnlockOrder(ctx context.Context, orderRef, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.lockPrefix + orderRef}, token).Err(); err != nil {
		return fmt.Errorf("unlocking order %s: %w", orderRef, err)
	}
	return nil
}
