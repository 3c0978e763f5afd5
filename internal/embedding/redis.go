package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
	"github.com/propsearch/prop-search/internal/pkg/logger"
)

const redisKeyPrefix = "emb:"

// redisEntry is the JSON shape stored in Redis.
type redisEntry struct {
	Vector   []float32 `json:"vector"`
	StoredAt int64     `json:"stored_at"`
}

// RedisStore is a Redis-backed RemoteStore for embedding vectors. Redis
// enforces the TTL itself via SETEX-style expiry; a corrupt entry is evicted
// and reported as a miss, never as an error the search path would see.
type RedisStore struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisStore creates a Redis store from a redis:// URL.
func NewRedisStore(redisURL string, log *logger.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid redis url", err)
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		log:    log,
	}, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the vector for a key, or ok=false when absent.
func (s *RedisStore) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil || len(e.Vector) == 0 {
		// Corrupt entry: evict and treat as a miss.
		corrErr := apperrors.CacheCorruptionError(key, err)
		if s.log != nil {
			s.log.Warn("evicting corrupt cache entry", "key", key[:8], "error", corrErr)
		}
		s.client.Del(ctx, redisKeyPrefix+key)
		return nil, false, nil
	}

	return e.Vector, true, nil
}

// Set stores a vector under a key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	data, err := json.Marshal(redisEntry{
		Vector:   vector,
		StoredAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	return s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
