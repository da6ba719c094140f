package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// AuthorKeyPrefix keys the display identity snapshot of a user.
	AuthorKeyPrefix = "author:%d"
	// AuthorTTL bounds how stale a cached display name or avatar may be.
	AuthorTTL = 5 * time.Minute
)

// AuthorKey returns the Redis key for userID's display identity.
func AuthorKey(userID uint) string {
	return fmt.Sprintf(AuthorKeyPrefix, userID)
}

// GetJSON loads key into dest. It reports false on a miss or when Redis is not configured.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	s, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(s, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores v under key with ttl. It is a no-op without Redis.
func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// Aside serves dest from Redis, or calls fetch to fill it and stores the result.
// Redis errors fall through to fetch; only fetch errors are returned.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if found, err := GetJSON(ctx, key, dest); err == nil && found {
		return nil
	}
	if err := fetch(); err != nil {
		return err
	}
	_ = SetJSON(ctx, key, dest, ttl)
	return nil
}

// Invalidate deletes key. It is a no-op without Redis.
func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

// InvalidateAuthor drops the cached identity of userID.
func InvalidateAuthor(ctx context.Context, userID uint) {
	Invalidate(ctx, AuthorKey(userID))
}
