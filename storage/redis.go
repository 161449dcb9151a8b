package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind separates the two documents a client keeps: secure holds
// registration tokens, non-secure holds the identity set.
type Kind string

const (
	Secure    Kind = "secure"
	NonSecure Kind = "nonsecure"
)

// Redis keeps the document under <prefix>:<kind>.
type Redis struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedis returns a store bound to one key. ttl of zero keeps the key
// forever.
func NewRedis(rdb redis.UniversalClient, prefix string, kind Kind, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "mpin"
	}
	return &Redis{rdb: rdb, key: prefix + ":" + string(kind), ttl: ttl}
}

// Key returns the Redis key in use.
func (r *Redis) Key() string {
	return r.key
}

func (r *Redis) SetData(ctx context.Context, data string) error {
	if err := r.rdb.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) GetData(ctx context.Context) (string, error) {
	data, err := r.rdb.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

func (r *Redis) ClearData(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
