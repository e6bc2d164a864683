package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	auth "github.com/shreegurucool/auth-go"
)

// Redis keeps the token in Redis under "<namespace>:token".
type Redis struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// compile-time check
var _ auth.TokenStore = (*Redis)(nil)

// RedisOption configures the Redis store.
type RedisOption func(*Redis)

// WithTTL expires the stored token after d. Default: no expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// NewRedis creates a store on client. The store owns client: Close closes it.
func NewRedis(client redis.UniversalClient, namespace string, opts ...RedisOption) *Redis {
	if namespace == "" {
		namespace = "guruauth"
	}
	r := &Redis{client: client, namespace: namespace}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) key() string { return r.namespace + ":" + auth.TokenKey }

// Get returns the stored token, or "" when the key does not exist.
func (r *Redis) Get(ctx context.Context) (string, error) {
	v, err := r.client.Get(ctx, r.key()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("auth/tokenstore: redis get: %w", err)
	}
	return v, nil
}

// Set stores the token.
func (r *Redis) Set(ctx context.Context, token string) error {
	if err := r.client.Set(ctx, r.key(), token, r.ttl).Err(); err != nil {
		return fmt.Errorf("auth/tokenstore: redis set: %w", err)
	}
	return nil
}

// Clear removes the token.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key()).Err(); err != nil {
		return fmt.Errorf("auth/tokenstore: redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
