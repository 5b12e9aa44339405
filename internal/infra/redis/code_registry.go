package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeRegistry reserves join codes in Redis so code uniqueness holds across
// every instance of the service. A reservation is a SETNX on
// session:code:{CODE} mapped to the session id; completing a session
// releases its code. The TTL is a backstop against sessions that are
// abandoned without ever completing.
type CodeRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCodeRegistry(client *redis.Client, ttl time.Duration) *CodeRegistry {
	return &CodeRegistry{client: client, ttl: ttl}
}

func (r *CodeRegistry) Reserve(ctx context.Context, code, sessionID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(code), sessionID, r.ttl).Result()
}

func (r *CodeRegistry) Release(ctx context.Context, code string) error {
	return r.client.Del(ctx, r.key(code)).Err()
}

func (r *CodeRegistry) key(code string) string {
	return "session:code:" + code
}
