package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// compare-and-delete: solo borra si el valor sigue siendo nuestro token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// compare-and-expire
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker usa SET NX PX sobre una única instancia de Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	token := uuid.NewString()
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisHandle{
		client:  l.client,
		key:     key,
		fullKey: fullKey,
		token:   token,
		expires: time.Now().Add(ttl),
	}, nil
}

type redisHandle struct {
	client  *redis.Client
	key     string
	fullKey string
	token   string
	expires time.Time
}

func (h *redisHandle) Key() string          { return h.key }
func (h *redisHandle) Token() string        { return h.token }
func (h *redisHandle) ExpiresAt() time.Time { return h.expires }

func (h *redisHandle) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, h.client, []string{h.fullKey}, h.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (h *redisHandle) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, h.client, []string{h.fullKey}, h.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	h.expires = time.Now().Add(ttl)
	return nil
}

var _ Locker = (*RedisLocker)(nil)
