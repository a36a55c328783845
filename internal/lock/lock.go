package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/call-billing/pkg/redis"
)

var ErrLocked = errors.New("lock is held by another owner")

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	redis redis.RedisAdapter
}

func NewRedisLocker(r redis.RedisAdapter) *RedisLocker {
	return &RedisLocker{redis: r}
}

type Lease struct {
	Key   string
	token string
	r     redis.RedisAdapter
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, []byte(token), ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lease{Key: key, token: token, r: l.redis}, nil
}

// Release reports false when the lease had already expired or been taken over.
func (le *Lease) Release(ctx context.Context) (bool, error) {
	res, err := le.r.RunScript(ctx, releaseScript, []string{le.Key}, le.token)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", le.Key, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}
