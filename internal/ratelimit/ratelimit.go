package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/redis"
)

// windowScript counts hits in a fixed window. The first hit starts the
// window; the reply is the count and the milliseconds left in it.
var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// RetryAfterSeconds is the Retry-After header value, never below one.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

type Limiter struct {
	redis  redis.RedisAdapter
	prefix string
}

func NewLimiter(r redis.RedisAdapter, prefix string) *Limiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "ratelimit"
	}
	return &Limiter{redis: r, prefix: p}
}

// Allow counts one hit for subject within scope. A Redis failure lets the
// request through and is returned alongside an allowing decision.
func (l *Limiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (Decision, error) {
	allow := Decision{Allowed: true, Limit: limit}
	if l == nil || limit <= 0 || window <= 0 {
		return allow, nil
	}

	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return allow, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, scope, subject)
	raw, err := l.redis.RunScript(ctx, windowScript, []string{key}, windowMs)
	if err != nil {
		logger.Warn("[ratelimit] redis unavailable, failing open", "scope", scope, "error", err)
		return allow, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return allow, fmt.Errorf("unexpected limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return allow, fmt.Errorf("unexpected limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}

	d := Decision{
		Allowed:    int(count) <= limit,
		Count:      int(count),
		Limit:      limit,
		RetryAfter: time.Duration(ttlMs) * time.Millisecond,
	}
	return d, nil
}
