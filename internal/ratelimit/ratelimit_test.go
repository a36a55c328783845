package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
	"github.com/nimasrn/call-billing/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func setupLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(redis.Wrap(client, "test:"), "rl:"), mr
}

func TestLimiter_Allow(t *testing.T) {
	l, mr := setupLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "sync", "user-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "hit %d", i)
		assert.Equal(t, i, d.Count)
	}

	d, err := l.Allow(ctx, "sync", "user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 4, d.Count)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfterSeconds(), 60)

	// other subjects have their own window
	d, err = l.Allow(ctx, "sync", "user-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	assert.True(t, mr.Exists("test:rl:sync:user-1"))

	mr.FastForward(61 * time.Second)
	d, err = l.Allow(ctx, "sync", "user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := setupLimiter(t)

	d, err := l.Allow(context.Background(), "sync", "user-1", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(context.Background(), "sync", " ", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_FailsOpen(t *testing.T) {
	l, mr := setupLimiter(t)
	mr.Close()

	d, err := l.Allow(context.Background(), "sync", "user-1", 1, time.Minute)
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

func TestMiddleware(t *testing.T) {
	l, _ := setupLimiter(t)
	calls := 0
	h := Middleware(l, "api", 2, time.Minute)(func(ctx *xhttp.RequestCtx) {
		calls++
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	var last *fasthttp.RequestCtx
	for i := 0; i < 3; i++ {
		var req fasthttp.Request
		req.Header.SetMethod("GET")
		req.SetRequestURI("/api/v1/billing")
		last = &fasthttp.RequestCtx{}
		last.Init(&req, nil, nil)
		h(last)
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, fasthttp.StatusTooManyRequests, last.Response.StatusCode())
	assert.NotEmpty(t, string(last.Response.Header.Peek("Retry-After")))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, string(last.Response.Body()))
}
