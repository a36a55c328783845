package ratelimit

import (
	"strconv"
	"time"

	xhttp "github.com/nimasrn/call-billing/pkg/http"
	"github.com/nimasrn/call-billing/pkg/logger"
)

// Reject writes the 429 reply for a refused decision.
func Reject(ctx *xhttp.RequestCtx, d Decision) {
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.SetStatusCode(xhttp.StatusTooManyRequests)
	ctx.SetBodyString(`{"error":"rate limit exceeded"}`)
}

// Middleware limits every request by client IP.
func Middleware(l *Limiter, scope string, limit int, window time.Duration) xhttp.MiddlewareFunc {
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			d, err := l.Allow(ctx, scope, ctx.RemoteIP().String(), limit, window)
			if err != nil {
				logger.Debug("[ratelimit] allowing request after limiter error", "error", err)
			}
			if !d.Allowed {
				logger.Info("[ratelimit] request rejected", "scope", scope, "ip", ctx.RemoteIP().String(), "count", d.Count)
				Reject(ctx, d)
				return
			}
			next(ctx)
		}
	}
}
