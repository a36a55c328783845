package xhttp

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/valyala/fasthttp"
)

const slowThreshold = 2 * time.Second

const RequestIDHeader = "X-Request-Id"

var skipPaths = []string{"/health", "/metrics", "/api/v1/health"}

type MiddlewareFunc func(next RequestHandler) RequestHandler
type RequestCtx = fasthttp.RequestCtx
type RequestHandler = fasthttp.RequestHandler

func TimeoutMiddleware(timeout time.Duration) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.TimeoutWithCodeHandler(next, timeout, `{"error":"request timeout"}`, StatusRequestTimeout)
	}
}

func CompressMiddleware(level int) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.CompressHandlerBrotliLevel(next, level, level)
	}
}

func RecoverMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("[xhttp] panic recovered", "error", err, "path", string(ctx.Path()), "request_id", RequestID(ctx))
				ctx.ResetBody()
				writeStatusJSON(ctx, StatusInternalServerError)
			}
		}()
		next(ctx)
	}
}

// RequestIDMiddleware makes sure every request and response carries an id.
func RequestIDMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		rid := RequestID(ctx)
		if rid == "" {
			rid = uuid.NewString()
			ctx.Request.Header.Set(RequestIDHeader, rid)
		}
		ctx.SetUserValue("request_id", rid)
		next(ctx)
		ctx.Response.Header.Set(RequestIDHeader, rid)
	}
}

func RequestLoggerMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		path := string(ctx.Path())
		if shouldSkip(path) {
			next(ctx)
			return
		}

		start := time.Now()
		next(ctx)

		latency := time.Since(start)
		status := ctx.Response.StatusCode()
		fields := []any{
			"status", status,
			"method", string(ctx.Method()),
			"path", path,
			"latency", latency.String(),
			"bytes_in", len(ctx.PostBody()),
			"bytes_out", len(ctx.Response.Body()),
			"ip", ctx.RemoteIP().String(),
			"request_id", RequestID(ctx),
		}

		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400 || latency > slowThreshold:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

func shouldSkip(p string) bool {
	for _, sp := range skipPaths {
		if strings.HasPrefix(p, sp) {
			return true
		}
	}
	return false
}

// RequestID returns the id set by RequestIDMiddleware or sent by the client.
func RequestID(ctx *RequestCtx) string {
	if v, ok := ctx.UserValue("request_id").(string); ok && v != "" {
		return v
	}
	if v := ctx.Request.Header.Peek(RequestIDHeader); len(v) > 0 {
		return string(v)
	}
	return ""
}
