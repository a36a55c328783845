package handlers

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/ratelimit"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
	"github.com/nimasrn/call-billing/pkg/logger"
)

type SyncService interface {
	SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error)
	SyncAll(ctx context.Context) (*model.ScheduledSyncResult, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (ratelimit.Decision, error)
}

type SyncHandlerConfig struct {
	CronSecret string
	UserLimit  int
	UserWindow time.Duration
}

type SyncHandler struct {
	svc     SyncService
	limiter RateLimiter
	config  SyncHandlerConfig
}

func RegisterSyncRoutes(e *router.Group, h *SyncHandler) {
	e.POST("/calls/sync", h.SyncUser)
	e.GET("/calls/sync/scheduled", h.ScheduledSync)
}

func NewSyncHandler(svc SyncService, limiter RateLimiter, config SyncHandlerConfig) *SyncHandler {
	return &SyncHandler{
		svc:     svc,
		limiter: limiter,
		config:  config,
	}
}

type syncRequest struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

func (h *SyncHandler) SyncUser(ctx *xhttp.RequestCtx) {
	var req syncRequest
	if !bind(ctx, &req) {
		return
	}

	if h.limiter != nil && h.config.UserLimit > 0 {
		d, err := h.limiter.Allow(ctx, "sync", strconv.FormatInt(req.UserID, 10), h.config.UserLimit, h.config.UserWindow)
		if err != nil {
			logger.Warn("[handlers] sync rate limiter unavailable", "error", err)
		}
		if !d.Allowed {
			ratelimit.Reject(ctx, d)
			return
		}
	}

	res, err := h.svc.SyncUser(ctx, req.UserID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

// ScheduledSync is the cron entry point. When a secret is configured the
// caller must present it as a bearer token.
func (h *SyncHandler) ScheduledSync(ctx *xhttp.RequestCtx) {
	if !h.authorizedCron(ctx) {
		writeError(ctx, xhttp.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.svc.SyncAll(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *SyncHandler) authorizedCron(ctx *xhttp.RequestCtx) bool {
	if h.config.CronSecret == "" {
		return true
	}
	auth := string(ctx.Request.Header.Peek("Authorization"))
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.config.CronSecret)) == 1
}
