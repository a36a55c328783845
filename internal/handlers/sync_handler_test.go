package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/ratelimit"
	"github.com/nimasrn/call-billing/internal/services"
	"github.com/nimasrn/call-billing/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestSyncHandler_SyncUser(t *testing.T) {
	t.Run("successful sync", func(t *testing.T) {
		svc := new(MockSyncService)
		h := NewSyncHandler(svc, nil, SyncHandlerConfig{})

		svc.On("SyncUser", mock.Anything, int64(1)).Return(&model.SyncResult{Success: true, Synced: 4, Billed: 3, Errors: []string{}}, nil)

		ctx := setupTestContext("POST", "/api/v1/calls/sync", []byte(`{"userId":1}`))
		h.SyncUser(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		body := decode[map[string]any](t, ctx)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(4), body["synced"])
		assert.Equal(t, float64(3), body["billed"])
	})

	t.Run("request context reaches the service", func(t *testing.T) {
		svc := new(MockSyncService)
		h := NewSyncHandler(svc, nil, SyncHandlerConfig{})

		svc.On("SyncUser", mock.Anything, int64(1)).
			Run(func(args mock.Arguments) {
				c := args.Get(0).(context.Context)
				assert.NotNil(t, c.Done())
				assert.NoError(t, c.Err())
			}).
			Return(&model.SyncResult{Success: true, Errors: []string{}}, nil)

		ctx := setupTestContext("POST", "/api/v1/calls/sync", []byte(`{"userId":1}`))
		assert.NotPanics(t, func() { h.SyncUser(ctx) })
		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("invalid json", func(t *testing.T) {
		h := NewSyncHandler(new(MockSyncService), nil, SyncHandlerConfig{})

		ctx := setupTestContext("POST", "/api/v1/calls/sync", []byte(`{`))
		h.SyncUser(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), "invalid JSON")
	})

	t.Run("missing user id", func(t *testing.T) {
		h := NewSyncHandler(new(MockSyncService), nil, SyncHandlerConfig{})

		ctx := setupTestContext("POST", "/api/v1/calls/sync", []byte(`{}`))
		h.SyncUser(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		body := decode[errorResponse](t, ctx)
		assert.Equal(t, "validation failed", body.Error)
		assert.Contains(t, body.Details, "userId is required")
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown user", services.ErrUserNotFound, 404},
		{"sync running", services.ErrSyncInProgress, 409},
		{"unexpected", assert.AnError, 500},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockSyncService)
			h := NewSyncHandler(svc, nil, SyncHandlerConfig{})
			svc.On("SyncUser", mock.Anything, int64(2)).Return(nil, tc.err)

			ctx := setupTestContext("POST", "/api/v1/calls/sync", []byte(`{"userId":2}`))
			h.SyncUser(ctx)

			assert.Equal(t, tc.status, ctx.Response.StatusCode())
			if tc.status == 500 {
				assert.JSONEq(t, `{"error":"internal server error"}`, string(ctx.Response.Body()))
			}
		})
	}
}

func TestSyncHandler_SyncUser_RateLimited(t *testing.T) {
	_, rdb := helpers.SetupTestRedis(t)
	limiter := ratelimit.NewLimiter(rdb, "rl")

	svc := new(MockSyncService)
	svc.On("SyncUser", mock.Anything, int64(1)).Return(&model.SyncResult{Success: true}, nil)

	h := NewSyncHandler(svc, limiter, SyncHandlerConfig{UserLimit: 2, UserWindow: time.Minute})

	for i := 0; i < 2; i++ {
		ctx := setupTestContext("POST", "/api/v1/calls/sync", []byte(`{"userId":1}`))
		h.SyncUser(ctx)
		assert.Equal(t, 200, ctx.Response.StatusCode())
	}

	ctx := setupTestContext("POST", "/api/v1/calls/sync", []byte(`{"userId":1}`))
	h.SyncUser(ctx)
	assert.Equal(t, 429, ctx.Response.StatusCode())
	assert.NotEmpty(t, string(ctx.Response.Header.Peek("Retry-After")))

	// other users have their own window
	ctx = setupTestContext("POST", "/api/v1/calls/sync", []byte(`{"userId":2}`))
	svc.On("SyncUser", mock.Anything, int64(2)).Return(&model.SyncResult{Success: true}, nil)
	h.SyncUser(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())

	svc.AssertNumberOfCalls(t, "SyncUser", 3)
}

func TestSyncHandler_ScheduledSync(t *testing.T) {
	result := &model.ScheduledSyncResult{TotalUsers: 2, TotalCallsSynced: 5, SuccessfulUsers: 2, Errors: []model.UserSyncError{}}

	t.Run("valid secret", func(t *testing.T) {
		svc := new(MockSyncService)
		svc.On("SyncAll", mock.Anything).Return(result, nil)
		h := NewSyncHandler(svc, nil, SyncHandlerConfig{CronSecret: "s3cret"})

		ctx := setupTestContext("GET", "/api/v1/calls/sync/scheduled", nil)
		ctx.Request.Header.Set("Authorization", "Bearer s3cret")
		h.ScheduledSync(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		body := decode[map[string]any](t, ctx)
		assert.Equal(t, float64(2), body["totalUsers"])
		assert.Equal(t, float64(5), body["totalCallsSynced"])
	})

	t.Run("wrong or missing secret", func(t *testing.T) {
		svc := new(MockSyncService)
		h := NewSyncHandler(svc, nil, SyncHandlerConfig{CronSecret: "s3cret"})

		for _, header := range []string{"", "Bearer nope", "s3cret"} {
			ctx := setupTestContext("GET", "/api/v1/calls/sync/scheduled", nil)
			if header != "" {
				ctx.Request.Header.Set("Authorization", header)
			}
			h.ScheduledSync(ctx)
			assert.Equal(t, 401, ctx.Response.StatusCode(), header)
		}
		svc.AssertNotCalled(t, "SyncAll", mock.Anything)
	})

	t.Run("no secret configured", func(t *testing.T) {
		svc := new(MockSyncService)
		svc.On("SyncAll", mock.Anything).Return(result, nil)
		h := NewSyncHandler(svc, nil, SyncHandlerConfig{})

		ctx := setupTestContext("GET", "/api/v1/calls/sync/scheduled", nil)
		h.ScheduledSync(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
	})
}
