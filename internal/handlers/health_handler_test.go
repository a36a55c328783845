package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		svc := new(MockHealthService)
		svc.On("Check", mock.Anything).Return(nil)

		ctx := setupTestContext("GET", "/api/v1/health", nil)
		NewHealthHandler(svc).GetHealth(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Equal(t, "success", string(ctx.Response.Body()))
	})

	t.Run("dependency down", func(t *testing.T) {
		svc := new(MockHealthService)
		svc.On("Check", mock.Anything).Return(errors.New("redis: connection refused"))

		ctx := setupTestContext("GET", "/api/v1/health", nil)
		NewHealthHandler(svc).GetHealth(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), "unhealthy")
	})
}
