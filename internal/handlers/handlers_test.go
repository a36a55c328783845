package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nimasrn/call-billing/internal/model"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncResult), args.Error(1)
}

func (m *MockSyncService) SyncAll(ctx context.Context) (*model.ScheduledSyncResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScheduledSyncResult), args.Error(1)
}

type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) ProcessPendingBills(ctx context.Context, userID *int64) (*model.BillingSummary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BillingSummary), args.Error(1)
}

func (m *MockBillingService) BillCall(ctx context.Context, callID int64) (*model.BillingResult, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BillingResult), args.Error(1)
}

func (m *MockBillingService) Credit(ctx context.Context, userID int64, amountCents int64, reference string) (*model.WalletTransaction, error) {
	args := m.Called(ctx, userID, amountCents, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WalletTransaction), args.Error(1)
}

func (m *MockBillingService) Stats(ctx context.Context, userID int64) (*model.BillingStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BillingStats), args.Error(1)
}

type MockHealthService struct {
	mock.Mock
}

func (m *MockHealthService) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// setupTestContext builds a request context bound to fasthttp's fake
// server, so it also works as a context.Context.
func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	if body != nil {
		req.SetBody(body)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func decode[T any](t *testing.T, ctx *xhttp.RequestCtx) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &v))
	return v
}
