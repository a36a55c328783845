package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/call-billing/internal/app"
	"github.com/nimasrn/call-billing/internal/config"
	"github.com/nimasrn/call-billing/internal/handlers"
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/processor"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/internal/queue"
	"github.com/nimasrn/call-billing/internal/ratelimit"
	"github.com/nimasrn/call-billing/internal/repository"
	"github.com/nimasrn/call-billing/internal/scheduler"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
	"github.com/nimasrn/call-billing/pkg/pg"
	"github.com/nimasrn/call-billing/pkg/redis"
	"github.com/nimasrn/call-billing/test/fixtures"
	"github.com/nimasrn/call-billing/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const cronSecret = "e2e-secret"

type TestEnvironment struct {
	DB       *pg.DB
	Redis    redis.RedisAdapter
	Provider *helpers.FakeProvider
	Services *app.Services
	Handler  xhttp.RequestHandler
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	db := helpers.SetupTestDB(t)
	_, rdb := helpers.SetupTestRedis(t)
	fake := helpers.NewFakeProvider()

	cfg := &config.Config{
		BillingRatePerMinute: "0.11",
		BillingBatchSize:     500,
		PhoneDefaultRegion:   "US",
		SyncLockTTL:          time.Minute,
	}
	svc, err := app.BuildServices(cfg, db, rdb, fake.Client(t))
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(rdb, "ratelimit")
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(ratelimit.Middleware(limiter, "api", 1000, time.Minute))

	g := s.Router.Group("/api/v1")
	handlers.RegisterSyncRoutes(g, handlers.NewSyncHandler(svc.Sync, limiter, handlers.SyncHandlerConfig{
		CronSecret: cronSecret,
		UserLimit:  100,
		UserWindow: time.Minute,
	}))
	handlers.RegisterBillingRoutes(g, handlers.NewBillingHandler(svc.Billing))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(svc.Health))

	return &TestEnvironment{
		DB:       db,
		Redis:    rdb,
		Provider: fake,
		Services: svc,
		Handler:  s.Handler(),
	}
}

func (e *TestEnvironment) do(method, uri, body string, headers ...string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	e.Handler(ctx)
	return ctx
}

func (e *TestEnvironment) syncUser(t *testing.T, userID int64) model.SyncResult {
	t.Helper()
	ctx := e.do("POST", "/api/v1/calls/sync", fmt.Sprintf(`{"userId":%d}`, userID))
	require.Equal(t, 200, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var res model.SyncResult
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
	return res
}

func (e *TestEnvironment) stats(t *testing.T, userID int64) model.BillingStats {
	t.Helper()
	ctx := e.do("GET", fmt.Sprintf("/api/v1/billing?userId=%d", userID), "")
	require.Equal(t, 200, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var stats model.BillingStats
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &stats))
	return stats
}

func (e *TestEnvironment) unbilledCalls(t *testing.T, userID int64) int64 {
	t.Helper()
	var n int64
	err := e.DB.Read(context.Background()).
		Model(&repository.CallEntity{}).
		Where("user_id = ? AND cost_cents IS NULL", userID).
		Count(&n).Error
	require.NoError(t, err)
	return n
}

func TestE2E_SyncPersistsAndBills(t *testing.T) {
	env := setupE2EEnvironment(t)
	fixtures.Seed(t, env.DB, fixtures.Alice)

	env.Provider.SetCalls(
		fixtures.Inbound("c-125", fixtures.NumberAlice, 125),
		fixtures.Outbound("c-30", fixtures.NumberAlice2, 30),
		fixtures.Missed("c-missed", fixtures.NumberAlice),
		fixtures.Unrelated("c-other", 300),
	)

	res := env.syncUser(t, fixtures.Alice.ID)
	assert.True(t, res.Success, res.Errors)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, 2, res.Billed)

	// 125s is three started minutes (33 cents), 30s is one (11 cents)
	assert.Equal(t, int64(1000-33-11), helpers.GetWalletBalance(t, env.DB, fixtures.Alice.ID))

	stats := env.stats(t, fixtures.Alice.ID)
	assert.Equal(t, "9.56", stats.Balance)
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.BilledCalls)
	assert.Equal(t, int64(44), stats.TotalBilledCents)
	assert.Len(t, stats.RecentTransactions, 2)
	for _, tx := range stats.RecentTransactions {
		assert.Equal(t, model.WalletTransactionDebit, tx.Type)
		assert.Negative(t, tx.AmountCents)
	}
}

func TestE2E_InsufficientFundsLeavesCallPending(t *testing.T) {
	env := setupE2EEnvironment(t)
	fixtures.Seed(t, env.DB, fixtures.Bob)

	env.Provider.SetCalls(fixtures.Inbound("c-600", fixtures.NumberBob, 600))

	res := env.syncUser(t, fixtures.Bob.ID)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Zero(t, res.Billed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "insufficient funds")

	assert.Equal(t, int64(50), helpers.GetWalletBalance(t, env.DB, fixtures.Bob.ID))
	assert.Equal(t, int64(1), env.unbilledCalls(t, fixtures.Bob.ID))
	assert.Zero(t, helpers.CountRows(t, env.DB, &repository.WalletTransactionEntity{}))

	// a top-up followed by the pending sweep settles the call
	ctx := env.do("POST", "/api/v1/billing", `{"action":"topup","userId":2,"amountCents":100,"reference":"card-1"}`)
	require.Equal(t, 200, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	// replaying the reference is refused and leaves the balance alone
	ctx = env.do("POST", "/api/v1/billing", `{"action":"topup","userId":2,"amountCents":100,"reference":"card-1"}`)
	require.Equal(t, 409, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	assert.Equal(t, int64(150), helpers.GetWalletBalance(t, env.DB, fixtures.Bob.ID))

	ctx = env.do("POST", "/api/v1/billing", `{"action":"process_pending","userId":2}`)
	require.Equal(t, 200, ctx.Response.StatusCode())
	var summary model.BillingSummary
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &summary))
	assert.Equal(t, 1, summary.Billed)
	assert.Equal(t, int64(110), summary.TotalBilledCents)

	assert.Equal(t, int64(150-110), helpers.GetWalletBalance(t, env.DB, fixtures.Bob.ID))
	assert.Zero(t, env.unbilledCalls(t, fixtures.Bob.ID))
}

func TestE2E_LedgerRowMatchesDebit(t *testing.T) {
	env := setupE2EEnvironment(t)
	fixtures.Seed(t, env.DB, fixtures.Carol)

	env.Provider.SetCalls(fixtures.Inbound("c-61", fixtures.NumberCarol, 61))

	res := env.syncUser(t, fixtures.Carol.ID)
	require.True(t, res.Success, res.Errors)

	assert.Equal(t, int64(178), helpers.GetWalletBalance(t, env.DB, fixtures.Carol.ID))

	var rows []repository.WalletTransactionEntity
	require.NoError(t, env.DB.Read(context.Background()).Where("user_id = ?", fixtures.Carol.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(-22), rows[0].AmountCents)
	assert.Equal(t, int64(178), rows[0].BalanceAfterCents)
	assert.Equal(t, "c-61", rows[0].ExternalCallID)
}

func TestE2E_RepeatedSyncIsIdempotent(t *testing.T) {
	env := setupE2EEnvironment(t)
	fixtures.Seed(t, env.DB, fixtures.Alice)

	var calls []*provider.RawCall
	for i := 0; i < 10; i++ {
		calls = append(calls, fixtures.Inbound(fmt.Sprintf("c-%d", i), fixtures.NumberAlice, 60))
	}
	env.Provider.SetCalls(calls...)

	first := env.syncUser(t, fixtures.Alice.ID)
	require.True(t, first.Success, first.Errors)
	assert.Equal(t, 10, first.Billed)

	second := env.syncUser(t, fixtures.Alice.ID)
	require.True(t, second.Success, second.Errors)
	assert.Equal(t, 10, second.Synced)
	assert.Zero(t, second.Billed)

	assert.Equal(t, int64(10), helpers.CountRows(t, env.DB, &repository.CallEntity{}))
	assert.Equal(t, int64(10), helpers.CountRows(t, env.DB, &repository.WalletTransactionEntity{}))
	assert.Equal(t, int64(1000-110), helpers.GetWalletBalance(t, env.DB, fixtures.Alice.ID))
}

func TestE2E_ScheduledSyncRequiresSecret(t *testing.T) {
	env := setupE2EEnvironment(t)
	fixtures.Seed(t, env.DB, fixtures.Alice, fixtures.Carol, fixtures.Dave)
	env.Provider.SetCalls(
		fixtures.Inbound("a-1", fixtures.NumberAlice, 60),
		fixtures.Inbound("c-1", fixtures.NumberCarol, 60),
		fixtures.Inbound("d-1", fixtures.NumberDave, 60),
	)

	ctx := env.do("GET", "/api/v1/calls/sync/scheduled", "")
	assert.Equal(t, 401, ctx.Response.StatusCode())

	ctx = env.do("GET", "/api/v1/calls/sync/scheduled", "", "Authorization", "Bearer "+cronSecret)
	require.Equal(t, 200, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var res model.ScheduledSyncResult
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
	assert.Equal(t, 2, res.TotalUsers)
	assert.Equal(t, 2, res.SuccessfulUsers)
	assert.Equal(t, 2, res.TotalCallsSynced)

	// unverified users are left alone
	assert.Equal(t, int64(500), helpers.GetWalletBalance(t, env.DB, fixtures.Dave.ID))
}

func TestE2E_QueuedSyncJobs(t *testing.T) {
	env := setupE2EEnvironment(t)
	fixtures.Seed(t, env.DB, fixtures.Alice, fixtures.Carol)
	env.Provider.SetCalls(
		fixtures.Inbound("a-1", fixtures.NumberAlice, 125),
		fixtures.Inbound("c-1", fixtures.NumberCarol, 61),
	)

	queueConf := queue.Config{
		Name:              "sync-jobs",
		ConsumerGroup:     "sync-processors",
		ConsumerName:      "e2e",
		MaxRetries:        3,
		VisibilityTimeout: time.Minute,
		PollInterval:      10 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
	q, err := queue.NewQueue(env.Redis, queueConf)
	require.NoError(t, err)

	idem := processor.NewIdempotencyService(env.Redis, processor.DefaultIdempotencyConfig())
	service, err := processor.NewService(env.Redis, processor.ServiceConfig{
		Queue:             queueConf,
		Consumers:         1,
		Workers:           1,
		BufferSize:        8,
		ProcessingTimeout: 10 * time.Second,
	}, processor.NewSyncJobProcessor(env.Services.Sync, idem))
	require.NoError(t, err)
	require.NoError(t, service.Start())
	defer service.Stop()

	jobs := scheduler.NewJobs(env.Services.Users, q, env.Services.Billing, time.Minute)
	runID, n, err := jobs.EnqueueSyncJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	helpers.AssertEventually(t, 5*time.Second, func() bool {
		return helpers.GetWalletBalance(t, env.DB, fixtures.Alice.ID) == 1000-33 &&
			helpers.GetWalletBalance(t, env.DB, fixtures.Carol.ID) == 178
	}, "queued sync jobs were not processed")

	helpers.AssertEventually(t, 5*time.Second, func() bool {
		for _, id := range []int64{fixtures.Alice.ID, fixtures.Carol.ID} {
			done, err := idem.IsProcessed(context.Background(), processor.SyncJobKey(runID, id))
			if err != nil || !done {
				return false
			}
		}
		return true
	}, "sync jobs were not marked processed")
}

func TestE2E_Health(t *testing.T) {
	env := setupE2EEnvironment(t)

	ctx := env.do("GET", "/api/v1/health", "")
	assert.Equal(t, 200, ctx.Response.StatusCode())
	assert.NotEmpty(t, ctx.Response.Header.Peek(xhttp.RequestIDHeader))
}
