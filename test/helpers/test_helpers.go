package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/internal/repository"
	"github.com/nimasrn/call-billing/pkg/pg"
	"github.com/nimasrn/call-billing/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const TestProviderAPIKey = "test-provider-key"

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(repository.AllEntities()...)
	require.NoError(t, err)

	return pg.New(db, db)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, redis.Wrap(client, "test:")
}

func CreateTestUser(t *testing.T, db *pg.DB, id int64, verified bool) *repository.UserEntity {
	ctx := context.Background()
	user := &repository.UserEntity{
		ID:       id,
		Email:    fmt.Sprintf("user%d@example.com", id),
		Verified: verified,
	}
	err := db.Write(ctx).Create(user).Error
	require.NoError(t, err)
	return user
}

func CreateTestWallet(t *testing.T, db *pg.DB, userID int64, balanceCents int64) *repository.WalletEntity {
	ctx := context.Background()
	wallet := &repository.WalletEntity{
		UserID:       userID,
		BalanceCents: balanceCents,
	}
	err := db.Write(ctx).Create(wallet).Error
	require.NoError(t, err)
	return wallet
}

// CreateTestPhoneNumber stores number as given; callers pass E.164.
func CreateTestPhoneNumber(t *testing.T, db *pg.DB, userID int64, number string) *repository.PhoneNumberEntity {
	ctx := context.Background()
	pn := &repository.PhoneNumberEntity{
		UserID: userID,
		Number: number,
	}
	err := db.Write(ctx).Create(pn).Error
	require.NoError(t, err)
	return pn
}

func CreateTestCall(t *testing.T, db *pg.DB, userID int64, externalID string, durationSeconds int64, status model.CallStatus) *repository.CallEntity {
	ctx := context.Background()
	call := &repository.CallEntity{
		ExternalID:      externalID,
		UserID:          userID,
		ToNumber:        "+14155550100",
		FromNumber:      "+14155550199",
		DurationSeconds: durationSeconds,
		Status:          string(status),
	}
	err := db.Write(ctx).Create(call).Error
	require.NoError(t, err)
	return call
}

func GetWalletBalance(t *testing.T, db *pg.DB, userID int64) int64 {
	var w repository.WalletEntity
	err := db.Read(context.Background()).Where("user_id = ?", userID).First(&w).Error
	require.NoError(t, err)
	return w.BalanceCents
}

func CountRows(t *testing.T, db *pg.DB, entity any) int64 {
	var n int64
	err := db.Read(context.Background()).Model(entity).Count(&n).Error
	require.NoError(t, err)
	return n
}

// FakeProvider is an in-memory calls API. It pages the configured calls and
// filters them by exact to_number and from_number.
type FakeProvider struct {
	mu       sync.RWMutex
	calls    []*provider.RawCall
	failing  map[string]int
	Requests atomic.Int32
}

func NewFakeProvider(calls ...*provider.RawCall) *FakeProvider {
	return &FakeProvider{calls: calls, failing: map[string]int{}}
}

func (f *FakeProvider) SetCalls(calls ...*provider.RawCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = calls
}

// FailNumber makes every query naming number answer with status.
func (f *FakeProvider) FailNumber(number string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[number] = status
}

func (f *FakeProvider) Handler(ctx *fasthttp.RequestCtx) {
	f.Requests.Add(1)

	switch string(ctx.Path()) {
	case "/health":
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"healthy"}`)
		return
	case "/v1/calls":
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	if string(ctx.Request.Header.Peek("authorization")) != TestProviderAPIKey {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(`{"error":"unauthorized"}`)
		return
	}

	args := ctx.QueryArgs()
	limit, _ := strconv.Atoi(string(args.Peek("limit")))
	if limit <= 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(string(args.Peek("from")))
	to := string(args.Peek("to_number"))
	from := string(args.Peek("from_number"))

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, n := range []string{to, from} {
		if status, ok := f.failing[n]; ok && n != "" {
			ctx.SetStatusCode(status)
			ctx.SetBodyString(`{"error":"provider failure"}`)
			return
		}
	}

	matched := make([]*provider.RawCall, 0, len(f.calls))
	for _, c := range f.calls {
		if to != "" && c.To != to {
			continue
		}
		if from != "" && c.From != from {
			continue
		}
		matched = append(matched, c)
	}

	page := []*provider.RawCall{}
	for i := offset; i < len(matched) && len(page) < limit; i++ {
		page = append(page, matched[i])
	}

	body, _ := json.Marshal(provider.ListCallsResponse{Calls: page, TotalCount: len(matched)})
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// Client starts the fake on an in-memory listener and returns a provider
// client wired to it.
func (f *FakeProvider) Client(t *testing.T) *provider.Client {
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: f.Handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	c, err := provider.NewClient(&provider.Config{
		Endpoints:               []provider.EndpointConfig{{Name: "fake", URL: "http://provider.test", Weight: 100}},
		APIKey:                  TestProviderAPIKey,
		Timeout:                 2 * time.Second,
		MaxRetries:              1,
		RetryDelay:              time.Millisecond,
		PageSize:                4,
		MaxPages:                50,
		CircuitBreakerThreshold: 1000,
		Dial: func(addr string) (net.Conn, error) {
			return ln.Dial()
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// RawCall builds a completed provider call of durationSeconds.
func RawCall(id, to, from string, durationSeconds int64) *provider.RawCall {
	return &provider.RawCall{
		CallID:            id,
		To:                to,
		From:              from,
		CallLength:        float64(durationSeconds) / 60,
		CorrectedDuration: json.RawMessage(strconv.Quote(strconv.FormatInt(durationSeconds, 10))),
		Status:            "completed",
		Completed:         true,
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
	}
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
