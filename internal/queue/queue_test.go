package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, redis.Wrap(client, "")
}

func testConfig(name string) Config {
	return Config{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestQueue_EnqueueAndConsume(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:sync-jobs"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	job := model.SyncJob{RunID: "run-1", UserID: 7, EnqueuedAt: time.Now().UTC()}
	_, err = q.EnqueueJSON(ctx, job, map[string]string{"type": "sync"})
	require.NoError(t, err)

	received := make(chan *Job, 1)
	err = q.Consume(func(ctx context.Context, j *Job) error {
		received <- j
		return nil
	})
	require.NoError(t, err)

	select {
	case j := <-received:
		var got model.SyncJob
		require.NoError(t, json.Unmarshal(j.Data, &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, int64(7), got.UserID)
		assert.Equal(t, "sync", j.Metadata["type"])
		assert.Equal(t, 0, j.Attempts)
		assert.False(t, j.EnqueuedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for job")
	}

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.PendingJobs == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQueue_ConsumeRequiresHandler(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:nil-handler"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	assert.Error(t, q.Consume(nil))
}

func TestQueue_FailedJobIsRetried(t *testing.T) {
	_, adapter := setupTestRedis(t)

	cfg := testConfig("test:retry")
	cfg.VisibilityTimeout = 50 * time.Millisecond
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer q.Stop(time.Second)

	_, err = q.EnqueueJSON(context.Background(), model.SyncJob{RunID: "r", UserID: 1}, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	err = q.Consume(func(ctx context.Context, j *Job) error {
		if calls.Add(1) == 1 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.PendingJobs == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQueue_DeadLetterAfterMaxRetries(t *testing.T) {
	_, adapter := setupTestRedis(t)

	cfg := testConfig("test:dlq")
	cfg.MaxRetries = 2
	cfg.VisibilityTimeout = 30 * time.Millisecond
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer q.Stop(time.Second)

	_, err = q.Enqueue(context.Background(), []byte(`{"userId":1}`), map[string]string{"run": "r1"})
	require.NoError(t, err)

	err = q.Consume(func(ctx context.Context, j *Job) error {
		return assert.AnError
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.DeadLetterJobs == 1 && stats.PendingJobs == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:concurrent"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := q.EnqueueJSON(ctx, model.SyncJob{RunID: "r", UserID: id}, nil)
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalJobs)
}

func TestQueue_ExistingGroup(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q1, err := NewQueue(adapter, testConfig("test:shared"))
	require.NoError(t, err)
	defer q1.Stop(time.Second)

	q2, err := NewQueue(adapter, testConfig("test:shared"))
	require.NoError(t, err)
	defer q2.Stop(time.Second)
}

func TestQueue_Stop(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:stop"))
	require.NoError(t, err)

	err = q.Consume(func(ctx context.Context, j *Job) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	assert.NoError(t, q.Stop(2*time.Second))
}
