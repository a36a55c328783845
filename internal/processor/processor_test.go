package processor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/internal/queue"
	"github.com/nimasrn/call-billing/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUserSyncer struct {
	mock.Mock
}

func (m *MockUserSyncer) SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncResult), args.Error(1)
}

func syncJob(t *testing.T, runID string, userID int64) *queue.Job {
	data, err := json.Marshal(model.SyncJob{RunID: runID, UserID: userID, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	return &queue.Job{ID: "1-0", Data: data}
}

func newTestSyncProcessor(t *testing.T) (*SyncJobProcessor, *MockUserSyncer, *IdempotencyService) {
	_, rdb := setupTestRedis(t)
	idem := NewIdempotencyService(rdb, testIdempotencyConfig())
	syncer := new(MockUserSyncer)
	return NewSyncJobProcessor(syncer, idem), syncer, idem
}

func TestSyncJobProcessor_Success(t *testing.T) {
	p, syncer, idem := newTestSyncProcessor(t)
	ctx := context.Background()

	syncer.On("SyncUser", ctx, int64(5)).Return(&model.SyncResult{Success: true, Synced: 3, Billed: 2}, nil).Once()

	require.NoError(t, p.Process(ctx, syncJob(t, "run-a", 5)))

	done, err := idem.IsProcessed(ctx, SyncJobKey("run-a", 5))
	require.NoError(t, err)
	assert.True(t, done)

	// redelivery of the same run is acked without syncing again
	require.NoError(t, p.Process(ctx, syncJob(t, "run-a", 5)))
	syncer.AssertNumberOfCalls(t, "SyncUser", 1)
}

func TestSyncJobProcessor_FailureIsRetried(t *testing.T) {
	p, syncer, idem := newTestSyncProcessor(t)
	ctx := context.Background()

	syncer.On("SyncUser", ctx, int64(6)).Return(nil, assert.AnError).Once()
	syncer.On("SyncUser", ctx, int64(6)).Return(&model.SyncResult{Success: true}, nil).Once()

	assert.Error(t, p.Process(ctx, syncJob(t, "run-b", 6)))

	n, err := idem.RetryCount(ctx, SyncJobKey("run-b", 6))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, p.Process(ctx, syncJob(t, "run-b", 6)))
	syncer.AssertExpectations(t)
}

func TestSyncJobProcessor_SyncInProgressKeepsRetryBudget(t *testing.T) {
	p, syncer, idem := newTestSyncProcessor(t)
	ctx := context.Background()

	syncer.On("SyncUser", ctx, int64(7)).Return(nil, services.ErrSyncInProgress)

	err := p.Process(ctx, syncJob(t, "run-c", 7))
	assert.ErrorIs(t, err, services.ErrSyncInProgress)

	n, err := idem.RetryCount(ctx, SyncJobKey("run-c", 7))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSyncJobProcessor_UnknownUserIsAcked(t *testing.T) {
	p, syncer, _ := newTestSyncProcessor(t)
	ctx := context.Background()

	syncer.On("SyncUser", ctx, int64(8)).Return(nil, services.ErrUserNotFound)

	assert.NoError(t, p.Process(ctx, syncJob(t, "run-d", 8)))
}

func TestSyncJobProcessor_RecordsOutcomeAfterJobDeadline(t *testing.T) {
	p, syncer, idem := newTestSyncProcessor(t)

	t.Run("done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		syncer.On("SyncUser", mock.Anything, int64(10)).
			Run(func(mock.Arguments) { cancel() }).
			Return(&model.SyncResult{Success: true}, nil).Once()

		require.NoError(t, p.Process(ctx, syncJob(t, "run-f", 10)))

		done, err := idem.IsProcessed(context.Background(), SyncJobKey("run-f", 10))
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("failed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		syncer.On("SyncUser", mock.Anything, int64(11)).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, context.Canceled).Once()

		assert.ErrorIs(t, p.Process(ctx, syncJob(t, "run-g", 11)), context.Canceled)

		n, err := idem.RetryCount(context.Background(), SyncJobKey("run-g", 11))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestSyncJobProcessor_MalformedJobIsAcked(t *testing.T) {
	p, syncer, _ := newTestSyncProcessor(t)

	assert.NoError(t, p.Process(context.Background(), &queue.Job{ID: "1-0", Data: []byte("{not json")}))
	assert.NoError(t, p.Process(context.Background(), &queue.Job{ID: "2-0", Data: []byte(`{"userId":0}`)}))
	syncer.AssertNotCalled(t, "SyncUser", mock.Anything, mock.Anything)
}

func TestSyncJobProcessor_MaxRetriesExceededIsAcked(t *testing.T) {
	p, syncer, idem := newTestSyncProcessor(t)
	ctx := context.Background()
	key := SyncJobKey("run-e", 9)

	for i := 0; i < 3; i++ {
		lease, err := idem.Acquire(ctx, key)
		require.NoError(t, err)
		require.NoError(t, idem.MarkFailed(ctx, lease, assert.AnError))
	}

	assert.NoError(t, p.Process(ctx, syncJob(t, "run-e", 9)))
	syncer.AssertNotCalled(t, "SyncUser", mock.Anything, mock.Anything)
}

type countingProcessor struct {
	processed atomic.Int32
}

func (c *countingProcessor) GetType() string { return "counting" }

func (c *countingProcessor) Process(ctx context.Context, job *queue.Job) error {
	c.processed.Add(1)
	return nil
}

func TestService_ProcessesJobsThroughWorkerPool(t *testing.T) {
	_, rdb := setupTestRedis(t)
	proc := &countingProcessor{}

	qc := queue.Config{
		Name:              "sync-jobs",
		ConsumerGroup:     "sync-processors",
		ConsumerName:      "test",
		MaxRetries:        3,
		VisibilityTimeout: 100 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		EnableDLQ:         true,
	}

	svc, err := NewService(rdb, ServiceConfig{
		Queue:             qc,
		Consumers:         2,
		Workers:           3,
		ProcessingTimeout: time.Second,
	}, proc)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	producer, err := queue.NewQueue(rdb, qc)
	require.NoError(t, err)
	defer producer.Stop(time.Second)

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		_, err := producer.EnqueueJSON(ctx, model.SyncJob{RunID: "r", UserID: i}, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return proc.processed.Load() == 5 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(5), svc.Metrics().Snapshot().TotalProcessed)
}

func TestService_RequiresProcessor(t *testing.T) {
	_, rdb := setupTestRedis(t)
	_, err := NewService(rdb, ServiceConfig{}, nil)
	assert.Error(t, err)
}

type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) Stats() []provider.EndpointStats {
	return m.Called().Get(0).([]provider.EndpointStats)
}

func TestService_ReportsUpstreamEndpoints(t *testing.T) {
	_, rdb := setupTestRedis(t)
	proc, _, _ := newTestSyncProcessor(t)
	upstream := new(MockUpstream)
	upstream.On("Stats").Return([]provider.EndpointStats{
		{Name: "primary", State: "healthy", SuccessRate: 1},
		{Name: "backup", State: "circuit_open", ConsecutiveFails: 5},
	}).Once()

	svc, err := NewService(rdb, ServiceConfig{Upstream: upstream}, proc)
	require.NoError(t, err)

	svc.reportMetrics()
	upstream.AssertExpectations(t)
}

func TestServiceMetrics(t *testing.T) {
	m := NewServiceMetrics()
	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)
	m.RecordFailure()

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.TotalProcessed)
	assert.Equal(t, int64(1), s.TotalFailed)
	assert.Equal(t, 20*time.Millisecond, s.AvgDuration)

	m.Reset()
	assert.Equal(t, int64(0), m.Snapshot().TotalProcessed)
}
