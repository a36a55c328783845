package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/internal/queue"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/redis"
	"github.com/nimasrn/call-billing/pkg/worker"
)

const HealthInterval = time.Second * 30
const MetricsInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// Processor handles one decoded queue job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
	GetType() string
}

// UpstreamReporter exposes per-endpoint health of the calls API client.
type UpstreamReporter interface {
	Stats() []provider.EndpointStats
}

type ServiceConfig struct {
	Queue             queue.Config
	Upstream          UpstreamReporter
	Consumers         int
	Workers           int
	BufferSize        int
	ProcessingTimeout time.Duration
}

// Service runs several queue consumers that hand their jobs to one worker
// pool and wait for the outcome, so acking follows the processor's result.
type Service struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

func NewService(adapter redis.RedisAdapter, config ServiceConfig, processor Processor) (*Service, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.Workers * 16
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   NewServiceMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(config.BufferSize, config.Workers, nil),
	}, nil
}

func (s *Service) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *Service) Start() error {
	logger.Info("[processor] starting", "type", s.processor.GetType())

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Info("[processor] worker pool stopped", "error", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		qc.ConsumerName = fmt.Sprintf("%s-instance-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, qc)
		if err != nil {
			return fmt.Errorf("failed to create queue consumer %d: %w", i, err)
		}

		if err := q.Consume(s.jobHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("[processor] started",
		"queue", s.config.Queue.Name,
		"consumers", len(s.queues),
		"workers", s.worker.Size())
	return nil
}

func (s *Service) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) reportMetrics() {
	m := s.metrics.Snapshot()
	logger.Info("[processor] metrics",
		"total_processed", m.TotalProcessed,
		"total_failed", m.TotalFailed,
		"rate_per_second", m.RatePerSecond,
		"avg_duration_ms", m.AvgDuration.Milliseconds(),
		"uptime_seconds", int64(m.Uptime.Seconds()),
		"worker_backlog", s.worker.GetUnreadCount())

	if s.config.Upstream != nil {
		for _, e := range s.config.Upstream.Stats() {
			logger.Info("[processor] provider endpoint",
				"endpoint", e.Name,
				"state", e.State,
				"score", e.Score,
				"success_rate", e.SuccessRate,
				"p95_latency_ms", e.P95LatencyMs,
				"consecutive_fails", e.ConsecutiveFails)
		}
	}

	if len(s.queues) == 0 {
		return
	}
	// consumers share one stream, so one read is enough
	if st, err := s.queues[0].Stats(context.Background()); err == nil {
		logger.Info("[processor] queue stats",
			"queue", s.config.Queue.Name,
			"total", st.TotalJobs,
			"pending", st.PendingJobs,
			"dead_letter", st.DeadLetterJobs)
	}
}

func (s *Service) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) performHealthCheck() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("[processor] health check failed: redis unreachable", "error", err)
		return
	}

	if len(s.queues) > 0 {
		st, err := s.queues[0].Stats(ctx)
		if err != nil {
			logger.Warn("[processor] health check: queue stats unavailable", "error", err)
			return
		}
		if st.PendingJobs > 1000 {
			logger.Warn("[processor] health check: queue lagging", "pending", st.PendingJobs)
		}
	}

	logger.Debug("[processor] health check ok")
}

func (s *Service) Stop() {
	logger.Info("[processor] shutting down")

	s.cancel()

	var stopWg sync.WaitGroup
	for i, q := range s.queues {
		stopWg.Add(1)
		go func(index int, q *queue.Queue) {
			defer stopWg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("[processor] consumer stop failed", "consumer", index, "error", err)
			}
		}(i, q)
	}
	stopWg.Wait()

	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("[processor] stopped")
}

type workItem struct {
	job    *queue.Job
	result chan error
	ctx    context.Context
}

// jobHandler is the queue callback: it parks the job on the worker pool and
// waits for its result.
func (s *Service) jobHandler(ctx context.Context, job *queue.Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout)
	defer cancel()

	item := &workItem{
		job:    job,
		result: make(chan error, 1),
		ctx:    jobCtx,
	}

	if !s.worker.Enqueue(item) {
		return fmt.Errorf("worker pool stopped")
	}

	select {
	case err := <-item.result:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process job: %w", jobCtx.Err())
	}
}

func (s *Service) workerHandler(workerIndex int, v interface{}) {
	item, ok := v.(*workItem)
	if !ok {
		logger.Error("[processor] invalid work item", "worker", workerIndex)
		return
	}

	select {
	case <-item.ctx.Done():
		logger.Warn("[processor] job expired before processing", "worker", workerIndex, "job_id", item.job.ID)
		return
	default:
	}

	start := time.Now()
	err := s.processor.Process(item.ctx, item.job)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Warn("[processor] job failed", "worker", workerIndex, "job_id", item.job.ID, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	// buffered, never blocks
	item.result <- err
}
