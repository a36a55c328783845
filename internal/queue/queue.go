package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/prom"
	"github.com/nimasrn/call-billing/pkg/redis"
)

// Job is one stream entry handed to a Handler.
type Job struct {
	ID         string
	Data       []byte
	Metadata   map[string]string
	EnqueuedAt time.Time
	// Attempts counts earlier deliveries that were not acknowledged.
	Attempts int
}

// Handler processes a job. A nil return acks it; an error leaves it pending
// so it is reclaimed after the visibility timeout.
type Handler func(ctx context.Context, job *Job) error

type Config struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

type Queue struct {
	adapter redis.RedisAdapter
	config  Config
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running map[string]struct{}
}

type Stats struct {
	TotalJobs      int64
	PendingJobs    int64
	DeadLetterJobs int64
	ConsumerCount  int64
}

func NewQueue(adapter redis.RedisAdapter, config Config) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]struct{}),
	}

	err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0")
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		cancel()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) DeadLetterName() string {
	return q.config.Name + ":dlq"
}

// Enqueue appends a job to the stream.
func (q *Queue) Enqueue(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			logger.Warn("[queue] trim failed", "queue", q.config.Name, "error", err)
		}
	}

	return id, nil
}

func (q *Queue) EnqueueJSON(ctx context.Context, v interface{}, metadata map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	return q.Enqueue(ctx, data, metadata)
}

// Consume starts the poll loop in the background.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}

	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.readNew()
			q.reclaimStale()
		}
	}
}

func (q *Queue) readNew() {
	messages, err := q.adapter.XReadGroup(q.ctx,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
	)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			logger.Error("[queue] read failed", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, m := range messages {
		q.handle(toJob(m, 0))
	}
}

// reclaimStale takes over jobs whose consumer has not acked them within the
// visibility timeout, including our own failed ones.
func (q *Queue) reclaimStale() {
	pending, err := q.adapter.XPendingExt(q.ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pending) == 0 {
		return
	}

	deliveries := make(map[string]int64, len(pending))
	var ids []string
	q.mu.RLock()
	for _, p := range pending {
		if _, busy := q.running[p.ID]; busy {
			continue
		}
		if p.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	q.mu.RUnlock()

	if len(ids) == 0 {
		return
	}

	claimed, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		logger.Warn("[queue] claim failed", "queue", q.config.Name, "error", err)
		return
	}

	for _, m := range claimed {
		q.handle(toJob(m, int(deliveries[m.ID])))
	}
}

func (q *Queue) handle(job *Job) {
	q.mu.Lock()
	q.running[job.ID] = struct{}{}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, job.ID)
		q.mu.Unlock()
	}()

	if job.Attempts >= q.config.MaxRetries {
		q.deadLetter(job)
		q.ack(job.ID)
		prom.IncQueueJob("dead_lettered")
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, job); err != nil {
		prom.IncQueueJob("failed")
		logger.Warn("[queue] job failed", "queue", q.config.Name, "job_id", job.ID, "attempts", job.Attempts, "error", err)
		return
	}

	q.ack(job.ID)
	prom.IncQueueJob("acked")
}

func (q *Queue) ack(id string) {
	if err := q.adapter.XAck(context.WithoutCancel(q.ctx), q.config.Name, q.config.ConsumerGroup, id); err != nil {
		logger.Error("[queue] ack failed", "queue", q.config.Name, "job_id", id, "error", err)
	}
}

func (q *Queue) deadLetter(job *Job) {
	if !q.config.EnableDLQ {
		logger.Warn("[queue] dropping job after max retries", "queue", q.config.Name, "job_id", job.ID)
		return
	}

	values := map[string]interface{}{
		"data":           string(job.Data),
		"original_id":    job.ID,
		"attempts":       job.Attempts,
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"original_queue": q.config.Name,
	}
	for k, v := range job.Metadata {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(context.WithoutCancel(q.ctx), q.DeadLetterName(), values); err != nil {
		logger.Error("[queue] dead letter failed", "queue", q.config.Name, "job_id", job.ID, "error", err)
		return
	}
	logger.Warn("[queue] job moved to dead letter queue", "queue", q.config.Name, "job_id", job.ID, "attempts", job.Attempts)
}

func toJob(m redis.StreamMessage, attempts int) *Job {
	job := &Job{
		ID:       m.ID,
		Metadata: make(map[string]string),
		Attempts: attempts,
	}

	for k, v := range m.Values {
		s, _ := v.(string)
		switch {
		case k == "data":
			job.Data = []byte(s)
		case k == "timestamp":
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				job.EnqueuedAt = t
			}
		case strings.HasPrefix(k, "meta_"):
			job.Metadata[k[len("meta_"):]] = s
		}
	}

	if job.EnqueuedAt.IsZero() {
		// the stream id starts with the insertion time in milliseconds
		if ms, err := strconv.ParseInt(strings.SplitN(m.ID, "-", 2)[0], 10, 64); err == nil {
			job.EnqueuedAt = time.UnixMilli(ms).UTC()
		}
	}

	return job
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalJobs: total}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingJobs = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if dlq, err := q.adapter.XLen(ctx, q.DeadLetterName()); err == nil {
		stats.DeadLetterJobs = dlq
	}

	return stats, nil
}
