package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/pkg/logger"
)

type VerifiedUserLister interface {
	ListVerified(ctx context.Context) ([]*model.User, error)
}

type JobEnqueuer interface {
	EnqueueJSON(ctx context.Context, v interface{}, metadata map[string]string) (string, error)
}

type PendingBiller interface {
	ProcessPendingBills(ctx context.Context, userID *int64) (*model.BillingSummary, error)
}

// Jobs holds the work the cron entries run.
type Jobs struct {
	users   VerifiedUserLister
	queue   JobEnqueuer
	billing PendingBiller
	timeout time.Duration
	now     func() time.Time
}

func NewJobs(users VerifiedUserLister, queue JobEnqueuer, billing PendingBiller, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Jobs{
		users:   users,
		queue:   queue,
		billing: billing,
		timeout: timeout,
		now:     time.Now,
	}
}

// EnqueueSyncJobs publishes one sync job per verified user, all sharing a
// fresh run id. It returns the run id and the number of jobs enqueued.
func (j *Jobs) EnqueueSyncJobs(ctx context.Context) (string, int, error) {
	users, err := j.users.ListVerified(ctx)
	if err != nil {
		return "", 0, err
	}

	runID := uuid.NewString()
	enqueued := 0
	for _, u := range users {
		job := model.SyncJob{
			RunID:      runID,
			UserID:     u.ID,
			EnqueuedAt: j.now().UTC(),
		}
		if _, err := j.queue.EnqueueJSON(ctx, job, map[string]string{"run_id": runID}); err != nil {
			logger.Error("[scheduler] failed to enqueue sync job", "run_id", runID, "user_id", u.ID, "error", err)
			continue
		}
		enqueued++
	}

	logger.Info("[scheduler] sync jobs enqueued", "run_id", runID, "users", len(users), "enqueued", enqueued)
	return runID, enqueued, nil
}

// SweepPendingBills bills every persisted call that still has no cost.
func (j *Jobs) SweepPendingBills(ctx context.Context) (*model.BillingSummary, error) {
	summary, err := j.billing.ProcessPendingBills(ctx, nil)
	if err != nil {
		return nil, err
	}
	logger.Info("[scheduler] pending bills swept",
		"processed", summary.Processed,
		"billed", summary.Billed,
		"failed", summary.Failed,
		"total_cents", summary.TotalBilledCents)
	return summary, nil
}

func (j *Jobs) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, _, err := j.EnqueueSyncJobs(ctx); err != nil {
		logger.Error("[scheduler] sync run failed", "error", err)
	}
}

func (j *Jobs) runBilling() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, err := j.SweepPendingBills(ctx); err != nil {
		logger.Error("[scheduler] billing sweep failed", "error", err)
	}
}
