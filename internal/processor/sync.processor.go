package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/queue"
	"github.com/nimasrn/call-billing/internal/services"
	"github.com/nimasrn/call-billing/pkg/logger"
)

type UserSyncer interface {
	SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error)
}

type SyncJobProcessor struct {
	syncer      UserSyncer
	idempotency *IdempotencyService
}

func NewSyncJobProcessor(syncer UserSyncer, idempotency *IdempotencyService) *SyncJobProcessor {
	return &SyncJobProcessor{
		syncer:      syncer,
		idempotency: idempotency,
	}
}

func (p *SyncJobProcessor) GetType() string {
	return "sync"
}

// Process runs one user's sync. A nil return acks the job; an error leaves
// it on the stream for a later attempt.
func (p *SyncJobProcessor) Process(ctx context.Context, job *queue.Job) error {
	var sj model.SyncJob
	if err := json.Unmarshal(job.Data, &sj); err != nil || sj.UserID <= 0 {
		// a malformed job never succeeds; ack it
		logger.Error("[processor] dropping malformed sync job", "job_id", job.ID, "error", err)
		return nil
	}
	if sj.RunID == "" {
		sj.RunID = job.ID
	}

	key := SyncJobKey(sj.RunID, sj.UserID)

	lease, err := p.idempotency.Acquire(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			logger.Info("[processor] sync already done for run", "key", key)
			return nil
		case errors.Is(err, ErrMaxRetriesExceeded):
			logger.Error("[processor] giving up on sync job", "key", key, "error", err)
			return nil
		case errors.Is(err, ErrLockAcquireFailed):
			return fmt.Errorf("sync job %s is running elsewhere: %w", key, err)
		default:
			return err
		}
	}
	defer func() {
		if err := p.idempotency.Release(context.WithoutCancel(ctx), lease); err != nil {
			logger.Warn("[processor] lease release failed", "key", key, "error", err)
		}
	}()

	res, err := p.syncer.SyncUser(ctx, sj.UserID)

	// outcomes are recorded even when the job deadline has passed
	markCtx := context.WithoutCancel(ctx)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			logger.Warn("[processor] sync job for unknown user", "key", key)
			if err := p.idempotency.MarkDone(markCtx, lease); err != nil {
				logger.Error("[processor] mark done failed", "key", key, "error", err)
			}
			return nil
		}
		if !errors.Is(err, services.ErrSyncInProgress) {
			if markErr := p.idempotency.MarkFailed(markCtx, lease, err); markErr != nil {
				logger.Error("[processor] retry bookkeeping failed", "key", key, "error", markErr)
			}
		}
		return err
	}

	if err := p.idempotency.MarkDone(markCtx, lease); err != nil {
		logger.Error("[processor] mark done failed", "key", key, "error", err)
	}

	logger.Info("[processor] sync job done",
		"key", key,
		"synced", res.Synced,
		"billed", res.Billed,
		"success", res.Success,
		"retry", lease.IsRetry)
	return nil
}
