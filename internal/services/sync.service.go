package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/nimasrn/call-billing/internal/lock"
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/prom"
)

type CallFetcher interface {
	Calls(ctx context.Context, q provider.ListCallsQuery) iter.Seq2[*provider.RawCall, error]
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	ListVerified(ctx context.Context) ([]*model.User, error)
}

type PhoneNumberLister interface {
	ListByUser(ctx context.Context, userID int64) ([]*model.PhoneNumber, error)
}

type CallUpserter interface {
	Upsert(ctx context.Context, c *model.Call) (*model.Call, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error)
}

type PendingBiller interface {
	ProcessPendingBills(ctx context.Context, userID *int64) (*model.BillingSummary, error)
}

type SyncService struct {
	users   UserRepository
	numbers PhoneNumberLister
	calls   CallUpserter
	fetcher CallFetcher
	filter  *CallFilter
	locker  Locker
	billing PendingBiller
	lockTTL time.Duration
}

func NewSyncService(
	users UserRepository,
	numbers PhoneNumberLister,
	calls CallUpserter,
	fetcher CallFetcher,
	filter *CallFilter,
	locker Locker,
	billing PendingBiller,
	lockTTL time.Duration,
) *SyncService {
	return &SyncService{
		users:   users,
		numbers: numbers,
		calls:   calls,
		fetcher: fetcher,
		filter:  filter,
		locker:  locker,
		billing: billing,
		lockTTL: lockTTL,
	}
}

func SyncLockKey(userID int64) string {
	return "sync:user:" + strconv.FormatInt(userID, 10)
}

// SyncUser pulls the provider calls of every number the user owns, upserts
// the matching ones and bills whatever is pending for the user. Errors for a
// single number or call are collected in the result and do not stop the run.
func (s *SyncService) SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error) {
	return s.syncUser(ctx, userID, "manual")
}

func (s *SyncService) syncUser(ctx context.Context, userID int64, trigger string) (*model.SyncResult, error) {
	start := time.Now()
	defer func() {
		prom.AddSyncDuration(time.Since(start).Seconds(), trigger)
	}()

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	lease, err := s.locker.Acquire(ctx, SyncLockKey(userID), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, ErrSyncInProgress
		}
		return nil, err
	}
	defer func() {
		if ok, err := lease.Release(context.WithoutCancel(ctx)); err != nil || !ok {
			logger.Warn("[sync] lock release failed", "user_id", userID, "released", ok, "error", err)
		}
	}()

	owned, err := s.numbers.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list phone numbers: %w", err)
	}

	result := &model.SyncResult{Errors: []string{}}
	seen := make(map[string]struct{})

	for _, number := range owned {
		for _, q := range []provider.ListCallsQuery{
			{ToNumber: number.Number},
			{FromNumber: number.Number},
		} {
			batch, err := s.fetch(ctx, q)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("fetch calls for %s: %v", number.Number, err))
				logger.Warn("[sync] provider fetch failed", "user_id", userID, "number", number.Number, "error", err)
			}
			for _, m := range s.filter.Filter(batch, owned, seen) {
				if _, err := s.calls.Upsert(ctx, toCallModel(userID, m)); err != nil {
					prom.AddCallsSynced(1, "error")
					result.Errors = append(result.Errors, fmt.Sprintf("save call %s: %v", m.Raw.CallID, err))
					continue
				}
				prom.AddCallsSynced(1, "ok")
				result.Synced++
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}

	summary, err := s.billing.ProcessPendingBills(ctx, &userID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("process pending bills: %v", err))
	}
	if summary != nil {
		result.Billed = summary.Billed
		for _, e := range summary.Errors {
			result.Errors = append(result.Errors, fmt.Sprintf("bill call %d: %s", e.CallID, e.Error))
		}
	}

	result.Success = len(result.Errors) == 0
	logger.Info("[sync] user synced",
		"user_id", userID,
		"numbers", len(owned),
		"synced", result.Synced,
		"billed", result.Billed,
		"errors", len(result.Errors))
	return result, nil
}

// fetch drains one query. Calls read before an error are still returned.
func (s *SyncService) fetch(ctx context.Context, q provider.ListCallsQuery) ([]*provider.RawCall, error) {
	var out []*provider.RawCall
	for call, err := range s.fetcher.Calls(ctx, q) {
		if err != nil {
			return out, err
		}
		out = append(out, call)
	}
	return out, nil
}

// SyncAll syncs every verified user one after the other.
func (s *SyncService) SyncAll(ctx context.Context) (*model.ScheduledSyncResult, error) {
	users, err := s.users.ListVerified(ctx)
	if err != nil {
		return nil, fmt.Errorf("list verified users: %w", err)
	}

	out := &model.ScheduledSyncResult{
		TotalUsers: len(users),
		Errors:     []model.UserSyncError{},
	}

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res, err := s.syncUser(ctx, u.ID, "scheduled")
		switch {
		case err != nil:
			out.FailedUsers++
			out.Errors = append(out.Errors, model.UserSyncError{UserID: u.ID, Error: err.Error()})
		case !res.Success:
			out.FailedUsers++
			out.TotalCallsSynced += res.Synced
			for _, e := range res.Errors {
				out.Errors = append(out.Errors, model.UserSyncError{UserID: u.ID, Error: e})
			}
		default:
			out.SuccessfulUsers++
			out.TotalCallsSynced += res.Synced
		}
	}

	logger.Info("[sync] scheduled sync finished",
		"users", out.TotalUsers,
		"succeeded", out.SuccessfulUsers,
		"failed", out.FailedUsers,
		"calls", out.TotalCallsSynced)
	return out, nil
}

func toCallModel(userID int64, m *MatchedCall) *model.Call {
	to, from := m.To, m.From
	if to == "" {
		to = m.Raw.To
	}
	if from == "" {
		from = m.Raw.From
	}

	status := model.ParseCallStatus(m.Raw.Status)
	if status == model.CallStatusUnknown && m.Raw.Completed {
		status = model.CallStatusCompleted
	}

	return &model.Call{
		ExternalID:      m.Raw.CallID,
		UserID:          userID,
		ToNumber:        to,
		FromNumber:      from,
		DurationSeconds: m.Raw.DurationSeconds(),
		Status:          status,
		RecordingURL:    m.Raw.RecordingURL,
		Transcript:      m.Raw.ConcatenatedTranscript,
		StartedAt:       m.Raw.StartedAt(),
	}
}
