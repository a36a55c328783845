package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("job already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            5 * time.Minute,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         5,
		RetryKeyPrefix:     "retry:",
		LockKeyPrefix:      "lock:",
		ProcessedKeyPrefix: "processed:",
	}
}

// SyncJobKey identifies one user's sync within one scheduler run.
func SyncJobKey(runID string, userID int64) string {
	return "run:" + runID + ":user:" + strconv.FormatInt(userID, 10)
}

type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

// Lease is held while a job runs. It combines the processed marker, the
// retry counter and a short lock under one key.
type Lease struct {
	Key          string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
}

func (s *IdempotencyService) Acquire(ctx context.Context, key string) (*Lease, error) {
	processed, err := s.IsProcessed(ctx, key)
	if err != nil {
		// a duplicate sync is harmless, a stuck one is not
		logger.Warn("[idempotency] processed check failed", "key", key, "error", err)
	} else if processed {
		return nil, ErrAlreadyProcessed
	}

	retryCount, err := s.RetryCount(ctx, key)
	if err != nil {
		logger.Warn("[idempotency] retry count read failed", "key", key, "error", err)
	}
	if retryCount >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: key=%s, retries=%d", ErrMaxRetriesExceeded, key, retryCount)
	}

	lockValue := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	acquired, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+key, lockValue, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("[idempotency] lease acquired", "key", key, "retry_count", retryCount)

	return &Lease{
		Key:          key,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
	}, nil
}

func (s *IdempotencyService) MarkDone(ctx context.Context, l *Lease) error {
	if err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+l.Key, []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}

	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+l.Key, s.config.RetryKeyPrefix+l.Key); err != nil {
		logger.Warn("[idempotency] cleanup failed", "key", l.Key, "error", err)
	}
	l.lockAcquired = false
	return nil
}

// MarkFailed bumps the retry counter and frees the lock for the next attempt.
func (s *IdempotencyService) MarkFailed(ctx context.Context, l *Lease, reason error) error {
	n, err := s.redis.Incr(ctx, s.config.RetryKeyPrefix+l.Key, s.config.ProcessedTTL)
	if err != nil {
		logger.Error("[idempotency] retry counter update failed", "key", l.Key, "error", err)
	}

	if err := s.Release(ctx, l); err != nil {
		return err
	}

	logger.Warn("[idempotency] job failed",
		"key", l.Key,
		"retry_count", n,
		"max_retries", s.config.MaxRetries,
		"reason", reason)
	return nil
}

// Release frees the lock without recording an outcome.
func (s *IdempotencyService) Release(ctx context.Context, l *Lease) error {
	if l == nil || !l.lockAcquired {
		return nil
	}
	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+l.Key); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.lockAcquired = false
	return nil
}

func (s *IdempotencyService) RetryCount(ctx context.Context, key string) (int, error) {
	b, err := s.redis.Get(ctx, s.config.RetryKeyPrefix+key)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("corrupt retry counter %q: %w", b, err)
	}
	return n, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+key)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
