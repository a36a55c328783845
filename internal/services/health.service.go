package services

import (
	"context"
	"fmt"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	db      Pinger
	redis   Pinger
	timeout time.Duration
}

func NewHealthService(db, redis Pinger) *HealthService {
	return &HealthService{db: db, redis: redis, timeout: 2 * time.Second}
}

// Check pings Postgres and Redis and returns the first failure.
func (s *HealthService) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
