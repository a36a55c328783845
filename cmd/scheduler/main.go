package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/call-billing/internal/app"
	"github.com/nimasrn/call-billing/internal/config"
	"github.com/nimasrn/call-billing/internal/queue"
	"github.com/nimasrn/call-billing/internal/scheduler"
	"github.com/nimasrn/call-billing/pkg/logger"
)

func main() {
	defer logger.Sync()

	err := config.Load(app.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()

	db, err := app.OpenPostgres(cfg)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := app.OpenRedis(cfg)
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	if err = app.StartMetrics(cfg); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	// the scheduler bills but never fetches; sync runs in the processor
	svc, err := app.BuildServices(cfg, db, redisAdap, nil)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		return
	}

	q, err := queue.NewQueue(redisAdap, app.QueueConfig(cfg))
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	jobs := scheduler.NewJobs(svc.Users, q, svc.Billing, 10*time.Minute)
	s := scheduler.NewScheduler(jobs, scheduler.Config{
		SyncSchedule:    cfg.SyncSchedule,
		BillingSchedule: cfg.BillingSchedule,
	})
	if err = s.Register(); err != nil {
		logger.Error("failed to register cron jobs", "error", err)
		return
	}
	s.Start()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("stopping scheduler")
	<-s.Stop().Done()
}
