package scheduler

import (
	"context"

	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/robfig/cron/v3"
)

type Config struct {
	SyncSchedule    string
	BillingSchedule string
}

// Scheduler owns the cron instance. A panicking job is recovered and
// logged; the next tick still runs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	config Config
}

func NewScheduler(jobs *Jobs, config Config) *Scheduler {
	cronLogger := cron.PrintfLogger(logger.GetLogger())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		config: config,
	}
}

// Register adds the jobs without starting the cron loop.
func (s *Scheduler) Register() error {
	if _, err := s.cron.AddFunc(s.config.SyncSchedule, s.jobs.runSync); err != nil {
		return err
	}
	logger.Info("[scheduler] scheduled sync job", "schedule", s.config.SyncSchedule)

	if _, err := s.cron.AddFunc(s.config.BillingSchedule, s.jobs.runBilling); err != nil {
		return err
	}
	logger.Info("[scheduler] scheduled billing sweep", "schedule", s.config.BillingSchedule)
	return nil
}

func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
