package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/call-billing/internal/app"
	"github.com/nimasrn/call-billing/internal/config"
	"github.com/nimasrn/call-billing/internal/processor"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(app.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	if err = cfg.ValidateProvider(); err != nil {
		logger.Error("invalid provider config", "error", err)
		return
	}
	logger.Info("starting processor", "version", version, "commit", commit, "date", date)

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

	client, err := provider.NewClient(app.ProviderConfig(cfg))
	if err != nil {
		logger.Error("failed to create provider client", "error", err)
		return
	}
	defer client.Close()

	svc, err := app.BuildServices(cfg, db, redisAdap, client)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		return
	}

	idempotency := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())
	jobProcessor := processor.NewSyncJobProcessor(svc.Sync, idempotency)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	queueConf := app.QueueConfig(cfg)
	queueConf.ConsumerName = cfg.QueueConsumerName + "-" + hostname

	service, err := processor.NewService(redisAdap, processor.ServiceConfig{
		Queue:             queueConf,
		Upstream:          client,
		Consumers:         cfg.ProcessorConsumers,
		Workers:           cfg.ProcessorWorkers,
		BufferSize:        cfg.ProcessorBufferSize,
		ProcessingTimeout: cfg.ProcessorProcessingTimeout,
	}, jobProcessor)
	if err != nil {
		logger.Error("failed to create processor", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err = service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	<-c
	service.Stop()
}
