package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/call-billing/internal/app"
	"github.com/nimasrn/call-billing/internal/config"
	"github.com/nimasrn/call-billing/internal/handlers"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/internal/ratelimit"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
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
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

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
	limiter := ratelimit.NewLimiter(redisAdap, "ratelimit")

	// transport
	opts := xhttp.DefaultServerOption
	opts.ReadTimeout = cfg.HttpServerReadTimeout
	opts.WriteTimeout = cfg.HttpServerWriteTimeout
	opts.ReadBufferSize = cfg.HttpServerReadBufferSize
	opts.WriteBufferSize = cfg.HttpServerWriteBufferSize
	s := xhttp.NewServer(opts)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(ratelimit.Middleware(limiter, "api", cfg.ApiRateLimit, cfg.ApiRateWindow))
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))

	// v1 handlers
	syncHandler := handlers.NewSyncHandler(svc.Sync, limiter, handlers.SyncHandlerConfig{
		CronSecret: cfg.CronSecret,
		UserLimit:  cfg.SyncRateLimit,
		UserWindow: cfg.SyncRateWindow,
	})
	billingHandler := handlers.NewBillingHandler(svc.Billing)
	healthHandler := handlers.NewHealthHandler(svc.Health)

	g := s.Router.Group(cfg.HttpBaseRequestUrl)
	handlers.RegisterSyncRoutes(g, syncHandler)
	handlers.RegisterBillingRoutes(g, billingHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}
