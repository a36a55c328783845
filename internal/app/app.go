// Package app builds the object graph the binaries share.
package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nimasrn/call-billing/internal/config"
	"github.com/nimasrn/call-billing/internal/lock"
	"github.com/nimasrn/call-billing/internal/phone"
	"github.com/nimasrn/call-billing/internal/provider"
	"github.com/nimasrn/call-billing/internal/queue"
	"github.com/nimasrn/call-billing/internal/repository"
	"github.com/nimasrn/call-billing/internal/services"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/pg"
	"github.com/nimasrn/call-billing/pkg/prom"
	"github.com/nimasrn/call-billing/pkg/redis"
)

// EnvPath returns the value of a --env=path argument, or "" when it is
// missing or the file cannot be opened.
func EnvPath(args []string) string {
	for _, v := range args {
		if path, ok := strings.CutPrefix(v, "--env="); ok {
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "path", path, "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}

// MigrationsDir resolves the goose directory: --dir= wins over MIGRATIONS_DIR.
func MigrationsDir(args []string, c *config.Config) string {
	dir := c.MigrationsDir
	for _, v := range args {
		if p, ok := strings.CutPrefix(v, "--dir="); ok {
			dir = p
		}
	}
	return dir
}

func ReadDBConfig(c *config.Config) pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database:     c.PostgresReadDatabase,
		SSLMode:      c.PostgresSSLMode,
		MaxOpenConns: c.PostgresMaxOpenConns,
		MaxIdleConns: c.PostgresMaxIdleConns,
	}
}

func WriteDBConfig(c *config.Config) pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database:     c.PostgresWriteDatabase,
		SSLMode:      c.PostgresSSLMode,
		MaxOpenConns: c.PostgresMaxOpenConns,
		MaxIdleConns: c.PostgresMaxIdleConns,
	}
}

func OpenPostgres(c *config.Config) (*pg.DB, error) {
	return pg.CreateReadWrite(ReadDBConfig(c), WriteDBConfig(c), c.AppEnv == "dev")
}

func OpenRedis(c *config.Config) (redis.RedisAdapter, error) {
	return redis.NewRedisAdapter("default", c.RedisUniversalKeyPrefix+":", &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: c.AppName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	})
}

// StartMetrics registers the metrics and serves them when debug metrics are on.
func StartMetrics(c *config.Config) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, c.AppEnv, c.PromNamespace); err != nil {
		return err
	}
	if c.AppDebug {
		go prom.ListenAndServer(c.AppDebugMetricsAddr, c.AppDebugMetricsURI)
	}
	return nil
}

func QueueConfig(c *config.Config) queue.Config {
	return queue.Config{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

func ProviderConfig(c *config.Config) *provider.Config {
	cfg := &provider.Config{
		APIKey:                  c.ProviderApiKey,
		Timeout:                 c.ProviderTimeout,
		MaxRetries:              c.ProviderMaxRetries,
		RetryDelay:              c.ProviderRetryDelay,
		PageSize:                c.ProviderPageSize,
		MaxPages:                c.ProviderMaxPages,
		MaxConns:                100,
		ReadBufferSize:          1024 * 16,
		WriteBufferSize:         1024 * 4,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	}
	for _, e := range []provider.EndpointConfig{
		{Name: "primary", URL: c.ProviderPrimaryUrl, Weight: 100},
		{Name: "secondary", URL: c.ProviderSecondaryUrl, Weight: 80},
		{Name: "backup", URL: c.ProviderBackupUrl, Weight: 60},
	} {
		if e.URL = strings.TrimSpace(e.URL); e.URL != "" {
			cfg.Endpoints = append(cfg.Endpoints, e)
		}
	}
	return cfg
}

// Services is the domain layer wired over one database and one Redis.
type Services struct {
	Users   *repository.UserRepository
	Sync    *services.SyncService
	Billing *services.BillingService
	Health  *services.HealthService
}

// BuildServices wires repositories and services. fetcher may be nil for
// binaries that only bill.
func BuildServices(c *config.Config, db *pg.DB, rdb redis.RedisAdapter, fetcher services.CallFetcher) (*Services, error) {
	rate, err := c.RatePerMinuteCents()
	if err != nil {
		return nil, err
	}
	normalizer, err := phone.NewNormalizer(c.PhoneDefaultRegion)
	if err != nil {
		return nil, fmt.Errorf("phone normalizer: %w", err)
	}

	users := repository.NewUserRepository(db)
	numbers := repository.NewPhoneNumberRepository(db, normalizer)
	calls := repository.NewCallRepository(db)
	wallets := repository.NewWalletRepository(db)
	ledger := repository.NewWalletTransactionRepository(db)

	billing := services.NewBillingService(calls, wallets, ledger, users, rate, c.BillingBatchSize)

	var sync *services.SyncService
	if fetcher != nil {
		sync = services.NewSyncService(
			users,
			numbers,
			calls,
			fetcher,
			services.NewCallFilter(normalizer),
			lock.NewRedisLocker(rdb),
			billing,
			c.SyncLockTTL,
		)
	}

	return &Services{
		Users:   users,
		Sync:    sync,
		Billing: billing,
		Health:  services.NewHealthService(db, rdb),
	}, nil
}
