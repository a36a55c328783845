package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

const ConfigTagName = "env"

// maxBillingBatchSize matches the largest page the call repository serves.
const maxBillingBatchSize = 10_000

var config *Config

// Config holds every setting the binaries read. Nothing else in the module
// reads the environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=call_billing"`
	AppDebug            bool   `env:"APP_DEBUG,default=false"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	HttpListenAddr            string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpBaseRequestUrl        string        `env:"HTTP_BASE_REQUEST_URI,default=/api/v1"`
	HttpServerReadTimeout     time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=5s"`
	HttpServerWriteTimeout    time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=5m"`
	HttpRequestTimeout        time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=4m"`
	HttpServerReadBufferSize  int           `env:"HTTP_SERVER_READ_BUFFER_SIZE,default=4096"`
	HttpServerWriteBufferSize int           `env:"HTTP_SERVER_WRITE_BUFFER_SIZE,default=4096"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST,default=localhost"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST,default=localhost"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	PostgresSSLMode      string `env:"POSTGRES_SSL_MODE,default=disable"`
	PostgresMaxOpenConns int    `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`
	PostgresMaxIdleConns int    `env:"POSTGRES_MAX_IDLE_CONNS,default=5"`
	MigrationsDir        string `env:"MIGRATIONS_DIR,default=migrations"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=callbilling"`

	PromNamespace string `env:"PROM_NAMESPACE,default=call_billing"`

	QueueName              string        `env:"QUEUE_NAME,default=sync-jobs"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=sync-processors"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=processor"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=5"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=10m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	ProcessorWorkers           int           `env:"PROCESSOR_WORKERS,default=4"`
	ProcessorConsumers         int           `env:"PROCESSOR_CONSUMERS,default=2"`
	ProcessorBufferSize        int           `env:"PROCESSOR_BUFFER_SIZE,default=64"`
	ProcessorProcessingTimeout time.Duration `env:"PROCESSOR_PROCESSING_TIMEOUT,default=5m"`

	ProviderPrimaryUrl   string        `env:"PROVIDER_PRIMARY_URL"`
	ProviderSecondaryUrl string        `env:"PROVIDER_SECONDARY_URL"`
	ProviderBackupUrl    string        `env:"PROVIDER_BACKUP_URL"`
	ProviderApiKey       string        `env:"PROVIDER_API_KEY"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT,default=30s"`
	ProviderMaxRetries   int           `env:"PROVIDER_MAX_RETRIES,default=3"`
	ProviderRetryDelay   time.Duration `env:"PROVIDER_RETRY_DELAY,default=500ms"`
	ProviderPageSize     int           `env:"PROVIDER_PAGE_SIZE,default=100"`
	ProviderMaxPages     int           `env:"PROVIDER_MAX_PAGES,default=50"`

	BillingRatePerMinute string `env:"BILLING_RATE_PER_MINUTE,default=0.11"`
	BillingBatchSize     int    `env:"BILLING_BATCH_SIZE,default=500"`

	PhoneDefaultRegion string `env:"PHONE_DEFAULT_REGION,default=US"`

	SyncLockTTL     time.Duration `env:"SYNC_LOCK_TTL,default=5m"`
	SyncRateLimit   int           `env:"SYNC_RATE_LIMIT,default=10"`
	SyncRateWindow  time.Duration `env:"SYNC_RATE_WINDOW,default=1m"`
	ApiRateLimit    int           `env:"API_RATE_LIMIT,default=120"`
	ApiRateWindow   time.Duration `env:"API_RATE_WINDOW,default=1m"`
	CronSecret      string        `env:"CRON_SECRET"`
	SyncSchedule    string        `env:"SYNC_SCHEDULE,default=*/15 * * * *"`
	BillingSchedule string        `env:"BILLING_SCHEDULE,default=*/5 * * * *"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err = c.Validate(); err != nil {
		return err
	}

	config = c
	return nil
}

// Set installs c as the global config. Tests and tools that build a Config
// by hand use it instead of Load.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.HttpListenAddr) == "" {
		return errors.New("HTTP_LISTEN_ADDR must be set")
	}
	if _, err := c.RatePerMinuteCents(); err != nil {
		return err
	}
	if c.BillingBatchSize <= 0 || c.BillingBatchSize > maxBillingBatchSize {
		return errors.Errorf("BILLING_BATCH_SIZE must be in 1..%d, got %d", maxBillingBatchSize, c.BillingBatchSize)
	}
	if c.ProviderPageSize <= 0 || c.ProviderPageSize > 1000 {
		return errors.Errorf("PROVIDER_PAGE_SIZE must be in 1..1000, got %d", c.ProviderPageSize)
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return errors.Wrap(err, "invalid SYNC_SCHEDULE")
	}
	if _, err := cron.ParseStandard(c.BillingSchedule); err != nil {
		return errors.Wrap(err, "invalid BILLING_SCHEDULE")
	}
	return nil
}

// ValidateProvider is checked only by binaries that talk to the calls API.
func (c *Config) ValidateProvider() error {
	if len(c.ProviderURLs()) == 0 {
		return errors.New("at least PROVIDER_PRIMARY_URL must be set")
	}
	if strings.TrimSpace(c.ProviderApiKey) == "" {
		return errors.New("PROVIDER_API_KEY must be set")
	}
	return nil
}

// RatePerMinuteCents converts the dollar rate to whole cents. Fractional
// cents are rejected rather than rounded.
func (c *Config) RatePerMinuteCents() (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.BillingRatePerMinute))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid BILLING_RATE_PER_MINUTE %q", c.BillingRatePerMinute)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, errors.Errorf("BILLING_RATE_PER_MINUTE %q has fractional cents", c.BillingRatePerMinute)
	}
	if !cents.IsPositive() {
		return 0, errors.Errorf("BILLING_RATE_PER_MINUTE must be positive, got %q", c.BillingRatePerMinute)
	}
	return cents.IntPart(), nil
}

// ProviderURLs lists the configured base URLs, primary first.
func (c *Config) ProviderURLs() []string {
	var urls []string
	for _, u := range []string{c.ProviderPrimaryUrl, c.ProviderSecondaryUrl, c.ProviderBackupUrl} {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
