package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		HttpListenAddr:       ":8080",
		BillingRatePerMinute: "0.11",
		BillingBatchSize:     100,
		ProviderPageSize:     100,
		SyncSchedule:         "*/15 * * * *",
		BillingSchedule:      "*/5 * * * *",
	}
}

func TestRatePerMinuteCents(t *testing.T) {
	tests := []struct {
		rate    string
		want    int64
		wantErr bool
	}{
		{rate: "0.11", want: 11},
		{rate: "1", want: 100},
		{rate: " 0.5 ", want: 50},
		{rate: "0.115", wantErr: true},
		{rate: "0", wantErr: true},
		{rate: "-0.11", wantErr: true},
		{rate: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			c := validConfig()
			c.BillingRatePerMinute = tt.rate
			got, err := c.RatePerMinuteCents()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("bad cron", func(t *testing.T) {
		c := validConfig()
		c.SyncSchedule = "every minute"
		assert.Error(t, c.Validate())
	})

	t.Run("missing listen addr", func(t *testing.T) {
		c := validConfig()
		c.HttpListenAddr = ""
		assert.Error(t, c.Validate())
	})

	t.Run("billing batch size out of range", func(t *testing.T) {
		for _, n := range []int{0, 10_001} {
			c := validConfig()
			c.BillingBatchSize = n
			assert.Error(t, c.Validate(), n)
		}

		c := validConfig()
		c.BillingBatchSize = 10_000
		assert.NoError(t, c.Validate())
	})

	t.Run("page size out of range", func(t *testing.T) {
		c := validConfig()
		c.ProviderPageSize = 0
		assert.Error(t, c.Validate())
	})
}

func TestValidateProvider(t *testing.T) {
	c := validConfig()
	assert.Error(t, c.ValidateProvider())

	c.ProviderPrimaryUrl = "http://localhost:9000"
	assert.Error(t, c.ValidateProvider())

	c.ProviderApiKey = "key"
	assert.NoError(t, c.ValidateProvider())

	c.ProviderBackupUrl = "http://backup:9000"
	assert.Equal(t, []string{"http://localhost:9000", "http://backup:9000"}, c.ProviderURLs())
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PROVIDER_PRIMARY_URL", "http://provider:9000")
	t.Setenv("BILLING_RATE_PER_MINUTE", "0.25")

	require.NoError(t, Load(""))

	c := Get()
	assert.Equal(t, "/api/v1", c.HttpBaseRequestUrl)
	assert.Equal(t, "*/15 * * * *", c.SyncSchedule)
	assert.Equal(t, "US", c.PhoneDefaultRegion)
	assert.Equal(t, []string{"http://provider:9000"}, c.ProviderURLs())

	rate, err := c.RatePerMinuteCents()
	require.NoError(t, err)
	assert.Equal(t, int64(25), rate)
}
