package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		DatabaseURL: "postgres://localhost/teamcart",
		Auth:        AuthConfig{JWTSecret: "s"},
		Webhook:     WebhookConfig{Secret: "w"},
		Outbox:      WorkerConfig{Batch: 10},
		Expiry:      WorkerConfig{Batch: 10},
		Pricing:     PricingConfig{Currency: "USD", DeliveryFee: "2.50", TaxRate: "0.08"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"no database", func(c *Config) { c.DatabaseURL = "" }, false},
		{"no jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, false},
		{"no webhook secret", func(c *Config) { c.Webhook.Secret = "" }, false},
		{"zero batch", func(c *Config) { c.Expiry.Batch = 0 }, false},
		{"bad tax rate", func(c *Config) { c.Pricing.TaxRate = "eight" }, false},
		{"negative fee", func(c *Config) { c.Pricing.DeliveryFee = "-1" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestPricingPolicy(t *testing.T) {
	cfg := validConfig()
	policy, err := cfg.Pricing.Policy()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.50").Equal(policy.DeliveryFee))
	assert.True(t, decimal.RequireFromString("0.08").Equal(policy.TaxRate))
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080", RabbitMQ: RabbitMQConfig{URL: "amqp://explicit"}}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
	assert.Equal(t, "amqp://explicit", cfg.RabbitMQ.URL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}
