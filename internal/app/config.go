package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/service"
)

// Config holds the complete application configuration, loadable from
// environment variables (TEAMCART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (TEAMCART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	Auth        AuthConfig
	Webhook     WebhookConfig
	Outbox      WorkerConfig
	Expiry      WorkerConfig
	Pricing     PricingConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// RedisConfig configures the cart cache and the shared rate limiter. Both are
// disabled when URL is empty.
type RedisConfig struct {
	URL      string        `usage:"Redis URL (TEAMCART_REDIS_URL or REDIS_URL)"`
	CacheTTL time.Duration `default:"15m" usage:"Cart snapshot cache TTL" flag:"cache-ttl"`
}

// RabbitMQConfig configures event publishing. Outbox rows accumulate
// unpublished when URL is empty.
type RabbitMQConfig struct {
	URL string `usage:"RabbitMQ URL (TEAMCART_RABBITMQ_URL or RABBITMQ_URL)"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret for bearer tokens" flag:"jwt-secret"`
	Issuer    string `default:"teamcart" usage:"Expected token issuer"`
}

// WebhookConfig configures payment gateway signature verification.
type WebhookConfig struct {
	Secret    string        `usage:"Payment gateway signing secret" flag:"webhook-secret"`
	Tolerance time.Duration `default:"5m" usage:"Accepted signature timestamp skew"`
}

// WorkerConfig configures a polling background worker.
type WorkerConfig struct {
	Interval time.Duration `default:"5s" usage:"Poll interval"`
	Batch    int           `default:"100" usage:"Rows per poll"`
}

// PricingConfig controls cart currency and order charges.
type PricingConfig struct {
	Currency     string          `default:"USD" usage:"Cart currency"`
	DeliveryFee  string        `default:"0" usage:"Flat delivery fee added at conversion" flag:"delivery-fee"`
	TaxRate      string        `default:"0" usage:"Tax rate on the discounted subtotal, e.g. 0.08" flag:"tax-rate"`
	JoinTokenTTL time.Duration `default:"24h" usage:"Join token lifetime" flag:"join-token-ttl"`
}

// RateLimitConfig controls the per-user fixed window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "TEAMCART",
		Files:     []string{"config.yaml", "/etc/teamcart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set TEAMCART_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("auth JWT secret is required")
	case c.Webhook.Secret == "":
		return errors.New("webhook secret is required")
	case c.Outbox.Batch <= 0 || c.Expiry.Batch <= 0:
		return errors.New("worker batch sizes must be positive")
	}
	_, err := c.Pricing.Policy()
	return err
}

// Policy parses the conversion charges.
func (p PricingConfig) Policy() (service.PricingPolicy, error) {
	fee, err := decimal.NewFromString(p.DeliveryFee)
	if err != nil {
		return service.PricingPolicy{}, errors.Wrap(err, "parse delivery fee")
	}
	rate, err := decimal.NewFromString(p.TaxRate)
	if err != nil {
		return service.PricingPolicy{}, errors.Wrap(err, "parse tax rate")
	}
	if fee.IsNegative() || rate.IsNegative() {
		return service.PricingPolicy{}, errors.New("pricing charges must not be negative")
	}
	return service.PricingPolicy{DeliveryFee: fee, TaxRate: rate}, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the TEAMCART_ configuration.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Redis.URL, "REDIS_URL")
	fallback(&c.RabbitMQ.URL, "RABBITMQ_URL")

	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
