package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// BreezConfig carries everything the gateway needs from the host
// environment. Load fills it from BREEZ_* environment variables.
type BreezConfig struct {
	// Payment API
	APIURL     string
	APIKey     string
	APITimeout time.Duration

	// Webhook ingress
	WebhookSecret string
	WebhookURL    string

	// Checkout
	PaymentMethods     []string // lightning, onchain
	ExpiryMinutes      int
	RateBufferPercent  float64
	DefaultDescription string

	// Sweeper
	SweepInterval time.Duration
	SweepMinAge   time.Duration
	SweepMaxAge   time.Duration

	// Storage
	DatabaseDSN string
	RedisAddr   string

	TestMode bool
	Debug    bool
}

// Load reads BREEZ_* environment variables, after merging a .env file if
// one is present. Values already set in the environment win over .env.
func Load() (*BreezConfig, error) {
	if envMap, err := godotenv.Read(); err == nil {
		for k, v := range envMap {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	cfg := &BreezConfig{
		APIURL:             strings.TrimRight(os.Getenv("BREEZ_API_URL"), "/"),
		APIKey:             os.Getenv("BREEZ_API_KEY"),
		APITimeout:         30 * time.Second,
		WebhookSecret:      os.Getenv("BREEZ_WEBHOOK_SECRET"),
		WebhookURL:         os.Getenv("BREEZ_WEBHOOK_URL"),
		ExpiryMinutes:      30,
		RateBufferPercent:  1.0,
		DefaultDescription: os.Getenv("BREEZ_PAYMENT_DESCRIPTION"),
		SweepInterval:      5 * time.Minute,
		SweepMinAge:        2 * time.Minute,
		SweepMaxAge:        60 * time.Minute,
		DatabaseDSN:        os.Getenv("BREEZ_DATABASE_DSN"),
		RedisAddr:          os.Getenv("BREEZ_REDIS_ADDR"),
		TestMode:           cast.ToBool(os.Getenv("BREEZ_TESTMODE")),
		Debug:              cast.ToBool(os.Getenv("BREEZ_DEBUG")),
	}

	if v := os.Getenv("BREEZ_EXPIRY_MINUTES"); v != "" {
		cfg.ExpiryMinutes = cast.ToInt(v)
	}
	if v := os.Getenv("BREEZ_EXCHANGE_RATE_BUFFER"); v != "" {
		cfg.RateBufferPercent = cast.ToFloat64(v)
	}
	if v := os.Getenv("BREEZ_SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = cast.ToDuration(v)
	}
	if v := os.Getenv("BREEZ_PAYMENT_METHODS"); v != "" {
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.PaymentMethods = append(cfg.PaymentMethods, m)
			}
		}
	} else {
		cfg.PaymentMethods = []string{"lightning", "onchain"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails closed: without API credentials the payment path must not
// come up at all. A missing webhook secret is reported by commence as an
// operator warning rather than an error, because polling and sweeping still
// work without webhooks.
func (c *BreezConfig) Validate() error {
	if c.APIURL == "" || c.APIKey == "" {
		return fmt.Errorf("config: BREEZ_API_URL and BREEZ_API_KEY are required")
	}
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: BREEZ_API_URL %q is not a valid URL", c.APIURL)
	}
	if c.ExpiryMinutes <= 0 {
		return fmt.Errorf("config: expiry minutes must be positive, got %d", c.ExpiryMinutes)
	}
	if c.SweepMinAge >= c.SweepMaxAge {
		return fmt.Errorf("config: sweep window is empty (%s >= %s)", c.SweepMinAge, c.SweepMaxAge)
	}
	return nil
}

// Expiry returns the configured payment expiry as a duration.
func (c *BreezConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryMinutes) * time.Minute
}
