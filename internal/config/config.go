// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Reconciliation settings
	Platforms       []string // platforms reconciled each run, e.g. "app_store,play_store"
	DailyRunAt      string   // HH:MM local time for the daily automatic run
	MonitorInterval time.Duration
	BusinessHourMin int // intraday monitoring window, inclusive
	BusinessHourMax int // exclusive

	// Retry settings for failed executions
	MaxRetries int
	RetryDelay time.Duration
	Workers    int // worker pool size for async executions

	// Alerting
	AlertWebhookURLs []string // one webhook channel per URL
	CooldownWindow   time.Duration

	// Settlement providers
	StripeAPIKey string // enables the Stripe settlement source when set

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPlatforms       = "app_store,play_store"
	DefaultDailyRunAt      = "02:30"
	DefaultMonitorInterval = time.Hour
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 10 * time.Minute
	DefaultWorkers         = 4
	DefaultCooldown        = 30 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		Platforms:        splitList(getEnv("PLATFORMS", DefaultPlatforms)),
		DailyRunAt:       getEnv("DAILY_RUN_AT", DefaultDailyRunAt),
		MonitorInterval:  getEnvDuration("MONITOR_INTERVAL", DefaultMonitorInterval),
		BusinessHourMin:  int(getEnvInt64("BUSINESS_HOUR_MIN", 9)),
		BusinessHourMax:  int(getEnvInt64("BUSINESS_HOUR_MAX", 18)),
		MaxRetries:       int(getEnvInt64("MAX_RETRIES", DefaultMaxRetries)),
		RetryDelay:       getEnvDuration("RETRY_DELAY", DefaultRetryDelay),
		Workers:          int(getEnvInt64("WORKERS", DefaultWorkers)),
		AlertWebhookURLs: splitList(os.Getenv("ALERT_WEBHOOK_URLS")),
		CooldownWindow:   getEnvDuration("ALERT_COOLDOWN", DefaultCooldown),
		StripeAPIKey:     os.Getenv("STRIPE_API_KEY"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if len(c.Platforms) == 0 {
		return fmt.Errorf("PLATFORMS must list at least one platform")
	}

	if _, _, err := parseClock(c.DailyRunAt); err != nil {
		return fmt.Errorf("DAILY_RUN_AT must be HH:MM, got %q", c.DailyRunAt)
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}

	if c.BusinessHourMin < 0 || c.BusinessHourMax > 24 || c.BusinessHourMin >= c.BusinessHourMax {
		return fmt.Errorf("business hours window %d-%d is invalid", c.BusinessHourMin, c.BusinessHourMax)
	}

	return nil
}

// DailyRunClock returns the hour and minute of the daily automatic run.
func (c *Config) DailyRunClock() (hour, minute int) {
	hour, minute, _ = parseClock(c.DailyRunAt)
	return hour, minute
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour")
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute")
	}
	return hour, minute, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
