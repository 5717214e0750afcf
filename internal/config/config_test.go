package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PLATFORMS", "")
	setEnv(t, "PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, []string{"app_store", "play_store"}, cfg.Platforms)
	assert.Equal(t, DefaultDailyRunAt, cfg.DailyRunAt)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultCooldown, cfg.CooldownWindow)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "PLATFORMS", "app_store")
	setEnv(t, "DAILY_RUN_AT", "04:15")
	setEnv(t, "RETRY_DELAY", "30s")
	setEnv(t, "ALERT_WEBHOOK_URLS", "https://a.example/hook, https://b.example/hook")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"app_store"}, cfg.Platforms)
	assert.Equal(t, 30*time.Second, cfg.RetryDelay)
	assert.Equal(t, []string{"https://a.example/hook", "https://b.example/hook"}, cfg.AlertWebhookURLs)

	hour, minute := cfg.DailyRunClock()
	assert.Equal(t, 4, hour)
	assert.Equal(t, 15, minute)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "no platforms",
			mutate:  func(c *Config) { c.Platforms = nil },
			wantErr: "PLATFORMS",
		},
		{
			name:    "bad daily run time",
			mutate:  func(c *Config) { c.DailyRunAt = "25:99" },
			wantErr: "DAILY_RUN_AT",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Workers = 0 },
			wantErr: "WORKERS",
		},
		{
			name:    "inverted business hours",
			mutate:  func(c *Config) { c.BusinessHourMin = 18; c.BusinessHourMax = 9 },
			wantErr: "business hours",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Platforms:       []string{"app_store"},
				DailyRunAt:      "02:30",
				Workers:         4,
				BusinessHourMin: 9,
				BusinessHourMax: 18,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
