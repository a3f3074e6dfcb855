package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "TECCM", cfg.Project)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.Equal(t, 20, cfg.TopResults)
	assert.True(t, cfg.TLSVerify)
	assert.True(t, cfg.EnableRateLimit)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRACKER_URL", "https://tracker.example.com")
	t.Setenv("TRACKER_PROJECT", "CHG")
	t.Setenv("TRACKER_USERNAME", "svc")
	t.Setenv("TRACKER_PASSWORD", "secret")
	t.Setenv("FETCH_CONCURRENCY", "4")
	t.Setenv("TRACKER_ENABLE_RATE_LIMIT", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://tracker.example.com", cfg.TrackerURL)
	assert.Equal(t, "CHG", cfg.Project)
	assert.Equal(t, "svc", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.False(t, cfg.EnableRateLimit)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		t.Setenv("TRACKER_URL", "https://tracker.example.com")
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid(t).Validate())
	})

	t.Run("MissingTrackerURL", func(t *testing.T) {
		cfg := valid(t)
		cfg.TrackerURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadURL", func(t *testing.T) {
		cfg := valid(t)
		cfg.TrackerURL = "not a url"
		assert.Error(t, cfg.Validate())
	})

	t.Run("ConcurrencyOutOfRange", func(t *testing.T) {
		cfg := valid(t)
		cfg.FetchConcurrency = 100
		assert.Error(t, cfg.Validate())
	})

	t.Run("RateLimitEnabledButZero", func(t *testing.T) {
		cfg := valid(t)
		cfg.RateLimit = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		cfg := valid(t)
		cfg.LogLevel = "verbose"
		assert.Error(t, cfg.Validate())
	})
}

func TestRedact(t *testing.T) {
	cfg := &Config{Username: "svc", Password: "super-secret-password"}
	redacted := cfg.Redact()

	assert.Equal(t, "su...rd", redacted.Password)
	assert.Equal(t, "super-secret-password", cfg.Password, "original must be untouched")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "lo...et", MaskSecret("long-enough-secret"))
}
