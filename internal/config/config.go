// Package config provides configuration management for the incident/change
// correlator. Values come from defaults, then an optional JSON config file,
// then environment variables, in increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the correlator service.
type Config struct {
	// Tracker
	TrackerURL string `json:"tracker_url" validate:"required,url"`
	Project    string `json:"project" validate:"required"`

	// Optional fallback credentials; per-request credentials take precedence.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // From env only, never stored in files

	// HTTP client
	Timeout         time.Duration `json:"timeout" validate:"gt=0"`
	MaxIdleConns    int           `json:"max_idle_conns" validate:"gte=1"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout" validate:"gt=0"`
	TLSVerify       bool          `json:"tls_verify"`

	// Rate limiting
	RateLimit       int  `json:"rate_limit" validate:"gte=0"` // requests per second
	RateLimitBurst  int  `json:"rate_limit_burst" validate:"gte=0"`
	EnableRateLimit bool `json:"enable_rate_limit"`

	// Fetch pool
	FetchConcurrency int `json:"fetch_concurrency" validate:"gte=1,lte=64"`

	// HTTP server
	ListenAddr string `json:"listen_addr" validate:"required"`

	// Persistence
	DatabasePath string `json:"database_path" validate:"required"`

	// Ranking
	TopResults int `json:"top_results" validate:"gte=5,lte=200"`

	// Observability
	EnableTracing   bool `json:"enable_tracing"`
	MetricsEndpoint bool `json:"metrics_endpoint"`

	// Logging
	LogLevel  string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" validate:"oneof=json console"`
}

// Load builds the configuration from defaults, an optional config file and
// environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Project:          "TECCM",
		Timeout:          30 * time.Second,
		MaxIdleConns:     10,
		IdleConnTimeout:  90 * time.Second,
		TLSVerify:        true,
		RateLimit:        20,
		RateLimitBurst:   10,
		EnableRateLimit:  true,
		FetchConcurrency: 8,
		ListenAddr:       ":8080",
		DatabasePath:     "data/correlator.db",
		TopResults:       20,
		EnableTracing:    false,
		MetricsEndpoint:  true,
		LogLevel:         "info",
		LogFormat:        "json",
	}

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return json.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("TRACKER_URL"); v != "" {
		cfg.TrackerURL = v
	}
	if v := os.Getenv("TRACKER_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("TRACKER_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("TRACKER_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("TRACKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("TRACKER_RATE_LIMIT"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil {
			cfg.RateLimit = limit
		}
	}
	if v := os.Getenv("TRACKER_RATE_LIMIT_BURST"); v != "" {
		var burst int
		if _, err := fmt.Sscanf(v, "%d", &burst); err == nil {
			cfg.RateLimitBurst = burst
		}
	}
	if v := os.Getenv("TRACKER_ENABLE_RATE_LIMIT"); v != "" {
		cfg.EnableRateLimit = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACKER_TLS_VERIFY"); v != "" {
		cfg.TLSVerify = v == "true" || v == "1"
	}
	if v := os.Getenv("FETCH_CONCURRENCY"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.FetchConcurrency = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("TOP_RESULTS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.TopResults = n
		}
	}
	if v := os.Getenv("ENABLE_TRACING"); v != "" {
		cfg.EnableTracing = v == "true" || v == "1"
	}
	if v := os.Getenv("METRICS_ENDPOINT"); v != "" {
		cfg.MetricsEndpoint = v == "true" || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.EnableRateLimit && c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive when rate limiting is enabled")
	}
	return nil
}

// Redact returns a copy of the config with sensitive data removed.
func (c *Config) Redact() *Config {
	redacted := *c
	redacted.Password = MaskSecret(redacted.Password)
	return &redacted
}

// MaskSecret returns a masked version of a secret for safe logging.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:2] + "..." + secret[len(secret)-2:]
}
