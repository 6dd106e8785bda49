package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	WebhookURL        string `env:"WEBHOOK_URL,required=true"`
	APIKey            string `env:"API_KEY"`
	DatabasePath      string `env:"DATABASE_PATH,default=/var/lib/tagrelay/events.db"`
	DeviceID          string `env:"DEVICE_ID"`
	DeviceIDPath      string `env:"DEVICE_ID_PATH,default=/var/lib/tagrelay/device_id"`
	ReaderPath        string `env:"READER_PATH,default=/var/run/tagrelay/reads.fifo"`
	ScanIntervalSec   int    `env:"SCAN_INTERVAL_SEC,default=30"`
	BatchLimit        int    `env:"BATCH_LIMIT,default=100"`
	AttemptTimeoutSec int    `env:"ATTEMPT_TIMEOUT_SEC,default=10"`
	RetryHorizonHours int    `env:"RETRY_HORIZON_HOURS,default=168"`
	BackoffBaseSec    int    `env:"BACKOFF_BASE_SEC,default=60"`
	BackoffMaxSec     int    `env:"BACKOFF_MAX_SEC,default=21600"`
	ReadIntervalMs    int    `env:"READ_INTERVAL_MS,default=100"`
	AdminPort         int    `env:"ADMIN_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects malformed configuration before any event is accepted.
func (c *Config) Validate() error {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(c.WebhookURL))
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid webhook url: unsupported scheme %q", parsed.Scheme)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database path is required")
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("batch limit must be positive, got %d", c.BatchLimit)
	}
	if c.ScanIntervalSec <= 0 {
		return fmt.Errorf("scan interval must be positive, got %d", c.ScanIntervalSec)
	}
	if c.AttemptTimeoutSec <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %d", c.AttemptTimeoutSec)
	}
	if c.RetryHorizonHours <= 0 {
		return fmt.Errorf("retry horizon must be positive, got %d", c.RetryHorizonHours)
	}
	if c.BackoffBaseSec <= 0 || c.BackoffMaxSec < c.BackoffBaseSec {
		return fmt.Errorf("backoff bounds invalid: base=%d max=%d", c.BackoffBaseSec, c.BackoffMaxSec)
	}
	return nil
}

func (c *Config) ScanInterval() time.Duration   { return time.Duration(c.ScanIntervalSec) * time.Second }
func (c *Config) AttemptTimeout() time.Duration { return time.Duration(c.AttemptTimeoutSec) * time.Second }
func (c *Config) RetryHorizon() time.Duration   { return time.Duration(c.RetryHorizonHours) * time.Hour }
func (c *Config) BackoffBase() time.Duration    { return time.Duration(c.BackoffBaseSec) * time.Second }
func (c *Config) BackoffMax() time.Duration     { return time.Duration(c.BackoffMaxSec) * time.Second }
func (c *Config) ReadInterval() time.Duration   { return time.Duration(c.ReadIntervalMs) * time.Millisecond }
