// Package config loads agent configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent configuration.
type Config struct {
	// DataDir holds the key file, unlock database and KV store.
	DataDir string

	// DevToolsURL is the Chrome remote debugging endpoint. Empty means
	// auto-discover a running Chrome via its process command line.
	DevToolsURL string

	// ListenAddr is the local popup API address.
	ListenAddr string

	// VerifyURL is the external payment-verification endpoint.
	VerifyURL string

	// QuotaLimit is sends allowed per period.
	QuotaLimit int

	// QuotaPeriod is "day" or "month".
	QuotaPeriod string

	// TabScanInterval is how often the detector rescans browser tabs.
	TabScanInterval time.Duration

	// PruneInterval is how often stale usage records are swept.
	PruneInterval time.Duration

	Sync SyncConfig
}

// SyncConfig holds the live-sync scheduling windows. These mirror the
// timings the preview was tuned with; change with care.
type SyncConfig struct {
	FrameInterval    time.Duration // light-pass coalesce window
	DebounceQuiet    time.Duration // heavy-pass quiet window
	BroadcastMinGap  time.Duration // relay push throttle
	RebindGrace      time.Duration // node-replacement grace period
	ScrapeMaxRetries int
}

// DefaultSyncConfig returns the tuned scheduling windows.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		FrameInterval:    16 * time.Millisecond,
		DebounceQuiet:    200 * time.Millisecond,
		BroadcastMinGap:  500 * time.Millisecond,
		RebindGrace:      2 * time.Second,
		ScrapeMaxRetries: 10,
	}
}

// Load reads .env (if present) and environment variables.
func Load() (*Config, error) {
	// Missing .env is fine; env vars may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:         getEnv("MAILFIT_DATA_DIR", defaultDataDir()),
		DevToolsURL:     getEnv("MAILFIT_DEVTOOLS_URL", ""),
		ListenAddr:      getEnv("MAILFIT_LISTEN_ADDR", "127.0.0.1:8457"),
		VerifyURL:       getEnv("MAILFIT_VERIFY_URL", ""),
		QuotaLimit:      getEnvInt("MAILFIT_QUOTA_LIMIT", 5),
		QuotaPeriod:     getEnv("MAILFIT_QUOTA_PERIOD", "day"),
		TabScanInterval: getEnvDuration("MAILFIT_TAB_SCAN_INTERVAL", 2*time.Second),
		PruneInterval:   getEnvDuration("MAILFIT_PRUNE_INTERVAL", time.Hour),
		Sync:            DefaultSyncConfig(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.QuotaPeriod != "day" && c.QuotaPeriod != "month" {
		return fmt.Errorf("invalid MAILFIT_QUOTA_PERIOD %q: must be day or month", c.QuotaPeriod)
	}
	if c.QuotaLimit <= 0 {
		return fmt.Errorf("invalid MAILFIT_QUOTA_LIMIT %d: must be positive", c.QuotaLimit)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailfit"
	}
	return filepath.Join(home, ".mailfit")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
