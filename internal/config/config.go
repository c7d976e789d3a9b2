package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	ReplicaDatabaseURL string // empty = no replica, all reads go to primary

	ListenAddr string

	PollInterval     time.Duration // worker queue poll interval
	ScheduleInterval time.Duration // periodic enumeration of active connections

	MaxAttempts          int           // per sync job
	AccountConcurrency   int           // max account jobs in flight per connection
	GlobalConcurrency    int           // max connection jobs in flight in the worker loop
	ProviderCallTimeout  time.Duration // hard timeout on a single provider call
	ReadYourWritesWindow time.Duration // how long reads stick to primary after a write
	MutationCacheSize    int           // max tenants tracked by the mutation marker cache

	ShutdownTimeout time.Duration

	// Per-provider webhook shared secrets, keyed by provider kind.
	WebhookSecrets map[string]string

	// Downstream notification endpoint; empty disables emission.
	NotifyURL string

	// OAuth client credentials for providers that rotate access tokens.
	FincoreClientID     string
	FincoreClientSecret string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:          dbURL,
		ReplicaDatabaseURL:   os.Getenv("REPLICA_DATABASE_URL"),
		ListenAddr:           envOr("LISTEN_ADDR", ":8080"),
		PollInterval:         envDuration("POLL_INTERVAL", 10*time.Second),
		ScheduleInterval:     envDuration("SCHEDULE_INTERVAL", 12*time.Hour),
		MaxAttempts:          envInt("MAX_ATTEMPTS", 3),
		AccountConcurrency:   envInt("ACCOUNT_CONCURRENCY", 4),
		GlobalConcurrency:    envInt("GLOBAL_CONCURRENCY", 16),
		ProviderCallTimeout:  envDuration("PROVIDER_CALL_TIMEOUT", 30*time.Second),
		ReadYourWritesWindow: envDuration("READ_YOUR_WRITES_WINDOW", 10*time.Second),
		MutationCacheSize:    envInt("MUTATION_CACHE_SIZE", 10000),
		ShutdownTimeout:      envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		NotifyURL:            os.Getenv("NOTIFY_URL"),
		FincoreClientID:      os.Getenv("FINCORE_CLIENT_ID"),
		FincoreClientSecret:  os.Getenv("FINCORE_CLIENT_SECRET"),
		WebhookSecrets: map[string]string{
			"sandbank":  os.Getenv("SANDBANK_WEBHOOK_SECRET"),
			"fincore":   os.Getenv("FINCORE_WEBHOOK_SECRET"),
			"brightfin": os.Getenv("BRIGHTFIN_WEBHOOK_SECRET"),
		},
	}

	if cfg.ReplicaDatabaseURL == "" {
		fmt.Println("Warning: REPLICA_DATABASE_URL not set, all reads will go to primary")
	}

	return cfg, nil
}

// envOr returns the env value or a default when unset
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt returns the env value parsed as int or a default when unset/invalid
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %d\n", key, v, def)
		return def
	}
	return n
}

// envDuration returns the env value parsed as a duration or a default when unset/invalid
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %s\n", key, v, def)
		return def
	}
	return d
}
