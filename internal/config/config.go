// Package config loads worker configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	minPollInterval = time.Minute
	maxPollInterval = 24 * time.Hour
)

// Config holds all configuration for the pipeline worker.
type Config struct {
	DatabaseURL string

	// PollInterval is the wall-clock interval between job-processing
	// cycles. Clamped to [1m, 24h].
	PollInterval  time.Duration
	SweepInterval time.Duration
	BatchSize     int

	// WorkRoot must be on the volume shared with the anonymization
	// engine: media paths travel by reference, not by value.
	WorkRoot string

	AnonymizerURL     string
	AnonymizerMaxWait time.Duration

	ScraperURL     string
	StreamingHosts []string

	YoutubeClientID     string
	YoutubeClientSecret string

	// TokenKey is the AES-256 key for tokens at rest, 64 hex characters.
	TokenKey string

	UploadAttempts  int
	UploadRetryBase time.Duration

	// JobLease is how long an in_progress job may sit untouched before
	// the poller reclaims it as pending again.
	JobLease time.Duration

	SuspendFor time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		PollInterval:      12 * time.Hour,
		SweepInterval:     time.Hour,
		BatchSize:         3,
		WorkRoot:          "/app/shared",
		AnonymizerMaxWait: 2 * time.Minute,
		UploadAttempts:    3,
		UploadRetryBase:   10 * time.Second,
		JobLease:          6 * time.Hour,
		SuspendFor:        24 * time.Hour,
		KafkaTopic:        "course-sync",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.AnonymizerURL = os.Getenv("ANONYMIZER_URL")
	if cfg.AnonymizerURL == "" {
		return nil, fmt.Errorf("ANONYMIZER_URL is required")
	}

	cfg.ScraperURL = os.Getenv("SCRAPER_URL")
	if cfg.ScraperURL == "" {
		return nil, fmt.Errorf("SCRAPER_URL is required")
	}

	cfg.TokenKey = os.Getenv("TOKEN_ENCRYPTION_KEY")
	if cfg.TokenKey == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}

	cfg.YoutubeClientID = os.Getenv("YOUTUBE_CLIENT_ID")
	cfg.YoutubeClientSecret = os.Getenv("YOUTUBE_CLIENT_SECRET")
	if cfg.YoutubeClientID == "" || cfg.YoutubeClientSecret == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID and YOUTUBE_CLIENT_SECRET are required")
	}

	if v := os.Getenv("WORK_ROOT"); v != "" {
		cfg.WorkRoot = v
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	cfg.StreamingHosts = splitList(os.Getenv("STREAMING_HOSTS"))
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.AnonymizerMaxWait, err = durationEnv("ANONYMIZER_MAX_WAIT", cfg.AnonymizerMaxWait); err != nil {
		return nil, err
	}
	if cfg.UploadRetryBase, err = durationEnv("UPLOAD_RETRY_BASE", cfg.UploadRetryBase); err != nil {
		return nil, err
	}
	if cfg.JobLease, err = durationEnv("JOB_LEASE", cfg.JobLease); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv("BATCH_SIZE", cfg.BatchSize); err != nil {
		return nil, err
	}
	if cfg.UploadAttempts, err = intEnv("UPLOAD_ATTEMPTS", cfg.UploadAttempts); err != nil {
		return nil, err
	}

	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.UploadAttempts <= 0 {
		return nil, fmt.Errorf("UPLOAD_ATTEMPTS must be positive, got %d", cfg.UploadAttempts)
	}

	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	if cfg.PollInterval > maxPollInterval {
		cfg.PollInterval = maxPollInterval
	}

	return cfg, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
