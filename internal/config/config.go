// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultMaxObjectSize caps declared upload sizes at 5 GiB.
	DefaultMaxObjectSize = 5 * 1024 * 1024 * 1024

	// DefaultMinPartSize is the backend's minimum size for non-final parts (5 MiB).
	DefaultMinPartSize = 5 * 1024 * 1024

	// DefaultMaxPartNumber is the backend's highest allowed part number.
	DefaultMaxPartNumber = 10000

	// DefaultPresignTTL is how long issued part URLs stay valid.
	DefaultPresignTTL = time.Hour

	// DefaultPresignBatch is how many part URLs initiate returns up front.
	DefaultPresignBatch = 10
)

// Limits bounds what the lifecycle manager accepts from clients.
type Limits struct {
	MaxObjectSize int64
	MinPartSize   int64
	MaxPartNumber int
	PresignBatch  int
}

// Config carries everything the entrypoints need to wire the service.
type Config struct {
	ListenAddr string

	Bucket       string
	UploadsTable string
	QueueURL     string

	// MetadataBackend selects "dynamodb" (default) or "memory" for local runs.
	MetadataBackend string

	PresignTTL time.Duration
	Limits     Limits
}

// Load reads configuration from the environment, applying defaults for
// everything except the shared bucket, which has no sensible default.
func Load() (Config, error) {
	bucket := os.Getenv("SHARED_BUCKET")
	if bucket == "" {
		return Config{}, fmt.Errorf("SHARED_BUCKET environment variable not set")
	}

	cfg := Config{
		ListenAddr:      envString("LISTEN_ADDR", ":8080"),
		Bucket:          bucket,
		UploadsTable:    envString("UPLOADS_TABLE", "file-insights-uploads"),
		QueueURL:        os.Getenv("SQS_QUEUE_URL"),
		MetadataBackend: envString("METADATA_BACKEND", "dynamodb"),
		PresignTTL:      envDuration("PRESIGN_TTL", DefaultPresignTTL),
		Limits: Limits{
			MaxObjectSize: envInt64("MAX_OBJECT_SIZE", DefaultMaxObjectSize),
			MinPartSize:   envInt64("MIN_PART_SIZE", DefaultMinPartSize),
			MaxPartNumber: envInt("MAX_PART_NUMBER", DefaultMaxPartNumber),
			PresignBatch:  envInt("PRESIGN_BATCH", DefaultPresignBatch),
		},
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
