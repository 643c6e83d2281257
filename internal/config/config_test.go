package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresBucket(t *testing.T) {
	t.Setenv("SHARED_BUCKET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHARED_BUCKET", "uploads-bucket")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "uploads-bucket", cfg.Bucket)
	assert.Equal(t, "file-insights-uploads", cfg.UploadsTable)
	assert.Equal(t, "dynamodb", cfg.MetadataBackend)
	assert.Equal(t, time.Hour, cfg.PresignTTL)
	assert.Equal(t, int64(DefaultMaxObjectSize), cfg.Limits.MaxObjectSize)
	assert.Equal(t, DefaultMaxPartNumber, cfg.Limits.MaxPartNumber)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHARED_BUCKET", "uploads-bucket")
	t.Setenv("METADATA_BACKEND", "memory")
	t.Setenv("PRESIGN_TTL", "15m")
	t.Setenv("MAX_OBJECT_SIZE", "1048576")
	t.Setenv("PRESIGN_BATCH", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.MetadataBackend)
	assert.Equal(t, 15*time.Minute, cfg.PresignTTL)
	assert.Equal(t, int64(1048576), cfg.Limits.MaxObjectSize)
	assert.Equal(t, 3, cfg.Limits.PresignBatch)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SHARED_BUCKET", "uploads-bucket")
	t.Setenv("MAX_PART_NUMBER", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPartNumber, cfg.Limits.MaxPartNumber)
}
