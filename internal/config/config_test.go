package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.WorkerPollInterval)
	assert.Equal(t, 30*time.Minute, cfg.ReclaimAfter)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.yaml")
	content := `
http_port: "9000"
s3_bucket: carbon-reports
worker_poll_interval: 2s
reclaim_after: 10m
redis_addr: localhost:6380
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.HTTPPort, "env wins over yaml")
	assert.Equal(t, "carbon-reports", cfg.S3Bucket)
	assert.Equal(t, 2*time.Second, cfg.WorkerPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.ReclaimAfter)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: [unterminated"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.WorkerPollInterval = 0
	cfg.LogFormat = "xml"
	cfg.ReclaimAfter = -time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_POLL_INTERVAL")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
	assert.Contains(t, err.Error(), "RECLAIM_AFTER")
}

func TestValidate_ArtifactDestination(t *testing.T) {
	cfg := Defaults()
	cfg.ArtifactDir = ""
	assert.Error(t, cfg.Validate())

	cfg.S3Bucket = "bucket"
	assert.NoError(t, cfg.Validate())
}

func TestGetEnvHelpers_IgnoreGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")

	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
}
