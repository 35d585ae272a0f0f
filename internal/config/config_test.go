package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
	assert.Equal(t, 3, cfg.Batch.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.BackoffBase)
	assert.Equal(t, 8*time.Second, cfg.Batch.BackoffMax)
	assert.Equal(t, 10*time.Second, cfg.Batch.StaleAfter)
	assert.Equal(t, 30*time.Minute, cfg.Batch.AbandonAfter)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.False(t, cfg.Validator.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "einvoice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
batch:
  concurrency: 5
  stale_after: 30s
database:
  driver: postgres
  dsn: postgres://localhost/einvoice
`), 0o644))

	t.Setenv("EINVOICE_BATCH_CONCURRENCY", "8")
	t.Setenv("EINVOICE_LLM_API_KEY", "sk-test")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Batch.Concurrency, "environment wins over the file")
	assert.Equal(t, 30*time.Second, cfg.Batch.StaleAfter)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EINVOICE_LOG_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("EINVOICE_LOG_LEVEL") })

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"EINVOICE_DATABASE_DRIVER": "mysql"}},
		{"postgres without dsn", map[string]string{"EINVOICE_DATABASE_DRIVER": "postgres"}},
		{"zero concurrency", map[string]string{"EINVOICE_BATCH_CONCURRENCY": "0"}},
		{"inverted backoff", map[string]string{"EINVOICE_BATCH_BACKOFF_MAX": "100ms"}},
		{"validator without executable", map[string]string{"EINVOICE_VALIDATOR_ENABLED": "true"}},
		{"minio without endpoint", map[string]string{"EINVOICE_STORAGE_DRIVER": "minio"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}
