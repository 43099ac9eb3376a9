package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 100, cfg.Index.MaxResults)
	assert.Equal(t, 512, cfg.Index.CountCacheSize)
	assert.Equal(t, "30s", cfg.Provider.Timeout)
	assert.Equal(t, 500, cfg.Indexer.QueueLength)
	assert.Equal(t, 2, cfg.Indexer.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Import.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pd.yaml")
	content := `
data_dir: /var/lib/pd
index:
  max_results: 50
  system_owners:
    - admin-1
provider:
  base_url: https://smp.example.com
  timeout: 10s
indexer:
  workers: 4
  retry_interval: 5m
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/pd", cfg.DataDir)
	assert.Equal(t, 50, cfg.Index.MaxResults)
	assert.Equal(t, []string{"admin-1"}, cfg.Index.SystemOwners)
	assert.Equal(t, "https://smp.example.com", cfg.Provider.BaseURL)
	assert.Equal(t, "10s", cfg.Provider.Timeout)
	assert.Equal(t, 4, cfg.Indexer.Workers)
	assert.Equal(t, "5m", cfg.Indexer.RetryInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, 500, cfg.Indexer.QueueLength)
	assert.Equal(t, "24h", cfg.Indexer.ExpiryWindow)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [broken"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PD_DATA_DIR", "/tmp/pd-env")
	t.Setenv("PD_PROVIDER_URL", "https://env.example.com")
	t.Setenv("PD_LOG_LEVEL", "warn")
	t.Setenv("PD_INDEXER_WORKERS", "8")
	t.Setenv("PD_IMPORT_ENABLED", "true")

	path := filepath.Join(t.TempDir(), "pd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/pd-env", cfg.DataDir)
	assert.Equal(t, "https://env.example.com", cfg.Provider.BaseURL)
	assert.Equal(t, "warn", cfg.Log.Level, "env var should override the file")
	assert.Equal(t, 8, cfg.Indexer.Workers)
	assert.True(t, cfg.Import.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := New()
	cfg.Log.Level = "verbose"
	require.Error(t, cfg.Validate())

	cfg = New()
	cfg.Index.MaxResults = -1
	require.Error(t, cfg.Validate())

	cfg = New()
	cfg.Indexer.RetryInterval = "soon"
	require.Error(t, cfg.Validate())
}

func TestDerivedPaths(t *testing.T) {
	cfg := New()
	cfg.DataDir = "/data/pd"

	assert.Equal(t, filepath.Join("/data/pd", "index.bleve"), cfg.IndexPath())
	assert.Equal(t, filepath.Join("/data/pd", "import"), cfg.ImportDir())
	assert.Equal(t, filepath.Join("/data/pd", "logs", "pd.log"), cfg.LogFile())

	cfg.Import.Dir = "/drop"
	assert.Equal(t, "/drop", cfg.ImportDir())

	cfg.Log.File = "stderr"
	assert.Empty(t, cfg.LogFile())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := New()
	cfg.Provider.BaseURL = "https://smp.example.com"
	path := filepath.Join(t.TempDir(), "out.yaml")

	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Provider.BaseURL, loaded.Provider.BaseURL)
	assert.Equal(t, cfg.Indexer.QueueLength, loaded.Indexer.QueueLength)
}
