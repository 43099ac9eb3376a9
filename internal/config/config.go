// Package config loads the directory service configuration. Values are
// applied in order of increasing precedence: hardcoded defaults, a YAML
// config file, then PD_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFileName is looked up in the data directory when no explicit
// config path is given.
const DefaultConfigFileName = "pd.yaml"

// Config represents the complete directory service configuration.
type Config struct {
	// DataDir holds the index, the durable indexer lists and the shutdown
	// snapshot. Defaults to ~/.pd.
	DataDir string `yaml:"data_dir"`

	Index    IndexConfig    `yaml:"index"`
	Provider ProviderConfig `yaml:"provider"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Import   ImportConfig   `yaml:"import"`
	Log      LogConfig      `yaml:"log"`
}

// IndexConfig configures the participant index.
type IndexConfig struct {
	// MaxResults caps the number of entities a single search returns.
	MaxResults int `yaml:"max_results"`
	// CountCacheSize is the number of cached count-query results.
	CountCacheSize int `yaml:"count_cache_size"`
	// SystemOwners may delete any participant regardless of who indexed it.
	SystemOwners []string `yaml:"system_owners"`
}

// ProviderConfig configures the upstream business-card provider.
type ProviderConfig struct {
	// BaseURL is the provider endpoint, e.g. "https://smp.example.com".
	BaseURL string `yaml:"base_url"`
	// Timeout is the per-request timeout, e.g. "30s".
	Timeout string `yaml:"timeout"`
	// MaxRetries is the number of immediate retries on transient failures.
	MaxRetries int `yaml:"max_retries"`
}

// IndexerConfig configures the asynchronous work queue.
type IndexerConfig struct {
	QueueLength int `yaml:"queue_length"`
	Workers     int `yaml:"workers"`
	// RetryInterval is the minimum pause between retries of one item.
	RetryInterval string `yaml:"retry_interval"`
	// ExpiryWindow is how long an item may keep failing before it is
	// moved to the dead list.
	ExpiryWindow  string `yaml:"expiry_window"`
	SweepInterval string `yaml:"sweep_interval"`
}

// ImportConfig configures the drop-directory importer.
type ImportConfig struct {
	// Enabled starts the drop-directory watcher with the service.
	Enabled bool `yaml:"enabled"`
	// Dir is the drop directory. Empty means <data_dir>/import.
	Dir string `yaml:"dir"`
	// OwnerID is recorded as the owner of imported participants.
	OwnerID     string `yaml:"owner_id"`
	SettleDelay string `yaml:"settle_delay"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// File is the log file path. Empty means <data_dir>/logs/pd.log;
	// "stderr" disables file logging.
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// New creates a Config with defaults applied.
func New() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Index: IndexConfig{
			MaxResults:     100,
			CountCacheSize: 512,
			SystemOwners:   nil,
		},
		Provider: ProviderConfig{
			Timeout:    "30s",
			MaxRetries: 2,
		},
		Indexer: IndexerConfig{
			QueueLength:   500,
			Workers:       2,
			RetryInterval: "1m",
			ExpiryWindow:  "24h",
			SweepInterval: "15s",
		},
		Import: ImportConfig{
			Enabled:     false,
			OwnerID:     "pd-import",
			SettleDelay: "500ms",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// defaultDataDir returns the default data directory (~/.pd).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pd")
	}
	return filepath.Join(home, ".pd")
}

// Load loads configuration from the given file path. An empty path falls
// back to <default data dir>/pd.yaml; a missing default file is not an
// error, the defaults are used.
func Load(path string) (*Config, error) {
	cfg := New()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, DefaultConfigFileName)
	}

	if err := cfg.loadYAML(path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Index.MaxResults != 0 {
		c.Index.MaxResults = other.Index.MaxResults
	}
	if other.Index.CountCacheSize != 0 {
		c.Index.CountCacheSize = other.Index.CountCacheSize
	}
	if len(other.Index.SystemOwners) > 0 {
		c.Index.SystemOwners = other.Index.SystemOwners
	}

	if other.Provider.BaseURL != "" {
		c.Provider.BaseURL = other.Provider.BaseURL
	}
	if other.Provider.Timeout != "" {
		c.Provider.Timeout = other.Provider.Timeout
	}
	if other.Provider.MaxRetries != 0 {
		c.Provider.MaxRetries = other.Provider.MaxRetries
	}

	if other.Indexer.QueueLength != 0 {
		c.Indexer.QueueLength = other.Indexer.QueueLength
	}
	if other.Indexer.Workers != 0 {
		c.Indexer.Workers = other.Indexer.Workers
	}
	if other.Indexer.RetryInterval != "" {
		c.Indexer.RetryInterval = other.Indexer.RetryInterval
	}
	if other.Indexer.ExpiryWindow != "" {
		c.Indexer.ExpiryWindow = other.Indexer.ExpiryWindow
	}
	if other.Indexer.SweepInterval != "" {
		c.Indexer.SweepInterval = other.Indexer.SweepInterval
	}

	if other.Import.Enabled {
		c.Import.Enabled = true
	}
	if other.Import.Dir != "" {
		c.Import.Dir = other.Import.Dir
	}
	if other.Import.OwnerID != "" {
		c.Import.OwnerID = other.Import.OwnerID
	}
	if other.Import.SettleDelay != "" {
		c.Import.SettleDelay = other.Import.SettleDelay
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.File != "" {
		c.Log.File = other.Log.File
	}
	if other.Log.MaxSizeMB != 0 {
		c.Log.MaxSizeMB = other.Log.MaxSizeMB
	}
	if other.Log.MaxFiles != 0 {
		c.Log.MaxFiles = other.Log.MaxFiles
	}
}

// applyEnvOverrides applies PD_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PD_PROVIDER_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("PD_PROVIDER_TIMEOUT"); v != "" {
		c.Provider.Timeout = v
	}
	if v := os.Getenv("PD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PD_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("PD_INDEXER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexer.Workers = n
		}
	}
	if v := os.Getenv("PD_INDEXER_QUEUE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexer.QueueLength = n
		}
	}
	if v := os.Getenv("PD_IMPORT_ENABLED"); v != "" {
		c.Import.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("PD_IMPORT_DIR"); v != "" {
		c.Import.Dir = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Index.MaxResults < 0 {
		return fmt.Errorf("index.max_results must be non-negative, got %d", c.Index.MaxResults)
	}
	if c.Indexer.QueueLength < 0 {
		return fmt.Errorf("indexer.queue_length must be non-negative, got %d", c.Indexer.QueueLength)
	}
	if c.Indexer.Workers < 0 {
		return fmt.Errorf("indexer.workers must be non-negative, got %d", c.Indexer.Workers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	for name, v := range map[string]string{
		"provider.timeout":       c.Provider.Timeout,
		"indexer.retry_interval": c.Indexer.RetryInterval,
		"indexer.expiry_window":  c.Indexer.ExpiryWindow,
		"indexer.sweep_interval": c.Indexer.SweepInterval,
		"import.settle_delay":    c.Import.SettleDelay,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", name, v)
		}
	}

	return nil
}

// IndexPath returns the on-disk location of the participant index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.bleve")
}

// ImportDir returns the drop directory, applying the data-dir default.
func (c *Config) ImportDir() string {
	if c.Import.Dir != "" {
		return c.Import.Dir
	}
	return filepath.Join(c.DataDir, "import")
}

// LogFile returns the log file path, applying the data-dir default. An
// explicit "stderr" disables file logging.
func (c *Config) LogFile() string {
	switch c.Log.File {
	case "":
		return filepath.Join(c.DataDir, "logs", "pd.log")
	case "stderr":
		return ""
	default:
		return c.Log.File
	}
}

// Duration parses one of the duration-typed fields, falling back to the
// given default when the field is empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
