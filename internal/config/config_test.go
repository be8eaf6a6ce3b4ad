package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "enrich.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 2*time.Minute, cfg.Redis.LockTTL)

	assert.Equal(t, 15*time.Second, cfg.Scrape.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Scrape.MinCallerInterval)
	assert.Equal(t, 2, cfg.Scrape.ChainRetries)
	assert.Equal(t, 5, cfg.Scrape.BreakerThreshold)

	assert.Equal(t, 70*time.Second, cfg.Orchestrator.InterBatchDelay)
	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrentJobs)
	assert.Equal(t, 2, cfg.Orchestrator.HostRetries)
	assert.Equal(t, 10, cfg.Orchestrator.CallsPerWindow)
	assert.Equal(t, 2, cfg.Orchestrator.CallCost)
	assert.Equal(t, 4, cfg.Orchestrator.ModuleConcurrency)

	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Monitoring.CheckInterval)
	assert.Equal(t, 24*time.Hour, cfg.Monitoring.LookbackWindow)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Monitoring.StuckAfter)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /var/lib/enrich/jobs.db
log:
  level: debug
  format: console
server:
  port: 9090
  allowed_origins: ["https://app.example.com"]
orchestrator:
  inter_batch_delay: 90s
  max_concurrent_jobs: 8
scrape:
  sources_file: sources.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/enrich/jobs.db", cfg.Store.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.InterBatchDelay)
	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrentJobs)
	assert.Equal(t, "sources.yaml", cfg.Scrape.SourcesFile)
	// Defaults still apply for unset values
	assert.Equal(t, 2, cfg.Orchestrator.HostRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ENRICH_STORE_DRIVER", "postgres")
	t.Setenv("ENRICH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ENRICH_SERVER_PORT", "3000")
	t.Setenv("ENRICH_ORCHESTRATOR_INTER_BATCH_DELAY", "5s")
	t.Setenv("ENRICH_PERPLEXITY_KEY", "pplx-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.InterBatchDelay)
	assert.Equal(t, "pplx-key", cfg.Perplexity.Key)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/enrich"
	cfg.Perplexity.Key = "pplx-key"
	cfg.Scrape.RequestTimeout = 15 * time.Second
	cfg.Scrape.ChainRetries = 2
	cfg.Orchestrator.InterBatchDelay = 70 * time.Second
	cfg.Orchestrator.MaxConcurrentJobs = 5
	cfg.Orchestrator.HostRetries = 2
	cfg.Orchestrator.CallsPerWindow = 10
	cfg.Orchestrator.CallCost = 2
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Perplexity.Key = ""
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "perplexity.key is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateSQLite(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	cfg.Store.SQLitePath = "enrich.db"
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store.SQLitePath = ""
	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.sqlite_path is required")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateScrapeNeedsNoStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Perplexity.Key = ""
	assert.NoError(t, cfg.Validate("scrape"))

	cfg.Scrape.ChainRetries = -1
	err := cfg.Validate("scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scrape.chain_retries")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Orchestrator.MaxConcurrentJobs = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_jobs must be between 1 and 50")

	cfg.Orchestrator.MaxConcurrentJobs = 51
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Orchestrator.MaxConcurrentJobs = 50
	assert.NoError(t, cfg.Validate("run"))

	cfg.Orchestrator.HostRetries = -1
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "host_retries")
}

func TestValidateMonitoringThreshold(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")

	cfg.Monitoring.Enabled = false
	assert.NoError(t, cfg.Validate("serve"))
}
