package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
	Scrape       ScrapeConfig       `yaml:"scrape" mapstructure:"scrape"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PerplexityConfig holds the search-grounded model settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds the restructuring pass settings. An empty key
// disables the pass.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// RedisConfig enables the cross-process company lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// ScrapeConfig tunes the registry fallback chain.
type ScrapeConfig struct {
	RequestTimeout    time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	MinCallerInterval time.Duration `yaml:"min_caller_interval" mapstructure:"min_caller_interval"`
	ChainRetries      int           `yaml:"chain_retries" mapstructure:"chain_retries"`
	ChainBackoff      time.Duration `yaml:"chain_backoff" mapstructure:"chain_backoff"`
	MinFields         int           `yaml:"min_fields" mapstructure:"min_fields"`
	HostInterval      time.Duration `yaml:"host_interval" mapstructure:"host_interval"`
	BreakerThreshold  int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerReset      time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset"`
	SourcesFile       string        `yaml:"sources_file" mapstructure:"sources_file"`
}

// OrchestratorConfig tunes job execution.
type OrchestratorConfig struct {
	InterBatchDelay   time.Duration `yaml:"inter_batch_delay" mapstructure:"inter_batch_delay"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	HostRetries       int           `yaml:"host_retries" mapstructure:"host_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	CallsPerWindow    int           `yaml:"calls_per_window" mapstructure:"calls_per_window"`
	CallCost          int           `yaml:"call_cost" mapstructure:"call_cost"`
	ModuleConcurrency int           `yaml:"module_concurrency" mapstructure:"module_concurrency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// MonitoringConfig configures the background job health checker.
type MonitoringConfig struct {
	Enabled              bool          `yaml:"enabled" mapstructure:"enabled"`
	CheckInterval        time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackWindow       time.Duration `yaml:"lookback_window" mapstructure:"lookback_window"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StuckAfter           time.Duration `yaml:"stuck_after" mapstructure:"stuck_after"`
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "enrich.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "2m")
	v.SetDefault("scrape.request_timeout", "15s")
	v.SetDefault("scrape.min_caller_interval", "2s")
	v.SetDefault("scrape.chain_retries", 2)
	v.SetDefault("scrape.chain_backoff", "1s")
	v.SetDefault("scrape.min_fields", 2)
	v.SetDefault("scrape.host_interval", "500ms")
	v.SetDefault("scrape.breaker_threshold", 5)
	v.SetDefault("scrape.breaker_reset", "30s")
	v.SetDefault("scrape.sources_file", "")
	v.SetDefault("orchestrator.inter_batch_delay", "70s")
	v.SetDefault("orchestrator.max_concurrent_jobs", 5)
	v.SetDefault("orchestrator.host_retries", 2)
	v.SetDefault("orchestrator.retry_backoff", "5s")
	v.SetDefault("orchestrator.calls_per_window", 10)
	v.SetDefault("orchestrator.call_cost", 2)
	v.SetDefault("orchestrator.module_concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval", "5m")
	v.SetDefault("monitoring.lookback_window", "24h")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stuck_after", "30m")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes are "serve",
// "run", "scrape" and "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string
	needStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				errs = append(errs, "store.sqlite_path is required")
			}
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}
	needAI := func() {
		if c.Perplexity.Key == "" {
			errs = append(errs, "perplexity.key is required")
		}
	}
	needOrchestrator := func() {
		o := c.Orchestrator
		if o.MaxConcurrentJobs < 1 || o.MaxConcurrentJobs > 50 {
			errs = append(errs, "orchestrator.max_concurrent_jobs must be between 1 and 50")
		}
		if o.HostRetries < 0 {
			errs = append(errs, "orchestrator.host_retries must be >= 0")
		}
		if o.InterBatchDelay < 0 {
			errs = append(errs, "orchestrator.inter_batch_delay must be >= 0")
		}
		if o.CallsPerWindow < 1 || o.CallCost < 1 {
			errs = append(errs, "orchestrator.calls_per_window and call_cost must be > 0")
		}
	}
	needScrape := func() {
		if c.Scrape.ChainRetries < 0 {
			errs = append(errs, "scrape.chain_retries must be >= 0")
		}
		if c.Scrape.RequestTimeout <= 0 {
			errs = append(errs, "scrape.request_timeout must be > 0")
		}
	}

	switch mode {
	case "serve":
		needStore()
		needAI()
		needOrchestrator()
		needScrape()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0")
		}
		if m := c.Monitoring; m.Enabled && (m.FailureRateThreshold <= 0 || m.FailureRateThreshold > 1) {
			errs = append(errs, "monitoring.failure_rate_threshold must be in (0, 1]")
		}
	case "run":
		needStore()
		needAI()
		needOrchestrator()
		needScrape()
	case "scrape":
		needScrape()
	case "migrate":
		needStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
