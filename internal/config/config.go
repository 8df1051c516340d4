package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Mapping   MappingConfig   `yaml:"mapping" mapstructure:"mapping"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Learner   LearnerConfig   `yaml:"learner" mapstructure:"learner"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for the inference capability.
// An empty key disables inference; the translator then runs dictionary-only.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateRPS   float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	// Retry settings for transient API failures. Zero values fall back to
	// the resilience package defaults.
	RetryMaxAttempts      int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs int `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// MappingConfig holds the translator's confidence thresholds.
type MappingConfig struct {
	// DictionaryAcceptThreshold: dictionary hits at or above this confidence
	// skip inference entirely.
	DictionaryAcceptThreshold float64 `yaml:"dictionary_accept_threshold" mapstructure:"dictionary_accept_threshold"`
	// AcceptThreshold: mappings below this confidence are not applied and
	// stay visible in unmapped_source_fields.
	AcceptThreshold float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	// ApprovalThreshold: batches whose overall confidence falls below this
	// park at the review gate instead of auto-persisting.
	ApprovalThreshold float64 `yaml:"approval_threshold" mapstructure:"approval_threshold"`
	// DegradedPenalty multiplies overall confidence when inference was
	// unavailable and the proposal is dictionary-only.
	DegradedPenalty float64 `yaml:"degraded_penalty" mapstructure:"degraded_penalty"`
	// SampleRows: how many rows accompany headers into inference.
	SampleRows int `yaml:"sample_rows" mapstructure:"sample_rows"`
}

// AuditConfig holds the auditor's recommendation policy cutoffs.
type AuditConfig struct {
	PassCaptureRate float64 `yaml:"pass_capture_rate" mapstructure:"pass_capture_rate"`
}

// LearnerConfig configures synonym learning.
type LearnerConfig struct {
	MinFrequency int `yaml:"min_frequency" mapstructure:"min_frequency"`
	MaxSamples   int `yaml:"max_samples" mapstructure:"max_samples"`
}

// IngestConfig configures manifest intake.
type IngestConfig struct {
	MaxConcurrentBatches int `yaml:"max_concurrent_batches" mapstructure:"max_concurrent_batches"`
	FTPTimeoutSecs       int `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// CatalogConfig points at an optional canonical schema override file.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("MANIFEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "manifest.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.rate_rps", 2)
	v.SetDefault("anthropic.rate_burst", 4)
	v.SetDefault("anthropic.retry_max_attempts", 3)
	v.SetDefault("anthropic.retry_initial_backoff_ms", 500)
	v.SetDefault("anthropic.retry_max_backoff_ms", 30000)
	v.SetDefault("mapping.dictionary_accept_threshold", 0.90)
	v.SetDefault("mapping.accept_threshold", 0.80)
	v.SetDefault("mapping.approval_threshold", 0.85)
	v.SetDefault("mapping.degraded_penalty", 0.75)
	v.SetDefault("mapping.sample_rows", 5)
	v.SetDefault("audit.pass_capture_rate", 0.95)
	v.SetDefault("learner.min_frequency", 2)
	v.SetDefault("learner.max_samples", 5)
	v.SetDefault("ingest.max_concurrent_batches", 4)
	v.SetDefault("ingest.ftp_timeout_secs", 30)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks threshold ranges and store settings.
func (c *Config) Validate() error {
	unit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return eris.Errorf("config: %s must be in [0,1], got %v", name, v)
		}
		return nil
	}
	for name, v := range map[string]float64{
		"mapping.dictionary_accept_threshold": c.Mapping.DictionaryAcceptThreshold,
		"mapping.accept_threshold":            c.Mapping.AcceptThreshold,
		"mapping.approval_threshold":          c.Mapping.ApprovalThreshold,
		"mapping.degraded_penalty":            c.Mapping.DegradedPenalty,
		"audit.pass_capture_rate":             c.Audit.PassCaptureRate,
	} {
		if err := unit(name, v); err != nil {
			return err
		}
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
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
