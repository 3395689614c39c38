// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Rotation  RotationConfig  `mapstructure:"rotation"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Collector CollectorConfig `mapstructure:"collector"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Store     StoreConfig     `mapstructure:"store"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RotationConfig governs credential rotation behavior.
type RotationConfig struct {
	Strategy         string `mapstructure:"strategy"`
	SkipThresholdPct int    `mapstructure:"skip_threshold_pct"`
	StalenessMinutes int    `mapstructure:"staleness_minutes"`
}

// BreakerConfig governs the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

// RetryConfig governs the exponential-backoff retry executor.
type RetryConfig struct {
	MaxAttempts             int `mapstructure:"max_attempts"`
	BaseDelaySeconds        int `mapstructure:"base_delay_seconds"`
	DetectedDelayMinSeconds int `mapstructure:"detected_delay_min_seconds"`
	DetectedDelayMaxSeconds int `mapstructure:"detected_delay_max_seconds"`
}

// CollectorConfig governs the orchestrator worker pool.
type CollectorConfig struct {
	Workers      int     `mapstructure:"workers"`
	SubjectLimit int     `mapstructure:"subject_limit"`
	PaceRPS      float64 `mapstructure:"pace_rps"`
	JitterMaxMs  int     `mapstructure:"jitter_max_ms"`
}

// SourceConfig holds the knobs common to a single source adapter.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	EngineID       string `mapstructure:"engine_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// SourcesConfig holds per-source adapter settings.
type SourcesConfig struct {
	Search     SourceConfig `mapstructure:"search"`
	Profile    SourceConfig `mapstructure:"profile"`
	NetProfile SourceConfig `mapstructure:"net_profile"`
	Video      SourceConfig `mapstructure:"video"`
}

// StoreConfig selects and configures the record store provider.
type StoreConfig struct {
	Provider      string `mapstructure:"provider"`
	Table         string `mapstructure:"table"`
	SubjectsTable string `mapstructure:"subjects_table"`
	// SubjectsFile points to a JSON subject list used with the memory
	// provider, mainly for local runs.
	SubjectsFile string `mapstructure:"subjects_file"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
}

// SentimentConfig selects the sentiment backend.
type SentimentConfig struct {
	Backend  string `mapstructure:"backend"`
	Model    string `mapstructure:"model"`
	MaxChars int    `mapstructure:"max_chars"`
}

// PubSubConfig holds metadata for run summary publication.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("rotation.strategy", "round_robin")
	v.SetDefault("rotation.skip_threshold_pct", 95)
	v.SetDefault("rotation.staleness_minutes", 60)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_seconds", 300)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_seconds", 1)
	v.SetDefault("retry.detected_delay_min_seconds", 10)
	v.SetDefault("retry.detected_delay_max_seconds", 15)
	v.SetDefault("collector.workers", 4)
	v.SetDefault("collector.subject_limit", 0)
	v.SetDefault("collector.pace_rps", 0.5)
	v.SetDefault("collector.jitter_max_ms", 2000)
	v.SetDefault("sources.search.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("sources.search.timeout_seconds", 10)
	v.SetDefault("sources.profile.base_url", "https://i.instagram.com/api/v1")
	v.SetDefault("sources.profile.timeout_seconds", 30)
	v.SetDefault("sources.net_profile.base_url", "https://www.threads.net")
	v.SetDefault("sources.net_profile.timeout_seconds", 20)
	v.SetDefault("sources.video.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("sources.video.timeout_seconds", 10)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.table", "subject-records")
	v.SetDefault("store.subjects_table", "subjects")
	v.SetDefault("store.region", "us-east-1")
	v.SetDefault("sentiment.backend", "local")
	v.SetDefault("sentiment.max_chars", 500)
	v.SetDefault("logging.development", true)
}

var rotationStrategies = map[string]bool{
	"round_robin": true,
	"least_used":  true,
	"random":      true,
	"adaptive":    true,
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !rotationStrategies[c.Rotation.Strategy] {
		return fmt.Errorf("rotation.strategy %q is not one of round_robin, least_used, random, adaptive", c.Rotation.Strategy)
	}
	if c.Rotation.SkipThresholdPct <= 0 || c.Rotation.SkipThresholdPct > 100 {
		return fmt.Errorf("rotation.skip_threshold_pct must be in (0, 100]")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Collector.Workers <= 0 {
		return fmt.Errorf("collector.workers must be > 0")
	}
	if c.Sentiment.Backend != "local" && c.Sentiment.Backend != "openai" {
		return fmt.Errorf("sentiment.backend must be local or openai")
	}
	if c.Store.Provider != "memory" && c.Store.Provider != "dynamo" {
		return fmt.Errorf("store.provider must be memory or dynamo")
	}
	if c.Store.Provider == "dynamo" && c.Store.Table == "" {
		return fmt.Errorf("store.table must be set when store.provider is dynamo")
	}
	return nil
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (c Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}

// RetryBaseDelay returns the retry base delay as a duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelaySeconds) * time.Second
}

// StalenessWindow returns the adaptive rotation staleness window.
func (c Config) StalenessWindow() time.Duration {
	return time.Duration(c.Rotation.StalenessMinutes) * time.Minute
}
