// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig  `mapstructure:"logging"`
	DB      DBConfig       `mapstructure:"db"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Scrape  ScrapeConfig   `mapstructure:"scrape"`
	Sources []SourceConfig `mapstructure:"sources"`
	Dedup   DedupConfig    `mapstructure:"dedup"`
	Verify  VerifyConfig   `mapstructure:"verify"`
	Enrich  EnrichConfig   `mapstructure:"enrich"`
	Notify  NotifyConfig   `mapstructure:"notify"`
	Cleanup CleanupConfig  `mapstructure:"cleanup"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the catalogue database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ScrapeConfig governs scraping and rate limiting.
type ScrapeConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPSPerHost     float64 `mapstructure:"rps_per_host"`
	Burst          int     `mapstructure:"burst"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// SourceConfig describes one listing source.
type SourceConfig struct {
	ID          string `mapstructure:"id"`
	URL         string `mapstructure:"url"`
	Language    string `mapstructure:"language"`
	Institution string `mapstructure:"institution"`
	MaxPages    int    `mapstructure:"max_pages"`

	ItemSelector        string `mapstructure:"item_selector"`
	TitleSelector       string `mapstructure:"title_selector"`
	LinkSelector        string `mapstructure:"link_selector"`
	InstitutionSelector string `mapstructure:"institution_selector"`
	DepartmentSelector  string `mapstructure:"department_selector"`
	LocationSelector    string `mapstructure:"location_selector"`
	ClosingSelector     string `mapstructure:"closing_selector"`
	NextPageSelector    string `mapstructure:"next_page_selector"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	Threshold            float64  `mapstructure:"threshold"`
	InstitutionThreshold float64  `mapstructure:"institution_threshold"`
	SourcePriority       []string `mapstructure:"source_priority"`
}

// VerifyConfig tunes liveness verification.
type VerifyConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	Concurrency      int `mapstructure:"concurrency"`
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
}

// EnrichConfig governs the classification pass.
type EnrichConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	MaxCalls    int    `mapstructure:"max_calls"`
	Concurrency int    `mapstructure:"concurrency"`

	PromptVersions map[string]string `mapstructure:"prompt_versions"`
}

// NotifyConfig selects and tunes the digest channel.
type NotifyConfig struct {
	MinRelevance float64 `mapstructure:"min_relevance"`
	MaxPostings  int     `mapstructure:"max_postings"`

	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// CleanupConfig tunes catalogue maintenance.
type CleanupConfig struct {
	ClosedRetentionDays int `mapstructure:"closed_retention_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAIRWATCH")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("scrape.user_agent", "chairwatch-bot/0.1")
	v.SetDefault("scrape.timeout_seconds", 30)
	v.SetDefault("scrape.rps_per_host", 1.0)
	v.SetDefault("scrape.burst", 1)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("dedup.threshold", 0.85)
	v.SetDefault("dedup.institution_threshold", 0.90)
	v.SetDefault("verify.failure_threshold", 3)
	v.SetDefault("verify.concurrency", 4)
	v.SetDefault("verify.timeout_seconds", 15)
	v.SetDefault("enrich.model", "gemini-2.0-flash")
	v.SetDefault("enrich.max_calls", 200)
	v.SetDefault("enrich.concurrency", 2)
	v.SetDefault("notify.min_relevance", 0.6)
	v.SetDefault("notify.max_postings", 25)
	v.SetDefault("cleanup.closed_retention_days", 90)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.RPSPerHost <= 0 {
		return fmt.Errorf("scrape.rps_per_host must be > 0")
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold must be in (0, 1]")
	}
	if c.Dedup.InstitutionThreshold <= 0 || c.Dedup.InstitutionThreshold > 1 {
		return fmt.Errorf("dedup.institution_threshold must be in (0, 1]")
	}
	if c.Verify.FailureThreshold <= 0 {
		return fmt.Errorf("verify.failure_threshold must be > 0")
	}
	if c.Verify.Concurrency <= 0 {
		return fmt.Errorf("verify.concurrency must be > 0")
	}
	if c.Notify.MinRelevance < 0 || c.Notify.MinRelevance > 1 {
		return fmt.Errorf("notify.min_relevance must be in [0, 1]")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.ID == "" || src.URL == "" {
			return fmt.Errorf("every source needs id and url")
		}
		if _, ok := seen[src.ID]; ok {
			return fmt.Errorf("source %q configured twice", src.ID)
		}
		seen[src.ID] = struct{}{}
	}
	return nil
}
