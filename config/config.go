// Package config loads and validates the harvester configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/tmshv/rfpharvest/internal"
)

// Source kinds understood by the adapter registry.
const (
	KindHTML      = "html"
	KindRSS       = "rss"
	KindJSON      = "json"
	KindSimulated = "simulated"
)

// Fallback behaviours when a source yields zero candidates.
const (
	FallbackEmpty     = "empty"
	FallbackSimulated = "simulated"
)

// Config holds all configuration for a harvest run
type Config struct {
	OutputFile          string         `mapstructure:"output_file"`
	SqlitePath          string         `mapstructure:"sqlite_path"`
	MinTitleLength      int            `mapstructure:"min_title_length"`
	DescriptionMaxChars int            `mapstructure:"description_max_chars"`
	RunDeadlineSeconds  int            `mapstructure:"run_deadline_seconds"`
	MaxConcurrency      int            `mapstructure:"max_concurrency"`
	UserAgent           string         `mapstructure:"user_agent"`
	RequestsPerSecond   float64        `mapstructure:"requests_per_second"`
	MaxBodyKb           int            `mapstructure:"max_body_kb"`
	LogLevel            string         `mapstructure:"log_level"`
	Retry               RetryPolicy    `mapstructure:"retry"`
	Sources             []SourceConfig `mapstructure:"sources"`
}

// SourceConfig configures one source adapter
type SourceConfig struct {
	Name           string            `mapstructure:"name"`
	Kind           string            `mapstructure:"kind"`
	Enabled        bool              `mapstructure:"enabled"`
	BaseURL        string            `mapstructure:"base_url"`
	URL            string            `mapstructure:"url"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Headers        map[string]string `mapstructure:"headers"`
	Agency         string            `mapstructure:"agency"`
	Selectors      []string          `mapstructure:"selectors"`
	ItemsPath      string            `mapstructure:"items_path"`
	Fields         map[string]string `mapstructure:"fields"`
	Fallback       string            `mapstructure:"fallback"`
}

// RetryPolicy defines retry behavior for source fetches
type RetryPolicy struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialDelayMs    int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs        int     `mapstructure:"max_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// GetRetryDelay calculates exponential backoff delay before the given attempt.
func (rp RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 2; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	if rp.MaxDelayMs > 0 && int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s SourceConfig) ListingURL() string {
	if strings.TrimSpace(s.URL) != "" {
		return s.URL
	}
	return s.BaseURL
}

func (c *Config) RunDeadline() time.Duration {
	return time.Duration(c.RunDeadlineSeconds) * time.Second
}

// EnabledSources returns only enabled sources, in configuration order.
func (c *Config) EnabledSources() []SourceConfig {
	var enabled []SourceConfig
	for _, src := range c.Sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_file", "rfp_data.json")
	v.SetDefault("min_title_length", 10)
	v.SetDefault("description_max_chars", 200)
	v.SetDefault("run_deadline_seconds", 120)
	v.SetDefault("max_concurrency", 4)
	v.SetDefault("user_agent", "Mozilla/5.0 (compatible; rfpharvest/1.0)")
	v.SetDefault("requests_per_second", 1.0)
	v.SetDefault("max_body_kb", 4096)
	v.SetDefault("log_level", "info")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 10000)
	v.SetDefault("retry.backoff_multiplier", 2.0)
}

// LoadConfig reads the config file at path. JSON and YAML are both accepted;
// RFP_* environment variables override top level keys.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("RFP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", internal.ErrConfig, path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", internal.ErrConfig, path, err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Normalize() {
	for i := range c.Sources {
		src := &c.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		if src.Kind == "" {
			src.Kind = KindHTML
		}
		if src.TimeoutSeconds <= 0 {
			src.TimeoutSeconds = 30
		}
		src.Fallback = strings.ToLower(strings.TrimSpace(src.Fallback))
		if src.Fallback == "" {
			src.Fallback = FallbackEmpty
		}
		if src.BaseURL == "" && src.URL != "" {
			if u, err := url.Parse(src.URL); err == nil && u.Host != "" {
				src.BaseURL = u.Scheme + "://" + u.Host
			}
		}
	}
}

// Validate collects every problem, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(c.OutputFile) == "" {
		result = multierror.Append(result, fmt.Errorf("output_file is required"))
	}
	if c.MinTitleLength < 1 {
		result = multierror.Append(result, fmt.Errorf("min_title_length must be at least 1"))
	}
	if c.DescriptionMaxChars < 4 {
		result = multierror.Append(result, fmt.Errorf("description_max_chars must be at least 4"))
	}
	if c.RunDeadlineSeconds < 1 {
		result = multierror.Append(result, fmt.Errorf("run_deadline_seconds must be at least 1"))
	}
	if c.MaxConcurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("max_concurrency must be at least 1"))
	}
	if c.RequestsPerSecond < 0 {
		result = multierror.Append(result, fmt.Errorf("requests_per_second must be non-negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		result = multierror.Append(result, fmt.Errorf("retry.backoff_multiplier must be >= 1.0"))
	}
	if len(c.Sources) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one source is required"))
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if err := src.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("sources[%d]: %w", i, err))
		}
		if _, dup := seen[src.Name]; dup && src.Name != "" {
			result = multierror.Append(result, fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name))
		}
		seen[src.Name] = struct{}{}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", internal.ErrConfig, err)
	}
	return nil
}

func (s SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Kind {
	case KindHTML, KindRSS, KindJSON:
		u, err := url.Parse(s.ListingURL())
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%s: base_url or url must be an absolute http(s) URL", s.Name)
		}
	case KindSimulated:
	default:
		return fmt.Errorf("%s: unknown kind %q", s.Name, s.Kind)
	}
	if s.Fallback != FallbackEmpty && s.Fallback != FallbackSimulated {
		return fmt.Errorf("%s: fallback must be %q or %q", s.Name, FallbackEmpty, FallbackSimulated)
	}
	if s.Kind == KindJSON && strings.TrimSpace(s.ItemsPath) == "" {
		return fmt.Errorf("%s: items_path is required for json sources", s.Name)
	}
	return nil
}
