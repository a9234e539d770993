package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "TREND"

// Config holds all configuration for the application
type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	NATS        NATSConfig
	Server      ServerConfig
	Scheduler   SchedulerConfig
	Scoring     ScoringConfig
	Suggestions SuggestionConfig
	Collectors  CollectorConfig
	AI          AIConfig
	Logging     LoggingConfig
	Telemetry   TelemetryConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Enabled  bool
	CacheTTL time.Duration
}

// NATSConfig holds the notification sink configuration
type NATSConfig struct {
	URL           string
	Enabled       bool
	SubjectPrefix string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	RunScheduler   bool
}

// SchedulerConfig holds job orchestration configuration
type SchedulerConfig struct {
	SearchIntervalHours       int
	AIGenerationIntervalHours int
	CleanupIntervalHours      int
	AggregationIntervalHours  int
	MaxRetries                int
	RetryDelayMinutes         int
	StaleJobMinutes           int
	CleanupDays               int
	MaxResultsPerSearch       int
	Workers                   int
}

// SearchInterval returns the collection cadence.
func (s SchedulerConfig) SearchInterval() time.Duration {
	return time.Duration(s.SearchIntervalHours) * time.Hour
}

// AIGenerationInterval returns the suggestion generation cadence.
func (s SchedulerConfig) AIGenerationInterval() time.Duration {
	return time.Duration(s.AIGenerationIntervalHours) * time.Hour
}

// CleanupInterval returns the retention sweep cadence.
func (s SchedulerConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalHours) * time.Hour
}

// AggregationInterval returns the rollup cadence.
func (s SchedulerConfig) AggregationInterval() time.Duration {
	return time.Duration(s.AggregationIntervalHours) * time.Hour
}

// RetryDelay returns the fixed delay before a failed job is re-enqueued.
func (s SchedulerConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMinutes) * time.Minute
}

// StaleAfter returns how long an unowned running job may block its kind.
func (s SchedulerConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleJobMinutes) * time.Minute
}

// ScoringConfig holds scoring engine configuration
type ScoringConfig struct {
	// CategoriesFile optionally replaces the built-in keyword table.
	CategoriesFile string
	WindowHours    int
}

// SuggestionConfig holds AI suggestion ranking configuration
type SuggestionConfig struct {
	ConfidenceThreshold     float64
	ExpiryHours             int
	MaxSuggestions          int
	MaxSuggestionsPerSource int
}

// CollectorConfig holds source collector configuration
type CollectorConfig struct {
	TimeoutSeconds int
	UserAgent      string
	HTMLSources    []HTMLSourceConfig
}

// Timeout returns the per-source fetch timeout.
func (c CollectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HTMLSourceConfig describes one scraped trending page
type HTMLSourceConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Selector string `mapstructure:"selector"`
	Category string `mapstructure:"category"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	OpenAI         ProviderConfig
	Gemini         ProviderConfig
	TimeoutSeconds int
}

// ProviderConfig holds one OpenAI-compatible chat endpoint
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string
	Format       string // "json" or "text"
	ScalyrFormat bool
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	ServiceName       string
}

// Load loads configuration from environment variables and an optional config file
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.trendmind")
	v.AddConfigPath("/etc/trendmind")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:          v.GetString("database_url"),
			MaxOpenConns: v.GetInt("database_max_open_conns"),
			MaxIdleConns: v.GetInt("database_max_idle_conns"),
			LogLevel:     v.GetString("database_log_level"),
		},
		Redis: RedisConfig{
			URL:      v.GetString("redis_url"),
			Enabled:  v.GetString("redis_url") != "",
			CacheTTL: v.GetDuration("redis_cache_ttl"),
		},
		NATS: NATSConfig{
			URL:           v.GetString("nats_url"),
			Enabled:       v.GetString("nats_url") != "",
			SubjectPrefix: v.GetString("nats_subject_prefix"),
		},
		Server: ServerConfig{
			Port:           v.GetInt("http_server_port"),
			Host:           v.GetString("http_server_host"),
			AllowedOrigins: splitList(v.GetString("http_allowed_origins")),
			RunScheduler:   v.GetBool("run_scheduler"),
		},
		Scheduler: SchedulerConfig{
			SearchIntervalHours:       v.GetInt("search_interval_hours"),
			AIGenerationIntervalHours: v.GetInt("ai_generation_interval_hours"),
			CleanupIntervalHours:      v.GetInt("cleanup_interval_hours"),
			AggregationIntervalHours:  v.GetInt("aggregation_interval_hours"),
			MaxRetries:                v.GetInt("max_retries"),
			RetryDelayMinutes:         v.GetInt("retry_delay_minutes"),
			StaleJobMinutes:           v.GetInt("stale_job_minutes"),
			CleanupDays:               v.GetInt("cleanup_days"),
			MaxResultsPerSearch:       v.GetInt("max_results_per_search"),
			Workers:                   v.GetInt("scheduler_workers"),
		},
		Scoring: ScoringConfig{
			CategoriesFile: v.GetString("categories_file"),
			WindowHours:    v.GetInt("trending_window_hours"),
		},
		Suggestions: SuggestionConfig{
			ConfidenceThreshold:     v.GetFloat64("confidence_threshold"),
			ExpiryHours:             v.GetInt("suggestion_expiry_hours"),
			MaxSuggestions:          v.GetInt("max_suggestions"),
			MaxSuggestionsPerSource: v.GetInt("max_suggestions_per_source"),
		},
		Collectors: CollectorConfig{
			TimeoutSeconds: v.GetInt("collector_timeout_seconds"),
			UserAgent:      v.GetString("collector_user_agent"),
		},
		AI: AIConfig{
			OpenAI: ProviderConfig{
				APIKey:      v.GetString("openai_api_key"),
				BaseURL:     v.GetString("openai_base_url"),
				Model:       v.GetString("openai_model"),
				Temperature: v.GetFloat64("ai_temperature"),
				MaxTokens:   v.GetInt("ai_max_tokens"),
			},
			Gemini: ProviderConfig{
				APIKey:      v.GetString("gemini_api_key"),
				BaseURL:     v.GetString("gemini_base_url"),
				Model:       v.GetString("gemini_model"),
				Temperature: v.GetFloat64("ai_temperature"),
				MaxTokens:   v.GetInt("ai_max_tokens"),
			},
			TimeoutSeconds: v.GetInt("ai_timeout_seconds"),
		},
		Logging: LoggingConfig{
			Level:        v.GetString("log_level"),
			Format:       v.GetString("log_format"),
			ScalyrFormat: v.GetBool("log_scalyr_format"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry_enabled"),
			JaegerURL:         v.GetString("jaeger_url"),
			PrometheusEnabled: v.GetBool("prometheus_enabled"),
			ServiceName:       v.GetString("service_name"),
		},
	}

	if err := v.UnmarshalKey("html_sources", &cfg.Collectors.HTMLSources); err != nil {
		return nil, fmt.Errorf("invalid html_sources: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "sqlite://trending_data.db")
	v.SetDefault("database_max_open_conns", 10)
	v.SetDefault("database_max_idle_conns", 5)
	v.SetDefault("database_log_level", "warn")
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_cache_ttl", 5*time.Minute)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject_prefix", "trendmind")
	v.SetDefault("http_server_port", 8080)
	v.SetDefault("http_server_host", "0.0.0.0")
	v.SetDefault("http_allowed_origins", "*")
	v.SetDefault("run_scheduler", true)

	v.SetDefault("search_interval_hours", 4)
	v.SetDefault("ai_generation_interval_hours", 6)
	v.SetDefault("cleanup_interval_hours", 24)
	v.SetDefault("aggregation_interval_hours", 1)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay_minutes", 5)
	v.SetDefault("stale_job_minutes", 120)
	v.SetDefault("cleanup_days", 30)
	v.SetDefault("max_results_per_search", 50)
	v.SetDefault("scheduler_workers", 4)

	v.SetDefault("categories_file", "")
	v.SetDefault("trending_window_hours", 24)

	v.SetDefault("confidence_threshold", 0.7)
	v.SetDefault("suggestion_expiry_hours", 24)
	v.SetDefault("max_suggestions", 10)
	v.SetDefault("max_suggestions_per_source", 5)

	v.SetDefault("collector_timeout_seconds", 30)
	v.SetDefault("collector_user_agent", "trendmind/1.0")
	v.SetDefault("html_sources", []map[string]string{})

	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("ai_temperature", 0.7)
	v.SetDefault("ai_max_tokens", 2000)
	v.SetDefault("ai_timeout_seconds", 60)

	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_scalyr_format", false)
	v.SetDefault("telemetry_enabled", false)
	v.SetDefault("jaeger_url", "http://localhost:14268/api/traces")
	v.SetDefault("prometheus_enabled", true)
	v.SetDefault("service_name", "trendmind")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database_url is required")
	}
	s := c.Scheduler
	if s.SearchIntervalHours <= 0 {
		return fmt.Errorf("search_interval_hours must be positive")
	}
	if s.AIGenerationIntervalHours <= 0 {
		return fmt.Errorf("ai_generation_interval_hours must be positive")
	}
	if s.CleanupIntervalHours <= 0 || s.AggregationIntervalHours <= 0 {
		return fmt.Errorf("cleanup_interval_hours and aggregation_interval_hours must be positive")
	}
	if s.MaxRetries < 0 || s.MaxRetries > 20 {
		return fmt.Errorf("max_retries must be between 0 and 20")
	}
	if s.RetryDelayMinutes < 0 {
		return fmt.Errorf("retry_delay_minutes must not be negative")
	}
	if s.StaleJobMinutes <= 0 {
		return fmt.Errorf("stale_job_minutes must be positive")
	}
	if s.CleanupDays <= 0 {
		return fmt.Errorf("cleanup_days must be positive")
	}
	if s.Workers <= 0 || s.Workers > 64 {
		return fmt.Errorf("scheduler_workers must be between 1 and 64")
	}
	if t := c.Suggestions.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1")
	}
	if c.Suggestions.ExpiryHours <= 0 {
		return fmt.Errorf("suggestion_expiry_hours must be positive")
	}
	if c.Collectors.TimeoutSeconds <= 0 {
		return fmt.Errorf("collector_timeout_seconds must be positive")
	}
	for i, src := range c.Collectors.HTMLSources {
		if src.Name == "" || src.URL == "" || src.Selector == "" {
			return fmt.Errorf("html_sources[%d] needs name, url and selector", i)
		}
	}
	return nil
}
