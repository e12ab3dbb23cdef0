package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/forensight/forensight/internal/circuitbreaker"
	"github.com/forensight/forensight/internal/tracing"
)

const (
	MinConcurrency = 1
	MaxConcurrency = 16
)

// Config is the full runtime configuration.
type Config struct {
	LLM             LLMConfig             `mapstructure:"llm"`
	Search          SearchConfig          `mapstructure:"search"`
	Review          ReviewConfig          `mapstructure:"review"`
	Runs            RunsConfig            `mapstructure:"runs"`
	Database        DatabaseConfig        `mapstructure:"database"`
	HTTP            HTTPConfig            `mapstructure:"http"`
	Observability   ObservabilityConfig   `mapstructure:"observability"`
	CircuitBreakers CircuitBreakersConfig `mapstructure:"circuit_breakers"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint backing the oracle.
type LLMConfig struct {
	Provider       string  `mapstructure:"provider"`
	Model          string  `mapstructure:"model"`
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	Temperature    float64 `mapstructure:"temperature"`
	JSONMode       bool    `mapstructure:"json_mode"`
}

// Timeout returns the per-call HTTP timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SearchConfig configures the external search gateway.
type SearchConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	SearchDepth    string        `mapstructure:"search_depth"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// ReviewConfig configures the research loops and the reviewer panel.
type ReviewConfig struct {
	MaxConcurrency     int  `mapstructure:"max_concurrency"`
	EnableDefense      bool `mapstructure:"enable_defense"`
	EnableResearch     bool `mapstructure:"enable_research"`
	AgentMaxRetries    int  `mapstructure:"agent_max_retries"`
	WorkpaperMaxRounds int  `mapstructure:"workpaper_max_rounds"`
	MaxInputRunes      int  `mapstructure:"max_input_runes"`
	SanitizeScope      bool `mapstructure:"sanitize_scope"`
}

// RunsConfig configures the run registry.
type RunsConfig struct {
	Backend        string        `mapstructure:"backend"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	TTL            time.Duration `mapstructure:"ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// Timeout returns the staleness window after which a running run is failed.
func (c RunsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig configures the Redis run-store backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig configures the optional step log.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AuthToken    string        `mapstructure:"auth_token"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// CircuitBreakersConfig holds per-dependency breaker settings.
type CircuitBreakersConfig struct {
	Oracle   circuitbreaker.Settings `mapstructure:"oracle"`
	Search   circuitbreaker.Settings `mapstructure:"search"`
	Redis    circuitbreaker.Settings `mapstructure:"redis"`
	Database circuitbreaker.Settings `mapstructure:"database"`
}

// legacyEnv maps config keys to the plain environment variable names that
// deployments already export.
var legacyEnv = map[string]string{
	"llm.provider":                "LLM_PROVIDER",
	"llm.model":                   "LLM_MODEL_NAME",
	"llm.api_key":                 "LLM_API_KEY",
	"llm.base_url":                "LLM_BASE_URL",
	"llm.timeout_seconds":         "LLM_TIMEOUT_SECONDS",
	"llm.max_retries":             "LLM_MAX_RETRIES",
	"search.api_key":              "TAVILY_API_KEY",
	"review.max_concurrency":      "AGENT_MAX_CONCURRENCY",
	"runs.timeout_seconds":        "RUN_TIMEOUT_SECONDS",
	"runs.redis.addr":             "REDIS_ADDR",
	"database.dsn":                "DATABASE_URL",
	"observability.logging.level": "LOG_LEVEL",
	"observability.metrics.port":  "METRICS_PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.base_url", "https://api.deepseek.com")
	v.SetDefault("llm.timeout_seconds", 90)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.json_mode", true)

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.base_url", "https://api.tavily.com")
	v.SetDefault("search.timeout_seconds", 30)
	v.SetDefault("search.search_depth", "basic")
	v.SetDefault("search.rate_per_second", 2.0)
	v.SetDefault("search.burst", 2)
	v.SetDefault("search.cache_size", 256)
	v.SetDefault("search.cache_ttl", "10m")

	v.SetDefault("review.max_concurrency", 4)
	v.SetDefault("review.enable_defense", true)
	v.SetDefault("review.enable_research", true)
	v.SetDefault("review.agent_max_retries", 4)
	v.SetDefault("review.workpaper_max_rounds", 2)
	v.SetDefault("review.max_input_runes", 60000)
	v.SetDefault("review.sanitize_scope", true)

	v.SetDefault("runs.backend", "memory")
	v.SetDefault("runs.timeout_seconds", 300)
	v.SetDefault("runs.ttl", "1h")
	v.SetDefault("runs.sweep_interval", "1m")
	v.SetDefault("runs.redis.addr", "localhost:6379")
	v.SetDefault("runs.redis.key_prefix", "forensight:run:")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:forensight.db?_busy_timeout=5000")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "forensight")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FORENSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "FORENSIGHT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return v, nil
}

// Load reads configuration from path (or CONFIG_PATH when path is empty),
// layers environment overrides on top and validates the result. A missing
// path yields defaults plus environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate clamps numeric knobs into their supported ranges and rejects
// settings no component can honour.
func (c *Config) Validate() error {
	c.Review.MaxConcurrency = ClampConcurrency(c.Review.MaxConcurrency)
	if c.Review.AgentMaxRetries < 1 {
		c.Review.AgentMaxRetries = 1
	}
	if c.Review.WorkpaperMaxRounds < 1 {
		c.Review.WorkpaperMaxRounds = 1
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 90
	}
	if c.Runs.TimeoutSeconds <= 0 {
		c.Runs.TimeoutSeconds = 300
	}

	switch c.Runs.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported runs.backend %q", c.Runs.Backend)
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "sqlite3", "postgres":
		default:
			return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required when database.enabled is true")
		}
	}
	return nil
}

// ClampConcurrency bounds a panel worker count to [MinConcurrency, MaxConcurrency].
func ClampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
