package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the brandscope service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Functions  FunctionsConfig  `mapstructure:"functions"`
	News       NewsConfig       `mapstructure:"news"`
	Trends     TrendsConfig     `mapstructure:"trends"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Session    SessionConfig    `mapstructure:"session"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// ServerConfig contains HTTP server and session token settings
type ServerConfig struct {
	Address       string        `mapstructure:"address"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AllowOrigins  []string      `mapstructure:"allow_origins"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	if s.TokenTTL <= 0 {
		return fmt.Errorf("server.token_ttl must be positive")
	}
	return nil
}

// LLMConfig selects and configures the language-model transport.
// Transport "direct" talks to an OpenAI-compatible endpoint, "function" goes
// through the perplexity function of the functions gateway.
type LLMConfig struct {
	Transport   string        `mapstructure:"transport"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	switch l.Transport {
	case "direct":
		if strings.TrimSpace(l.APIKey) == "" {
			return fmt.Errorf("llm.api_key required for direct transport")
		}
	case "function":
	default:
		return fmt.Errorf("llm.transport must be direct or function, got %q", l.Transport)
	}
	return nil
}

// GatewayConfig holds request gateway defaults.
type GatewayConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffLimit time.Duration `mapstructure:"backoff_limit"`
}

// Normalize fills unset gateway values with defaults.
func (g GatewayConfig) Normalize() GatewayConfig {
	if g.Timeout <= 0 {
		g.Timeout = 30 * time.Second
	}
	if g.MaxRetries < 0 {
		g.MaxRetries = 0
	}
	if g.CacheTTL <= 0 {
		g.CacheTTL = 10 * time.Minute
	}
	if g.BackoffBase <= 0 {
		g.BackoffBase = time.Second
	}
	if g.BackoffLimit < g.BackoffBase {
		g.BackoffLimit = 8 * g.BackoffBase
	}
	return g
}

// FunctionsConfig points at the edge-function gateway (fetch-logo, fetch-search-volume, ...).
type FunctionsConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

func (f FunctionsConfig) Validate() error {
	if strings.TrimSpace(f.BaseURL) == "" {
		return fmt.Errorf("functions.base_url is required")
	}
	if f.RatePerSecond < 0 {
		return fmt.Errorf("functions.rate_per_second cannot be negative")
	}
	return nil
}

// NewsConfig configures the news feed and the supplemental model pass.
type NewsConfig struct {
	FeedURL      string        `mapstructure:"feed_url"`
	Language     string        `mapstructure:"language"`
	MaxItems     int           `mapstructure:"max_items"`
	Supplemental bool          `mapstructure:"supplemental"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// TrendsConfig configures trend refreshes and the background scheduler.
type TrendsConfig struct {
	RefreshCron      string        `mapstructure:"refresh_cron"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	TrackedWindow    time.Duration `mapstructure:"tracked_window"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
}

// AnalysisConfig configures the analysis orchestrator.
type AnalysisConfig struct {
	DetailStagger time.Duration `mapstructure:"detail_stagger"`
	Archive       bool          `mapstructure:"archive"`
}

// NavigationConfig configures the focus/rerender guard.
type NavigationConfig struct {
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
}

// SessionConfig selects the session store backing the per-browser state.
type SessionConfig struct {
	Backend string        `mapstructure:"backend"` // memory or redis
	TTL     time.Duration `mapstructure:"ttl"`
}

func (s SessionConfig) Validate() error {
	switch s.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.backend must be memory or redis, got %q", s.Backend)
	}
	if s.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	return nil
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether an archive database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN builds the connection string, preferring an explicit url.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("llm.transport", "direct")
	v.SetDefault("llm.base_url", "https://api.perplexity.ai")
	v.SetDefault("llm.model", "sonar")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gateway.max_retries", 1)
	v.SetDefault("gateway.cache_ttl", 10*time.Minute)
	v.SetDefault("gateway.backoff_base", time.Second)
	v.SetDefault("gateway.backoff_limit", 8*time.Second)
	v.SetDefault("functions.timeout", 20*time.Second)
	v.SetDefault("functions.max_retries", 1)
	v.SetDefault("functions.rate_per_second", 5.0)
	v.SetDefault("functions.burst", 5)
	v.SetDefault("news.feed_url", "https://news.google.com/rss/search")
	v.SetDefault("news.language", "en")
	v.SetDefault("news.max_items", 20)
	v.SetDefault("news.supplemental", true)
	v.SetDefault("news.fetch_timeout", 15*time.Second)
	v.SetDefault("trends.refresh_cron", "@daily")
	v.SetDefault("trends.scheduler_enabled", false)
	v.SetDefault("trends.tick_interval", time.Hour)
	v.SetDefault("trends.tracked_window", 30*24*time.Hour)
	v.SetDefault("trends.lock_ttl", 2*time.Minute)
	v.SetDefault("analysis.detail_stagger", time.Second)
	v.SetDefault("analysis.archive", true)
	v.SetDefault("navigation.pending_timeout", 5*time.Minute)
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("telemetry.metrics_enabled", true)
}

// Load reads configuration from path (or the default search paths when empty),
// overlays BRANDSCOPE_* environment variables and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("BRANDSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Gateway = cfg.Gateway.Normalize()
	if cfg.Navigation.PendingTimeout <= 0 {
		cfg.Navigation.PendingTimeout = 5 * time.Minute
	}

	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if cfg.LLM.Transport == "function" || cfg.Functions.BaseURL != "" {
		if err := cfg.Functions.Validate(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if cfg.Session.Backend == "redis" {
		if err := cfg.Storage.Redis.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Storage.Postgres.Enabled() {
		if err := cfg.Storage.Postgres.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on failure.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
