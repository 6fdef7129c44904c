// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	API       APIConfig       `mapstructure:"api"`
	Memory    MemoryConfig    `mapstructure:"memory"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// Debug reports whether the app runs in a non-production environment.
func (c *AppConfig) Debug() bool {
	return c.Environment != "production"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// AuthConfig contains token issuance settings.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	CookieDomain    string        `mapstructure:"cookie_domain"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
}

// LLMConfig contains LLM provider settings (OpenAI-compatible endpoint).
type LLMConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	APIKey         string  `mapstructure:"api_key"`
	DeepThinkModel string  `mapstructure:"deep_think_model"`  // research/risk managers
	QuickThinkModel string `mapstructure:"quick_think_model"` // analysts, debators
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the LLM provider has credentials.
func (c *LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// ProvidersConfig contains market/news/economic data provider settings.
type ProvidersConfig struct {
	FREDAPIKey    string `mapstructure:"fred_api_key"`
	FinnhubAPIKey string `mapstructure:"finnhub_api_key"`
	FearGreedURL  string `mapstructure:"fear_greed_url"`
}

// GatewayConfig tunes the external-service gateway.
type GatewayConfig struct {
	CacheSize       int           `mapstructure:"cache_size"`
	QuoteTTL        time.Duration `mapstructure:"quote_ttl"`
	NewsTTL         time.Duration `mapstructure:"news_ttl"`
	SeriesTTL       time.Duration `mapstructure:"series_ttl"`
	FearGreedTTL    time.Duration `mapstructure:"fear_greed_ttl"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RateBurst       int           `mapstructure:"rate_burst"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	RateWaitBudget  time.Duration `mapstructure:"rate_wait_budget"`
	QuoteFanoutCap  int           `mapstructure:"quote_fanout_cap"`
}

// AnalysisConfig tunes the agent pipeline.
type AnalysisConfig struct {
	MaxDebateRounds int           `mapstructure:"max_debate_rounds"`
	MaxRiskRounds   int           `mapstructure:"max_risk_rounds"`
	MaxToolRounds   int           `mapstructure:"max_tool_rounds"`
	AgentStepBudget time.Duration `mapstructure:"agent_step_budget"`
	SessionDeadline time.Duration `mapstructure:"session_deadline"`
	OnlineTools     bool          `mapstructure:"online_tools"`
	MemoryRecallN   int           `mapstructure:"memory_recall_n"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	GlobalRate     RateRule      `mapstructure:"global_rate"`
	LoginRate      RateRule      `mapstructure:"login_rate"`
	StartRate      RateRule      `mapstructure:"start_rate"`
	EventLinger    time.Duration `mapstructure:"event_linger"`
}

// RateRule is a sliding-window rate limit rule.
type RateRule struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MemoryConfig contains vector memory settings.
// memoryEmbeddingDim is the vector column width of memory_entries; inserts
// with any other dimensionality fail at the database.
const memoryEmbeddingDim = 1536

type MemoryConfig struct {
	Dimensions int `mapstructure:"dimensions"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADECOUNCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "TradeCouncil")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradecouncil")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("auth.access_token_ttl", 30*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.secure_cookies", false)

	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.deep_think_model", "o4-mini")
	v.SetDefault("llm.quick_think_model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("providers.fear_greed_url", "https://production.dataviz.cnn.io/index/fearandgreed")

	v.SetDefault("gateway.cache_size", 2048)
	v.SetDefault("gateway.quote_ttl", 15*time.Second)
	v.SetDefault("gateway.news_ttl", 10*time.Minute)
	v.SetDefault("gateway.series_ttl", 5*time.Minute)
	v.SetDefault("gateway.fear_greed_ttl", 10*time.Minute)
	v.SetDefault("gateway.call_timeout", 30*time.Second)
	v.SetDefault("gateway.retry_attempts", 3)
	v.SetDefault("gateway.retry_base_delay", 250*time.Millisecond)
	v.SetDefault("gateway.rate_burst", 10)
	v.SetDefault("gateway.rate_per_second", 5.0)
	v.SetDefault("gateway.rate_wait_budget", 10*time.Second)
	v.SetDefault("gateway.quote_fanout_cap", 8)

	v.SetDefault("analysis.max_debate_rounds", 2)
	v.SetDefault("analysis.max_risk_rounds", 1)
	v.SetDefault("analysis.max_tool_rounds", 8)
	v.SetDefault("analysis.agent_step_budget", 120*time.Second)
	v.SetDefault("analysis.session_deadline", 30*time.Minute)
	v.SetDefault("analysis.online_tools", true)
	v.SetDefault("analysis.memory_recall_n", 2)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("api.global_rate.max_requests", 500)
	v.SetDefault("api.global_rate.window", time.Minute)
	v.SetDefault("api.login_rate.max_requests", 5)
	v.SetDefault("api.login_rate.window", 5*time.Minute)
	v.SetDefault("api.start_rate.max_requests", 10)
	v.SetDefault("api.start_rate.window", 5*time.Minute)
	v.SetDefault("api.event_linger", 30*time.Second)

	v.SetDefault("memory.dimensions", 1536)
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive, got %d", c.Database.PoolSize)
	}
	if c.Analysis.MaxDebateRounds <= 0 {
		return fmt.Errorf("analysis.max_debate_rounds must be positive, got %d", c.Analysis.MaxDebateRounds)
	}
	if c.Analysis.MaxRiskRounds <= 0 {
		return fmt.Errorf("analysis.max_risk_rounds must be positive, got %d", c.Analysis.MaxRiskRounds)
	}
	if c.Analysis.MaxToolRounds <= 0 {
		return fmt.Errorf("analysis.max_tool_rounds must be positive, got %d", c.Analysis.MaxToolRounds)
	}
	if c.Gateway.QuoteFanoutCap <= 0 {
		return fmt.Errorf("gateway.quote_fanout_cap must be positive, got %d", c.Gateway.QuoteFanoutCap)
	}
	if c.Memory.Dimensions != memoryEmbeddingDim {
		return fmt.Errorf("memory.dimensions must be %d to match the memory_entries schema, got %d", memoryEmbeddingDim, c.Memory.Dimensions)
	}
	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("app.environment must be development, staging or production, got %q", c.App.Environment)
	}
	return nil
}
