package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ExchangeConfig    ExchangeConfig    `json:"exchange"`
	AIConfig          AIConfig          `json:"ai"`
	AcquisitionConfig AcquisitionConfig `json:"acquisition"`
	RiskConfig        RiskConfig        `json:"risk"`
	LoggingConfig     LoggingConfig     `json:"logging"`
	ServerConfig      ServerConfig      `json:"server"`
	VaultConfig       VaultConfig       `json:"vault"`
	RedisConfig       RedisConfig       `json:"redis"`
	DatabaseConfig    DatabaseConfig    `json:"database"`
	StrategyConfig    StrategyConfig    `json:"strategies"`
	CircuitConfig     CircuitConfig     `json:"circuit_breaker"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ExchangeConfig holds MEXC spot API settings.
// Credentials are deliberately absent: they are supplied per request or
// loaded from the credential store.
type ExchangeConfig struct {
	BaseURL        string `json:"base_url"`
	QuoteAsset     string `json:"quote_asset"`     // Reference stablecoin for symbol listing
	RecvWindow     int64  `json:"recv_window"`     // Milliseconds, 0 = omit
	TimeoutSeconds int    `json:"timeout_seconds"` // Per-request HTTP timeout
	MockMode       bool   `json:"mock_mode"`       // Use simulated data instead of the venue
}

// AIConfig holds model provider configuration
type AIConfig struct {
	Provider       string  `json:"provider"` // "openai" or "claude"
	OpenAIAPIKey   string  `json:"openai_api_key"`
	OpenAIBaseURL  string  `json:"openai_base_url"`
	ClaudeAPIKey   string  `json:"claude_api_key"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// AcquisitionConfig holds guided upload settings
type AcquisitionConfig struct {
	TurnTimeoutSeconds   int   `json:"turn_timeout_seconds"`
	RetainRejectedImages *bool `json:"retain_rejected_images"` // nil = true
	MaxSessions          int   `json:"max_sessions"`
}

// RiskConfig mirrors risk.Parameters defaults
type RiskConfig struct {
	RiskPercentagePerTrade float64 `json:"risk_percentage_per_trade"`
	MaxPositionSize        float64 `json:"max_position_size"` // Percent of balance as notional
	MinRiskRewardRatio     float64 `json:"min_risk_reward_ratio"`
	MaxDailyTrades         int     `json:"max_daily_trades"`
	MaxOpenPositions       int     `json:"max_open_positions"`
	UseStopLoss            bool    `json:"use_stop_loss"`
	UseTakeProfit          bool    `json:"use_take_profit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `json:"port"`
	Host            string   `json:"host"`
	AllowedOrigins  []string `json:"allowed_origins"`
	AccessKeyHash   string   `json:"access_key_hash"` // bcrypt hash, empty disables the check
	ProductionMode  bool     `json:"production_mode"`
	ReadTimeout     int      `json:"read_timeout"`     // Seconds
	WriteTimeout    int      `json:"write_timeout"`    // Seconds
	ShutdownTimeout int      `json:"shutdown_timeout"` // Seconds
}

// VaultConfig holds HashiCorp Vault settings for the credential store
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis settings for the candle series cache
type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

// DatabaseConfig holds PostgreSQL settings for usage metering
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// CircuitConfig guards order placement against repeated venue rejections
type CircuitConfig struct {
	Disabled               bool `json:"disabled"`
	MaxConsecutiveFailures int  `json:"max_consecutive_failures"`
	CooldownSeconds        int  `json:"cooldown_seconds"`
	MaxOrdersPerMinute     int  `json:"max_orders_per_minute"`
}

// StrategyConfig points at the strategy catalog file
type StrategyConfig struct {
	File string `json:"file"`
}

// Load reads config.json (if present), loads .env, then applies environment overrides
func Load() (*Config, error) {
	return LoadFrom("config.json")
}

// LoadFrom is Load with an explicit config file path
func LoadFrom(filename string) (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	cfg, err := loadFromFile(filename)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ExchangeConfig.BaseURL == "" {
		cfg.ExchangeConfig.BaseURL = "https://api.mexc.com"
	}
	if cfg.ExchangeConfig.QuoteAsset == "" {
		cfg.ExchangeConfig.QuoteAsset = "USDT"
	}
	if cfg.ExchangeConfig.TimeoutSeconds == 0 {
		cfg.ExchangeConfig.TimeoutSeconds = 10
	}
	if cfg.AIConfig.Provider == "" {
		cfg.AIConfig.Provider = "openai"
	}
	if cfg.AIConfig.MaxTokens == 0 {
		cfg.AIConfig.MaxTokens = 8192
	}
	if cfg.AIConfig.TimeoutSeconds == 0 {
		cfg.AIConfig.TimeoutSeconds = 120
	}
	if cfg.AcquisitionConfig.TurnTimeoutSeconds == 0 {
		cfg.AcquisitionConfig.TurnTimeoutSeconds = 90
	}
	if cfg.AcquisitionConfig.MaxSessions == 0 {
		cfg.AcquisitionConfig.MaxSessions = 64
	}
	if cfg.RiskConfig.RiskPercentagePerTrade == 0 {
		cfg.RiskConfig = RiskConfig{
			RiskPercentagePerTrade: 1,
			MaxPositionSize:        25,
			MinRiskRewardRatio:     1.5,
			MaxDailyTrades:         5,
			MaxOpenPositions:       3,
			UseStopLoss:            true,
			UseTakeProfit:          true,
		}
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if len(cfg.ServerConfig.AllowedOrigins) == 0 {
		cfg.ServerConfig.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		// Final analysis calls can run for minutes
		cfg.ServerConfig.WriteTimeout = 300
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}
	if cfg.RedisConfig.TTL == 0 {
		cfg.RedisConfig.TTL = 24 * time.Hour
	}
	if cfg.StrategyConfig.File == "" {
		cfg.StrategyConfig.File = "strategies.json"
	}
	if cfg.CircuitConfig.MaxConsecutiveFailures == 0 {
		cfg.CircuitConfig.MaxConsecutiveFailures = 3
	}
	if cfg.CircuitConfig.CooldownSeconds == 0 {
		cfg.CircuitConfig.CooldownSeconds = 300
	}
	if cfg.CircuitConfig.MaxOrdersPerMinute == 0 {
		cfg.CircuitConfig.MaxOrdersPerMinute = 10
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Exchange credentials are NOT read from the environment; they are per-request.
func applyEnvOverrides(cfg *Config) {
	// Exchange config
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("MEXC_BASE_URL", cfg.ExchangeConfig.BaseURL)
	cfg.ExchangeConfig.QuoteAsset = getEnvOrDefault("MEXC_QUOTE_ASSET", cfg.ExchangeConfig.QuoteAsset)
	cfg.ExchangeConfig.RecvWindow = int64(getEnvIntOrDefault("MEXC_RECV_WINDOW", int(cfg.ExchangeConfig.RecvWindow)))
	cfg.ExchangeConfig.TimeoutSeconds = getEnvIntOrDefault("MEXC_TIMEOUT_SECONDS", cfg.ExchangeConfig.TimeoutSeconds)
	cfg.ExchangeConfig.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.ExchangeConfig.MockMode)

	// AI config
	cfg.AIConfig.Provider = getEnvOrDefault("AI_PROVIDER", cfg.AIConfig.Provider)
	cfg.AIConfig.OpenAIAPIKey = getEnvOrDefault("AI_OPENAI_API_KEY", cfg.AIConfig.OpenAIAPIKey)
	cfg.AIConfig.OpenAIBaseURL = getEnvOrDefault("AI_OPENAI_BASE_URL", cfg.AIConfig.OpenAIBaseURL)
	cfg.AIConfig.ClaudeAPIKey = getEnvOrDefault("AI_CLAUDE_API_KEY", cfg.AIConfig.ClaudeAPIKey)
	cfg.AIConfig.Model = getEnvOrDefault("AI_MODEL", cfg.AIConfig.Model)
	cfg.AIConfig.MaxTokens = getEnvIntOrDefault("AI_MAX_TOKENS", cfg.AIConfig.MaxTokens)
	cfg.AIConfig.Temperature = getEnvFloatOrDefault("AI_TEMPERATURE", cfg.AIConfig.Temperature)
	cfg.AIConfig.TimeoutSeconds = getEnvIntOrDefault("AI_TIMEOUT_SECONDS", cfg.AIConfig.TimeoutSeconds)

	// Acquisition config
	cfg.AcquisitionConfig.TurnTimeoutSeconds = getEnvIntOrDefault("ACQUISITION_TURN_TIMEOUT_SECONDS", cfg.AcquisitionConfig.TurnTimeoutSeconds)
	retain := getEnvBoolOrDefault("ACQUISITION_RETAIN_REJECTED_IMAGES", cfg.AcquisitionConfig.RetainRejected())
	cfg.AcquisitionConfig.RetainRejectedImages = &retain

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orDefault(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AccessKeyHash = getEnvOrDefault("SERVER_ACCESS_KEY_HASH", cfg.ServerConfig.AccessKeyHash)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("SERVER_PRODUCTION", cfg.ServerConfig.ProductionMode)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.VaultConfig.SecretPath, "trade-setup-assistant/credentials"))
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", orDefault(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orDefaultInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.TTL = getEnvDurationOrDefault("REDIS_SERIES_TTL", cfg.RedisConfig.TTL)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orDefault(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orDefaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orDefault(cfg.DatabaseConfig.User, "trade_setup"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orDefault(cfg.DatabaseConfig.Database, "trade_setup"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orDefault(cfg.DatabaseConfig.SSLMode, "disable"))

	// Strategy catalog
	cfg.StrategyConfig.File = getEnvOrDefault("STRATEGY_FILE", cfg.StrategyConfig.File)

	// Order circuit breaker
	cfg.CircuitConfig.Disabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_DISABLED", cfg.CircuitConfig.Disabled)
}

// RetainRejected reports whether images answered with a non-ready reply stay collected
func (c AcquisitionConfig) RetainRejected() bool {
	return c.RetainRejectedImages == nil || *c.RetainRejectedImages
}

// TurnTimeout returns the per-turn model timeout
func (c AcquisitionConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func orDefaultInt(value, defaultValue int) int {
	if value == 0 {
		return defaultValue
	}
	return value
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
