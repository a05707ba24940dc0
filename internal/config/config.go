package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Scheduler     SchedulerConfig
	Pipeline      PipelineConfig
	Risk          RiskConfig
	MarketData    MarketDataConfig
	NativeEngine  NativeEngineConfig
	LLM           LLMConfig
	JobQueue      JobQueueConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ShutdownWait time.Duration
}

type DatabaseConfig struct {
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	QueryTimeout        time.Duration
	HealthCheckInterval time.Duration
}

type RedisConfig struct {
	URL             string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	IdleTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// AuthConfig holds only what the bot/agent HTTP surface needs to resolve a
// caller's userId from a bearer token. Registration, login, and onboarding
// are out of scope and have no fields here.
type AuthConfig struct {
	JWTSecret string
}

// SchedulerConfig carries the environment knobs for the bot/agent/market-scan
// scheduler.
type SchedulerConfig struct {
	TickIntervalMS       int
	SignalIntervalMS     int
	MarketScanIntervalMS int
	MaxConcurrentBots    int
}

// PipelineConfig carries the per-cycle limits the pipeline runs under.
type PipelineConfig struct {
	MaxCandleSymbols    int
	RollingWindow       int
	AutoPauseAccuracy   float64
	ExecutorAutoExecute float64
	LLMRejectionPenalty float64
	RiskGateMaxDrawdown float64
}

// RiskConfig carries the portfolio-wide risk manager's default
// tolerances, applied to any strategy without its own registered profile.
type RiskConfig struct {
	MaxConsecutiveLosses int
	MaxDailyLoss         float64
}

type MarketDataConfig struct {
	FetchTimeoutMS    int
	CacheTTLQuote     time.Duration
	CacheTTLHistory   time.Duration
	CacheTTLIndices   time.Duration
	CacheTTLSearch    time.Duration
	CacheTTLOptions   time.Duration
	NSEMaxConcurrent  int
	BrokerSecret      string
	ChartProviderBase string
}

type NativeEngineConfig struct {
	BinaryPath     string
	TimeoutMS      int
	MaxInputBytes  int
	MaxConcurrent  int
}

type LLMConfig struct {
	Provider               string
	AnthropicKey           string
	ModelName              string
	TimeoutMS              int
	CircuitFailureThreshold int
	CircuitCooldown        time.Duration
}

type JobQueueConfig struct {
	Enabled      bool
	KeyPrefix    string
	PollInterval time.Duration
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	LogLevel       string
	LogFormat      string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type SecurityConfig struct {
	CORSAllowedOrigins []string
	BCryptCost         int
}

// fileConfig is the subset of tunables that may additionally be set via an
// optional YAML file, mirroring the teacher's cmd/trading-bots/main.go
// TradingBotsConfig pattern. Unlike the teacher, a missing CONFIG_FILE is
// not an error here — the file is an extra layer of defaults, not the
// primary configuration source, and every env var below still overrides it.
type fileConfig struct {
	Scheduler struct {
		TickIntervalMS       *int `yaml:"tick_interval_ms"`
		MarketScanIntervalMS *int `yaml:"market_scan_interval_ms"`
		MaxConcurrentBots    *int `yaml:"max_concurrent_bots"`
	} `yaml:"scheduler"`
	Pipeline struct {
		AutoPauseAccuracy   *float64 `yaml:"auto_pause_accuracy"`
		ExecutorAutoExecute *float64 `yaml:"executor_auto_execute_threshold"`
		LLMRejectionPenalty *float64 `yaml:"llm_rejection_penalty"`
		RiskGateMaxDrawdown *float64 `yaml:"risk_gate_max_drawdown_percent"`
	} `yaml:"pipeline"`
	Risk struct {
		MaxConsecutiveLosses *int     `yaml:"max_consecutive_losses"`
		MaxDailyLoss         *float64 `yaml:"max_daily_loss"`
	} `yaml:"risk"`
}

func loadFileConfig() (*fileConfig, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return &fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	fc := &fileConfig{}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

func intDefault(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}

func floatDefault(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}

// Load loads configuration from environment variables, an optional YAML
// file named by CONFIG_FILE, and a .env file if one is present in the
// working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
			ShutdownWait: getDurationEnv("SHUTDOWN_WAIT", 20*time.Second),
		},
		Database: DatabaseConfig{
			URL:                 getEnv("DATABASE_URL", ""),
			MaxOpenConns:        getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:        getIntEnv("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:     getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime:     getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			QueryTimeout:        getDurationEnv("DB_QUERY_TIMEOUT", 10*time.Second),
			HealthCheckInterval: getDurationEnv("DB_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getIntEnv("REDIS_DB", 0),
			PoolSize:        getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:    getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
			PoolTimeout:     getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:     getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
			MaxRetries:      getIntEnv("REDIS_MAX_RETRIES", 3),
			MinRetryBackoff: getDurationEnv("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff: getDurationEnv("REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Scheduler: SchedulerConfig{
			TickIntervalMS:       getIntEnv("TICK_INTERVAL_MS", intDefault(fileCfg.Scheduler.TickIntervalMS, 180000)),
			SignalIntervalMS:     getIntEnv("SIGNAL_INTERVAL_MS", 300000),
			MarketScanIntervalMS: getIntEnv("MARKET_SCAN_INTERVAL_MS", intDefault(fileCfg.Scheduler.MarketScanIntervalMS, 600000)),
			MaxConcurrentBots:    getIntEnv("MAX_CONCURRENT_BOTS", intDefault(fileCfg.Scheduler.MaxConcurrentBots, 3)),
		},
		Pipeline: PipelineConfig{
			MaxCandleSymbols:    getIntEnv("MAX_CANDLE_SYMBOLS", 8),
			RollingWindow:       getIntEnv("ROLLING_WINDOW", 20),
			AutoPauseAccuracy:   getFloatEnv("AUTO_PAUSE_ACCURACY", floatDefault(fileCfg.Pipeline.AutoPauseAccuracy, 0.35)),
			ExecutorAutoExecute: getFloatEnv("EXECUTOR_AUTO_EXECUTE_THRESHOLD", floatDefault(fileCfg.Pipeline.ExecutorAutoExecute, 0.65)),
			LLMRejectionPenalty: getFloatEnv("LLM_REJECTION_PENALTY", floatDefault(fileCfg.Pipeline.LLMRejectionPenalty, 0.8)),
			RiskGateMaxDrawdown: getFloatEnv("RISK_GATE_MAX_DRAWDOWN_PERCENT", floatDefault(fileCfg.Pipeline.RiskGateMaxDrawdown, 10.0)),
		},
		Risk: RiskConfig{
			MaxConsecutiveLosses: getIntEnv("RISK_MAX_CONSECUTIVE_LOSSES", intDefault(fileCfg.Risk.MaxConsecutiveLosses, 5)),
			MaxDailyLoss:         getFloatEnv("RISK_MAX_DAILY_LOSS", floatDefault(fileCfg.Risk.MaxDailyLoss, 5000.0)),
		},
		MarketData: MarketDataConfig{
			FetchTimeoutMS:    getIntEnv("FETCH_TIMEOUT_MS", 10000),
			CacheTTLQuote:     getDurationEnv("CACHE_TTL_QUOTE", 30*time.Second),
			CacheTTLHistory:   getDurationEnv("CACHE_TTL_HISTORY", 300*time.Second),
			CacheTTLIndices:   getDurationEnv("CACHE_TTL_INDICES", 60*time.Second),
			CacheTTLSearch:    getDurationEnv("CACHE_TTL_SEARCH", 3600*time.Second),
			CacheTTLOptions:   getDurationEnv("CACHE_TTL_OPTIONS", 120*time.Second),
			NSEMaxConcurrent:  getIntEnv("NSE_MAX_CONCURRENT", 2),
			BrokerSecret:      getEnv("BROKER_API_SECRET", ""),
			ChartProviderBase: getEnv("CHART_PROVIDER_BASE_URL", "https://query1.finance.yahoo.com"),
		},
		NativeEngine: NativeEngineConfig{
			BinaryPath:    getEnv("NATIVE_ENGINE_PATH", "indicator-engine"),
			TimeoutMS:     getIntEnv("ENGINE_TIMEOUT_MS", 30000),
			MaxInputBytes: getIntEnv("ENGINE_MAX_INPUT_BYTES", 2097152),
			MaxConcurrent: getIntEnv("ENGINE_MAX_CONCURRENT", 2),
		},
		LLM: LLMConfig{
			Provider:                getEnv("LLM_PROVIDER", "anthropic"),
			AnthropicKey:            getEnv("ANTHROPIC_API_KEY", ""),
			ModelName:               getEnv("LLM_MODEL_NAME", "claude-3-5-sonnet-20241022"),
			TimeoutMS:               getIntEnv("LLM_TIMEOUT_MS", 30000),
			CircuitFailureThreshold: getIntEnv("LLM_CIRCUIT_FAILURE_THRESHOLD", 5),
			CircuitCooldown:         getDurationEnv("LLM_CIRCUIT_COOLDOWN", 60*time.Second),
		},
		JobQueue: JobQueueConfig{
			Enabled:      getBoolEnv("JOB_QUEUE_ENABLED", true),
			KeyPrefix:    getEnv("JOB_QUEUE_PREFIX", "papertrader:jobs"),
			PollInterval: getDurationEnv("JOB_QUEUE_POLL_INTERVAL", 1*time.Second),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "papertrader"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getIntEnv("RATE_LIMIT_REQUESTS_PER_MINUTE", 100),
			Burst:             getIntEnv("RATE_LIMIT_BURST", 20),
		},
		Security: SecurityConfig{
			CORSAllowedOrigins: getSliceEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			BCryptCost:         getIntEnv("BCRYPT_COST", 12),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Pipeline.ExecutorAutoExecute <= 0 || c.Pipeline.ExecutorAutoExecute > 1 {
		return fmt.Errorf("EXECUTOR_AUTO_EXECUTE_THRESHOLD must be in (0,1]")
	}
	return nil
}

// Helper functions for environment variable parsing, in the style this
// codebase has always used for config loading.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, item := range parts {
			item = strings.TrimSpace(item)
			if item != "" {
				result = append(result, item)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
