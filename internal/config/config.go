// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default values for configuration, generalized from the teacher's MySQL
// defaults to the gateway's Postgres/LLM domain.
const (
	DefaultMaxRows             = 200
	DefaultQueryTimeoutSecs    = 30
	DefaultMaxConns            = 10
	DefaultMinConns            = 0
	DefaultConnMaxLifetimeMins = 30
	DefaultConnMaxIdleTimeMins = 5
	DefaultPingTimeoutSecs     = 5
	DefaultHTTPPort            = 9306
	DefaultHTTPRequestTimeoutS = 60
	DefaultRateLimitRPS        = 100
	DefaultRateLimitBurst      = 200
	DefaultSchemaCacheTTLSecs  = 300
	DefaultMaxLLMRetries       = 3
	DefaultConfidenceThreshold = 70
	DefaultMaxSubqueryDepth    = 5
	DefaultLLMModel            = "gpt-4o-mini"
	DefaultLLMTemperature      = 0.1
	DefaultLLMMaxTokens        = 512
	DefaultDialect             = "postgresql"
)

// DatabaseConfig represents a single PostgreSQL database a client may
// target by DatabaseId, plus the SecurityPolicy bound to it. One
// DatabaseConfig produces one coretypes.DatabaseId-keyed tuple in the
// orchestrator, generalizing the teacher's ConnectionConfig (one MySQL DSN
// per named connection, switched globally) into an isolated-by-id policy.
type DatabaseConfig struct {
	Name        string
	DSN         string
	Description string
	SSL         string

	BlockedTables       []string
	BlockedColumns      []string
	BlockedFunctions    []string
	AllowExplain        bool
	MaxRows             int
	MaxExecutionTime    time.Duration
	MaxSubqueryDepth    int
	ReadonlyRole        string
	SafeSearchPath      string
	ConfidenceThreshold int
}

// Config holds all configuration for the govern gateway.
type Config struct {
	Databases []DatabaseConfig

	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	SchemaCacheTTL time.Duration
	Dialect        string

	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	MaxLLMRetries  int

	RateLimitQueryCap int
	RateLimitLLMCap   int

	QueryBreakerFailureThreshold int
	QueryBreakerCooldown         time.Duration
	LLMBreakerFailureThreshold   int
	LLMBreakerCooldown           time.Duration

	QueryRetryBaseDelay   time.Duration
	QueryRetryMaxDelay    time.Duration
	QueryRetryFactor      float64
	QueryRetryMaxAttempts int
	QueryRetryJitter      bool

	LLMRetryBaseDelay   time.Duration
	LLMRetryMaxDelay    time.Duration
	LLMRetryFactor      float64
	LLMRetryMaxAttempts int
	LLMRetryJitter      bool

	JSONLogging bool
	LogLevel    string

	HTTPMode           bool
	HTTPPort           int
	HTTPRequestTimeout time.Duration
	RateLimitEnabled   bool
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from a config file (if present) and environment
// variables. Priority: environment variables > config file > defaults,
// mirroring the teacher's internal/config.Load precedence.
func Load() (*Config, error) {
	var cfg *Config

	if configPath := FindConfigFile(); configPath != "" {
		fileCfg, err := LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cfg = fileCfg.ToConfig()
	} else {
		cfg = defaults()
	}

	applyEnvOverrides(cfg)

	envDBs, err := loadDatabasesFromEnv()
	if err != nil {
		return nil, err
	}
	if len(envDBs) > 0 {
		cfg.Databases = envDBs
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("no databases configured: set GOVERN_DSN, GOVERN_DATABASES, or use a config file")
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		MaxConns:                     DefaultMaxConns,
		MinConns:                     DefaultMinConns,
		ConnMaxLifetime:              time.Duration(DefaultConnMaxLifetimeMins) * time.Minute,
		ConnMaxIdleTime:              time.Duration(DefaultConnMaxIdleTimeMins) * time.Minute,
		PingTimeout:                  time.Duration(DefaultPingTimeoutSecs) * time.Second,
		SchemaCacheTTL:               time.Duration(DefaultSchemaCacheTTLSecs) * time.Second,
		Dialect:                      DefaultDialect,
		LLMModel:                     DefaultLLMModel,
		LLMTemperature:               DefaultLLMTemperature,
		LLMMaxTokens:                 DefaultLLMMaxTokens,
		MaxLLMRetries:                DefaultMaxLLMRetries,
		RateLimitQueryCap:            20,
		RateLimitLLMCap:              10,
		QueryBreakerFailureThreshold: 5,
		QueryBreakerCooldown:         30 * time.Second,
		LLMBreakerFailureThreshold:   5,
		LLMBreakerCooldown:           30 * time.Second,
		QueryRetryBaseDelay:          100 * time.Millisecond,
		QueryRetryMaxDelay:           2 * time.Second,
		QueryRetryFactor:             2,
		QueryRetryMaxAttempts:        3,
		QueryRetryJitter:             true,
		LLMRetryBaseDelay:            500 * time.Millisecond,
		LLMRetryMaxDelay:             5 * time.Second,
		LLMRetryFactor:               2,
		LLMRetryMaxAttempts:          3,
		LLMRetryJitter:               true,
		HTTPPort:                     DefaultHTTPPort,
		HTTPRequestTimeout:           time.Duration(DefaultHTTPRequestTimeoutS) * time.Second,
		RateLimitRPS:                 float64(DefaultRateLimitRPS),
		RateLimitBurst:               DefaultRateLimitBurst,
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only overrides values if the environment variable is explicitly set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOVERN_MAX_CONNS"); v != "" {
		cfg.MaxConns = int32(getEnvInt("GOVERN_MAX_CONNS", int(cfg.MaxConns)))
	}
	if v := os.Getenv("GOVERN_MIN_CONNS"); v != "" {
		cfg.MinConns = int32(getEnvInt("GOVERN_MIN_CONNS", int(cfg.MinConns)))
	}
	if v := os.Getenv("GOVERN_PING_TIMEOUT_SECONDS"); v != "" {
		cfg.PingTimeout = time.Duration(getEnvInt("GOVERN_PING_TIMEOUT_SECONDS", int(cfg.PingTimeout.Seconds()))) * time.Second
	}
	if v := os.Getenv("GOVERN_SCHEMA_CACHE_TTL_SECONDS"); v != "" {
		cfg.SchemaCacheTTL = time.Duration(getEnvInt("GOVERN_SCHEMA_CACHE_TTL_SECONDS", int(cfg.SchemaCacheTTL.Seconds()))) * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("GOVERN_DIALECT")); v != "" {
		cfg.Dialect = v
	}
	if v := strings.TrimSpace(os.Getenv("GOVERN_LLM_API_KEY")); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GOVERN_LLM_BASE_URL")); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GOVERN_LLM_MODEL")); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("GOVERN_LLM_MAX_TOKENS"); v != "" {
		cfg.LLMMaxTokens = getEnvInt("GOVERN_LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	}
	if v := os.Getenv("GOVERN_MAX_LLM_RETRIES"); v != "" {
		cfg.MaxLLMRetries = getEnvInt("GOVERN_MAX_LLM_RETRIES", cfg.MaxLLMRetries)
	}
	if v := os.Getenv("GOVERN_JSON_LOGS"); v != "" {
		cfg.JSONLogging = getEnvBool("GOVERN_JSON_LOGS")
	}
	if v := strings.TrimSpace(os.Getenv("GOVERN_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOVERN_HTTP"); v != "" {
		cfg.HTTPMode = getEnvBool("GOVERN_HTTP")
	}
	if v := os.Getenv("GOVERN_HTTP_PORT"); v != "" {
		cfg.HTTPPort = getEnvInt("GOVERN_HTTP_PORT", cfg.HTTPPort)
	}
	if v := os.Getenv("GOVERN_HTTP_REQUEST_TIMEOUT_SECONDS"); v != "" {
		cfg.HTTPRequestTimeout = time.Duration(getEnvInt("GOVERN_HTTP_REQUEST_TIMEOUT_SECONDS", int(cfg.HTTPRequestTimeout.Seconds()))) * time.Second
	}
	if v := os.Getenv("GOVERN_HTTP_RATE_LIMIT"); v != "" {
		cfg.RateLimitEnabled = getEnvBool("GOVERN_HTTP_RATE_LIMIT")
	}
	if v := os.Getenv("GOVERN_HTTP_RATE_LIMIT_RPS"); v != "" {
		cfg.RateLimitRPS = float64(getEnvInt("GOVERN_HTTP_RATE_LIMIT_RPS", int(cfg.RateLimitRPS)))
	}
	if v := os.Getenv("GOVERN_HTTP_RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimitBurst = getEnvInt("GOVERN_HTTP_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	}
}

// loadDatabasesFromEnv loads database configurations from environment
// variables, generalizing the teacher's loadConnectionsFromEnv numbered-DSN
// scheme (GOVERN_DSN, GOVERN_DSN_1..N) plus a JSON escape hatch
// (GOVERN_DATABASES) for full per-database SecurityPolicy overrides.
func loadDatabasesFromEnv() ([]DatabaseConfig, error) {
	var dbs []DatabaseConfig

	if jsonConfig := os.Getenv("GOVERN_DATABASES"); jsonConfig != "" {
		if err := json.Unmarshal([]byte(jsonConfig), &dbs); err != nil {
			return nil, fmt.Errorf("failed to parse GOVERN_DATABASES: %w", err)
		}
		return applyPolicyDefaults(dbs), nil
	}

	if dsn := os.Getenv("GOVERN_DSN"); dsn != "" {
		dbs = append(dbs, DatabaseConfig{Name: "default", DSN: dsn, Description: "Default database"})
	}

	for i := 1; i <= 10; i++ {
		dsn := os.Getenv(fmt.Sprintf("GOVERN_DSN_%d", i))
		if dsn == "" {
			continue
		}
		name := os.Getenv(fmt.Sprintf("GOVERN_DSN_%d_NAME", i))
		if name == "" {
			name = fmt.Sprintf("database_%d", i)
		}
		dbs = append(dbs, DatabaseConfig{
			Name:        name,
			DSN:         dsn,
			Description: os.Getenv(fmt.Sprintf("GOVERN_DSN_%d_DESC", i)),
		})
	}

	return applyPolicyDefaults(dbs), nil
}

func applyPolicyDefaults(dbs []DatabaseConfig) []DatabaseConfig {
	for i := range dbs {
		if dbs[i].MaxRows <= 0 {
			dbs[i].MaxRows = DefaultMaxRows
		}
		if dbs[i].MaxExecutionTime <= 0 {
			dbs[i].MaxExecutionTime = time.Duration(DefaultQueryTimeoutSecs) * time.Second
		}
		if dbs[i].MaxSubqueryDepth <= 0 {
			dbs[i].MaxSubqueryDepth = DefaultMaxSubqueryDepth
		}
		if dbs[i].ConfidenceThreshold <= 0 {
			dbs[i].ConfidenceThreshold = DefaultConfidenceThreshold
		}
	}
	return dbs
}

func getEnvInt(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getEnvBool(key string) bool {
	return os.Getenv(key) == "1"
}

// GetEnvInt is exported for use by other packages.
func GetEnvInt(key string, def int) int {
	return getEnvInt(key, def)
}

// GetEnvBool is exported for use by other packages.
func GetEnvBool(key string) bool {
	return getEnvBool(key)
}
