// internal/config/file.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the structure of a configuration file.
type FileConfig struct {
	Databases map[string]FileDatabaseConfig `yaml:"databases" json:"databases"`
	Pool      FilePoolConfig                `yaml:"pool" json:"pool"`
	Schema    FileSchemaConfig              `yaml:"schema" json:"schema"`
	LLM       FileLLMConfig                 `yaml:"llm" json:"llm"`
	Resilience FileResilienceConfig         `yaml:"resilience" json:"resilience"`
	Logging   FileLoggingConfig             `yaml:"logging" json:"logging"`
	HTTP      FileHTTPConfig                `yaml:"http" json:"http"`
}

// FileDatabaseConfig represents one database and its SecurityPolicy in the
// config file, generalizing the teacher's FileConnectionConfig (DSN +
// description + read_only) with the per-database policy knobs spec.md's
// SecurityPolicy names.
type FileDatabaseConfig struct {
	DSN                 string   `yaml:"dsn" json:"dsn"`
	Description         string   `yaml:"description" json:"description"`
	SSL                 string   `yaml:"ssl" json:"ssl"`
	BlockedTables       []string `yaml:"blocked_tables" json:"blocked_tables"`
	BlockedColumns      []string `yaml:"blocked_columns" json:"blocked_columns"`
	BlockedFunctions    []string `yaml:"blocked_functions" json:"blocked_functions"`
	AllowExplain        bool     `yaml:"allow_explain" json:"allow_explain"`
	MaxRows             int      `yaml:"max_rows" json:"max_rows"`
	MaxExecutionSeconds int      `yaml:"max_execution_seconds" json:"max_execution_seconds"`
	MaxSubqueryDepth    int      `yaml:"max_subquery_depth" json:"max_subquery_depth"`
	ReadonlyRole        string   `yaml:"readonly_role" json:"readonly_role"`
	SafeSearchPath      string   `yaml:"safe_search_path" json:"safe_search_path"`
	ConfidenceThreshold int      `yaml:"confidence_threshold" json:"confidence_threshold"`
}

// FilePoolConfig represents pgxpool settings in the config file.
type FilePoolConfig struct {
	MaxConns               int32 `yaml:"max_conns" json:"max_conns"`
	MinConns               int32 `yaml:"min_conns" json:"min_conns"`
	ConnMaxLifetimeMinutes int   `yaml:"conn_max_lifetime_minutes" json:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int   `yaml:"conn_max_idle_time_minutes" json:"conn_max_idle_time_minutes"`
	PingTimeoutSeconds     int   `yaml:"ping_timeout_seconds" json:"ping_timeout_seconds"`
}

// FileSchemaConfig represents schema cache settings.
type FileSchemaConfig struct {
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	Dialect         string `yaml:"dialect" json:"dialect"`
}

// FileLLMConfig represents the LLM client settings.
type FileLLMConfig struct {
	APIKey      string  `yaml:"api_key" json:"api_key"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries" json:"max_retries"`
}

// FileResilienceConfig represents rate-limit/breaker/retry settings for the
// query and llm resource classes.
type FileResilienceConfig struct {
	RateLimitQueryCap int                   `yaml:"rate_limit_query_cap" json:"rate_limit_query_cap"`
	RateLimitLLMCap   int                   `yaml:"rate_limit_llm_cap" json:"rate_limit_llm_cap"`
	QueryBreaker      FileBreakerConfig     `yaml:"query_breaker" json:"query_breaker"`
	LLMBreaker        FileBreakerConfig     `yaml:"llm_breaker" json:"llm_breaker"`
	QueryRetry        FileRetryConfig       `yaml:"query_retry" json:"query_retry"`
	LLMRetry          FileRetryConfig       `yaml:"llm_retry" json:"llm_retry"`
}

// FileBreakerConfig represents one circuit breaker's threshold/cooldown.
type FileBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// FileRetryConfig represents one retry engine's backoff schedule.
type FileRetryConfig struct {
	BaseDelayMs int     `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms" json:"max_delay_ms"`
	Factor      float64 `yaml:"factor" json:"factor"`
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	Jitter      bool    `yaml:"jitter" json:"jitter"`
}

// FileLoggingConfig represents logging settings in the config file.
type FileLoggingConfig struct {
	JSONFormat bool   `yaml:"json_format" json:"json_format"`
	Level      string `yaml:"level" json:"level"`
}

// FileHTTPConfig represents HTTP settings in the config file.
type FileHTTPConfig struct {
	Enabled               bool                `yaml:"enabled" json:"enabled"`
	Port                  int                 `yaml:"port" json:"port"`
	RequestTimeoutSeconds int                 `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	RateLimit             FileRateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// FileRateLimitConfig represents HTTP-ingress rate limiting settings.
type FileRateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	RPS     int  `yaml:"rps" json:"rps"`
	Burst   int  `yaml:"burst" json:"burst"`
}

// ConfigFilePath holds the path to the config file (set by a command line flag).
var ConfigFilePath string

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() string {
	if ConfigFilePath != "" {
		return ConfigFilePath
	}
	if envPath := os.Getenv("GOVERN_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{"govern.yaml", "govern.yml", "govern.json"}
	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
			path := filepath.Join(homeDir, ".config", "govern", name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		path := filepath.Join("/etc/govern", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// LoadConfigFile loads configuration from a file (YAML or JSON).
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		var yamlCfg FileConfig
		if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
			var jsonCfg FileConfig
			if err := json.Unmarshal(data, &jsonCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
			}
			cfg = jsonCfg
		} else {
			cfg = yamlCfg
		}
	}

	return &cfg, nil
}

// ValidateConfigFile validates a config file without loading it into the server.
func ValidateConfigFile(path string) error {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return err
	}
	if len(cfg.Databases) == 0 {
		return fmt.Errorf("no databases defined in config file")
	}
	for name, db := range cfg.Databases {
		if db.DSN == "" {
			return fmt.Errorf("database '%s' has empty dsn", name)
		}
	}
	return nil
}

// ToConfig converts a FileConfig to the runtime Config struct. File values
// are the base; env overrides are applied afterward by Load.
func (fc *FileConfig) ToConfig() *Config {
	cfg := defaults()

	if fc.Pool.MaxConns > 0 {
		cfg.MaxConns = fc.Pool.MaxConns
	}
	if fc.Pool.MinConns > 0 {
		cfg.MinConns = fc.Pool.MinConns
	}
	if fc.Pool.ConnMaxLifetimeMinutes > 0 {
		cfg.ConnMaxLifetime = minutesToDuration(fc.Pool.ConnMaxLifetimeMinutes)
	}
	if fc.Pool.ConnMaxIdleTimeMinutes > 0 {
		cfg.ConnMaxIdleTime = minutesToDuration(fc.Pool.ConnMaxIdleTimeMinutes)
	}
	if fc.Pool.PingTimeoutSeconds > 0 {
		cfg.PingTimeout = secondsToDuration(fc.Pool.PingTimeoutSeconds)
	}

	if fc.Schema.CacheTTLSeconds > 0 {
		cfg.SchemaCacheTTL = secondsToDuration(fc.Schema.CacheTTLSeconds)
	}
	if strings.TrimSpace(fc.Schema.Dialect) != "" {
		cfg.Dialect = strings.TrimSpace(fc.Schema.Dialect)
	}

	if strings.TrimSpace(fc.LLM.APIKey) != "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}
	if strings.TrimSpace(fc.LLM.BaseURL) != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if strings.TrimSpace(fc.LLM.Model) != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if fc.LLM.Temperature > 0 {
		cfg.LLMTemperature = fc.LLM.Temperature
	}
	if fc.LLM.MaxTokens > 0 {
		cfg.LLMMaxTokens = fc.LLM.MaxTokens
	}
	if fc.LLM.MaxRetries > 0 {
		cfg.MaxLLMRetries = fc.LLM.MaxRetries
	}

	if fc.Resilience.RateLimitQueryCap > 0 {
		cfg.RateLimitQueryCap = fc.Resilience.RateLimitQueryCap
	}
	if fc.Resilience.RateLimitLLMCap > 0 {
		cfg.RateLimitLLMCap = fc.Resilience.RateLimitLLMCap
	}
	if fc.Resilience.QueryBreaker.FailureThreshold > 0 {
		cfg.QueryBreakerFailureThreshold = fc.Resilience.QueryBreaker.FailureThreshold
	}
	if fc.Resilience.QueryBreaker.CooldownSeconds > 0 {
		cfg.QueryBreakerCooldown = secondsToDuration(fc.Resilience.QueryBreaker.CooldownSeconds)
	}
	if fc.Resilience.LLMBreaker.FailureThreshold > 0 {
		cfg.LLMBreakerFailureThreshold = fc.Resilience.LLMBreaker.FailureThreshold
	}
	if fc.Resilience.LLMBreaker.CooldownSeconds > 0 {
		cfg.LLMBreakerCooldown = secondsToDuration(fc.Resilience.LLMBreaker.CooldownSeconds)
	}
	applyRetryFile(fc.Resilience.QueryRetry, &cfg.QueryRetryBaseDelay, &cfg.QueryRetryMaxDelay, &cfg.QueryRetryFactor, &cfg.QueryRetryMaxAttempts, &cfg.QueryRetryJitter)
	applyRetryFile(fc.Resilience.LLMRetry, &cfg.LLMRetryBaseDelay, &cfg.LLMRetryMaxDelay, &cfg.LLMRetryFactor, &cfg.LLMRetryMaxAttempts, &cfg.LLMRetryJitter)

	cfg.JSONLogging = fc.Logging.JSONFormat
	if strings.TrimSpace(fc.Logging.Level) != "" {
		cfg.LogLevel = fc.Logging.Level
	}

	cfg.HTTPMode = fc.HTTP.Enabled
	if fc.HTTP.Port > 0 {
		cfg.HTTPPort = fc.HTTP.Port
	}
	if fc.HTTP.RequestTimeoutSeconds > 0 {
		cfg.HTTPRequestTimeout = secondsToDuration(fc.HTTP.RequestTimeoutSeconds)
	}
	cfg.RateLimitEnabled = fc.HTTP.RateLimit.Enabled
	if fc.HTTP.RateLimit.RPS > 0 {
		cfg.RateLimitRPS = float64(fc.HTTP.RateLimit.RPS)
	}
	if fc.HTTP.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = fc.HTTP.RateLimit.Burst
	}

	names := make([]string, 0, len(fc.Databases))
	for name := range fc.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if name == "default" && i > 0 {
			names = append([]string{"default"}, append(names[:i], names[i+1:]...)...)
			break
		}
	}

	for _, name := range names {
		db := fc.Databases[name]
		cfg.Databases = append(cfg.Databases, DatabaseConfig{
			Name:                name,
			DSN:                 ApplySSLToDSN(db.DSN, db.SSL),
			Description:         db.Description,
			SSL:                 db.SSL,
			BlockedTables:       db.BlockedTables,
			BlockedColumns:      db.BlockedColumns,
			BlockedFunctions:    db.BlockedFunctions,
			AllowExplain:        db.AllowExplain,
			MaxRows:             db.MaxRows,
			MaxExecutionTime:    secondsToDuration(db.MaxExecutionSeconds),
			MaxSubqueryDepth:    db.MaxSubqueryDepth,
			ReadonlyRole:        db.ReadonlyRole,
			SafeSearchPath:      db.SafeSearchPath,
			ConfidenceThreshold: db.ConfidenceThreshold,
		})
	}
	cfg.Databases = applyPolicyDefaults(cfg.Databases)

	return cfg
}

func applyRetryFile(fr FileRetryConfig, base, max *time.Duration, factor *float64, attempts *int, jitter *bool) {
	if fr.BaseDelayMs > 0 {
		*base = time.Duration(fr.BaseDelayMs) * time.Millisecond
	}
	if fr.MaxDelayMs > 0 {
		*max = time.Duration(fr.MaxDelayMs) * time.Millisecond
	}
	if fr.Factor > 0 {
		*factor = fr.Factor
	}
	if fr.MaxAttempts > 0 {
		*attempts = fr.MaxAttempts
	}
	*jitter = fr.Jitter
}

// PrintConfig outputs the per-database part of the configuration as YAML,
// masking every DSN. Only the databases section is filled in; the pool,
// schema, llm, resilience, logging and http sections are emitted with zero
// values.
func PrintConfig(cfg *Config) string {
	fc := &FileConfig{Databases: make(map[string]FileDatabaseConfig)}
	for _, db := range cfg.Databases {
		fc.Databases[db.Name] = FileDatabaseConfig{
			DSN:                 maskDSN(db.DSN),
			Description:         db.Description,
			SSL:                 db.SSL,
			BlockedTables:       db.BlockedTables,
			BlockedColumns:      db.BlockedColumns,
			BlockedFunctions:    db.BlockedFunctions,
			AllowExplain:        db.AllowExplain,
			MaxRows:             db.MaxRows,
			MaxExecutionSeconds: int(db.MaxExecutionTime.Seconds()),
			MaxSubqueryDepth:    db.MaxSubqueryDepth,
			ReadonlyRole:        db.ReadonlyRole,
			SafeSearchPath:      db.SafeSearchPath,
			ConfidenceThreshold: db.ConfidenceThreshold,
		}
	}
	data, _ := yaml.Marshal(fc)
	return string(data)
}

// maskDSN masks the password portion of a Postgres DSN for safe printing.
func maskDSN(dsn string) string {
	if idx := strings.Index(dsn, "://"); idx >= 0 {
		rest := dsn[idx+3:]
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			userinfo := rest[:at]
			if colon := strings.Index(userinfo, ":"); colon >= 0 {
				userinfo = userinfo[:colon] + ":***"
			}
			return dsn[:idx+3] + userinfo + rest[at:]
		}
	}
	return dsn
}

// ApplySSLToDSN appends a Postgres sslmode query parameter to dsn based on
// the SSL setting, generalizing the teacher's MySQL tls= parameter
// injection (ApplySSLToDSN in the original) to libpq's sslmode values.
// SSL values: "disable", "require", "verify-ca", "verify-full", or "" (no
// change). If dsn already names sslmode, it is left untouched.
func ApplySSLToDSN(dsn, ssl string) string {
	ssl = strings.TrimSpace(strings.ToLower(ssl))
	if ssl == "" || ssl == "false" || ssl == "0" {
		return dsn
	}
	if idx := strings.Index(dsn, "?"); idx != -1 {
		if strings.Contains(dsn[idx:], "sslmode=") {
			return dsn
		}
	}

	mode := "require"
	switch ssl {
	case "disable", "require", "verify-ca", "verify-full", "prefer", "allow":
		mode = ssl
	}

	if strings.Contains(dsn, "?") {
		return dsn + "&sslmode=" + mode
	}
	return dsn + "?sslmode=" + mode
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func minutesToDuration(m int) time.Duration {
	return time.Duration(m) * time.Minute
}
