// Package config loads application configuration with multi-source priority.
//
// Sources, highest to lowest:
//  1. Environment variables (ZHIWEN_* overrides, GEMINI_API_KEY, DATABASE_URL)
//  2. Config file (~/.zhiwen/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive values (API key, database password) are masked in MarshalJSON
// and String, so a Config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/zhiwen0/zhiwen/internal/engine"
	"github.com/zhiwen0/zhiwen/internal/retrieval"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidRetrieval indicates a retrieval tuning value is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval setting")

	// ErrInvalidHistory indicates a history tuning value is out of range.
	ErrInvalidHistory = errors.New("invalid history setting")

	// ErrInvalidPostgres indicates a PostgreSQL setting is invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL setting")
)

// DefaultEmbedderModel is the default Gemini embedding model.
// gemini-embedding-001 outputs 3072 dimensions natively but supports
// Matryoshka truncation to 768, matching the pgvector schema.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
type Config struct {
	// Model configuration
	GeminiAPIKey  string  `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Persona used in the prompt identity section
	PersonaName  string `mapstructure:"persona_name" json:"persona_name"`
	PersonaOwner string `mapstructure:"persona_owner" json:"persona_owner"`

	// Retrieval tuning
	RetrievalTopK   int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	RetrievalFetchK int     `mapstructure:"retrieval_fetch_k" json:"retrieval_fetch_k"`
	RetrievalLambda float64 `mapstructure:"retrieval_lambda" json:"retrieval_lambda"`

	// Conversation history bounds
	MaxHistoryTurns    int `mapstructure:"max_history_turns" json:"max_history_turns"`
	HistoryWindowChars int `mapstructure:"history_window_chars" json:"history_window_chars"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`

	// Model call rate limiting (requests per second, 0 disables)
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Observability
	TracingEnabled bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name" json:"service_name"`
	Environment    string `mapstructure:"environment" json:"environment"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".zhiwen")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* values.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", engine.DefaultTemperature)
	v.SetDefault("max_tokens", engine.DefaultMaxOutputTokens)

	v.SetDefault("persona_name", "Zhiwen")
	v.SetDefault("persona_owner", "Zhiwen Labs")

	v.SetDefault("retrieval_top_k", retrieval.DefaultTopK)
	v.SetDefault("retrieval_fetch_k", retrieval.DefaultFetchK)
	v.SetDefault("retrieval_lambda", retrieval.DefaultLambda)

	v.SetDefault("max_history_turns", engine.DefaultMaxHistoryTurns)
	v.SetDefault("history_window_chars", engine.DefaultWindowChars)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "zhiwen")
	v.SetDefault("postgres_password", "zhiwen_dev_password")
	v.SetDefault("postgres_db_name", "zhiwen")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("server_addr", ":8080")

	v.SetDefault("rate_limit_rps", 1.0)
	v.SetDefault("rate_limit_burst", 3)

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("service_name", "zhiwen")
	v.SetDefault("environment", "dev")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment overrides explicitly. The bind calls
// take hardcoded keys and cannot fail at runtime; a panic here is a bug.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key string, envVars ...string) {
		if err := v.BindEnv(append([]string{key}, envVars...)...); err != nil {
			panic(fmt.Sprintf("BUG: binding %q: %v", key, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")

	mustBind("model_name", "ZHIWEN_MODEL_NAME")
	mustBind("embedder_model", "ZHIWEN_EMBEDDER_MODEL")
	mustBind("server_addr", "ZHIWEN_SERVER_ADDR")
	mustBind("log_level", "ZHIWEN_LOG_LEVEL")
	mustBind("log_json", "ZHIWEN_LOG_JSON")
	mustBind("tracing_enabled", "ZHIWEN_TRACING_ENABLED")
	mustBind("otlp_endpoint", "ZHIWEN_OTLP_ENDPOINT")
	mustBind("environment", "ZHIWEN_ENVIRONMENT")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of eight characters
// or fewer are fully masked; longer ones keep the first and last two
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding a new secret field, mask it here.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
