package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	PolicyBackendFile   = "file"
	PolicyBackendSQLite = "sqlite"
	PolicyBackendRedis  = "redis"

	KnowledgeProviderNone       = "none"
	KnowledgeProviderGemini     = "gemini"
	KnowledgeProviderOpenRouter = "openrouter"
)

type Config struct {
	HTTPPort  string
	LogLevel  string
	LogFormat string

	BundlePath  string // empty means the embedded bundle
	DatabaseURL string

	PolicyBackend string
	PolicyPath    string
	RedisAddr     string

	SessionTTL    time.Duration
	SweepInterval time.Duration

	KnowledgeProvider string
	GeminiAPIKey      string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string

	JWTSecret      string
	ReportFontPath string
}

var AppConfig Config

// LoadConfig reads .env (if present) and the environment into AppConfig.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		BundlePath:        getEnv("BUNDLE_PATH", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "diagnosis.db"),
		PolicyBackend:     strings.ToLower(getEnv("POLICY_BACKEND", PolicyBackendFile)),
		PolicyPath:        getEnv("POLICY_PATH", "q_table.json"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		SessionTTL:        getEnvAsDuration("SESSION_TTL", time.Hour),
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		KnowledgeProvider: strings.ToLower(getEnv("KNOWLEDGE_PROVIDER", KnowledgeProviderNone)),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "mistralai/mistral-small-3.2-24b-instruct:free"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		ReportFontPath:    getEnv("REPORT_FONT_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.PolicyBackend {
	case PolicyBackendFile, PolicyBackendSQLite, PolicyBackendRedis:
	default:
		return fmt.Errorf("POLICY_BACKEND must be one of file, sqlite, redis (got %q)", c.PolicyBackend)
	}

	switch c.KnowledgeProvider {
	case KnowledgeProviderNone:
	case KnowledgeProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required for the gemini knowledge provider")
		}
	case KnowledgeProviderOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY environment variable is required for the openrouter knowledge provider")
		}
	default:
		return fmt.Errorf("KNOWLEDGE_PROVIDER must be one of none, gemini, openrouter (got %q)", c.KnowledgeProvider)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("Invalid duration, using default", "key", key, "value", valueStr, "default", defaultValue)
	return defaultValue
}
