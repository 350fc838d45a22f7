// Package config provides application configuration management.
// It loads settings from environment variables (optionally seeded from a .env
// file) and provides defaults for thresholds, strategy weights, storage
// backends and external providers.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendR2     = "r2"
)

// Config holds all application configuration
type Config struct {
	// Server Configuration
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration
	AdminToken      string // Bearer token for /api/v1/admin routes (empty = admin routes disabled)

	// Data Configuration
	DataDir     string // Directory for SQLite database and JSON knowledge base
	PatternFile string // YAML slot pattern file (empty = built-in notebook schema)
	CatalogFile string // Comma-separated YAML product catalogs (empty = built-in sample catalog)
	Segmenter   string // "bigram" (default) or "gse"

	// Knowledge Base
	KBBackend       string // sqlite, file or r2
	KBFile          string // JSON file used by the file backend
	KBFlushInterval time.Duration

	// Sessions
	SessionBackend string // memory, sqlite or redis
	SessionTTL     time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Extraction tuning (hot-reloadable through the admin API)
	Tuning Tuning

	// Rate limits
	SessionRateBurst int     // Burst of turns per session
	SessionRateRPS   float64 // Sustained turns per second per session
	LLMRateRPS       float64 // Global LLM calls per second (0 = unlimited)
	EmbedRateRPS     float64 // Global embedding calls per second (0 = unlimited)

	// LLM Configuration
	LLMEnabled       bool
	LLMProviders     []string // Ordered provider chain, e.g. ["gemini", "openai"]
	GeminiAPIKey     string
	OpenAIAPIKey     string
	OpenAIBaseURL    string   // OpenAI-compatible endpoint (empty = api.openai.com)
	ClassifierModels []string // Empty = provider defaults
	GeneratorModels  []string // Empty = provider defaults

	// Embeddings
	EmbeddingProvider   string // gemini, openai or "" (disabled, char-overlap only)
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingCacheSize  int

	// LINE channel (optional)
	LineChannelToken  string
	LineChannelSecret string

	// R2 snapshot
	R2Enabled         bool
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2SnapshotKey     string

	// Observability
	SentryToken       string
	SentryHost        string
	SentryEnvironment string
	SentrySampleRate  float64
	BetterStackToken  string
	MetricsUsername   string
	MetricsPassword   string // Empty = /metrics unauthenticated
}

// Load reads configuration from environment variables
// It attempts to load .env file first, then reads from env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	dataDir := getEnv(EnvDataDir, getDefaultDataDir())

	cfg := &Config{
		Port:            getEnv(EnvPort, "10000"),
		LogLevel:        getEnv(EnvLogLevel, "info"),
		ShutdownTimeout: getDurationEnv(EnvShutdownTimeout, GracefulShutdown),
		AdminToken:      getEnv(EnvAdminToken, ""),

		DataDir:     dataDir,
		PatternFile: getEnv(EnvPatternFile, ""),
		CatalogFile: getEnv(EnvCatalogFile, ""),
		Segmenter:   getEnv(EnvSegmenter, "bigram"),

		KBBackend:       getEnv(EnvKBBackend, BackendSQLite),
		KBFile:          getEnv(EnvKBFile, filepath.Join(dataDir, "special_cases.json")),
		KBFlushInterval: getDurationEnv(EnvKBFlushInterval, KBFlushInterval),

		SessionBackend: getEnv(EnvSessionBackend, BackendMemory),
		SessionTTL:     getDurationEnv(EnvSessionTTL, 30*time.Minute),
		RedisAddr:      getEnv(EnvRedisAddr, "localhost:6379"),
		RedisPassword:  getEnv(EnvRedisPassword, ""),
		RedisDB:        getIntEnv(EnvRedisDB, 0),

		Tuning: LoadTuning(),

		SessionRateBurst: getIntEnv(EnvSessionRateBurst, 10),
		SessionRateRPS:   getFloatEnv(EnvSessionRateRPS, 0.5),
		LLMRateRPS:       getFloatEnv(EnvLLMRateRPS, 5),
		EmbedRateRPS:     getFloatEnv(EnvEmbedRateRPS, 0),

		LLMEnabled:       getBoolEnv(EnvLLMEnabled, false),
		LLMProviders:     getListEnv(EnvLLMProviders, []string{"gemini", "openai"}),
		GeminiAPIKey:     getEnv(EnvGeminiAPIKey, ""),
		OpenAIAPIKey:     getEnv(EnvOpenAIAPIKey, ""),
		OpenAIBaseURL:    getEnv(EnvOpenAIBaseURL, ""),
		ClassifierModels: getListEnv(EnvClassifierModels, nil),
		GeneratorModels:  getListEnv(EnvGeneratorModels, nil),

		EmbeddingProvider:   getEnv(EnvEmbeddingProvider, ""),
		EmbeddingModel:      getEnv(EnvEmbeddingModel, ""),
		EmbeddingDimensions: getIntEnv(EnvEmbeddingDimensions, 768),
		EmbeddingCacheSize:  getIntEnv(EnvEmbeddingCacheSize, 4096),

		LineChannelToken:  getEnv(EnvLineChannelAccessToken, ""),
		LineChannelSecret: getEnv(EnvLineChannelSecret, ""),

		R2Enabled:         getBoolEnv(EnvR2Enabled, false),
		R2AccountID:       getEnv(EnvR2AccountID, ""),
		R2AccessKeyID:     getEnv(EnvR2AccessKeyID, ""),
		R2SecretAccessKey: getEnv(EnvR2SecretAccessKey, ""),
		R2BucketName:      getEnv(EnvR2BucketName, ""),
		R2SnapshotKey:     getEnv(EnvR2SnapshotKey, "knowledge-base/special_cases.json.zst"),

		SentryToken:       getEnv(EnvSentryToken, ""),
		SentryHost:        getEnv(EnvSentryHost, ""),
		SentryEnvironment: getEnv(EnvSentryEnvironment, "production"),
		SentrySampleRate:  getFloatEnv(EnvSentrySampleRate, 1.0),
		BetterStackToken:  getEnv(EnvBetterStackToken, ""),
		MetricsUsername:   getEnv(EnvMetricsUsername, "prometheus"),
		MetricsPassword:   getEnv(EnvMetricsPassword, ""),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("SALES_PORT is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("SALES_DATA_DIR is required"))
	}
	if err := c.Tuning.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tuning: %w", err))
	}

	switch c.KBBackend {
	case BackendSQLite, BackendFile:
	case BackendR2:
		if !c.R2Enabled {
			errs = append(errs, errors.New("SALES_KB_BACKEND=r2 requires SALES_R2_ENABLED=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SALES_KB_BACKEND %q", c.KBBackend))
	}

	switch c.SessionBackend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("SALES_REDIS_ADDR is required for the redis session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SALES_SESSION_BACKEND %q", c.SessionBackend))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SALES_SESSION_TTL must be positive, got %v", c.SessionTTL))
	}
	if c.KBFlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("SALES_KB_FLUSH_INTERVAL must be positive, got %v", c.KBFlushInterval))
	}

	if c.R2Enabled {
		if c.R2AccountID == "" || c.R2AccessKeyID == "" || c.R2SecretAccessKey == "" || c.R2BucketName == "" {
			errs = append(errs, errors.New("R2 account, credentials and bucket are required when R2 is enabled"))
		}
	}
	if c.LLMEnabled && !c.HasLLMProvider() {
		errs = append(errs, errors.New("SALES_LLM_ENABLED requires a Gemini or OpenAI API key"))
	}
	if c.SessionRateBurst <= 0 || c.SessionRateRPS <= 0 {
		errs = append(errs, errors.New("session rate limit burst and rps must be positive"))
	}
	if c.EmbeddingCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("SALES_EMBEDDING_CACHE_SIZE must be positive, got %d", c.EmbeddingCacheSize))
	}

	return errors.Join(errs...)
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves integer environment variable with fallback to default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv retrieves duration environment variable with fallback to default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getFloatEnv retrieves float64 environment variable with fallback to default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getBoolEnv retrieves boolean environment variable with fallback to default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getListEnv retrieves a comma separated list, trimming blanks.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getDefaultDataDir returns platform-specific default data directory
func getDefaultDataDir() string {
	if runtime.GOOS == "windows" {
		return "./data"
	}
	return "/data"
}

// SQLitePath returns the full path to the SQLite database file
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "assistant.db")
}

// HasLLMProvider returns true if at least one LLM provider is configured.
func (c *Config) HasLLMProvider() bool {
	return c.GeminiAPIKey != "" || c.OpenAIAPIKey != ""
}

// LineEnabled returns true when both LINE credentials are present.
func (c *Config) LineEnabled() bool {
	return c.LineChannelToken != "" && c.LineChannelSecret != ""
}
