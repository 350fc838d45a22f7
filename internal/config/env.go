// Package config defines environment variable keys for configuration.
package config

//nolint:gosec,revive // Environment variable keys are not credentials and do not need per-const comments.
const (
	// Server
	EnvPort            = "SALES_PORT"
	EnvLogLevel        = "SALES_LOG_LEVEL"
	EnvShutdownTimeout = "SALES_SHUTDOWN_TIMEOUT"
	EnvAdminToken      = "SALES_ADMIN_TOKEN"

	// Data
	EnvDataDir     = "SALES_DATA_DIR"
	EnvPatternFile = "SALES_PATTERN_FILE"
	EnvCatalogFile = "SALES_CATALOG_FILE"
	EnvSegmenter   = "SALES_SEGMENTER"

	// Knowledge base
	EnvKBBackend       = "SALES_KB_BACKEND"
	EnvKBFile          = "SALES_KB_FILE"
	EnvKBFlushInterval = "SALES_KB_FLUSH_INTERVAL"

	// Sessions
	EnvSessionBackend = "SALES_SESSION_BACKEND"
	EnvSessionTTL     = "SALES_SESSION_TTL"
	EnvRedisAddr      = "SALES_REDIS_ADDR"
	EnvRedisPassword  = "SALES_REDIS_PASSWORD"
	EnvRedisDB        = "SALES_REDIS_DB"

	// Thresholds
	EnvSpecialCaseMatch        = "SALES_THRESHOLD_SPECIAL_CASE"
	EnvLoopDetection           = "SALES_THRESHOLD_LOOP"
	EnvSlotSynonymMatch        = "SALES_THRESHOLD_SYNONYM"
	EnvHybridMinimumConfidence = "SALES_THRESHOLD_HYBRID_MIN"
	EnvClassifierMinConfidence = "SALES_THRESHOLD_CLASSIFIER_MIN"

	// Strategy weights
	EnvWeightRegex    = "SALES_WEIGHT_REGEX"
	EnvWeightSemantic = "SALES_WEIGHT_SEMANTIC"
	EnvWeightKeyword  = "SALES_WEIGHT_KEYWORD"
	EnvWeightFuzzy    = "SALES_WEIGHT_FUZZY"
	EnvFuzzyEnabled   = "SALES_FUZZY_ENABLED"

	// Loop detection
	EnvLoopWindow     = "SALES_LOOP_WINDOW"
	EnvLoopMaxRepeats = "SALES_LOOP_MAX_REPEATS"
	EnvLoopHistoryCap = "SALES_LOOP_HISTORY_CAP"

	// Rate limits
	EnvSessionRateBurst = "SALES_SESSION_RATE_BURST"
	EnvSessionRateRPS   = "SALES_SESSION_RATE_RPS"
	EnvLLMRateRPS       = "SALES_LLM_RATE_RPS"
	EnvEmbedRateRPS     = "SALES_EMBED_RATE_RPS"

	// LLM feature
	EnvLLMEnabled       = "SALES_LLM_ENABLED"
	EnvLLMProviders     = "SALES_LLM_PROVIDERS"
	EnvGeminiAPIKey     = "SALES_GEMINI_API_KEY"
	EnvOpenAIAPIKey     = "SALES_OPENAI_API_KEY"
	EnvOpenAIBaseURL    = "SALES_OPENAI_BASE_URL"
	EnvClassifierModels = "SALES_CLASSIFIER_MODELS"
	EnvGeneratorModels  = "SALES_GENERATOR_MODELS"

	// Embeddings
	EnvEmbeddingProvider   = "SALES_EMBEDDING_PROVIDER"
	EnvEmbeddingModel      = "SALES_EMBEDDING_MODEL"
	EnvEmbeddingDimensions = "SALES_EMBEDDING_DIMENSIONS"
	EnvEmbeddingCacheSize  = "SALES_EMBEDDING_CACHE_SIZE"

	// LINE channel
	EnvLineChannelAccessToken = "SALES_LINE_CHANNEL_ACCESS_TOKEN"
	EnvLineChannelSecret      = "SALES_LINE_CHANNEL_SECRET"

	// R2 snapshot feature
	EnvR2Enabled         = "SALES_R2_ENABLED"
	EnvR2AccountID       = "SALES_R2_ACCOUNT_ID"
	EnvR2AccessKeyID     = "SALES_R2_ACCESS_KEY_ID"
	EnvR2SecretAccessKey = "SALES_R2_SECRET_ACCESS_KEY"
	EnvR2BucketName      = "SALES_R2_BUCKET_NAME"
	EnvR2SnapshotKey     = "SALES_R2_SNAPSHOT_KEY"

	// Sentry feature
	EnvSentryToken       = "SALES_SENTRY_TOKEN"
	EnvSentryHost        = "SALES_SENTRY_HOST"
	EnvSentryEnvironment = "SALES_SENTRY_ENVIRONMENT"
	EnvSentrySampleRate  = "SALES_SENTRY_SAMPLE_RATE"

	// Better Stack feature
	EnvBetterStackToken = "SALES_BETTERSTACK_TOKEN"

	// Metrics auth
	EnvMetricsUsername = "SALES_METRICS_USERNAME"
	EnvMetricsPassword = "SALES_METRICS_PASSWORD"
)
