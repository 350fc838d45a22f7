package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "10000" {
		t.Errorf("Expected default port '10000', got '%s'", cfg.Port)
	}
	if cfg.KBBackend != BackendSQLite {
		t.Errorf("Expected sqlite knowledge base, got %s", cfg.KBBackend)
	}
	if cfg.SessionBackend != BackendMemory {
		t.Errorf("Expected memory sessions, got %s", cfg.SessionBackend)
	}
	if cfg.Tuning != DefaultTuning() {
		t.Errorf("Expected default tuning, got %+v", cfg.Tuning)
	}
	if cfg.LLMEnabled {
		t.Error("LLM should be disabled by default")
	}
	if !strings.HasSuffix(cfg.SQLitePath(), "assistant.db") {
		t.Errorf("unexpected sqlite path %s", cfg.SQLitePath())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvSessionBackend, BackendRedis)
	t.Setenv(EnvRedisAddr, "redis:6379")
	t.Setenv(EnvSessionTTL, "10m")
	t.Setenv(EnvWeightRegex, "0.5")
	t.Setenv(EnvFuzzyEnabled, "true")
	t.Setenv(EnvLLMProviders, "OpenAI, gemini,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SessionTTL != 10*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.Tuning.Weights.Regex != 0.5 || !cfg.Tuning.Weights.FuzzyEnabled {
		t.Errorf("weights not overridden: %+v", cfg.Tuning.Weights)
	}
	if len(cfg.LLMProviders) != 2 || cfg.LLMProviders[0] != "openai" || cfg.LLMProviders[1] != "gemini" {
		t.Errorf("LLMProviders = %v", cfg.LLMProviders)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:               "8080",
			DataDir:            "/tmp",
			KBBackend:          BackendSQLite,
			KBFlushInterval:    time.Second,
			SessionBackend:     BackendMemory,
			SessionTTL:         time.Minute,
			Tuning:             DefaultTuning(),
			SessionRateBurst:   1,
			SessionRateRPS:     1,
			EmbeddingCacheSize: 16,
		}
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:        "unknown kb backend",
			mutate:      func(c *Config) { c.KBBackend = "mongo" },
			errContains: "SALES_KB_BACKEND",
		},
		{
			name:        "r2 backend without r2",
			mutate:      func(c *Config) { c.KBBackend = BackendR2 },
			errContains: "SALES_R2_ENABLED",
		},
		{
			name:        "r2 missing credentials",
			mutate:      func(c *Config) { c.R2Enabled = true },
			errContains: "R2 account",
		},
		{
			name:        "llm without keys",
			mutate:      func(c *Config) { c.LLMEnabled = true },
			errContains: "API key",
		},
		{
			name:        "threshold out of range",
			mutate:      func(c *Config) { c.Tuning.Thresholds.LoopDetection = 1.5 },
			errContains: "loop_detection",
		},
		{
			name:        "history cap below window",
			mutate:      func(c *Config) { c.Tuning.Loop.HistoryCap = 5 },
			errContains: "history cap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestTuningStore_CopyAndSwap(t *testing.T) {
	store := NewTuningStore(DefaultTuning())

	before := store.Load()
	next := DefaultTuning()
	next.Thresholds.SpecialCaseMatch = 0.85
	if err := store.Store(next); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	if before.Thresholds.SpecialCaseMatch != 0.75 {
		t.Error("previously loaded value must not change")
	}
	if store.Load().Thresholds.SpecialCaseMatch != 0.85 {
		t.Error("new value not published")
	}

	bad := DefaultTuning()
	bad.Weights = Weights{}
	if err := store.Store(bad); err == nil {
		t.Error("expected invalid tuning to be rejected")
	}
	if store.Load().Thresholds.SpecialCaseMatch != 0.85 {
		t.Error("rejected tuning must not be published")
	}
}
