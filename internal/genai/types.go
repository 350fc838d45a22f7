// Package genai integrates LLM and embedding APIs (Gemini and any
// OpenAI-compatible endpoint) behind three narrow contracts: Classifier for
// the slot fallback, Generator for reply text, and embedding backends for
// the similarity engine.
//
// Fallback is layered: a model is retried with full-jitter backoff, then the
// next model in the chain is tried, then the next provider.
package genai

import (
	"context"
	"time"
)

// Provider represents an LLM provider.
type Provider string

const (
	// ProviderGemini uses google.golang.org/genai.
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI uses github.com/openai/openai-go/v3 against api.openai.com
	// or any compatible base URL.
	ProviderOpenAI Provider = "openai"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Classification is the typed outcome of a classifier call.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // In [0,1]
}

// Classifier maps a prompt to a label. Implementations own prompt framing
// and output parsing; callers never see raw model text.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Classification, error)
	Provider() Provider
}

// Generator produces free-form reply text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Provider() Provider
}

// RetryConfig defines retry behavior for LLM API calls.
type RetryConfig struct {
	MaxAttempts  int           // Including the initial attempt
	InitialDelay time.Duration // Base delay before the first retry
	MaxDelay     time.Duration
}

// ProviderConfig holds configuration for a single LLM provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string // OpenAI only; empty = api.openai.com

	// Ordered model chains; the first model is primary.
	ClassifierModels []string
	GeneratorModels  []string
}

// LLMConfig holds configuration for all LLM providers.
type LLMConfig struct {
	Providers   []Provider // Fallback order
	Gemini      ProviderConfig
	OpenAI      ProviderConfig
	RetryConfig RetryConfig
}

// Default model chains.
var (
	DefaultGeminiClassifierModels = []string{"gemini-2.5-flash-lite", "gemini-2.5-flash"}
	DefaultGeminiGeneratorModels  = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}
	DefaultOpenAIClassifierModels = []string{"gpt-4.1-mini"}
	DefaultOpenAIGeneratorModels  = []string{"gpt-4.1-mini"}

	DefaultProviders = []Provider{ProviderGemini, ProviderOpenAI}
)

// Retry configuration defaults
const (
	DefaultMaxRetryAttempts  = 2
	DefaultInitialRetryDelay = 500 * time.Millisecond
	DefaultMaxRetryDelay     = 3 * time.Second
)

// DefaultRetryConfig returns the default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  DefaultMaxRetryAttempts,
		InitialDelay: DefaultInitialRetryDelay,
		MaxDelay:     DefaultMaxRetryDelay,
	}
}

// HasAnyProvider returns true if at least one provider is configured.
func (c *LLMConfig) HasAnyProvider() bool {
	return c.Gemini.APIKey != "" || c.OpenAI.APIKey != ""
}

// HasProvider returns true if p is configured with an API key.
func (c *LLMConfig) HasProvider(p Provider) bool {
	pc := c.GetProviderConfig(p)
	return pc != nil && pc.APIKey != ""
}

// GetProviderConfig returns the configuration for p, or nil.
func (c *LLMConfig) GetProviderConfig(p Provider) *ProviderConfig {
	switch p {
	case ProviderGemini:
		return &c.Gemini
	case ProviderOpenAI:
		return &c.OpenAI
	default:
		return nil
	}
}

// ConfiguredProviders returns the providers with API keys, in c.Providers
// order.
func (c *LLMConfig) ConfiguredProviders() []Provider {
	result := make([]Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		if c.HasProvider(p) {
			result = append(result, p)
		}
	}
	return result
}
