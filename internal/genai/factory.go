package genai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
)

// ConfigFromApp builds an LLMConfig from application configuration.
// Model lists from the environment apply to every provider; empty lists
// select the provider defaults.
func ConfigFromApp(cfg *config.Config) LLMConfig {
	providers := make([]Provider, 0, len(cfg.LLMProviders))
	for _, p := range cfg.LLMProviders {
		providers = append(providers, Provider(p))
	}
	if len(providers) == 0 {
		providers = DefaultProviders
	}
	pick := func(configured, defaults []string) []string {
		if len(configured) > 0 {
			return configured
		}
		return defaults
	}
	return LLMConfig{
		Providers: providers,
		Gemini: ProviderConfig{
			APIKey:           cfg.GeminiAPIKey,
			ClassifierModels: pick(cfg.ClassifierModels, DefaultGeminiClassifierModels),
			GeneratorModels:  pick(cfg.GeneratorModels, DefaultGeminiGeneratorModels),
		},
		OpenAI: ProviderConfig{
			APIKey:           cfg.OpenAIAPIKey,
			BaseURL:          cfg.OpenAIBaseURL,
			ClassifierModels: pick(cfg.ClassifierModels, DefaultOpenAIClassifierModels),
			GeneratorModels:  pick(cfg.GeneratorModels, DefaultOpenAIGeneratorModels),
		},
		RetryConfig: DefaultRetryConfig(),
	}
}

// clients lazily creates one SDK client per provider.
type clients struct {
	gemini *genai.Client
}

func (c *clients) geminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if c.gemini != nil {
		return c.gemini, nil
	}
	client, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	c.gemini = client
	return client, nil
}

// NewClassifier builds the classifier chain: every configured model of the
// first provider, then the next provider. It returns nil when no provider
// is configured.
func NewClassifier(ctx context.Context, cfg LLMConfig, opts ChainOptions) (*ChainClassifier, error) {
	opts.defaults()
	if opts.CallTimeout == 0 {
		opts.CallTimeout = config.ClassifierCall
	}
	opts.Retry = cfg.RetryConfig

	var (
		links []Classifier
		cl    clients
	)
	for _, p := range cfg.ConfiguredProviders() {
		pc := cfg.GetProviderConfig(p)
		switch p {
		case ProviderGemini:
			client, err := cl.geminiClient(ctx, pc.APIKey)
			if err != nil {
				opts.Logger.WithError(err).Warn("Skipping Gemini classifier")
				continue
			}
			for _, m := range pc.ClassifierModels {
				links = append(links, newGeminiClassifier(client, m, opts.Logger))
			}
		case ProviderOpenAI:
			client := newOpenAIClient(pc.APIKey, pc.BaseURL)
			for _, m := range pc.ClassifierModels {
				links = append(links, newOpenAIClassifier(client, m, opts.Logger))
			}
		default:
			return nil, fmt.Errorf("unsupported LLM provider %q", p)
		}
	}
	if len(links) == 0 {
		opts.Logger.Info("No LLM provider configured for classification")
		return nil, nil //nolint:nilnil // LLM fallback disabled
	}

	opts.Logger.WithFields(map[string]any{
		"primary":    links[0].Provider(),
		"chain_size": len(links),
	}).Info("Classifier configured")
	return NewChainClassifier(opts, links...), nil
}

// NewGenerator builds the generator chain, or nil when no provider is
// configured.
func NewGenerator(ctx context.Context, cfg LLMConfig, opts ChainOptions) (*ChainGenerator, error) {
	opts.defaults()
	if opts.CallTimeout == 0 {
		opts.CallTimeout = config.GeneratorCall
	}
	opts.Retry = cfg.RetryConfig

	var (
		links []Generator
		cl    clients
	)
	for _, p := range cfg.ConfiguredProviders() {
		pc := cfg.GetProviderConfig(p)
		switch p {
		case ProviderGemini:
			client, err := cl.geminiClient(ctx, pc.APIKey)
			if err != nil {
				opts.Logger.WithError(err).Warn("Skipping Gemini generator")
				continue
			}
			for _, m := range pc.GeneratorModels {
				links = append(links, newGeminiGenerator(client, m))
			}
		case ProviderOpenAI:
			client := newOpenAIClient(pc.APIKey, pc.BaseURL)
			for _, m := range pc.GeneratorModels {
				links = append(links, &openaiGenerator{client: client, model: m, logger: opts.Logger})
			}
		default:
			return nil, fmt.Errorf("unsupported LLM provider %q", p)
		}
	}
	if len(links) == 0 {
		opts.Logger.Info("No LLM provider configured for generation")
		return nil, nil //nolint:nilnil // template replies only
	}
	return NewChainGenerator(opts, links...), nil
}

// Embedder is an embedding backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder returns the embedding backend named by cfg.EmbeddingProvider,
// or nil when embeddings are disabled.
func NewEmbedder(ctx context.Context, cfg *config.Config, log *logger.Logger) (Embedder, error) {
	switch Provider(cfg.EmbeddingProvider) {
	case "":
		return nil, nil //nolint:nilnil // character-overlap similarity only
	case ProviderGemini:
		e, err := NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		if log != nil {
			log.WithField("provider", cfg.EmbeddingProvider).Warn("Unknown embedding provider")
		}
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}
}
