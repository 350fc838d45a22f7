package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/catalog"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/genai"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/r2client"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ratelimit"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/session"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/snapshot"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/storage"
)

const (
	catalogTopN        = 3
	redisSessionPrefix = "sales:session:"
)

// buildPatterns compiles the slot schema. Broken regexes are dropped and
// logged; a missing or unparsable file is fatal.
func buildPatterns(cfg *config.Config, log *logger.Logger) (*slots.Store, error) {
	def := slots.Default()
	if cfg.PatternFile != "" {
		loaded, err := slots.LoadFile(cfg.PatternFile)
		if err != nil {
			return nil, fmt.Errorf("pattern file: %w", err)
		}
		def = loaded
	}

	store := slots.NewStore(def, log)
	report := store.Report()
	entry := log.WithField("compiled", report.Compiled).WithField("dropped", len(report.Errors))
	if report.OK() {
		entry.Info("Slot patterns compiled")
	} else {
		entry.Warn("Slot patterns compiled with errors")
	}
	return store, nil
}

// buildSimilarity creates the engine. Without a usable embedding provider
// every comparison uses character overlap.
func buildSimilarity(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) *similarity.Engine {
	var backend similarity.EmbeddingBackend
	embedder, err := genai.NewEmbedder(ctx, cfg, log)
	switch {
	case err != nil:
		log.WithError(err).Warn("Embedding backend unavailable; using character overlap")
	case embedder != nil:
		backend = embedder
		log.WithField("provider", cfg.EmbeddingProvider).WithField("model", cfg.EmbeddingModel).Info("Embeddings enabled")
	}

	return similarity.New(backend, similarity.Options{
		Name:        cfg.EmbeddingProvider,
		CacheSize:   cfg.EmbeddingCacheSize,
		CallTimeout: config.EmbeddingCall,
		Limiter:     ratelimit.NewPerSecond(cfg.EmbedRateRPS),
		Metrics:     m,
		Logger:      log,
	})
}

func (a *Application) buildKnowledgeStore(ctx context.Context) (specialcase.KnowledgeBaseStore, error) {
	cfg := a.cfg
	switch cfg.KBBackend {
	case config.BackendSQLite:
		return storage.NewKnowledgeStore(a.db), nil
	case config.BackendFile:
		return specialcase.NewFileStore(cfg.KBFile, a.logger), nil
	case config.BackendR2:
		client, err := r2client.New(ctx, r2client.Config{
			AccountID:   cfg.R2AccountID,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretAccessKey,
			BucketName:  cfg.R2BucketName,
		})
		if err != nil {
			return nil, fmt.Errorf("r2 client: %w", err)
		}
		a.snapshots = snapshot.New(client, snapshot.Config{
			SnapshotKey:  cfg.R2SnapshotKey,
			PollInterval: cfg.KBFlushInterval,
		}, a.logger)
		return a.snapshots, nil
	default:
		return nil, fmt.Errorf("unknown knowledge base backend %q", cfg.KBBackend)
	}
}

func (a *Application) buildSessionStore(ctx context.Context) (session.Store, error) {
	cfg := a.cfg
	switch cfg.SessionBackend {
	case config.BackendMemory:
		store := session.NewMemoryStore(cfg.SessionTTL)
		a.purge = func(ctx context.Context) (int64, error) {
			n, err := store.Purge(ctx)
			return int64(n), err
		}
		return store, nil
	case config.BackendSQLite:
		store := storage.NewSessionStore(a.db, cfg.SessionTTL)
		a.purge = store.PurgeExpired
		return store, nil
	case config.BackendRedis:
		store, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   redisSessionPrefix,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		a.redis = store
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// buildCatalog loads the product catalog and indexes it for keyword search.
func buildCatalog(ctx context.Context, cfg *config.Config, log *logger.Logger) (*catalog.Index, error) {
	products := catalog.Default()
	if cfg.CatalogFile != "" {
		var paths []string
		for p := range strings.SplitSeq(cfg.CatalogFile, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		loaded, err := catalog.LoadFiles(ctx, paths)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		products = loaded
	}

	tokenizer, err := catalog.NewTokenizer(cfg.Segmenter)
	if err != nil {
		return nil, fmt.Errorf("catalog tokenizer: %w", err)
	}
	index, err := catalog.NewIndex(products, catalog.Options{
		Tokenizer: tokenizer,
		TopN:      catalogTopN,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog index: %w", err)
	}
	log.WithField("products", index.Count()).WithField("segmenter", cfg.Segmenter).Info("Product catalog indexed")
	return index, nil
}

type llmChains struct {
	classifier *genai.ChainClassifier
	generator  *genai.ChainGenerator
}

// buildLLM creates the classifier and generator chains. Any failure leaves the
// corresponding feature disabled; the assistant degrades without them.
func buildLLM(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) llmChains {
	var chains llmChains
	if !cfg.LLMEnabled || !cfg.HasLLMProvider() {
		return chains
	}

	llmCfg := genai.ConfigFromApp(cfg)
	limiter := ratelimit.NewPerSecond(cfg.LLMRateRPS)

	classifier, err := genai.NewClassifier(ctx, llmCfg, genai.ChainOptions{
		Retry:       llmCfg.RetryConfig,
		CallTimeout: config.ClassifierCall,
		Limiter:     limiter,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		log.WithError(err).Warn("Slot classifier initialization failed")
	} else {
		chains.classifier = classifier
	}

	generator, err := genai.NewGenerator(ctx, llmCfg, genai.ChainOptions{
		Retry:       llmCfg.RetryConfig,
		CallTimeout: config.GeneratorCall,
		Limiter:     limiter,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		log.WithError(err).Warn("Response generator initialization failed")
	} else {
		chains.generator = generator
	}

	providers := llmCfg.ConfiguredProviders()
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.String()
	}
	log.WithField("providers", names).
		WithField("classifier", chains.classifier != nil).
		WithField("generator", chains.generator != nil).
		Info("LLM features enabled")
	return chains
}
