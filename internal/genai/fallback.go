package genai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ratelimit"
)

// ChainOptions configures a fallback chain.
type ChainOptions struct {
	Retry       RetryConfig
	CallTimeout time.Duration      // Per model attempt; 0 = caller's deadline only
	Limiter     *ratelimit.Limiter // Shared LLM budget; nil = unlimited
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

func (o *ChainOptions) defaults() {
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryConfig()
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
}

// chain runs one operation across ordered links: each link is retried on
// transient errors, then the chain moves on unless the error is permanent.
type chain[L interface{ Provider() Provider }] struct {
	links     []L
	operation string
	opts      ChainOptions
}

func runChain[L interface{ Provider() Provider }, T any](ctx context.Context, c *chain[L], call func(context.Context, L) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error = ErrNotConfigured
	)
	log := c.opts.Logger

	for i, link := range c.links {
		provider := link.Provider()
		start := time.Now()

		result, err := Retry(ctx, c.opts.Retry,
			func(attempt int, err error) {
				log.WithError(err).WithFields(map[string]any{
					"provider":  provider,
					"operation": c.operation,
					"attempt":   attempt,
				}).Debug("Retrying LLM call")
			},
			func(ctx context.Context) (T, error) {
				if err := c.opts.Limiter.Wait(ctx); err != nil {
					return zero, err
				}
				if c.opts.CallTimeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
					defer cancel()
				}
				return call(ctx, link)
			})

		c.opts.Metrics.RecordLLM(provider.String(), c.operation, statusLabel(err), time.Since(start).Seconds())
		if err == nil {
			if i > 0 {
				log.WithFields(map[string]any{
					"provider":  provider,
					"operation": c.operation,
					"position":  i,
				}).Info("LLM fallback succeeded")
			}
			return result, nil
		}
		lastErr = err

		action := ClassifyError(err)
		log.WithError(err).WithFields(map[string]any{
			"provider":  provider,
			"operation": c.operation,
			"action":    action.String(),
		}).Warn("LLM link failed")
		if action == ActionFail || ctx.Err() != nil {
			break
		}
	}
	if errors.Is(lastErr, ErrNotConfigured) {
		return zero, lastErr
	}
	return zero, fmt.Errorf("all %s providers failed: %w", c.operation, lastErr)
}

// ChainClassifier tries classifiers in order.
type ChainClassifier struct {
	c *chain[Classifier]
}

// NewChainClassifier creates a classifier chain.
func NewChainClassifier(opts ChainOptions, links ...Classifier) *ChainClassifier {
	opts.defaults()
	return &ChainClassifier{c: &chain[Classifier]{links: links, operation: "classify", opts: opts}}
}

// Classify implements Classifier.
func (f *ChainClassifier) Classify(ctx context.Context, prompt string) (Classification, error) {
	return runChain(ctx, f.c, func(ctx context.Context, l Classifier) (Classification, error) {
		return l.Classify(ctx, prompt)
	})
}

// Provider returns the primary provider.
func (f *ChainClassifier) Provider() Provider {
	if len(f.c.links) == 0 {
		return ""
	}
	return f.c.links[0].Provider()
}

// Len returns the chain length.
func (f *ChainClassifier) Len() int { return len(f.c.links) }

// ChainGenerator tries generators in order.
type ChainGenerator struct {
	c *chain[Generator]
}

// NewChainGenerator creates a generator chain.
func NewChainGenerator(opts ChainOptions, links ...Generator) *ChainGenerator {
	opts.defaults()
	return &ChainGenerator{c: &chain[Generator]{links: links, operation: "generate", opts: opts}}
}

// Generate implements Generator.
func (f *ChainGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return runChain(ctx, f.c, func(ctx context.Context, l Generator) (string, error) {
		return l.Generate(ctx, prompt)
	})
}

// Provider returns the primary provider.
func (f *ChainGenerator) Provider() Provider {
	if len(f.c.links) == 0 {
		return ""
	}
	return f.c.links[0].Provider()
}

// Len returns the chain length.
func (f *ChainGenerator) Len() int { return len(f.c.links) }
