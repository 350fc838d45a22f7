// Package similarity embeds text through a pluggable backend and scores pairs
// of texts by cosine similarity, degrading to a deterministic character-overlap
// ratio when the backend is unavailable.
package similarity

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/floats"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ratelimit"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/stringutil"
)

// EmbeddingBackend turns text into a fixed-size vector. Implementations must
// be deterministic for identical text and model version.
type EmbeddingBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	// DefaultCacheSize is the number of embeddings kept when Options.CacheSize is zero.
	DefaultCacheSize = 4096

	// DefaultCallTimeout bounds a single backend call.
	DefaultCallTimeout = 3 * time.Second

	// batchConcurrency caps concurrent backend calls within one Batch.
	batchConcurrency = 4
)

// Options configures an Engine.
type Options struct {
	Name        string             // Backend name used in errors and logs
	CacheSize   int                // LRU capacity
	CallTimeout time.Duration      // Per backend call
	Limiter     *ratelimit.Limiter // Optional; a wait longer than CallTimeout counts as an outage
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

// Engine computes text similarity. It owns its embedding cache; build one per
// process (or per test) and share it by reference.
type Engine struct {
	backend EmbeddingBackend
	name    string
	timeout time.Duration
	limiter *ratelimit.Limiter
	cache   *lru.Cache[string, []float32]
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// New creates an Engine. A nil backend makes every comparison use the
// character-overlap fallback.
func New(backend EmbeddingBackend, opts Options) *Engine {
	if opts.Name == "" {
		opts.Name = "embedding"
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		// Only returned for a non-positive size, excluded above.
		panic(err)
	}
	return &Engine{
		backend: backend,
		name:    opts.Name,
		timeout: opts.CallTimeout,
		limiter: opts.Limiter,
		cache:   cache,
		metrics: opts.Metrics,
		logger:  opts.Logger.WithModule("similarity"),
	}
}

// Enabled reports whether an embedding backend is configured.
func (e *Engine) Enabled() bool {
	return e.backend != nil
}

// CacheLen returns the number of cached embeddings.
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}

// Embed returns the embedding of text, from cache when possible.
// Failures are returned as *errors.EmbeddingUnavailableError.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	key := stringutil.Normalize(text)
	if key == "" {
		return nil, &domerrors.EmbeddingUnavailableError{Backend: e.name, Err: domerrors.ErrInvalidInput}
	}
	if e.backend == nil {
		return nil, &domerrors.EmbeddingUnavailableError{Backend: e.name, Err: domerrors.ErrUnavailable}
	}

	if vec, ok := e.cache.Get(key); ok {
		e.metrics.RecordEmbeddingCache(true)
		return vec, nil
	}
	e.metrics.RecordEmbeddingCache(false)

	// Concurrent misses for the same text share one backend call. The shared
	// call is detached from any single caller's cancellation.
	ch := e.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		if err := e.limiter.Wait(callCtx); err != nil {
			return nil, err
		}
		vec, err := e.backend.Embed(callCtx, key)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, errors.New("empty embedding returned")
		}
		e.cache.Add(key, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, &domerrors.EmbeddingUnavailableError{Backend: e.name, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &domerrors.EmbeddingUnavailableError{Backend: e.name, Err: res.Err}
		}
		return res.Val.([]float32), nil
	}
}

// Similarity returns the cosine similarity of a and b clamped to [0,1].
// Vectors of different length or zero norm score 0; identical non-zero
// vectors score exactly 1.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	va, vb := widen(a), widen(b)
	na, nb := floats.Norm(va, 2), floats.Norm(vb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	if slices.Equal(a, b) {
		return 1
	}
	return clamp(floats.Dot(va, vb) / (na * nb))
}

// Fallback is the deterministic character-overlap ratio used when embeddings
// are unavailable: Sørensen–Dice over case-folded rune unigrams.
func Fallback(a, b string) float64 {
	a, b = stringutil.Fold(a), stringutil.Fold(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	dice := strmetrics.NewSorensenDice()
	dice.NgramSize = 1
	return clamp(strutil.Similarity(a, b, dice))
}

// Compare scores two texts. It never fails: backend errors degrade to Fallback.
func (e *Engine) Compare(ctx context.Context, a, b string) float64 {
	return e.Batch(ctx, a, []string{b})[0]
}

// Batch scores query against every candidate, embedding the query once.
// The result always has len(candidates) entries. When the backend fails for
// any text, the affected pairs use Fallback and the degradation is logged
// once for the whole batch.
func (e *Engine) Batch(ctx context.Context, query string, candidates []string) []float64 {
	out := make([]float64, len(candidates))
	if len(candidates) == 0 || stringutil.Normalize(query) == "" {
		return out
	}

	if e.backend == nil {
		for i, c := range candidates {
			out[i] = Fallback(query, c)
		}
		return out
	}

	var firstErr atomic.Pointer[error]
	fail := func(err error) {
		firstErr.CompareAndSwap(nil, &err)
	}

	qvec, qerr := e.Embed(ctx, query)
	if qerr != nil {
		fail(qerr)
		for i, c := range candidates {
			out[i] = Fallback(query, c)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(batchConcurrency)
		for i, c := range candidates {
			if stringutil.Normalize(c) == "" {
				continue
			}
			g.Go(func() error {
				cvec, err := e.Embed(ctx, c)
				if err != nil {
					fail(err)
					out[i] = Fallback(query, c)
					return nil
				}
				out[i] = Similarity(qvec, cvec)
				return nil
			})
		}
		_ = g.Wait()
	}

	if errp := firstErr.Load(); errp != nil {
		e.reportDegradation(*errp, len(candidates))
	}
	return out
}

func (e *Engine) reportDegradation(err error, candidates int) {
	reason := "backend_error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	}
	e.metrics.RecordDegradation(reason)
	e.logger.WithError(err).
		WithField("backend", e.name).
		WithField("reason", reason).
		WithField("candidates", candidates).
		Warn("Embedding unavailable, using character-overlap similarity")
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0: // NaN or anti-correlated
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
