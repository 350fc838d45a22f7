package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	bm25 "github.com/iwilltry42/bm25-go/bm25"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
)

// Standard BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// DefaultTopN is the number of products returned when Options.TopN is unset.
const DefaultTopN = 3

// Searcher retrieves products for a free-text query and slot filters.
type Searcher interface {
	Search(ctx context.Context, query string, f Filters) ([]Product, error)
}

// Options configures an Index.
type Options struct {
	Tokenizer Tokenizer // Default BigramTokenizer
	TopN      int
	Logger    *logger.Logger
}

// Index is a BM25 index over the catalog. The indexed product set is an
// immutable snapshot replaced as a whole by Rebuild.
type Index struct {
	tokenizer Tokenizer
	topN      int
	logger    *logger.Logger
	current   atomic.Pointer[indexSnapshot]
}

type indexSnapshot struct {
	products []Product
	okapi    *bm25.BM25Okapi
}

var _ Searcher = (*Index)(nil)

// NewIndex builds an index over products.
func NewIndex(products []Product, opts Options) (*Index, error) {
	if opts.Tokenizer == nil {
		opts.Tokenizer = BigramTokenizer
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	idx := &Index{tokenizer: opts.Tokenizer, topN: opts.TopN, logger: opts.Logger.WithModule("catalog")}
	if err := idx.Rebuild(products); err != nil {
		return nil, err
	}
	return idx, nil
}

// Rebuild replaces the indexed products. BM25 needs corpus-wide statistics so
// there is no incremental update.
func (idx *Index) Rebuild(products []Product) error {
	if len(products) == 0 {
		return fmt.Errorf("build catalog index: no products")
	}
	owned := slices.Clone(products)
	corpus := make([]string, len(owned))
	for i := range owned {
		owned[i].Score = 0
		corpus[i] = owned[i].Document()
	}

	okapi, err := bm25.NewBM25Okapi(corpus, idx.tokenizer, bm25K1, bm25B, nil)
	if err != nil {
		return fmt.Errorf("build catalog index: %w", err)
	}
	idx.current.Store(&indexSnapshot{products: owned, okapi: okapi})
	idx.logger.WithField("products", len(owned)).Info("Catalog index built")
	return nil
}

// Count returns the number of indexed products.
func (idx *Index) Count() int {
	if idx == nil {
		return 0
	}
	snap := idx.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.products)
}

// Products returns a copy of the indexed products.
func (idx *Index) Products() []Product {
	snap := idx.current.Load()
	if snap == nil {
		return nil
	}
	return slices.Clone(snap.products)
}

// Search returns up to TopN products that pass f, ordered by BM25 relevance
// to query, then by how closely they fit the requested usage, then by
// ascending price. An empty query ranks on the latter keys only.
func (idx *Index) Search(ctx context.Context, query string, f Filters) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := idx.current.Load()
	if snap == nil {
		return nil, nil
	}

	var scores []float64
	if terms := idx.tokenizer(query); strings.TrimSpace(query) != "" && len(terms) > 0 {
		var err error
		scores, err = snap.okapi.GetScores(terms)
		if err != nil {
			return nil, fmt.Errorf("catalog BM25 scoring failed: %w", err)
		}
	}

	results := make([]Product, 0, len(snap.products))
	for i := range snap.products {
		p := snap.products[i]
		if !f.Match(&p) {
			continue
		}
		if scores != nil {
			p.Score = max(scores[i], 0)
		}
		results = append(results, p)
	}

	slices.SortStableFunc(results, func(a, b Product) int {
		switch {
		case a.Score != b.Score:
			if a.Score > b.Score {
				return -1
			}
			return 1
		case f.usageFit(&a) != f.usageFit(&b):
			return f.usageFit(&b) - f.usageFit(&a)
		case a.Price != b.Price:
			return a.Price - b.Price
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})

	if len(results) > idx.topN {
		results = results[:idx.topN]
	}
	return results, nil
}
