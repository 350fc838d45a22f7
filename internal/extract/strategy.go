// Package extract scores candidate slot values with four independent
// strategies and arbitrates their weighted combination per slot.
package extract

import (
	"context"
	"strings"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/stringutil"
)

// Kind identifies one of the extraction strategies.
type Kind int

// The strategy set is closed; the Arbitrator iterates it in this order.
const (
	KindRegex Kind = iota
	KindSemantic
	KindKeyword
	KindFuzzy
)

// Kinds lists every strategy kind in evaluation order.
var Kinds = [...]Kind{KindRegex, KindSemantic, KindKeyword, KindFuzzy}

func (k Kind) String() string {
	switch k {
	case KindRegex:
		return "regex"
	case KindSemantic:
		return "semantic"
	case KindKeyword:
		return "keyword"
	case KindFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// Weight returns the configured weight of k. Fuzzy weighs zero unless enabled.
func (k Kind) Weight(w config.Weights) float64 {
	switch k {
	case KindRegex:
		return w.Regex
	case KindSemantic:
		return w.Semantic
	case KindKeyword:
		return w.Keyword
	case KindFuzzy:
		if w.FuzzyEnabled {
			return w.Fuzzy
		}
	}
	return 0
}

// Strategy scores how strongly text supports (slot, value).
// Implementations are limited to the four kinds in this package.
type Strategy interface {
	Kind() Kind
	Score(ctx context.Context, text, slot, value string) float64
	evaluate(ctx context.Context, text string, entry *slots.PatternEntry) evaluation
}

// evaluation is one strategy's verdict on one entry. A strategy that has no
// reference material for the entry abstains (applicable=false).
type evaluation struct {
	score      float64
	applicable bool
	matched    string
}

func score(ctx context.Context, s Strategy, store *slots.Store, text, slot, value string) float64 {
	entry, ok := store.Entry(slot, value)
	if !ok {
		return 0
	}
	return s.evaluate(ctx, text, entry).score
}

// RegexStrategy scores by matched-substring coverage:
// min(1, 2*len(match)/len(text)) in runes, maximised over patterns.
type RegexStrategy struct {
	store *slots.Store
}

func NewRegexStrategy(store *slots.Store) *RegexStrategy {
	return &RegexStrategy{store: store}
}

func (s *RegexStrategy) Kind() Kind { return KindRegex }

func (s *RegexStrategy) Score(ctx context.Context, text, slot, value string) float64 {
	return score(ctx, s, s.store, text, slot, value)
}

func (s *RegexStrategy) evaluate(_ context.Context, text string, entry *slots.PatternEntry) evaluation {
	if len(entry.Compiled) == 0 {
		return evaluation{}
	}
	text = stringutil.Normalize(text)
	total := stringutil.RuneLen(text)
	ev := evaluation{applicable: true}
	if total == 0 {
		return ev
	}
	for _, p := range entry.Compiled {
		loc := p.Re.FindStringIndex(text)
		if loc == nil || loc[0] == loc[1] {
			continue
		}
		match := text[loc[0]:loc[1]]
		sc := clamp(2 * float64(stringutil.RuneLen(match)) / float64(total))
		if sc > ev.score {
			ev.score = sc
			ev.matched = match
		}
	}
	return ev
}

// KeywordStrategy scores the share of the entry's keywords contained in the
// text, case-insensitively.
type KeywordStrategy struct {
	store *slots.Store
}

func NewKeywordStrategy(store *slots.Store) *KeywordStrategy {
	return &KeywordStrategy{store: store}
}

func (s *KeywordStrategy) Kind() Kind { return KindKeyword }

func (s *KeywordStrategy) Score(ctx context.Context, text, slot, value string) float64 {
	return score(ctx, s, s.store, text, slot, value)
}

func (s *KeywordStrategy) evaluate(_ context.Context, text string, entry *slots.PatternEntry) evaluation {
	if len(entry.Keywords) == 0 {
		return evaluation{}
	}
	folded := stringutil.Fold(text)
	ev := evaluation{applicable: true}
	matched := 0
	for _, kw := range entry.Keywords {
		if strings.Contains(folded, kw) {
			matched++
			if len(kw) > len(ev.matched) {
				ev.matched = kw
			}
		}
	}
	ev.score = clamp(float64(matched) / float64(len(entry.Keywords)))
	return ev
}

// SemanticStrategy scores the best embedding similarity between the text and
// the entry's reference phrases. Below the synonym threshold it scores 0.
type SemanticStrategy struct {
	store  *slots.Store
	engine *similarity.Engine
	tuning *config.TuningStore
}

func NewSemanticStrategy(store *slots.Store, engine *similarity.Engine, tuning *config.TuningStore) *SemanticStrategy {
	return &SemanticStrategy{store: store, engine: engine, tuning: tuning}
}

func (s *SemanticStrategy) Kind() Kind { return KindSemantic }

func (s *SemanticStrategy) Score(ctx context.Context, text, slot, value string) float64 {
	return score(ctx, s, s.store, text, slot, value)
}

func (s *SemanticStrategy) evaluate(ctx context.Context, text string, entry *slots.PatternEntry) evaluation {
	if len(entry.SemanticPhrases) == 0 || s.engine == nil {
		return evaluation{}
	}
	ev := evaluation{applicable: true}
	threshold := s.tuning.Load().Thresholds.SlotSynonymMatch
	for i, sim := range s.engine.Batch(ctx, text, entry.SemanticPhrases) {
		if sim >= threshold && sim > ev.score {
			ev.score = clamp(sim)
			ev.matched = entry.SemanticPhrases[i]
		}
	}
	return ev
}

// FuzzyStrategy scores the best Levenshtein ratio of any reference phrase
// against equally sized windows of the text (partial ratio).
type FuzzyStrategy struct {
	store *slots.Store
}

func NewFuzzyStrategy(store *slots.Store) *FuzzyStrategy {
	return &FuzzyStrategy{store: store}
}

func (s *FuzzyStrategy) Kind() Kind { return KindFuzzy }

func (s *FuzzyStrategy) Score(ctx context.Context, text, slot, value string) float64 {
	return score(ctx, s, s.store, text, slot, value)
}

func (s *FuzzyStrategy) evaluate(_ context.Context, text string, entry *slots.PatternEntry) evaluation {
	refs := entry.ReferencePhrases()
	if len(refs) == 0 {
		return evaluation{}
	}
	ev := evaluation{applicable: true}
	folded := stringutil.Fold(text)
	for _, ref := range refs {
		if sc := PartialRatio(folded, stringutil.Fold(ref)); sc > ev.score {
			ev.score = sc
			ev.matched = ref
		}
	}
	return ev
}

// PartialRatio returns the best Levenshtein similarity of needle against any
// window of haystack with the same rune length. When the needle is longer
// than the haystack the two are compared whole.
func PartialRatio(haystack, needle string) float64 {
	if haystack == "" || needle == "" {
		return 0
	}
	lev := strmetrics.NewLevenshtein()
	h, n := []rune(haystack), []rune(needle)
	if len(n) >= len(h) {
		return clamp(strutil.Similarity(haystack, needle, lev))
	}
	best := 0.0
	for i := 0; i+len(n) <= len(h); i++ {
		sc := strutil.Similarity(string(h[i:i+len(n)]), needle, lev)
		if sc > best {
			best = sc
			if best == 1 {
				break
			}
		}
	}
	return clamp(best)
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
