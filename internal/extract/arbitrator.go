package extract

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
)

// scoreEpsilon is the tolerance under which two composite scores tie.
const scoreEpsilon = 1e-9

// Result is the arbitrated value of one slot. It is never mutated after
// creation.
type Result struct {
	Slot        string   `json:"slot"`
	Value       string   `json:"value"`
	Confidence  float64  `json:"confidence"`
	Strategies  []string `json:"strategies"` // Contributing strategies, in evaluation order
	MatchedText string   `json:"matched_text,omitempty"`
}

// Candidate is the scored breakdown of one candidate value.
type Candidate struct {
	Value        string
	Composite    float64
	Scores       map[Kind]float64 // Applicable strategies only
	Contributing []Kind
	MatchedText  string
}

// Arbitrator runs every strategy over every candidate value of a slot and
// keeps the best weighted composite. It has no side effects.
type Arbitrator struct {
	store      *slots.Store
	tuning     *config.TuningStore
	strategies [len(Kinds)]Strategy
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

// NewArbitrator wires the four strategies over store. engine may be nil, in
// which case the semantic strategy abstains.
func NewArbitrator(store *slots.Store, engine *similarity.Engine, tuning *config.TuningStore, m *metrics.Metrics, log *logger.Logger) *Arbitrator {
	if log == nil {
		log = logger.Discard()
	}
	return &Arbitrator{
		store:  store,
		tuning: tuning,
		strategies: [len(Kinds)]Strategy{
			KindRegex:    NewRegexStrategy(store),
			KindSemantic: NewSemanticStrategy(store, engine, tuning),
			KindKeyword:  NewKeywordStrategy(store),
			KindFuzzy:    NewFuzzyStrategy(store),
		},
		metrics: m,
		logger:  log.WithModule("extract"),
	}
}

// Strategy returns the strategy of kind k.
func (a *Arbitrator) Strategy(k Kind) Strategy {
	return a.strategies[k]
}

// Extract arbitrates every slot of schema. Slots without a confident value
// are absent from the result.
func (a *Arbitrator) Extract(ctx context.Context, text string, schema *slots.Schema) map[string]Result {
	return a.ExtractSlots(ctx, text, schema.Slots())
}

// ExtractSlots arbitrates only the named slots of the active schema.
func (a *Arbitrator) ExtractSlots(ctx context.Context, text string, names []string) map[string]Result {
	tuning := a.tuning.Load()
	out := make(map[string]Result, len(names))
	for _, slot := range names {
		if ctx.Err() != nil {
			break
		}
		res, ok := a.arbitrate(ctx, text, slot, tuning)
		if !ok {
			a.metrics.RecordUnresolved(slot)
			continue
		}
		out[slot] = res
		for _, s := range res.Strategies {
			a.metrics.RecordSlot(slot, s)
		}
	}
	a.logger.WithField("slots", len(names)).
		WithField("resolved", len(out)).
		Debug("Hybrid arbitration finished")
	return out
}

// Candidates scores every candidate value of slot, best first.
func (a *Arbitrator) Candidates(ctx context.Context, text, slot string) []Candidate {
	return a.candidates(ctx, text, slot, a.tuning.Load().Weights)
}

func (a *Arbitrator) arbitrate(ctx context.Context, text, slot string, tuning config.Tuning) (Result, bool) {
	cands := a.candidates(ctx, text, slot, tuning.Weights)
	if len(cands) == 0 {
		return Result{}, false
	}
	best := cands[0]
	if best.Composite < tuning.Thresholds.HybridMinimumConfidence || best.Composite == 0 {
		return Result{}, false
	}

	names := make([]string, len(best.Contributing))
	for i, k := range best.Contributing {
		names[i] = k.String()
	}
	return Result{
		Slot:        slot,
		Value:       best.Value,
		Confidence:  best.Composite,
		Strategies:  names,
		MatchedText: best.MatchedText,
	}, true
}

func (a *Arbitrator) candidates(ctx context.Context, text, slot string, weights config.Weights) []Candidate {
	schema := a.store.Schema()
	values := schema.Values(slot)
	out := make([]Candidate, 0, len(values))
	for _, value := range values {
		entry, ok := a.store.Entry(slot, value)
		if !ok {
			continue
		}
		out = append(out, a.score(ctx, text, entry, weights))
	}
	slices.SortStableFunc(out, compareCandidates)
	return out
}

// score combines the applicable strategies. The weighted sum is normalised
// by the weights of the strategies that did not abstain, so an entry
// authored with keywords only can still reach full confidence.
func (a *Arbitrator) score(ctx context.Context, text string, entry *slots.PatternEntry, weights config.Weights) Candidate {
	c := Candidate{Value: entry.Value, Scores: make(map[Kind]float64, len(Kinds))}
	var sum, totalWeight float64
	for _, k := range Kinds {
		w := k.Weight(weights)
		if w <= 0 {
			continue
		}
		ev := a.strategies[k].evaluate(ctx, text, entry)
		if !ev.applicable {
			continue
		}
		c.Scores[k] = ev.score
		sum += w * ev.score
		totalWeight += w
		if ev.score > 0 {
			c.Contributing = append(c.Contributing, k)
			if c.MatchedText == "" {
				c.MatchedText = ev.matched
			}
		}
	}
	if totalWeight > 0 {
		c.Composite = clamp(sum / totalWeight)
	}
	return c
}

// compareCandidates orders by composite (desc), contributing count (desc),
// then value (asc).
func compareCandidates(x, y Candidate) int {
	if math.Abs(x.Composite-y.Composite) > scoreEpsilon {
		if x.Composite > y.Composite {
			return -1
		}
		return 1
	}
	if d := len(y.Contributing) - len(x.Contributing); d != 0 {
		return d
	}
	return strings.Compare(x.Value, y.Value)
}
