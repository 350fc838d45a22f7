package specialcase

import (
	"context"
	"math"
	"strings"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
)

const (
	mainWeight    = 0.7
	variantWeight = 0.3
	scoreEpsilon  = 1e-9
)

// TurnRecorder receives the matched turn of a session.
type TurnRecorder interface {
	RecordMatch(ctx context.Context, sessionID string, turn loop.Turn) error
}

// Match is a successful special-case lookup.
type Match struct {
	Case  SpecialCase
	Score float64
}

// MatcherOptions configures a Matcher.
type MatcherOptions struct {
	Engine   *similarity.Engine
	Tuning   *config.TuningStore
	Recorder TurnRecorder // Optional
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// Matcher finds the curated case closest to an utterance.
type Matcher struct {
	kb       *Knowledge
	engine   *similarity.Engine
	tuning   *config.TuningStore
	recorder TurnRecorder
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewMatcher creates a Matcher over kb.
func NewMatcher(kb *Knowledge, opts MatcherOptions) *Matcher {
	if opts.Engine == nil {
		opts.Engine = kb.engine
	}
	if opts.Tuning == nil {
		opts.Tuning = kb.tuning
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Matcher{
		kb:       kb,
		engine:   opts.Engine,
		tuning:   opts.Tuning,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logger:   opts.Logger.WithModule("specialcase"),
	}
}

type scored struct {
	e     *entry
	score float64
	usage int
}

// Match returns the best-scoring case when its score reaches the
// special-case threshold, or nil. Per case the score is
// main*0.7 + max(variants)*0.3, or the main similarity alone for a case with
// a single utterance. Ties prefer the higher usage count, then the lower
// case id. On a match the case counters are bumped and, when sessionID is
// set, the turn is recorded. Only a recording failure is returned.
func (m *Matcher) Match(ctx context.Context, query, sessionID string) (*Match, error) {
	entries := *m.kb.cases.Load()
	if len(entries) == 0 || strings.TrimSpace(query) == "" {
		m.metrics.RecordSpecialCase("miss")
		return nil, nil
	}

	var refs []string
	offsets := make([]int, len(entries))
	for i, e := range entries {
		offsets[i] = len(refs)
		refs = append(refs, e.c.ReferenceUtterances...)
	}
	// One batch embeds the query once for every reference utterance.
	sims := m.engine.Batch(ctx, query, refs)

	var best *scored
	for i, e := range entries {
		n := len(e.c.ReferenceUtterances)
		s := caseScore(sims[offsets[i] : offsets[i]+n])

		e.mu.Lock()
		usage := e.c.UsageCount
		e.mu.Unlock()

		cand := &scored{e: e, score: s, usage: usage}
		if best == nil || better(cand, best) {
			best = cand
		}
	}

	threshold := m.tuning.Load().Thresholds.SpecialCaseMatch
	if best == nil || best.score < threshold {
		m.metrics.RecordSpecialCase("miss")
		return nil, nil
	}

	c := m.kb.recordMatch(best.e)
	m.metrics.RecordSpecialCase("hit")
	m.logger.WithSessionID(sessionID).
		WithField("case_id", c.CaseID).
		WithField("score", best.score).
		Info("Special case matched")

	if sessionID != "" && m.recorder != nil {
		turn := loop.Turn{Utterance: query, MatchedCaseID: c.CaseID, Similarity: best.score}
		if err := m.recorder.RecordMatch(ctx, sessionID, turn); err != nil {
			return &Match{Case: c, Score: best.score}, err
		}
	}
	return &Match{Case: c, Score: best.score}, nil
}

// caseScore combines the similarities of one case, main utterance first.
func caseScore(sims []float64) float64 {
	if len(sims) == 0 {
		return 0
	}
	if len(sims) == 1 {
		return sims[0]
	}
	variants := sims[1]
	for _, s := range sims[2:] {
		variants = max(variants, s)
	}
	return math.Min(1, sims[0]*mainWeight+variants*variantWeight)
}

func better(a, b *scored) bool {
	if math.Abs(a.score-b.score) > scoreEpsilon {
		return a.score > b.score
	}
	if a.usage != b.usage {
		return a.usage > b.usage
	}
	return a.e.c.CaseID < b.e.c.CaseID
}
