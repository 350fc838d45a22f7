package specialcase

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/sentry"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/stringutil"
)

//go:embed default_cases.json
var defaultCases []byte

// DefaultCases returns the built-in curated cases.
func DefaultCases() []SpecialCase {
	var snap Snapshot
	if err := json.Unmarshal(defaultCases, &snap); err != nil {
		panic(fmt.Sprintf("specialcase: embedded default cases are invalid: %v", err))
	}
	return snap.Cases
}

// entry guards the mutable counters of one case.
type entry struct {
	mu sync.Mutex
	c  SpecialCase
}

func (e *entry) snapshot() SpecialCase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c.Clone()
}

// KnowledgeOptions configures a Knowledge.
type KnowledgeOptions struct {
	Engine  *similarity.Engine // Used for duplicate detection on Learn
	Tuning  *config.TuningStore
	Metrics *metrics.Metrics
	Logger  *logger.Logger
	Now     func() time.Time
}

// Knowledge is the in-memory knowledge base, the source of truth during the
// process lifetime. The case list is copy-and-swap; counters are locked per
// case. Persistence is an explicit Flush through the KnowledgeBaseStore.
type Knowledge struct {
	cases   atomic.Pointer[[]*entry]
	stats   atomic.Pointer[Stats]
	writeMu sync.Mutex // Serialises list replacement
	flushMu sync.Mutex // Serialises Flush
	dirty   atomic.Bool

	store   KnowledgeBaseStore
	engine  *similarity.Engine
	tuning  *config.TuningStore
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

// NewKnowledge creates an empty knowledge base backed by store (may be nil).
func NewKnowledge(store KnowledgeBaseStore, opts KnowledgeOptions) *Knowledge {
	if opts.Engine == nil {
		opts.Engine = similarity.New(nil, similarity.Options{})
	}
	if opts.Tuning == nil {
		opts.Tuning = config.NewTuningStore(config.DefaultTuning())
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	k := &Knowledge{
		store:   store,
		engine:  opts.Engine,
		tuning:  opts.Tuning,
		metrics: opts.Metrics,
		logger:  opts.Logger.WithModule("specialcase"),
		now:     opts.Now,
	}
	k.publish(nil)
	return k
}

// Load replaces the in-memory cases with the stored snapshot. Corrupt or
// duplicate entries are skipped with a warning. An empty store is seeded
// with the built-in cases when seed is set.
func (k *Knowledge) Load(ctx context.Context, seed bool) error {
	var loaded []SpecialCase
	if k.store != nil {
		snap, err := k.store.Load(ctx)
		if err != nil && !domerrors.IsNotFound(err) {
			return domerrors.NewStorageError("knowledge_base", "load", err)
		}
		if snap != nil {
			loaded = snap.Cases
		}
	}
	seeded := false
	if len(loaded) == 0 && seed {
		loaded = DefaultCases()
		seeded = true
	}

	entries := make([]*entry, 0, len(loaded))
	seen := make(map[string]bool, len(loaded))
	for _, c := range loaded {
		if err := c.Validate(); err != nil {
			k.logger.WithError(err).Warn("Skipping corrupt knowledge base entry")
			continue
		}
		if seen[c.CaseID] {
			k.logger.WithField("case_id", c.CaseID).Warn("Skipping duplicate knowledge base entry")
			continue
		}
		seen[c.CaseID] = true
		entries = append(entries, &entry{c: c.Clone()})
	}

	k.writeMu.Lock()
	k.publish(entries)
	k.writeMu.Unlock()
	if seeded {
		k.dirty.Store(true)
	}

	k.logger.WithField("cases", len(entries)).
		WithField("skipped", len(loaded)-len(entries)).
		WithField("seeded", seeded).
		Info("Knowledge base loaded")
	return nil
}

// Len returns the number of cases.
func (k *Knowledge) Len() int {
	return len(*k.cases.Load())
}

// Cases returns copies of every case in stored order.
func (k *Knowledge) Cases() []SpecialCase {
	entries := *k.cases.Load()
	out := make([]SpecialCase, len(entries))
	for i, e := range entries {
		out[i] = e.snapshot()
	}
	return out
}

// Get returns a copy of the case with id.
func (k *Knowledge) Get(id string) (SpecialCase, bool) {
	for _, e := range *k.cases.Load() {
		if e.c.CaseID == id {
			return e.snapshot(), true
		}
	}
	return SpecialCase{}, false
}

// Stats returns the statistics as of the last mutation.
func (k *Knowledge) Stats() Stats {
	return *k.stats.Load()
}

// Snapshot returns the persisted form of the current state.
func (k *Knowledge) Snapshot() *Snapshot {
	cases := k.Cases()
	return &Snapshot{Cases: cases, Stats: ComputeStats(cases, k.now())}
}

// Dirty reports whether there are unflushed mutations.
func (k *Knowledge) Dirty() bool {
	return k.dirty.Load()
}

// LearnRequest describes a new case learned from a successful interaction.
type LearnRequest struct {
	Query         string
	Variants      []string
	InferredSlots map[string]string
	Response      json.RawMessage
}

// Learn appends a new case. A query similar to an existing main utterance at
// or above the special-case threshold is rejected with errors.ErrDuplicateCase.
func (k *Knowledge) Learn(ctx context.Context, req LearnRequest) (SpecialCase, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SpecialCase{}, domerrors.NewValidationError("query", "query must not be empty")
	}
	if len(req.InferredSlots) == 0 {
		return SpecialCase{}, domerrors.NewValidationError("inferred_slots", "at least one inferred slot is required")
	}

	// Similarity is computed on a snapshot, outside any lock.
	before := *k.cases.Load()
	if dup, score := k.nearestMain(ctx, query, before); dup != "" {
		return SpecialCase{}, fmt.Errorf("%w: %q matches case %s (%.2f)", domerrors.ErrDuplicateCase, query, dup, score)
	}

	now := k.now()
	utterances := []string{query}
	for _, v := range req.Variants {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(utterances, v) {
			utterances = append(utterances, v)
		}
	}
	c := SpecialCase{
		CaseID:              uuid.NewString(),
		ReferenceUtterances: utterances,
		InferredSlots:       req.InferredSlots,
		Response:            req.Response,
		CreatedAt:           now,
	}
	c = c.Clone()

	k.writeMu.Lock()
	current := *k.cases.Load()
	// A concurrent Learn of the same query may have published since the
	// snapshot was scored.
	if dup := exactMain(query, current); dup != "" {
		k.writeMu.Unlock()
		return SpecialCase{}, fmt.Errorf("%w: %q matches case %s (1.00)", domerrors.ErrDuplicateCase, query, dup)
	}
	next := make([]*entry, len(current), len(current)+1)
	copy(next, current)
	next = append(next, &entry{c: c})
	k.publish(next)
	k.writeMu.Unlock()
	k.dirty.Store(true)

	k.logger.WithField("case_id", c.CaseID).WithField("utterances", len(utterances)).Info("Learned special case")
	return c.Clone(), nil
}

// Replace swaps in a full set of cases (import). Cases are validated.
func (k *Knowledge) Replace(cases []SpecialCase) error {
	entries := make([]*entry, 0, len(cases))
	seen := make(map[string]bool, len(cases))
	for _, c := range cases {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.CaseID] {
			return fmt.Errorf("%w: %s", domerrors.ErrDuplicateCase, c.CaseID)
		}
		seen[c.CaseID] = true
		entries = append(entries, &entry{c: c.Clone()})
	}
	k.writeMu.Lock()
	k.publish(entries)
	k.writeMu.Unlock()
	k.dirty.Store(true)
	return nil
}

// Flush writes the knowledge base through the store when dirty.
func (k *Knowledge) Flush(ctx context.Context) error {
	if k.store == nil {
		k.dirty.Store(false)
		return nil
	}
	k.flushMu.Lock()
	defer k.flushMu.Unlock()

	if !k.dirty.Swap(false) {
		return nil
	}
	snap := k.Snapshot()
	if err := k.store.Save(ctx, snap); err != nil {
		k.dirty.Store(true)
		k.metrics.RecordFlush("error")
		k.metrics.RecordStorageError("knowledge_base", "save")
		return domerrors.NewStorageError("knowledge_base", "save", err)
	}
	k.metrics.RecordFlush("ok")
	k.logger.WithField("cases", len(snap.Cases)).Debug("Knowledge base flushed")
	return nil
}

// Run flushes every interval until ctx is done, then flushes one last time.
func (k *Knowledge) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.KBFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.SnapshotTransfer)
			k.flushAndReport(finalCtx)
			cancel()
			return
		case <-ticker.C:
			k.flushAndReport(ctx)
		}
	}
}

func (k *Knowledge) flushAndReport(ctx context.Context) {
	if err := k.Flush(ctx); err != nil {
		k.logger.WithError(err).Error("Knowledge base flush failed")
		sentry.CaptureStorageError(ctx, "knowledge_base", "save", err)
	}
}

// recordMatch bumps the counters of e and marks the base dirty.
func (k *Knowledge) recordMatch(e *entry) SpecialCase {
	e.mu.Lock()
	e.c.UsageCount++
	e.c.LastUsed = k.now()
	c := e.c.Clone()
	e.mu.Unlock()

	k.dirty.Store(true)
	k.refreshStats()
	return c
}

// nearestMain returns the case whose main utterance is at least as similar
// to query as the special-case threshold.
func (k *Knowledge) nearestMain(ctx context.Context, query string, entries []*entry) (string, float64) {
	if len(entries) == 0 {
		return "", 0
	}
	mains := make([]string, len(entries))
	for i, e := range entries {
		mains[i] = e.c.Main()
	}
	threshold := k.tuning.Load().Thresholds.SpecialCaseMatch
	bestID, best := "", 0.0
	for i, sim := range k.engine.Batch(ctx, query, mains) {
		if sim >= threshold && sim > best {
			bestID, best = entries[i].c.CaseID, sim
		}
	}
	return bestID, best
}

// exactMain returns the id of the entry whose normalised main utterance
// equals query, or "".
func exactMain(query string, entries []*entry) string {
	q := stringutil.Normalize(query)
	for _, e := range entries {
		if stringutil.Normalize(e.c.Main()) == q {
			return e.c.CaseID
		}
	}
	return ""
}

// publish stores entries and recomputes stats. Must hold writeMu (or be
// called before the Knowledge is shared).
func (k *Knowledge) publish(entries []*entry) {
	if entries == nil {
		entries = []*entry{}
	}
	k.cases.Store(&entries)
	k.refreshStats()
}

func (k *Knowledge) refreshStats() {
	st := ComputeStats(k.Cases(), k.now())
	k.stats.Store(&st)
}
