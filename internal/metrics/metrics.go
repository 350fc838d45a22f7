// Package metrics exposes the Prometheus instruments of the assistant.
// All Record* helpers are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Turn pipeline
	TurnsTotal          *prometheus.CounterVec
	TurnDurationSeconds *prometheus.HistogramVec

	// Extraction
	SlotExtractionsTotal *prometheus.CounterVec
	UnresolvedSlotsTotal *prometheus.CounterVec

	// Similarity engine
	EmbeddingCacheTotal    *prometheus.CounterVec
	SimilarityDegradations *prometheus.CounterVec

	// Special cases and loops
	SpecialCaseMatchesTotal *prometheus.CounterVec
	LoopsDetectedTotal      prometheus.Counter
	LoopBreakChoicesTotal   *prometheus.CounterVec

	// LLM
	LLMRequestsTotal   *prometheus.CounterVec
	LLMDurationSeconds *prometheus.HistogramVec

	// Storage
	StorageErrorsTotal *prometheus.CounterVec
	KBFlushesTotal     *prometheus.CounterVec

	// Rate limiter
	RateLimiterDropped *prometheus.CounterVec

	// LINE webhook
	WebhookRequestsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_turns_total",
				Help: "Dialogue turns by channel and outcome",
			},
			[]string{"channel", "outcome"}, // outcome: special_case, extracted, elicit, loop_break, recommend, terminated, error
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sales_turn_duration_seconds",
				Help:    "Turn pipeline duration in seconds by outcome",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"outcome"},
		),

		SlotExtractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_slot_extractions_total",
				Help: "Resolved slots by slot name and source",
			},
			[]string{"slot", "source"}, // source: hybrid, special_case, llm
		),

		UnresolvedSlotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_unresolved_slots_total",
				Help: "Slots left unresolved after arbitration and LLM fallback",
			},
			[]string{"slot"},
		),

		EmbeddingCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_embedding_cache_total",
				Help: "Embedding cache lookups by result",
			},
			[]string{"result"}, // result: hit, miss
		),

		SimilarityDegradations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_similarity_degradations_total",
				Help: "Similarity computations that fell back to character overlap",
			},
			[]string{"reason"}, // reason: backend_error, timeout, canceled
		),

		SpecialCaseMatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_special_case_matches_total",
				Help: "Special-case lookups by result",
			},
			[]string{"result"}, // result: matched, below_threshold, empty
		),

		LoopsDetectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sales_loops_detected_total",
				Help: "Conversational loops detected",
			},
		),

		LoopBreakChoicesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_loop_break_choices_total",
				Help: "Options picked after a loop-break offer",
			},
			[]string{"choice"},
		),

		LLMRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_llm_requests_total",
				Help: "LLM requests by provider, operation and status",
			},
			[]string{"provider", "operation", "status"}, // operation: classify, generate, embed
		),

		LLMDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sales_llm_duration_seconds",
				Help:    "LLM request duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"provider", "operation"},
		),

		StorageErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_storage_errors_total",
				Help: "Hard storage failures by store and operation",
			},
			[]string{"store", "operation"},
		),

		KBFlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_kb_flushes_total",
				Help: "Knowledge base flushes by status",
			},
			[]string{"status"},
		),

		RateLimiterDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_rate_limiter_dropped_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"limiter"}, // limiter: session, llm, embedding
		),

		WebhookRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_webhook_requests_total",
				Help: "LINE webhook events by event type and status",
			},
			[]string{"event_type", "status"},
		),
	}
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(channel, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(channel, outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordSlot records a resolved slot and where it came from.
func (m *Metrics) RecordSlot(slot, source string) {
	if m == nil {
		return
	}
	m.SlotExtractionsTotal.WithLabelValues(slot, source).Inc()
}

// RecordUnresolved records a slot that stayed empty for a turn.
func (m *Metrics) RecordUnresolved(slot string) {
	if m == nil {
		return
	}
	m.UnresolvedSlotsTotal.WithLabelValues(slot).Inc()
}

// RecordEmbeddingCache records a cache hit or miss.
func (m *Metrics) RecordEmbeddingCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EmbeddingCacheTotal.WithLabelValues(result).Inc()
}

// RecordDegradation records a fallback similarity computation.
func (m *Metrics) RecordDegradation(reason string) {
	if m == nil {
		return
	}
	m.SimilarityDegradations.WithLabelValues(reason).Inc()
}

// RecordSpecialCase records a special-case lookup result.
func (m *Metrics) RecordSpecialCase(result string) {
	if m == nil {
		return
	}
	m.SpecialCaseMatchesTotal.WithLabelValues(result).Inc()
}

// RecordLoop records a detected loop.
func (m *Metrics) RecordLoop() {
	if m == nil {
		return
	}
	m.LoopsDetectedTotal.Inc()
}

// RecordLoopChoice records the user's choice after a loop-break offer.
func (m *Metrics) RecordLoopChoice(choice string) {
	if m == nil {
		return
	}
	m.LoopBreakChoicesTotal.WithLabelValues(choice).Inc()
}

// RecordLLM records an LLM request.
func (m *Metrics) RecordLLM(provider, operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	m.LLMDurationSeconds.WithLabelValues(provider, operation).Observe(seconds)
}

// RecordStorageError records a hard storage failure.
func (m *Metrics) RecordStorageError(store, operation string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(store, operation).Inc()
}

// RecordFlush records a knowledge base flush.
func (m *Metrics) RecordFlush(status string) {
	if m == nil {
		return
	}
	m.KBFlushesTotal.WithLabelValues(status).Inc()
}

// RecordRateLimiterDrop records a request rejected by a limiter.
func (m *Metrics) RecordRateLimiterDrop(limiter string) {
	if m == nil {
		return
	}
	m.RateLimiterDropped.WithLabelValues(limiter).Inc()
}

// RecordWebhook records a LINE webhook event.
func (m *Metrics) RecordWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.WebhookRequestsTotal.WithLabelValues(eventType, status).Inc()
}
