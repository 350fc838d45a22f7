package config

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Thresholds holds the named similarity cutoffs used across the pipeline.
type Thresholds struct {
	SpecialCaseMatch        float64 // Minimum per-case score to short-circuit on a curated case
	LoopDetection           float64 // Similarity at which two utterances count as the same question
	SlotSynonymMatch        float64 // Minimum semantic similarity credited by the semantic strategy
	HybridMinimumConfidence float64 // Composite score floor for emitting a slot value
	ClassifierMinConfidence float64 // Floor for accepting an LLM classification
}

// Weights are the composite-score weights of the four extraction strategies.
// Fuzzy only contributes when FuzzyEnabled is set.
type Weights struct {
	Regex        float64
	Semantic     float64
	Keyword      float64
	Fuzzy        float64
	FuzzyEnabled bool
}

// LoopSettings configures the per-session loop detector.
type LoopSettings struct {
	Window     int // Number of most recent turns compared against the query
	MaxRepeats int // Similar prior turns needed to declare a loop
	HistoryCap int // Maximum turns retained per session (FIFO)
}

// Tuning groups every knob that the admin reload may swap at runtime.
type Tuning struct {
	Thresholds Thresholds
	Weights    Weights
	Loop       LoopSettings
}

// DefaultTuning returns the documented defaults.
func DefaultTuning() Tuning {
	return Tuning{
		Thresholds: Thresholds{
			SpecialCaseMatch:        0.75,
			LoopDetection:           0.90,
			SlotSynonymMatch:        0.80,
			HybridMinimumConfidence: 0.30,
			ClassifierMinConfidence: 0.60,
		},
		Weights: Weights{
			Regex:    0.40,
			Semantic: 0.35,
			Keyword:  0.25,
			Fuzzy:    0.10,
		},
		Loop: LoopSettings{
			Window:     10,
			MaxRepeats: 2,
			HistoryCap: 50,
		},
	}
}

// LoadTuning reads tuning overrides from the environment on top of DefaultTuning.
func LoadTuning() Tuning {
	d := DefaultTuning()
	return Tuning{
		Thresholds: Thresholds{
			SpecialCaseMatch:        getFloatEnv(EnvSpecialCaseMatch, d.Thresholds.SpecialCaseMatch),
			LoopDetection:           getFloatEnv(EnvLoopDetection, d.Thresholds.LoopDetection),
			SlotSynonymMatch:        getFloatEnv(EnvSlotSynonymMatch, d.Thresholds.SlotSynonymMatch),
			HybridMinimumConfidence: getFloatEnv(EnvHybridMinimumConfidence, d.Thresholds.HybridMinimumConfidence),
			ClassifierMinConfidence: getFloatEnv(EnvClassifierMinConfidence, d.Thresholds.ClassifierMinConfidence),
		},
		Weights: Weights{
			Regex:        getFloatEnv(EnvWeightRegex, d.Weights.Regex),
			Semantic:     getFloatEnv(EnvWeightSemantic, d.Weights.Semantic),
			Keyword:      getFloatEnv(EnvWeightKeyword, d.Weights.Keyword),
			Fuzzy:        getFloatEnv(EnvWeightFuzzy, d.Weights.Fuzzy),
			FuzzyEnabled: getBoolEnv(EnvFuzzyEnabled, d.Weights.FuzzyEnabled),
		},
		Loop: LoopSettings{
			Window:     getIntEnv(EnvLoopWindow, d.Loop.Window),
			MaxRepeats: getIntEnv(EnvLoopMaxRepeats, d.Loop.MaxRepeats),
			HistoryCap: getIntEnv(EnvLoopHistoryCap, d.Loop.HistoryCap),
		},
	}
}

// Validate checks ranges of every threshold and weight.
func (t Tuning) Validate() error {
	var errs []error

	unit := map[string]float64{
		"special_case_match":        t.Thresholds.SpecialCaseMatch,
		"loop_detection":            t.Thresholds.LoopDetection,
		"slot_synonym_match":        t.Thresholds.SlotSynonymMatch,
		"hybrid_minimum_confidence": t.Thresholds.HybridMinimumConfidence,
		"classifier_min_confidence": t.Thresholds.ClassifierMinConfidence,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}

	w := t.Weights
	if w.Regex < 0 || w.Semantic < 0 || w.Keyword < 0 || w.Fuzzy < 0 {
		errs = append(errs, errors.New("strategy weights cannot be negative"))
	}
	if w.Regex+w.Semantic+w.Keyword == 0 && (!w.FuzzyEnabled || w.Fuzzy == 0) {
		errs = append(errs, errors.New("at least one strategy weight must be positive"))
	}

	if t.Loop.Window <= 0 {
		errs = append(errs, fmt.Errorf("loop window must be positive, got %d", t.Loop.Window))
	}
	if t.Loop.MaxRepeats <= 0 {
		errs = append(errs, fmt.Errorf("loop max repeats must be positive, got %d", t.Loop.MaxRepeats))
	}
	if t.Loop.HistoryCap < t.Loop.Window {
		errs = append(errs, fmt.Errorf("history cap (%d) must be at least the loop window (%d)", t.Loop.HistoryCap, t.Loop.Window))
	}

	return errors.Join(errs...)
}

// TuningStore publishes the active Tuning with copy-and-swap semantics.
// Readers always observe a complete value; Store never mutates a published one.
type TuningStore struct {
	current atomic.Pointer[Tuning]
}

// NewTuningStore creates a store holding t.
func NewTuningStore(t Tuning) *TuningStore {
	s := &TuningStore{}
	s.current.Store(&t)
	return s
}

// Load returns the active tuning.
func (s *TuningStore) Load() Tuning {
	return *s.current.Load()
}

// Store validates and publishes t.
func (s *TuningStore) Store(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.current.Store(&t)
	return nil
}
