// Package specialcase matches utterances against a curated knowledge base of
// previously seen difficult queries, each carrying pre-inferred slots and a
// response shape.
package specialcase

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
)

// SpecialCase is a curated utterance with its inferred slots. UsageCount and
// LastUsed are the only fields mutated after creation.
type SpecialCase struct {
	CaseID              string            `json:"case_id"`
	ReferenceUtterances []string          `json:"reference_utterances"` // Main query first, then variants
	InferredSlots       map[string]string `json:"inferred_slots"`
	Response            json.RawMessage   `json:"response,omitempty"` // Opaque response shape
	UsageCount          int               `json:"usage_count"`
	LastUsed            time.Time         `json:"last_used,omitzero"`
	CreatedAt           time.Time         `json:"created_at,omitzero"`
}

// Main returns the main reference utterance.
func (c *SpecialCase) Main() string {
	if len(c.ReferenceUtterances) == 0 {
		return ""
	}
	return c.ReferenceUtterances[0]
}

// Validate reports a missing required field as *errors.CorruptKnowledgeBaseEntry.
func (c *SpecialCase) Validate() error {
	switch {
	case strings.TrimSpace(c.CaseID) == "":
		return &domerrors.CorruptKnowledgeBaseEntry{CaseID: c.CaseID, Reason: "missing case_id"}
	case len(c.ReferenceUtterances) == 0 || strings.TrimSpace(c.ReferenceUtterances[0]) == "":
		return &domerrors.CorruptKnowledgeBaseEntry{CaseID: c.CaseID, Reason: "missing main reference utterance"}
	case c.UsageCount < 0:
		return &domerrors.CorruptKnowledgeBaseEntry{CaseID: c.CaseID, Reason: "negative usage_count"}
	}
	return nil
}

// Clone returns a deep copy.
func (c SpecialCase) Clone() SpecialCase {
	c.ReferenceUtterances = slices.Clone(c.ReferenceUtterances)
	c.InferredSlots = maps.Clone(c.InferredSlots)
	c.Response = slices.Clone(c.Response)
	return c
}

// Stats aggregates knowledge base usage. It is recomputed after every mutation.
type Stats struct {
	TotalCases             int       `json:"total_cases"`
	TotalSuccessfulMatches int       `json:"total_successful_matches"`
	AverageSuccessRate     float64   `json:"average_success_rate"` // Share of cases matched at least once
	LastStatisticsUpdate   time.Time `json:"last_statistics_update"`
}

// ComputeStats aggregates cases at time now.
func ComputeStats(cases []SpecialCase, now time.Time) Stats {
	st := Stats{TotalCases: len(cases), LastStatisticsUpdate: now}
	used := 0
	for _, c := range cases {
		st.TotalSuccessfulMatches += c.UsageCount
		if c.UsageCount > 0 {
			used++
		}
	}
	if len(cases) > 0 {
		st.AverageSuccessRate = float64(used) / float64(len(cases))
	}
	return st
}

// Snapshot is the persisted form of the knowledge base.
type Snapshot struct {
	Cases []SpecialCase `json:"cases"`
	Stats Stats         `json:"stats"`
}

// KnowledgeBaseStore persists snapshots. Implementations may skip corrupt
// records on Load; Knowledge validates every case again.
type KnowledgeBaseStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}
