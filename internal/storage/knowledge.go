package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
)

// KnowledgeStore persists the special-case knowledge base in SQLite.
// It implements specialcase.KnowledgeBaseStore.
type KnowledgeStore struct {
	db *DB
}

// NewKnowledgeStore creates a knowledge base store on db.
func NewKnowledgeStore(db *DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Load reads every case in insertion order. Rows whose JSON columns cannot
// be decoded are logged and skipped. An empty table returns ErrNotFound.
func (s *KnowledgeStore) Load(ctx context.Context) (*specialcase.Snapshot, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT case_id, reference_utterances, inferred_slots, response, usage_count, last_used, created_at
		FROM special_cases
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, domerrors.NewStorageError("knowledge_base", "load", err)
	}
	defer func() { _ = rows.Close() }()

	snap := &specialcase.Snapshot{}
	for rows.Next() {
		var (
			c                 specialcase.SpecialCase
			refsJSON, slotsJS string
			response          sql.NullString
			lastUsed, created sql.NullInt64
		)
		if err := rows.Scan(&c.CaseID, &refsJSON, &slotsJS, &response, &c.UsageCount, &lastUsed, &created); err != nil {
			return nil, domerrors.NewStorageError("knowledge_base", "load", err)
		}
		if err := json.Unmarshal([]byte(refsJSON), &c.ReferenceUtterances); err != nil {
			s.db.logger.WithError(err).WithField("case_id", c.CaseID).Warn("Skipping case with undecodable utterances")
			continue
		}
		if err := json.Unmarshal([]byte(slotsJS), &c.InferredSlots); err != nil {
			s.db.logger.WithError(err).WithField("case_id", c.CaseID).Warn("Skipping case with undecodable slots")
			continue
		}
		if response.Valid && response.String != "" {
			c.Response = json.RawMessage(response.String)
		}
		c.LastUsed = fromMillis(lastUsed)
		c.CreatedAt = fromMillis(created)
		snap.Cases = append(snap.Cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domerrors.NewStorageError("knowledge_base", "load", err)
	}

	var (
		st      specialcase.Stats
		updated int64
	)
	err = s.db.conn.QueryRowContext(ctx, `
		SELECT total_cases, total_successful_matches, average_success_rate, last_statistics_update
		FROM kb_stats WHERE id = 1
	`).Scan(&st.TotalCases, &st.TotalSuccessfulMatches, &st.AverageSuccessRate, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if len(snap.Cases) == 0 {
			return nil, domerrors.ErrNotFound
		}
	case err != nil:
		return nil, domerrors.NewStorageError("knowledge_base", "load", err)
	default:
		st.LastStatisticsUpdate = time.UnixMilli(updated).UTC()
		snap.Stats = st
	}
	return snap, nil
}

// Save replaces the stored knowledge base with snap in one transaction.
func (s *KnowledgeStore) Save(ctx context.Context, snap *specialcase.Snapshot) error {
	if snap == nil {
		return domerrors.NewValidationError("snapshot", "nil snapshot")
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domerrors.NewStorageError("knowledge_base", "save", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM special_cases`); err != nil {
		return domerrors.NewStorageError("knowledge_base", "save", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO special_cases (case_id, position, reference_utterances, inferred_slots, response, usage_count, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return domerrors.NewStorageError("knowledge_base", "save", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range snap.Cases {
		refs, err := json.Marshal(c.ReferenceUtterances)
		if err != nil {
			return fmt.Errorf("encode case %s: %w", c.CaseID, err)
		}
		slotMap := c.InferredSlots
		if slotMap == nil {
			slotMap = map[string]string{}
		}
		slotsJSON, err := json.Marshal(slotMap)
		if err != nil {
			return fmt.Errorf("encode case %s: %w", c.CaseID, err)
		}
		var response sql.NullString
		if len(c.Response) > 0 {
			response = sql.NullString{String: string(c.Response), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.CaseID, i, string(refs), string(slotsJSON), response,
			c.UsageCount, toMillis(c.LastUsed), toMillis(c.CreatedAt)); err != nil {
			return domerrors.NewStorageError("knowledge_base", "save", err)
		}
	}

	st := snap.Stats
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kb_stats (id, total_cases, total_successful_matches, average_success_rate, last_statistics_update)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_cases = excluded.total_cases,
			total_successful_matches = excluded.total_successful_matches,
			average_success_rate = excluded.average_success_rate,
			last_statistics_update = excluded.last_statistics_update
	`, st.TotalCases, st.TotalSuccessfulMatches, st.AverageSuccessRate, st.LastStatisticsUpdate.UnixMilli()); err != nil {
		return domerrors.NewStorageError("knowledge_base", "save", err)
	}

	if err := tx.Commit(); err != nil {
		return domerrors.NewStorageError("knowledge_base", "save", err)
	}
	return nil
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
