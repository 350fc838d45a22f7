package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/session"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_FileDatabase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "sales.db")
	db, err := New(context.Background(), path, nil)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Ping(context.Background()))

	var mode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestInitSchema_Idempotent(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	require.NoError(t, InitSchema(context.Background(), db.Conn()))
}

func TestKnowledgeStore_EmptyIsNotFound(t *testing.T) {
	t.Parallel()
	store := NewKnowledgeStore(setupTestDB(t))
	_, err := store.Load(context.Background())
	assert.True(t, domerrors.IsNotFound(err))
}

func TestKnowledgeStore_RoundTrip(t *testing.T) {
	t.Parallel()
	store := NewKnowledgeStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	snap := &specialcase.Snapshot{
		Cases: []specialcase.SpecialCase{
			{
				CaseID:              "b-case",
				ReferenceUtterances: []string{"我要打電動", "打game用"},
				InferredSlots:       map[string]string{"usage_purpose": "gaming"},
				Response:            json.RawMessage(`{"type":"recommend"}`),
				UsageCount:          3,
				LastUsed:            now,
				CreatedAt:           now.Add(-time.Hour),
			},
			{
				CaseID:              "a-case",
				ReferenceUtterances: []string{"不知道"},
			},
		},
	}
	snap.Stats = specialcase.ComputeStats(snap.Cases, now)
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Cases, 2)

	first := loaded.Cases[0]
	assert.Equal(t, "b-case", first.CaseID, "insertion order is kept")
	assert.Equal(t, []string{"我要打電動", "打game用"}, first.ReferenceUtterances)
	assert.Equal(t, "gaming", first.InferredSlots["usage_purpose"])
	assert.JSONEq(t, `{"type":"recommend"}`, string(first.Response))
	assert.Equal(t, 3, first.UsageCount)
	assert.True(t, first.LastUsed.Equal(now))
	assert.True(t, first.CreatedAt.Equal(now.Add(-time.Hour)))

	second := loaded.Cases[1]
	assert.Empty(t, second.Response)
	assert.True(t, second.LastUsed.IsZero())
	assert.Empty(t, second.InferredSlots)

	assert.Equal(t, 2, loaded.Stats.TotalCases)
	assert.Equal(t, 3, loaded.Stats.TotalSuccessfulMatches)
	assert.InDelta(t, 0.5, loaded.Stats.AverageSuccessRate, 1e-9)
	assert.True(t, loaded.Stats.LastStatisticsUpdate.Equal(now))

	// A second save replaces the table.
	snap.Cases = snap.Cases[1:]
	snap.Stats = specialcase.ComputeStats(snap.Cases, now)
	require.NoError(t, store.Save(ctx, snap))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Cases, 1)
	assert.Equal(t, "a-case", loaded.Cases[0].CaseID)
	assert.Equal(t, 1, loaded.Stats.TotalCases)
}

func TestKnowledgeStore_SkipsUndecodableRows(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	store := NewKnowledgeStore(db)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &specialcase.Snapshot{Cases: []specialcase.SpecialCase{
		{CaseID: "ok", ReferenceUtterances: []string{"好"}},
	}}))
	_, err := db.Conn().Exec(`INSERT INTO special_cases (case_id, position, reference_utterances, inferred_slots) VALUES ('bad', 9, 'not json', '{}')`)
	require.NoError(t, err)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Cases, 1)
	assert.Equal(t, "ok", loaded.Cases[0].CaseID)
}

func TestKnowledgeStore_WithKnowledge(t *testing.T) {
	t.Parallel()
	store := NewKnowledgeStore(setupTestDB(t))
	ctx := context.Background()

	kb := specialcase.NewKnowledge(store, specialcase.KnowledgeOptions{})
	require.NoError(t, kb.Load(ctx, true))
	require.Positive(t, kb.Len())
	require.NoError(t, kb.Flush(ctx))

	reloaded := specialcase.NewKnowledge(store, specialcase.KnowledgeOptions{})
	require.NoError(t, reloaded.Load(ctx, false))
	assert.Equal(t, kb.Len(), reloaded.Len())
}

func TestKnowledgeStore_SaveNil(t *testing.T) {
	t.Parallel()
	store := NewKnowledgeStore(setupTestDB(t))
	assert.True(t, domerrors.IsInvalidInput(store.Save(context.Background(), nil)))
}

func TestSessionStore_Contract(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(setupTestDB(t), time.Hour)
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := store.GetRecord(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))
	_, err = store.GetState(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))

	history := []loop.Turn{
		{Utterance: "我要筆電", Timestamp: ts},
		{Utterance: "我要筆電", Timestamp: ts.Add(time.Second), Similarity: 1, MatchedCaseID: "c1"},
	}
	require.NoError(t, store.PutRecord(ctx, "s1", &loop.Record{State: loop.StateLoopBreakOffered, History: history}))
	got, err := store.GetRecord(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, loop.StateLoopBreakOffered, got.State)
	require.Len(t, got.History, 2)
	assert.Equal(t, "c1", got.History[1].MatchedCaseID)

	require.NoError(t, store.PutRecord(ctx, "s1", &loop.Record{State: loop.StateTerminated, History: history[:1]}))
	got, err = store.GetRecord(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.History, 1, "put overwrites")
	assert.Equal(t, loop.StateTerminated, got.State)

	state := session.NewState("s1", ts)
	state.Slots["usage_purpose"] = "gaming"
	state.Turns = 2
	require.NoError(t, store.PutState(ctx, state))
	loaded, err := store.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "gaming", loaded.Slots["usage_purpose"])
	assert.Equal(t, 2, loaded.Turns)
	assert.NotNil(t, loaded.SlotSources)

	assert.True(t, domerrors.IsInvalidInput(store.PutState(ctx, &session.State{})))

	require.NoError(t, store.DeleteRecord(ctx, "s1"))
	require.NoError(t, store.DeleteState(ctx, "s1"))
	_, err = store.GetRecord(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))
	_, err = store.GetState(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))
}

func TestSessionStore_ExpiryAndPurge(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewSessionStore(setupTestDB(t), time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, "old", &loop.Record{History: []loop.Turn{{Utterance: "hi"}}}))
	require.NoError(t, store.PutState(ctx, session.NewState("old", now)))

	now = now.Add(2 * time.Minute)
	require.NoError(t, store.PutRecord(ctx, "new", &loop.Record{History: []loop.Turn{{Utterance: "hello"}}}))

	_, err := store.GetRecord(ctx, "old")
	assert.True(t, domerrors.IsNotFound(err))

	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = store.GetRecord(ctx, "new")
	require.NoError(t, err)
}

func TestSessionStore_ClosedDatabase(t *testing.T) {
	t.Parallel()
	db, err := NewTestDB()
	require.NoError(t, err)
	store := NewSessionStore(db, 0)
	require.NoError(t, db.Close())

	err = store.PutRecord(context.Background(), "s1", nil)
	assert.True(t, domerrors.IsStorage(err))
	_, err = store.GetState(context.Background(), "s1")
	assert.True(t, domerrors.IsStorage(err))
}
