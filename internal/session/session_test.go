package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
)

// exerciseStore runs the shared Store contract.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.GetRecord(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))
	_, err = store.GetState(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	history := []loop.Turn{
		{Utterance: "我要筆電", Timestamp: ts, Similarity: 0},
		{Utterance: "我要筆電", Timestamp: ts.Add(time.Second), Similarity: 1, MatchedCaseID: "c1"},
	}
	require.NoError(t, store.PutRecord(ctx, "s1", &loop.Record{State: loop.StateLoopBreakOffered, History: history}))
	got, err := store.GetRecord(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, loop.StateLoopBreakOffered, got.State)
	require.Len(t, got.History, 2)
	assert.Equal(t, "c1", got.History[1].MatchedCaseID)
	assert.True(t, got.History[0].Timestamp.Equal(ts))

	state := NewState("s1", ts)
	state.Slots["usage_purpose"] = "gaming"
	state.SlotSources["usage_purpose"] = "hybrid"
	state.Turns = 2
	require.NoError(t, store.PutState(ctx, state))

	state.Slots["budget_range"] = "budget" // stored copy must not change
	loaded, err := store.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"usage_purpose": "gaming"}, loaded.Slots)
	assert.Equal(t, 2, loaded.Turns)

	assert.Error(t, store.PutState(ctx, &State{}))

	require.NoError(t, store.DeleteRecord(ctx, "s1"))
	require.NoError(t, store.DeleteState(ctx, "s1"))
	_, err = store.GetRecord(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))
	_, err = store.GetState(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, "s1", &loop.Record{History: []loop.Turn{{Utterance: "hi"}}}))
	require.NoError(t, store.PutState(ctx, NewState("s1", now)))

	now = now.Add(2 * time.Minute)
	_, err := store.GetRecord(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestMemoryStore_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		id := fmt.Sprintf("s%d", i)
		wg.Go(func() {
			for j := range 20 {
				rec := &loop.Record{History: []loop.Turn{{Utterance: fmt.Sprintf("%s-%d", id, j)}}}
				assert.NoError(t, store.PutRecord(ctx, id, rec))
				_, err := store.GetRecord(ctx, id)
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()

	for i := range 16 {
		rec, err := store.GetRecord(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("s%d-19", i), rec.History[0].Utterance)
	}
}

func TestMemoryStore_LoopStateAcrossDetectors(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	a := loop.NewDetector(loop.Options{Store: store})
	t.Cleanup(a.Stop)

	for range 3 {
		_, err := a.Check(ctx, "s1", "我要筆電")
		require.NoError(t, err)
	}

	b := loop.NewDetector(loop.Options{Store: store})
	t.Cleanup(b.Stop)
	state, err := b.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, loop.StateLoopBreakOffered, state)

	history, err := b.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRedisStore(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr(), TTL: 30 * time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "test:", time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, "s1", &loop.Record{History: []loop.Turn{{Utterance: "hi"}}}))
	assert.True(t, mr.Exists("test:s1:loop"))
	assert.Equal(t, time.Minute, mr.TTL("test:s1:loop"))

	mr.FastForward(2 * time.Minute)
	_, err := store.GetRecord(ctx, "s1")
	assert.True(t, domerrors.IsNotFound(err))
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	store := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", 0)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, mr.Set(defaultKeyPrefix+"s1:state", "{not json"))
	_, err := store.GetState(context.Background(), "s1")
	require.Error(t, err)
	assert.False(t, domerrors.IsNotFound(err))
}

func TestState_Clone(t *testing.T) {
	t.Parallel()
	s := &State{SessionID: "s1"}
	c := s.Clone()
	c.Slots["a"] = "b"
	assert.Nil(t, s.Slots)
	assert.NotNil(t, c.SlotSources)
}
