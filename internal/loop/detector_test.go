package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
	failGet bool
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*Record)}
}

func (f *fakeStore) GetRecord(_ context.Context, id string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("disk on fire")
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, domerrors.ErrNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeStore) PutRecord(_ context.Context, id string, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.records[id] = rec.Clone()
	return nil
}

func (f *fakeStore) DeleteRecord(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeStore) record(id string) *Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func newDetector(t *testing.T, opts Options) *Detector {
	t.Helper()
	d := NewDetector(opts)
	t.Cleanup(d.Stop)
	return d
}

func TestCheck_RepeatedUtterance(t *testing.T) {
	t.Parallel()
	backends := map[string]similarity.EmbeddingBackend{
		"fallback": nil,
		"hashing":  similarity.NewHashingBackend(64),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			d := newDetector(t, Options{Engine: similarity.New(backend, similarity.Options{})})
			ctx := context.Background()

			want := []bool{false, false, true, true, true}
			for i, expected := range want {
				got, err := d.Check(ctx, "s1", "我要筆電")
				require.NoError(t, err)
				assert.Equal(t, expected, got, "call %d", i+1)
			}
			state, err := d.State(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StateLoopBreakOffered, state)
		})
	}
}

func TestCheck_DistinctUtterancesNeverLoop(t *testing.T) {
	t.Parallel()
	d := newDetector(t, Options{})
	ctx := context.Background()
	for _, q := range []string{"我要筆電", "預算三萬", "想打遊戲", "輕一點", "華碩"} {
		got, err := d.Check(ctx, "s1", q)
		require.NoError(t, err)
		assert.False(t, got, q)
	}
}

func TestCheck_OnlyWindowCounts(t *testing.T) {
	t.Parallel()
	d := newDetector(t, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := d.Check(ctx, "s1", "我要筆電")
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Record(ctx, "s1", Turn{Utterance: fmt.Sprintf("filler %c", 'a'+i)}))
	}

	got, err := d.Check(ctx, "s1", "我要筆電")
	require.NoError(t, err)
	assert.False(t, got, "repeats outside the window must not count")
}

func TestHistory_BoundedByCap(t *testing.T) {
	t.Parallel()
	d := newDetector(t, Options{})
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		require.NoError(t, d.Record(ctx, "s1", Turn{Utterance: fmt.Sprintf("turn %d", i)}))
		h, err := d.History(ctx, "s1")
		require.NoError(t, err)
		require.LessOrEqual(t, len(h), 50)
	}
	h, _ := d.History(ctx, "s1")
	require.Len(t, h, 50)
	assert.Equal(t, "turn 70", h[0].Utterance)
	assert.Equal(t, "turn 119", h[49].Utterance)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	loopSession := func(d *Detector, id string) {
		for i := 0; i < 3; i++ {
			_, err := d.Check(ctx, id, "我要筆電")
			require.NoError(t, err)
		}
	}

	t.Run("restart clears history", func(t *testing.T) {
		t.Parallel()
		d := newDetector(t, Options{})
		loopSession(d, "s1")
		state, err := d.Resolve(ctx, "s1", ChoiceRestart)
		require.NoError(t, err)
		assert.Equal(t, StateNormal, state)

		h, _ := d.History(ctx, "s1")
		assert.Empty(t, h)
		got, _ := d.Check(ctx, "s1", "我要筆電")
		assert.False(t, got)
	})

	t.Run("human terminates", func(t *testing.T) {
		t.Parallel()
		d := newDetector(t, Options{})
		loopSession(d, "s1")
		state, err := d.Resolve(ctx, "s1", ChoiceHuman)
		require.NoError(t, err)
		assert.Equal(t, StateTerminated, state)
	})

	t.Run("no pending offer", func(t *testing.T) {
		t.Parallel()
		d := newDetector(t, Options{})
		_, err := d.Resolve(ctx, "s1", ChoiceRecommend)
		assert.True(t, domerrors.IsInvalidInput(err))
	})

	t.Run("unknown choice", func(t *testing.T) {
		t.Parallel()
		d := newDetector(t, Options{})
		loopSession(d, "s1")
		state, err := d.Resolve(ctx, "s1", Choice("dance"))
		assert.True(t, domerrors.IsInvalidInput(err))
		assert.Equal(t, StateLoopBreakOffered, state)
	})
}

func TestStore_WriteThroughAndReload(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	ctx := context.Background()

	d1 := newDetector(t, Options{Store: store})
	for i := 0; i < 2; i++ {
		_, err := d1.Check(ctx, "s1", "我要筆電")
		require.NoError(t, err)
	}
	assert.Len(t, store.record("s1").History, 2)

	// A fresh detector (process restart) continues from the stored history.
	d2 := newDetector(t, Options{Store: store})
	got, err := d2.Check(ctx, "s1", "我要筆電")
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, d2.Reset(ctx, "s1"))
	assert.Nil(t, store.record("s1"))
	assert.Equal(t, 0, d2.ActiveSessions())
}

func TestStore_SharesLoopState(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	ctx := context.Background()
	a := newDetector(t, Options{Store: store})
	b := newDetector(t, Options{Store: store})

	for range 3 {
		_, err := a.Check(ctx, "s1", "我要筆電")
		require.NoError(t, err)
	}
	assert.Equal(t, StateLoopBreakOffered, store.record("s1").State)

	state, err := b.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateLoopBreakOffered, state)

	state, err = b.Resolve(ctx, "s1", ChoiceHuman)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, state)

	state, err = a.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, state)
	h, err := a.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, h, 3)
}

func TestStore_StateSurvivesSweep(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := newFakeStore()
	d := newDetector(t, Options{Store: store, TTL: time.Minute, CleanupPeriod: time.Hour, Now: clock})
	ctx := context.Background()

	for range 3 {
		_, err := d.Check(ctx, "s1", "我要筆電")
		require.NoError(t, err)
	}
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	require.Equal(t, 1, d.sweep())

	state, err := d.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateLoopBreakOffered, state)
}

func TestRecord_StateJSON(t *testing.T) {
	t.Parallel()
	rec := Record{State: StateLoopBreakOffered, History: []Turn{{Utterance: "我要筆電"}}}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"loop_break_offered"`)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, StateLoopBreakOffered, got.State)

	var bad State
	assert.Error(t, bad.UnmarshalText([]byte("confused")))
}

func TestStore_FailureIsHard(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.failGet = true
	d := newDetector(t, Options{Store: store})

	_, err := d.Check(context.Background(), "s1", "我要筆電")
	require.Error(t, err)
	assert.True(t, domerrors.IsStorage(err))
}

func TestRecordMatch_AnnotatesCurrentTurn(t *testing.T) {
	t.Parallel()
	d := newDetector(t, Options{})
	ctx := context.Background()

	_, err := d.Check(ctx, "s1", "有推薦的電競筆電嗎")
	require.NoError(t, err)
	require.NoError(t, d.RecordMatch(ctx, "s1", Turn{Utterance: "有推薦的電競筆電嗎", MatchedCaseID: "case-1", Similarity: 0.93}))

	h, _ := d.History(ctx, "s1")
	require.Len(t, h, 1)
	assert.Equal(t, "case-1", h[0].MatchedCaseID)
	assert.InDelta(t, 0.93, h[0].Similarity, 1e-9)

	require.NoError(t, d.RecordMatch(ctx, "s2", Turn{Utterance: "其他問題", MatchedCaseID: "case-2"}))
	h, _ = d.History(ctx, "s2")
	require.Len(t, h, 1)
	assert.False(t, h[0].Timestamp.IsZero())
}

func TestSweep_ExpiresIdleSessions(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	d := newDetector(t, Options{TTL: time.Minute, CleanupPeriod: time.Hour, Now: clock})
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, "old", Turn{Utterance: "a"}))
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	require.NoError(t, d.Record(ctx, "fresh", Turn{Utterance: "b"}))

	assert.Equal(t, 1, d.sweep())
	assert.Equal(t, 1, d.ActiveSessions())
}

func TestAcquire_SkipsSweptEntry(t *testing.T) {
	t.Parallel()
	d := newDetector(t, Options{TTL: time.Minute, CleanupPeriod: time.Hour})

	stale := d.getOrCreate("s1")
	require.Equal(t, 1, d.sweep())
	assert.False(t, d.registered("s1", stale))

	s, err := d.acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer s.mu.Unlock()
	assert.NotSame(t, stale, s)
	assert.True(t, d.registered("s1", s))
}

func TestCheck_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	d := newDetector(t, Options{Engine: similarity.New(similarity.NewHashingBackend(32), similarity.Options{})})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("s%d", i)
		wg.Go(func() {
			for j := 0; j < 5; j++ {
				_, err := d.Check(ctx, id, "我要筆電")
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		h, err := d.History(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		assert.Len(t, h, 5)
	}
}

func TestCheck_RequiresSessionID(t *testing.T) {
	t.Parallel()
	d := newDetector(t, Options{})
	_, err := d.Check(context.Background(), "", "hi")
	assert.True(t, domerrors.IsInvalidInput(err))
}

func TestCheck_UsesTuning(t *testing.T) {
	t.Parallel()
	tuning := config.DefaultTuning()
	tuning.Loop.MaxRepeats = 1
	d := newDetector(t, Options{Tuning: config.NewTuningStore(tuning)})
	ctx := context.Background()

	first, _ := d.Check(ctx, "s1", "我要筆電")
	second, _ := d.Check(ctx, "s1", "我要筆電")
	assert.False(t, first)
	assert.True(t, second)
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "normal", StateNormal.String())
	assert.Equal(t, "loop_break_offered", StateLoopBreakOffered.String())
	assert.Equal(t, "terminated", StateTerminated.String())
}
