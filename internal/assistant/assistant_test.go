package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/catalog"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/extract"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/genai"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ratelimit"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/session"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClassifier struct {
	mu      sync.Mutex
	result  genai.Classification
	err     error
	prompts []string
}

func (f *fakeClassifier) Classify(_ context.Context, prompt string) (genai.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.result, f.err
}

func (f *fakeClassifier) Provider() genai.Provider { return genai.ProviderOpenAI }

type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) Generate(context.Context, string) (string, error) { return f.reply, f.err }
func (f *fakeGenerator) Provider() genai.Provider                         { return genai.ProviderGemini }

// failingStates fails every state read.
type failingStates struct {
	*session.MemoryStore
}

func (failingStates) GetState(context.Context, string) (*session.State, error) {
	return nil, errors.New("disk on fire")
}

type fixture struct {
	assistant *Assistant
	detector  *loop.Detector
	sessions  *session.MemoryStore
	metrics   *metrics.Metrics
	tuning    *config.TuningStore
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	tuning := config.NewTuningStore(config.DefaultTuning())
	engine := similarity.New(nil, similarity.Options{})
	patterns := slots.NewStore(slots.Default(), nil)
	m := metrics.New(prometheus.NewRegistry())
	sessions := session.NewMemoryStore(time.Hour)

	detector := loop.NewDetector(loop.Options{Store: sessions, Engine: engine, Tuning: tuning, Metrics: m})
	t.Cleanup(detector.Stop)

	kb := specialcase.NewKnowledge(nil, specialcase.KnowledgeOptions{Engine: engine, Tuning: tuning})
	require.NoError(t, kb.Replace([]specialcase.SpecialCase{
		{
			CaseID:              "c-student",
			ReferenceUtterances: []string{"學生上課用要輕一點的"},
			InferredSlots:       map[string]string{"usage_purpose": "student", "weight_requirement": "ultralight"},
			Response:            json.RawMessage(`{"type":"recommendation","message":"建議選擇 1.3 公斤以下的輕薄機種。"}`),
		},
		{
			CaseID:              "c-creator",
			ReferenceUtterances: []string{"剪影片需要螢幕色準好的筆電"},
			InferredSlots:       map[string]string{"usage_purpose": "creative"},
		},
	}))
	matcher := specialcase.NewMatcher(kb, specialcase.MatcherOptions{Recorder: detector, Metrics: m})

	index, err := catalog.NewIndex(catalog.Default(), catalog.Options{})
	require.NoError(t, err)

	cfg := Config{
		Patterns:   patterns,
		Arbitrator: extract.NewArbitrator(patterns, engine, tuning, m, nil),
		Matcher:    matcher,
		Detector:   detector,
		Sessions:   sessions,
		Tuning:     tuning,
		Catalog:    index,
		Metrics:    m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return &fixture{assistant: a, detector: detector, sessions: sessions, metrics: m, tuning: tuning}
}

func (f *fixture) turn(t *testing.T, sessionID, message string) *TurnResponse {
	t.Helper()
	resp, err := f.assistant.HandleTurn(context.Background(), TurnRequest{SessionID: sessionID, Message: message})
	require.NoError(t, err)
	return resp
}

func TestHandleTurn_ElicitThenRecommend(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	first := f.turn(t, "s1", "我想要玩遊戲")
	assert.Equal(t, OutcomeElicit, first.Outcome)
	assert.Equal(t, "gaming", first.Slots["usage_purpose"])
	require.NotEmpty(t, first.Updates)
	assert.Equal(t, SourceHybrid, first.Updates[0].Source)
	assert.Equal(t, []string{"budget_range"}, first.MissingSlots)
	assert.Contains(t, first.Reply, "電競遊戲")
	assert.Contains(t, first.Reply, "預算")
	assert.False(t, first.Generated)
	assert.Equal(t, "normal", first.LoopState)

	second := f.turn(t, "s1", "預算三萬左右")
	assert.Equal(t, OutcomeRecommend, second.Outcome)
	assert.Equal(t, "mid_range", second.Slots["budget_range"])
	assert.Empty(t, second.MissingSlots)
	require.Len(t, second.Products, 1)
	assert.Equal(t, "acer-nitro-v15", second.Products[0].ID)
	assert.Contains(t, second.Reply, "Acer Nitro V 15")
	assert.Contains(t, second.Reply, "NT$29,900")

	view, err := f.assistant.Session(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Turns)
	assert.Equal(t, SourceHybrid, view.Sources["budget_range"])
	assert.Len(t, view.History, 2)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues("api", "recommend")), 0)
}

func TestHandleTurn_SpecialCase(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp := f.turn(t, "s1", "學生上課用要輕一點的")
	assert.Equal(t, OutcomeSpecialCase, resp.Outcome)
	assert.Equal(t, "c-student", resp.CaseID)
	assert.JSONEq(t, `{"type":"recommendation","message":"建議選擇 1.3 公斤以下的輕薄機種。"}`, string(resp.CaseResponse))
	assert.Equal(t, "student", resp.Slots["usage_purpose"])
	assert.Equal(t, "ultralight", resp.Slots["weight_requirement"])
	assert.True(t, strings.HasPrefix(resp.Reply, "建議選擇 1.3 公斤以下的輕薄機種。"), resp.Reply)
	assert.Contains(t, resp.MissingSlots, "budget_range")

	var sources []string
	for _, u := range resp.Updates {
		if u.Source == SourceSpecialCase {
			sources = append(sources, u.Slot)
		}
	}
	assert.ElementsMatch(t, []string{"usage_purpose", "weight_requirement"}, sources)

	history, err := f.detector.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 1, "the matched turn annotates the recorded utterance")
	assert.Equal(t, "c-student", history[0].MatchedCaseID)
}

func TestHandleTurn_LoopBreakRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	assert.Equal(t, OutcomeElicit, f.turn(t, "s1", "你好").Outcome)
	assert.Equal(t, OutcomeElicit, f.turn(t, "s1", "你好").Outcome)

	offer := f.turn(t, "s1", "你好")
	assert.Equal(t, OutcomeLoopBreak, offer.Outcome)
	assert.Equal(t, "loop_break_offered", offer.LoopState)
	require.Len(t, offer.Options, 3)
	assert.Equal(t, loop.ChoiceRecommend, offer.Options[0].Choice)

	again := f.turn(t, "s1", "什麼意思")
	assert.Equal(t, OutcomeLoopBreak, again.Outcome, "an unrecognised answer repeats the offer")

	restart := f.turn(t, "s1", "2")
	assert.Equal(t, OutcomeRestart, restart.Outcome)
	assert.Equal(t, "normal", restart.LoopState)
	assert.Empty(t, restart.Slots)
	assert.Contains(t, restart.Reply, "重新開始")

	assert.Equal(t, OutcomeElicit, f.turn(t, "s1", "你好").Outcome, "history was cleared")
}

func TestHandleTurn_LoopBreakRecommend(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	for range 2 {
		f.turn(t, "s1", "我想要玩遊戲")
	}
	require.Equal(t, OutcomeLoopBreak, f.turn(t, "s1", "我想要玩遊戲").Outcome)

	resp := f.turn(t, "s1", "直接推薦吧")
	assert.Equal(t, OutcomeRecommend, resp.Outcome)
	require.NotEmpty(t, resp.Products)
	assert.Equal(t, "acer-nitro-v15", resp.Products[0].ID)
	assert.Equal(t, "gaming", resp.Slots["usage_purpose"])
	assert.Equal(t, "normal", resp.LoopState)
}

func TestHandleTurn_LoopBreakHuman(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	for range 3 {
		f.turn(t, "s1", "你好")
	}
	handoff := f.turn(t, "s1", "我要真人客服")
	assert.Equal(t, OutcomeHandoff, handoff.Outcome)
	assert.Equal(t, "terminated", handoff.LoopState)

	after := f.turn(t, "s1", "我想要玩遊戲")
	assert.Equal(t, OutcomeHandoff, after.Outcome)
	assert.Empty(t, after.Slots, "a terminated session extracts nothing")

	view, err := f.assistant.Session(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, view.Turns, "turns after hand-off are not counted")
}

func TestHandleTurn_ClassifierFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		result    genai.Classification
		err       error
		wantValue string
	}{
		{"accepted", genai.Classification{Label: "business", Confidence: 0.9}, nil, "business"},
		{"low confidence", genai.Classification{Label: "business", Confidence: 0.3}, nil, ""},
		{"label not allowed", genai.Classification{Label: "spaceship", Confidence: 0.99}, nil, ""},
		{"unknown", genai.Classification{Label: genai.UnknownLabel}, nil, ""},
		{"provider down", genai.Classification{}, genai.ErrNotConfigured, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cls := &fakeClassifier{result: tt.result, err: tt.err}
			f := newFixture(t, func(c *Config) { c.Classifier = cls })

			resp := f.turn(t, "s1", "嗯我也不太確定")
			assert.Equal(t, OutcomeElicit, resp.Outcome)
			assert.Equal(t, tt.wantValue, resp.Slots["usage_purpose"])

			require.Len(t, cls.prompts, 1)
			assert.Contains(t, cls.prompts[0], "usage_purpose")
			assert.Contains(t, cls.prompts[0], "- business: 商務辦公")
			assert.Contains(t, cls.prompts[0], "嗯我也不太確定")

			if tt.wantValue != "" {
				require.Len(t, resp.Updates, 1)
				assert.Equal(t, SourceLLM, resp.Updates[0].Source)
				assert.Contains(t, resp.Reply, "商務辦公")
			} else {
				assert.Empty(t, resp.Updates)
			}
		})
	}
}

func TestHandleTurn_ClassifierSkippedWhenHybridResolves(t *testing.T) {
	t.Parallel()
	cls := &fakeClassifier{result: genai.Classification{Label: "business", Confidence: 1}}
	f := newFixture(t, func(c *Config) { c.Classifier = cls })

	resp := f.turn(t, "s1", "我想要玩遊戲")
	assert.Equal(t, "gaming", resp.Slots["usage_purpose"])
	assert.Empty(t, cls.prompts)
}

func TestHandleTurn_Generator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.Generator = &fakeGenerator{reply: "  這是生成的回覆  "} })
	resp := f.turn(t, "s1", "我想要玩遊戲")
	assert.Equal(t, "這是生成的回覆", resp.Reply)
	assert.True(t, resp.Generated)

	f = newFixture(t, func(c *Config) { c.Generator = &fakeGenerator{err: errors.New("quota exceeded")} })
	resp = f.turn(t, "s1", "我想要玩遊戲")
	assert.False(t, resp.Generated)
	assert.Contains(t, resp.Reply, "預算")
}

func TestHandleTurn_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []TurnRequest{
		{SessionID: "", Message: "hi"},
		{SessionID: "s1", Message: "   "},
		{SessionID: "s1", Message: strings.Repeat("字", MaxMessageRunes+1)},
	}
	for _, req := range tests {
		_, err := f.assistant.HandleTurn(context.Background(), req)
		assert.True(t, domerrors.IsInvalidInput(err), "request %+v: %v", req.SessionID, err)
	}

	_, err := f.assistant.HandleTurn(context.Background(), tests[2])
	assert.Equal(t, msgTooLong, domerrors.UserMessage(err))
}

func TestHandleTurn_StorageFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) {
		c.Sessions = failingStates{session.NewMemoryStore(time.Hour)}
	})

	_, err := f.assistant.HandleTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "我想要玩遊戲"})
	require.Error(t, err)
	assert.True(t, domerrors.IsStorage(err))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.StorageErrorsTotal.WithLabelValues("session", "get_state")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues("api", "error")), 0)
}

func TestHandleTurn_RateLimited(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.NewKeyedLimiter(ratelimit.KeyedConfig{Name: "session", Burst: 1, RefillRate: 0.001})
	t.Cleanup(limiter.Stop)
	f := newFixture(t, func(c *Config) { c.Limiter = limiter })

	assert.Equal(t, OutcomeElicit, f.turn(t, "s1", "我想要玩遊戲").Outcome)
	limited := f.turn(t, "s1", "預算三萬")
	assert.Equal(t, OutcomeRateLimited, limited.Outcome)
	assert.Equal(t, rateLimitedText, limited.Reply)

	assert.Equal(t, OutcomeElicit, f.turn(t, "s2", "我想要玩遊戲").Outcome, "limits are per session")
}

func TestHandleTurn_SerialisesSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	const n = 16
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.assistant.HandleTurn(context.Background(), TurnRequest{
				SessionID: "shared",
				Message:   fmt.Sprintf("第 %d 句話", i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := f.assistant.Session(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, n, view.Turns, "no state update is lost")
	assert.Zero(t, f.assistant.locks.len())
}

func TestResetAndSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.assistant.Session(context.Background(), "s1")
	assert.True(t, domerrors.IsNotFound(err))

	f.turn(t, "s1", "我想要玩遊戲")
	require.NoError(t, f.assistant.Reset(context.Background(), "s1"))

	_, err = f.assistant.Session(context.Background(), "s1")
	assert.True(t, domerrors.IsNotFound(err))

	resp := f.turn(t, "s1", "你好")
	assert.Empty(t, resp.Slots)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestParseChoice(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want loop.Choice
		ok   bool
	}{
		{"1", loop.ChoiceRecommend, true},
		{"recommend", loop.ChoiceRecommend, true},
		{"RESTART", loop.ChoiceRestart, true},
		{"我想重新開始", loop.ChoiceRestart, true},
		{"3", loop.ChoiceHuman, true},
		{"找專人", loop.ChoiceHuman, true},
		{"12", "", false},
		{"隨便", "", false},
	}
	for _, tt := range tests {
		got, ok := parseChoice(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatPrice(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NT$999", FormatPrice(999))
	assert.Equal(t, "NT$29,900", FormatPrice(29900))
	assert.Equal(t, "NT$129,900", FormatPrice(129900))
	assert.Equal(t, "NT$1,000,000", FormatPrice(1000000))
}
