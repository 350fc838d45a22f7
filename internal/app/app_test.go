package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/assistant"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
)

func testConfig(t *testing.T, kbBackend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:               "0",
		LogLevel:           "error",
		ShutdownTimeout:    5 * time.Second,
		DataDir:            dir,
		Segmenter:          "bigram",
		KBBackend:          kbBackend,
		KBFile:             filepath.Join(dir, "special_cases.json"),
		KBFlushInterval:    time.Minute,
		SessionBackend:     config.BackendMemory,
		SessionTTL:         30 * time.Minute,
		Tuning:             config.DefaultTuning(),
		SessionRateBurst:   10,
		SessionRateRPS:     1,
		EmbeddingCacheSize: 64,
		SentryEnvironment:  "test",
	}
}

func initialize(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	return a
}

func TestInitialize_ServesTurns(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendFile} {
		t.Run(backend, func(t *testing.T) {
			a := initialize(t, testConfig(t, backend))
			t.Cleanup(a.closeResources)

			body, err := json.Marshal(assistant.TurnRequest{SessionID: "app-1", Message: "我想要玩遊戲"})
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/turn", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			a.Handler().ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var resp assistant.TurnResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, assistant.OutcomeElicit, resp.Outcome)
			assert.Equal(t, "gaming", resp.Slots["usage_purpose"])
		})
	}
}

func TestInitialize_HealthEndpoints(t *testing.T) {
	a := initialize(t, testConfig(t, config.BackendSQLite))
	t.Cleanup(a.closeResources)

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, map[string]any{"database": "ok"}, body["dependencies"])
	features, ok := body["features"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, features["line"])
	assert.Equal(t, false, features["embeddings"])
}

func TestInitialize_LineWebhookRoute(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.LineChannelSecret = "secret"
	cfg.LineChannelToken = "token"
	a := initialize(t, cfg)
	t.Cleanup(a.closeResources)
	require.NotNil(t, a.webhookHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhook/line", bytes.NewReader([]byte(`{"events":[]}`)))
	req.Header.Set("X-Line-Signature", "bogus")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitialize_RejectsBrokenPatternFile(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.PatternFile = filepath.Join(cfg.DataDir, "missing.yaml")

	_, err := Initialize(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern file")
}

func TestServe_StopsOnCancel(t *testing.T) {
	a := initialize(t, testConfig(t, config.BackendFile))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
