package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestNewMultiHandler_NilFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mh := NewMultiHandler(nil, slog.NewJSONHandler(&buf, nil), nil)
	if len(mh.sinks) != 1 {
		t.Errorf("Expected 1 sink after filtering nils, got %d", len(mh.sinks))
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	t.Parallel()

	var buf1, buf2 bytes.Buffer
	warn := slog.NewJSONHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelWarn})
	errs := slog.NewJSONHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelError})
	mh := NewMultiHandler(warn, errs)

	if mh.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled when every sink starts at warn")
	}
	if !mh.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestMultiHandler_HandleFansOut(t *testing.T) {
	t.Parallel()

	var buf1, buf2 bytes.Buffer
	mh := NewMultiHandler(
		slog.NewJSONHandler(&buf1, nil),
		slog.NewJSONHandler(&buf2, nil),
	)
	slog.New(mh).With("module", "loop").Info("loop detected", "repeats", 3)

	for i, buf := range []*bytes.Buffer{&buf1, &buf2} {
		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("sink %d: invalid JSON: %v", i, err)
		}
		if entry["msg"] != "loop detected" || entry["module"] != "loop" {
			t.Errorf("sink %d: unexpected entry %v", i, entry)
		}
	}
}

func TestMultiHandler_FailingSinkDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	local := slog.NewJSONHandler(&buf, nil)
	mh := NewMultiHandler(failingHandler{Handler: local}, local)

	err := mh.Handle(context.Background(), slog.NewRecord(timeZero, slog.LevelInfo, "hello", 0))
	if err == nil {
		t.Error("expected joined sink error")
	}
	if buf.Len() == 0 {
		t.Error("expected the healthy sink to be written")
	}
}
