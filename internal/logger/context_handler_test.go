package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ctxutil"
)

func TestContextHandler_Handle(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(context.Context) context.Context
		want    []string
		notWant []string
	}{
		{
			name: "extracts all context values",
			setup: func(ctx context.Context) context.Context {
				ctx = ctxutil.WithSessionID(ctx, "sess-abc")
				ctx = ctxutil.WithChannel(ctx, "line")
				return ctxutil.WithRequestID(ctx, "req-123")
			},
			want: []string{`"session_id":"sess-abc"`, `"channel":"line"`, `"request_id":"req-123"`},
		},
		{
			name: "extracts partial context values",
			setup: func(ctx context.Context) context.Context {
				return ctxutil.WithSessionID(ctx, "sess-only")
			},
			want:    []string{`"session_id":"sess-only"`},
			notWant: []string{"request_id", "channel"},
		},
		{
			name:    "handles empty context",
			setup:   func(ctx context.Context) context.Context { return ctx },
			notWant: []string{"session_id", "request_id", "channel"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))
			log.InfoContext(tt.setup(context.Background()), "msg")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("expected %s in %s", w, out)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("did not expect %s in %s", nw, out)
				}
			}
		})
	}
}

func TestContextHandler_WithAttrsKeepsContextLifting(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewJSONHandler(&buf, nil)).WithAttrs([]slog.Attr{slog.String("module", "loop")})
	slog.New(h).InfoContext(ctxutil.WithSessionID(context.Background(), "s1"), "msg")

	out := buf.String()
	if !strings.Contains(out, `"module":"loop"`) || !strings.Contains(out, `"session_id":"s1"`) {
		t.Errorf("unexpected output %s", out)
	}
}
