package ctxutil

import (
	"context"
	"testing"
	"time"
)

func TestSessionIDContext(t *testing.T) {
	t.Parallel()

	t.Run("empty context", func(t *testing.T) {
		t.Parallel()
		if sessionID := GetSessionID(context.Background()); sessionID != "" {
			t.Errorf("Expected empty string, got %s", sessionID)
		}
	})

	t.Run("with session ID", func(t *testing.T) {
		t.Parallel()
		ctx := WithSessionID(context.Background(), "sess-001")
		if sessionID := GetSessionID(ctx); sessionID != "sess-001" {
			t.Errorf("Expected sess-001, got %s", sessionID)
		}
		if sessionID := MustGetSessionID(ctx); sessionID != "sess-001" {
			t.Errorf("Expected sess-001, got %s", sessionID)
		}
	})
}

func TestMustGetSessionID_Panic(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected MustGetSessionID to panic on empty context")
		}
	}()

	MustGetSessionID(context.Background())
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	if _, ok := GetRequestID(context.Background()); ok {
		t.Error("Expected no request ID on empty context")
	}

	ctx := WithRequestID(context.Background(), "req-42")
	requestID, ok := GetRequestID(ctx)
	if !ok || requestID != "req-42" {
		t.Errorf("Expected req-42, got %q (ok=%v)", requestID, ok)
	}
}

func TestPreserveTracing(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	parent = WithSessionID(parent, "sess-9")
	parent = WithChannel(parent, "line")
	parent = WithRequestID(parent, "req-9")

	detached := PreserveTracing(parent)
	<-parent.Done()

	if detached.Err() != nil {
		t.Errorf("Expected detached context to survive parent cancellation, got %v", detached.Err())
	}
	if GetSessionID(detached) != "sess-9" {
		t.Error("session ID not preserved")
	}
	if GetChannel(detached) != "line" {
		t.Error("channel not preserved")
	}
	if id, _ := GetRequestID(detached); id != "req-9" {
		t.Error("request ID not preserved")
	}
}
