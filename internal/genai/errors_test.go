package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected ErrorAction
	}{
		{"nil error", nil, ActionFail},
		{"context canceled", context.Canceled, ActionFail},
		{"context deadline exceeded", context.DeadlineExceeded, ActionRetry},
		{"wrapped deadline", fmt.Errorf("classify: %w", context.DeadlineExceeded), ActionRetry},
		{"malformed output", fmt.Errorf("gemini: %w", ErrMalformedOutput), ActionFallback},

		{"LLMError 429", &LLMError{Err: errors.New("slow down"), StatusCode: http.StatusTooManyRequests}, ActionRetry},
		{"LLMError 503", &LLMError{Err: errors.New("busy"), StatusCode: http.StatusServiceUnavailable}, ActionRetry},
		{"LLMError 401", &LLMError{Err: errors.New("who are you"), StatusCode: http.StatusUnauthorized}, ActionFail},
		{"LLMError 404", &LLMError{Err: errors.New("no such model"), StatusCode: http.StatusNotFound}, ActionFallback},
		{"LLMError without status uses message", &LLMError{Err: errors.New("quota exceeded")}, ActionFallback},

		{"quota", errors.New("monthly quota exceeded for project"), ActionFallback},
		{"rate limit", errors.New("Rate limit reached for requests"), ActionRetry},
		{"resource exhausted", errors.New("RESOURCE_EXHAUSTED"), ActionRetry},
		{"overloaded", errors.New("The model is overloaded"), ActionRetry},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ActionRetry},
		{"invalid api key", errors.New("Invalid API key provided"), ActionFail},
		{"permission denied", errors.New("PERMISSION_DENIED: permission denied"), ActionFail},
		{"model not found", errors.New("model gpt-x not found"), ActionFallback},
		{"bad request", errors.New("bad request: messages too long"), ActionFail},
		{"unknown error retries", errors.New("something odd"), ActionRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := ClassifyError(tt.err)
			if result != tt.expected {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestClassifyStatusCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code     int
		expected ErrorAction
	}{
		{http.StatusTooManyRequests, ActionRetry},
		{http.StatusRequestTimeout, ActionRetry},
		{http.StatusConflict, ActionRetry},
		{http.StatusInternalServerError, ActionRetry},
		{http.StatusBadGateway, ActionRetry},
		{http.StatusGatewayTimeout, ActionRetry},
		{http.StatusNotFound, ActionFallback},
		{http.StatusBadRequest, ActionFail},
		{http.StatusUnauthorized, ActionFail},
		{http.StatusForbidden, ActionFail},
		{http.StatusUnprocessableEntity, ActionFail},
		{0, ActionRetry},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			t.Parallel()
			if result := classifyStatusCode(tt.code); result != tt.expected {
				t.Errorf("classifyStatusCode(%d) = %v, want %v", tt.code, result, tt.expected)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		headers  http.Header
		expected time.Duration
	}{
		{"empty headers", http.Header{}, 0},
		{"retry-after-ms", http.Header{"Retry-After-Ms": []string{"1500"}}, 1500 * time.Millisecond},
		{"retry-after seconds", http.Header{"Retry-After": []string{"5"}}, 5 * time.Second},
		{"ms wins", http.Header{"Retry-After-Ms": []string{"500"}, "Retry-After": []string{"5"}}, 500 * time.Millisecond},
		{"invalid value", http.Header{"Retry-After": []string{"soon"}}, 0},
		{"date in the past", http.Header{"Retry-After": []string{"Wed, 21 Oct 2015 07:28:00 GMT"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if result := ParseRetryAfter(tt.headers); result != tt.expected {
				t.Errorf("ParseRetryAfter() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestLLMError(t *testing.T) {
	t.Parallel()
	base := errors.New("boom")
	err := &LLMError{Err: base, StatusCode: 429, Provider: ProviderGemini}
	if !errors.Is(err, base) {
		t.Error("Unwrap should return underlying error")
	}
	if got := err.Error(); got != "boom (status: 429)" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&LLMError{Err: base, Provider: ProviderOpenAI}).Error(); got != "boom" {
		t.Errorf("Error() = %q", got)
	}

	if WrapError(nil, ProviderGemini, 500) != nil {
		t.Error("WrapError(nil) should be nil")
	}
	var llmErr *LLMError
	if !errors.As(WrapError(base, ProviderOpenAI, 503), &llmErr) || llmErr.StatusCode != 503 {
		t.Error("WrapError should produce an LLMError carrying the status")
	}
}

func TestErrorActionString(t *testing.T) {
	t.Parallel()
	tests := map[ErrorAction]string{
		ActionRetry:     "retry",
		ActionFallback:  "fallback",
		ActionFail:      "fail",
		ErrorAction(99): "unknown",
	}
	for action, want := range tests {
		if got := action.String(); got != want {
			t.Errorf("ErrorAction(%d).String() = %q, want %q", action, got, want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{ErrMalformedOutput, "malformed_output"},
		{&LLMError{Err: errors.New("x"), StatusCode: 429}, "rate_limit"},
		{&LLMError{Err: errors.New("x"), StatusCode: 502}, "server_error"},
		{&LLMError{Err: errors.New("x"), StatusCode: 403}, "auth_error"},
		{errors.New("quota exceeded"), "fallback"},
		{errors.New("service unavailable"), "transient_error"},
		{errors.New("invalid api key"), "error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.err); got != tt.want {
			t.Errorf("statusLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHelperFunctions(t *testing.T) {
	t.Parallel()
	if !IsRetryable(errors.New("service unavailable")) {
		t.Error("should be retryable")
	}
	if IsRetryable(errors.New("invalid api key")) {
		t.Error("should not be retryable")
	}
	if !IsPermanent(errors.New("invalid api key")) {
		t.Error("should be permanent")
	}
	if IsPermanent(errors.New("quota exceeded")) {
		t.Error("quota should fall back, not fail")
	}
}
