package genai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedOutput is returned when a model answers without a usable
// structured result. The chain moves on to the next model.
var ErrMalformedOutput = errors.New("genai: malformed model output")

// ErrNotConfigured is returned by a chain with no usable model.
var ErrNotConfigured = errors.New("genai: no provider configured")

// ErrorAction defines the action to take based on error type.
type ErrorAction int

const (
	// ActionRetry retries the same model after backoff.
	ActionRetry ErrorAction = iota
	// ActionFallback moves on to the next model or provider.
	ActionFallback
	// ActionFail stops the chain.
	ActionFail
)

// String returns a human-readable string for the error action.
func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFallback:
		return "fallback"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// LLMError wraps an error with the provider and HTTP status.
type LLMError struct {
	Err        error
	StatusCode int
	Provider   Provider
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	if e.StatusCode > 0 {
		return e.Err.Error() + " (status: " + strconv.Itoa(e.StatusCode) + ")"
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *LLMError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with provider and status code information.
func WrapError(err error, provider Provider, statusCode int) error {
	if err == nil {
		return nil
	}
	return &LLMError{Err: err, StatusCode: statusCode, Provider: provider}
}

// messageRules map lower-cased error text to an action, checked in order.
// Quota comes before rate limit since both mention limits.
var messageRules = []struct {
	action  ErrorAction
	needles []string
}{
	{ActionFallback, []string{"quota", "daily limit", "monthly limit", "billing"}},
	{ActionRetry, []string{"rate limit", "too many requests", "resource_exhausted", "429"}},
	{ActionRetry, []string{"unavailable", "overloaded", "capacity", "internal server error",
		"bad gateway", "gateway timeout", "500", "502", "503", "504"}},
	{ActionRetry, []string{"408", "409", "timeout", "deadline", "connection"}},
	{ActionFail, []string{"401", "unauthorized", "unauthenticated", "invalid api key"}},
	{ActionFail, []string{"403", "forbidden", "permission denied"}},
	{ActionFallback, []string{"404", "not found", "model_not_found"}},
	{ActionFail, []string{"400", "invalid", "bad request", "malformed", "422", "unprocessable"}},
}

// ClassifyError decides between retry, fallback and fail:
//   - transient errors (429, 5xx, network) retry
//   - quota exhaustion, unknown models and malformed output fall back
//   - auth and request errors fail
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionFail
	}
	if errors.Is(err, context.Canceled) {
		return ActionFail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ActionRetry
	}
	if errors.Is(err, ErrMalformedOutput) {
		return ActionFallback
	}

	var llmErr *LLMError
	if errors.As(err, &llmErr) && llmErr.StatusCode > 0 {
		return classifyStatusCode(llmErr.StatusCode)
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		if containsAny(msg, rule.needles...) {
			return rule.action
		}
	}
	return ActionRetry
}

func classifyStatusCode(statusCode int) ErrorAction {
	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusConflict,
		statusCode >= 500 && statusCode < 600:
		return ActionRetry
	case statusCode == http.StatusNotFound:
		return ActionFallback // Model not served by this provider
	case statusCode >= 400 && statusCode < 500:
		return ActionFail
	default:
		return ActionRetry
	}
}

// ParseRetryAfter parses retry-after-ms or retry-after (seconds or HTTP
// date). Returns 0 when absent or invalid.
func ParseRetryAfter(headers http.Header) time.Duration {
	if msStr := headers.Get("retry-after-ms"); msStr != "" {
		if ms, err := strconv.Atoi(msStr); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if secStr := headers.Get("retry-after"); secStr != "" {
		if sec, err := strconv.Atoi(secStr); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
		if t, err := http.ParseTime(secStr); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}

// IsRetryable returns true if the error is transient.
func IsRetryable(err error) bool {
	return ClassifyError(err) == ActionRetry
}

// IsPermanent returns true if the error should stop the chain.
func IsPermanent(err error) bool {
	return ClassifyError(err) == ActionFail
}

// statusLabel maps an error to a metric status label.
func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, ErrMalformedOutput) {
		return "malformed_output"
	}

	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		switch {
		case llmErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limit"
		case llmErr.StatusCode >= 500:
			return "server_error"
		case llmErr.StatusCode == http.StatusUnauthorized || llmErr.StatusCode == http.StatusForbidden:
			return "auth_error"
		case llmErr.StatusCode == http.StatusBadRequest:
			return "invalid_request"
		}
	}

	switch ClassifyError(err) {
	case ActionFallback:
		return "fallback"
	case ActionRetry:
		return "transient_error"
	default:
		return "error"
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
