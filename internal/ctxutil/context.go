// Package ctxutil provides type-safe context value management.
// Uses private key types to prevent collisions.
package ctxutil

import (
	"context"
)

type contextKey string

const (
	sessionIDKey contextKey = "ctxutil.sessionID"
	channelKey   contextKey = "ctxutil.channel"
	requestIDKey contextKey = "ctxutil.requestID"
)

// WithSessionID adds a dialogue session ID to the context.
// Session ID keys loop history, slot state and per-session ordering.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSessionID retrieves the session ID from the context.
// Returns the session ID if found, empty string otherwise.
func GetSessionID(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey); v != nil {
		if sessionID, ok := v.(string); ok && sessionID != "" {
			return sessionID
		}
	}
	return ""
}

// MustGetSessionID retrieves the session ID from the context.
// Panics if the session ID is not found. Use this only where a session
// is guaranteed to exist (e.g., inside the turn pipeline).
func MustGetSessionID(ctx context.Context) string {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	if !ok || sessionID == "" {
		panic("ctxutil: sessionID not found")
	}
	return sessionID
}

// WithChannel records which inbound surface (api, line, cli) produced the turn.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// GetChannel retrieves the inbound channel from the context.
func GetChannel(ctx context.Context) string {
	if v := ctx.Value(channelKey); v != nil {
		if channel, ok := v.(string); ok {
			return channel
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context for tracing.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns the request ID and true if found, empty string and false otherwise.
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	return requestID, ok
}

// PreserveTracing creates a detached context that preserves tracing values.
// The new context is independent of the parent's cancellation and deadlines.
//
// Use for work that must outlive the parent request, such as LINE webhook
// processing that continues after the HTTP response is sent, or the final
// knowledge base flush during shutdown.
func PreserveTracing(ctx context.Context) context.Context {
	newCtx := context.Background()

	if sessionID := GetSessionID(ctx); sessionID != "" {
		newCtx = WithSessionID(newCtx, sessionID)
	}
	if channel := GetChannel(ctx); channel != "" {
		newCtx = WithChannel(newCtx, channel)
	}
	if requestID, ok := GetRequestID(ctx); ok && requestID != "" {
		newCtx = WithRequestID(newCtx, requestID)
	}

	return newCtx
}
