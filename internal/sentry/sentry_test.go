package sentry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInitialize_EmptyToken(t *testing.T) {
	if err := Initialize(Config{Token: ""}); err != nil {
		t.Errorf("Expected nil error for empty token, got %v", err)
	}
}

func TestInitialize_MissingHost(t *testing.T) {
	if err := Initialize(Config{Token: "test-token", Host: ""}); err == nil {
		t.Error("Expected error when host is missing")
	}
}

func TestInitialize_ValidConfig(t *testing.T) {
	// Sentry uses global state, so no t.Parallel().
	err := Initialize(Config{
		Token:       "test-token",
		Host:        "errors.betterstack.com",
		Environment: "test",
	})
	if err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
	if !IsEnabled() {
		t.Error("Expected IsEnabled() to return true after initialization")
	}

	CaptureStorageError(context.Background(), "sqlite", "save", errors.New("disk full"))
	CaptureStorageError(context.Background(), "sqlite", "save", nil)
	Flush(100 * time.Millisecond)
}
