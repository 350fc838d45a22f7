// Package config provides centralized timeout constants for the application.
//
// Every call that leaves the process (embedding backend, LLM, Redis, R2) runs
// under one of these deadlines. When a deadline expires the caller applies its
// degrade policy instead of failing the turn.
package config

import "time"

// HTTP server timeouts
const (
	// TurnProcessing bounds the whole turn pipeline for one inbound message.
	// Must exceed EmbeddingCall + ClassifierCall + GeneratorCall in the worst case.
	TurnProcessing = 45 * time.Second

	// HTTPRead is the HTTP server read timeout. Chat payloads are small.
	HTTPRead = 10 * time.Second

	// HTTPWrite should accommodate TurnProcessing + response serialization.
	HTTPWrite = 50 * time.Second

	// HTTPIdle is the HTTP server idle timeout for keep-alive connections.
	HTTPIdle = 120 * time.Second

	// ReadinessCheck bounds all dependency probes of one /readyz request.
	ReadinessCheck = 5 * time.Second
)

// External call timeouts
const (
	// EmbeddingCall is the deadline for a single embedding request.
	// On expiry the similarity engine falls back to character overlap.
	EmbeddingCall = 3 * time.Second

	// ClassifierCall is the deadline for one LLM slot classification, retries included.
	// On expiry the slot stays unresolved.
	ClassifierCall = 8 * time.Second

	// GeneratorCall is the deadline for response generation.
	// On expiry a template response is rendered.
	GeneratorCall = 20 * time.Second

	// SessionStoreCall bounds a session history read or write.
	SessionStoreCall = 2 * time.Second

	// SnapshotTransfer bounds an R2 upload or download of the knowledge base.
	SnapshotTransfer = 60 * time.Second
)

// Database timeouts
const (
	// DatabaseBusyTimeout is SQLite busy_timeout pragma value.
	DatabaseBusyTimeout = 30 * time.Second

	// DatabaseConnMaxLifetime is the maximum lifetime of database connections.
	DatabaseConnMaxLifetime = time.Hour
)

// Background job intervals
const (
	// KBFlushInterval is how often a dirty knowledge base is written back.
	KBFlushInterval = 30 * time.Second

	// SessionSweepInterval is how often idle loop histories are evicted from memory.
	SessionSweepInterval = 5 * time.Minute

	// RateLimiterCleanupInterval is how often idle per-session rate limiters are dropped.
	RateLimiterCleanupInterval = 5 * time.Minute
)

// Graceful shutdown
const (
	// GracefulShutdown is the timeout for graceful server shutdown,
	// including the final knowledge base flush.
	GracefulShutdown = 30 * time.Second
)
