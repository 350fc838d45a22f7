package ratelimit

import (
	"sync"
	"time"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
)

// KeyedConfig configures a KeyedLimiter instance.
type KeyedConfig struct {
	// Name identifies this limiter for metrics (e.g., "session", "line")
	Name string

	Burst      float64 // Maximum tokens (burst capacity)
	RefillRate float64 // Tokens refilled per second

	CleanupPeriod time.Duration // How often to drop idle keys

	// Optional metrics reporter
	Metrics *metrics.Metrics
}

// KeyedLimiter tracks rate limits per key (session id, LINE user id).
// It creates a separate bucket per key and drops idle buckets periodically.
type KeyedLimiter struct {
	mu      sync.RWMutex
	entries map[string]*Limiter
	config  KeyedConfig
	onDrop  func()
	stopCh  chan struct{}
	stopped sync.Once
}

// NewKeyedLimiter creates a per-key limiter and starts its cleanup loop.
// Callers must Stop it.
//
//	limiter := NewKeyedLimiter(KeyedConfig{
//	    Name:          "session",
//	    Burst:         10,
//	    RefillRate:    1,
//	    CleanupPeriod: 5 * time.Minute,
//	})
//	defer limiter.Stop()
func NewKeyedLimiter(cfg KeyedConfig) *KeyedLimiter {
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 5 * time.Minute
	}
	kl := &KeyedLimiter{
		entries: make(map[string]*Limiter),
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
	if cfg.Metrics != nil {
		kl.onDrop = func() {
			cfg.Metrics.RecordRateLimiterDrop(cfg.Name)
		}
	}

	go kl.cleanupLoop()

	return kl
}

// Allow consumes a token for key. Empty keys are never limited.
func (kl *KeyedLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}
	if kl.getOrCreate(key).Allow() {
		return true
	}
	if kl.onDrop != nil {
		kl.onDrop()
	}
	return false
}

func (kl *KeyedLimiter) getOrCreate(key string) *Limiter {
	kl.mu.RLock()
	l, ok := kl.entries[key]
	kl.mu.RUnlock()
	if ok {
		return l
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok = kl.entries[key]; ok {
		return l
	}
	l = New(kl.config.Burst, kl.config.RefillRate)
	kl.entries[key] = l
	return l
}

// GetAvailable returns the tokens left for key, or Burst for unseen keys.
func (kl *KeyedLimiter) GetAvailable(key string) float64 {
	kl.mu.RLock()
	l, ok := kl.entries[key]
	kl.mu.RUnlock()
	if !ok {
		return kl.config.Burst
	}
	return l.Available()
}

// GetActiveCount returns the number of tracked keys.
func (kl *KeyedLimiter) GetActiveCount() int {
	kl.mu.RLock()
	defer kl.mu.RUnlock()
	return len(kl.entries)
}

func (kl *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(kl.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-kl.stopCh:
			return
		case <-ticker.C:
			kl.mu.Lock()
			for key, l := range kl.entries {
				if l.IsFull() {
					delete(kl.entries, key)
				}
			}
			kl.mu.Unlock()
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (kl *KeyedLimiter) Stop() {
	kl.stopped.Do(func() { close(kl.stopCh) })
}
