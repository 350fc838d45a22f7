// Package snapshot publishes the special-case knowledge base to R2 as a
// zstd-compressed JSON document and keeps replicas in sync by polling the
// object's ETag.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/r2client"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
)

// maxSnapshotBytes bounds the decoded document size.
const maxSnapshotBytes = 64 << 20

// ErrLocked is returned by Save when another replica is publishing.
var ErrLocked = errors.New("snapshot: publish lock held by another replica")

// Objects is the object storage used by the manager. *r2client.Client
// implements it.
type Objects interface {
	r2client.ObjectStore
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	HeadObject(ctx context.Context, key string) (string, error)
}

// Config holds snapshot manager configuration.
type Config struct {
	SnapshotKey  string        // Object key, e.g. "knowledge-base/special_cases.json.zst"
	LockKey      string        // Empty = SnapshotKey + ".lock"
	LockTTL      time.Duration // Empty = config.SnapshotTransfer
	PollInterval time.Duration // Empty = config.KBFlushInterval
}

// Reloader is the knowledge base side of a poll.
type Reloader interface {
	Dirty() bool
	Load(ctx context.Context, seed bool) error
}

// Manager stores knowledge base snapshots in R2. It implements
// specialcase.KnowledgeBaseStore.
type Manager struct {
	objects Objects
	config  Config
	logger  *logger.Logger

	mu          sync.RWMutex
	currentETag string
}

var _ specialcase.KnowledgeBaseStore = (*Manager)(nil)

// New creates a new snapshot manager.
func New(objects Objects, cfg Config, log *logger.Logger) *Manager {
	if cfg.LockKey == "" {
		cfg.LockKey = cfg.SnapshotKey + ".lock"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = config.SnapshotTransfer
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.KBFlushInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{objects: objects, config: cfg, logger: log.WithModule("snapshot")}
}

// Load downloads and decodes the latest snapshot. A missing object returns
// errors.ErrNotFound.
func (m *Manager) Load(ctx context.Context) (*specialcase.Snapshot, error) {
	body, etag, err := m.objects.Download(ctx, m.config.SnapshotKey)
	if err != nil {
		if domerrors.IsNotFound(err) {
			return nil, domerrors.ErrNotFound
		}
		return nil, domerrors.NewStorageError("snapshot", "download", err)
	}
	defer func() { _ = body.Close() }()

	data, err := r2client.Decompress(body, maxSnapshotBytes)
	if err != nil {
		return nil, domerrors.NewStorageError("snapshot", "decompress", err)
	}
	snap, err := specialcase.DecodeSnapshot(data, m.logger)
	if err != nil {
		return nil, domerrors.NewStorageError("snapshot", "decode", err)
	}

	m.setETag(etag)
	m.logger.WithFields(map[string]any{"cases": len(snap.Cases), "etag": etag}).Info("Knowledge base snapshot downloaded")
	return snap, nil
}

// Save compresses and uploads snap under the publish lock.
func (m *Manager) Save(ctx context.Context, snap *specialcase.Snapshot) error {
	if snap == nil {
		return domerrors.NewValidationError("snapshot", "nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	compressed, err := r2client.Compress(data)
	if err != nil {
		return domerrors.NewStorageError("snapshot", "compress", err)
	}

	lock := r2client.NewLock(m.objects, m.config.LockKey, m.config.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return domerrors.NewStorageError("snapshot", "lock", err)
	}
	if !acquired {
		return ErrLocked
	}
	defer func() {
		// Release even when ctx is already done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.SnapshotTransfer)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			m.logger.WithError(err).Warn("Failed to release snapshot lock")
		}
	}()

	etag, err := m.objects.Upload(ctx, m.config.SnapshotKey, bytes.NewReader(compressed), "application/zstd")
	if err != nil {
		return domerrors.NewStorageError("snapshot", "upload", err)
	}
	m.setETag(etag)
	m.logger.WithFields(map[string]any{
		"cases":      len(snap.Cases),
		"raw_bytes":  len(data),
		"compressed": len(compressed),
	}).Info("Knowledge base snapshot uploaded")
	return nil
}

// CurrentETag returns the ETag of the last snapshot loaded or saved.
func (m *Manager) CurrentETag() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentETag
}

func (m *Manager) setETag(etag string) {
	m.mu.Lock()
	m.currentETag = etag
	m.mu.Unlock()
}

// PollOnce reloads kb when the remote ETag differs from the last one seen.
// Reloads are skipped while kb holds unflushed changes. It reports whether
// a reload happened.
func (m *Manager) PollOnce(ctx context.Context, kb Reloader) (bool, error) {
	remote, err := m.objects.HeadObject(ctx, m.config.SnapshotKey)
	if err != nil {
		if domerrors.IsNotFound(err) {
			return false, nil
		}
		return false, domerrors.NewStorageError("snapshot", "head", err)
	}
	current := m.CurrentETag()
	if remote == current {
		return false, nil
	}
	if kb.Dirty() {
		m.logger.WithField("remote_etag", remote).Debug("Snapshot changed but local knowledge base is dirty, deferring reload")
		return false, nil
	}

	m.logger.WithFields(map[string]any{"old_etag": current, "new_etag": remote}).Info("New knowledge base snapshot detected")
	if err := kb.Load(ctx, false); err != nil {
		return false, err
	}
	return true, nil
}

// Watch polls until ctx is done.
func (m *Manager) Watch(ctx context.Context, kb Reloader) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	m.logger.WithFields(map[string]any{
		"interval":     m.config.PollInterval,
		"snapshot_key": m.config.SnapshotKey,
	}).Info("Snapshot polling started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Snapshot polling stopped")
			return
		case <-ticker.C:
			if _, err := m.PollOnce(ctx, kb); err != nil && ctx.Err() == nil {
				m.logger.WithError(err).Warn("Snapshot poll failed")
			}
		}
	}
}
