package app

import (
	"context"
	"time"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/sentry"
)

// startBackgroundJobs launches the knowledge base flusher, the session purge
// loop and, for the r2 backend, the snapshot watcher. All stop with ctx; the
// flusher writes a final snapshot on the way out.
func (a *Application) startBackgroundJobs(ctx context.Context) {
	a.wg.Go(func() {
		a.logger.Debug("Knowledge base flusher started")
		defer a.logger.Debug("Knowledge base flusher stopped")
		a.knowledge.Run(ctx, a.cfg.KBFlushInterval)
	})

	if a.purge != nil {
		a.wg.Go(func() {
			a.purgeSessions(ctx, config.SessionSweepInterval)
		})
	}

	if a.snapshots != nil {
		a.wg.Go(func() {
			a.snapshots.Watch(ctx, a.knowledge)
		})
	}
}

// purgeSessions drops expired session rows on every tick.
func (a *Application) purgeSessions(ctx context.Context, interval time.Duration) {
	a.logger.Debug("Session purge job started")
	defer a.logger.Debug("Session purge job stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runSessionPurge(ctx)
		}
	}
}

func (a *Application) runSessionPurge(ctx context.Context) {
	start := time.Now()
	removed, err := a.purge(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.WithError(err).Error("Session purge failed")
			a.metrics.RecordStorageError("session", "purge")
			sentry.CaptureStorageError(ctx, "session", "purge", err)
		}
		return
	}
	a.logger.WithField("removed", removed).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Debug("Session purge completed")
}
