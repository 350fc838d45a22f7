// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/api"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/assistant"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/buildinfo"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/extract"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ratelimit"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/sentry"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/session"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/snapshot"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/storage"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/webhook"
)

// lineReplyRPS is the global Messaging API reply budget.
const lineReplyRPS = 100

// Application manages the application lifecycle and dependencies.
type Application struct {
	cfg      *config.Config
	logger   *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db        *storage.DB        // nil unless a sqlite backend is selected
	redis     *session.RedisStore // nil unless SessionBackend is redis
	snapshots *snapshot.Manager   // nil unless KBBackend is r2
	purge     func(ctx context.Context) (int64, error)

	knowledge      *specialcase.Knowledge
	detector       *loop.Detector
	limiter        *ratelimit.KeyedLimiter
	assistant      *assistant.Assistant
	webhookHandler *webhook.Handler // nil unless LINE credentials are set
	handler        http.Handler
	server         *http.Server

	wg sync.WaitGroup // Background jobs
}

// Initialize creates and initializes a new application with all dependencies.
func Initialize(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.NewWithOptions(cfg.LogLevel, os.Stdout, logger.Options{
		BetterstackToken: cfg.BetterStackToken,
	})
	log = log.WithField("service", "sales-assistant")
	if host, err := os.Hostname(); err == nil && host != "" {
		log = log.WithField("instance_id", host)
	}

	// Package-level slog calls pick up session and request ids through ContextHandler.
	slog.SetDefault(log.Logger)

	log.WithField("release", buildinfo.Release()).Info("Initializing application...")

	if err := sentry.Initialize(sentry.Config{
		Token:       cfg.SentryToken,
		Host:        cfg.SentryHost,
		Environment: cfg.SentryEnvironment,
		Release:     buildinfo.Release(),
		SampleRate:  cfg.SentrySampleRate,
	}); err != nil {
		log.WithError(err).Warn("Sentry initialization failed; continuing without error reporting")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)

	a := &Application{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		metrics:  metrics.New(registry),
	}
	if err := a.build(ctx); err != nil {
		a.closeResources()
		return nil, err
	}

	log.Info("Initialization complete")
	return a, nil
}

// build wires every component. On error the caller releases whatever was opened.
func (a *Application) build(ctx context.Context) error {
	cfg, log, m := a.cfg, a.logger, a.metrics

	tuning := config.NewTuningStore(cfg.Tuning)

	patterns, err := buildPatterns(cfg, log)
	if err != nil {
		return err
	}

	engine := buildSimilarity(ctx, cfg, m, log)

	if cfg.KBBackend == config.BackendSQLite || cfg.SessionBackend == config.BackendSQLite {
		a.db, err = storage.New(ctx, cfg.SQLitePath(), log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		log.WithField("path", cfg.SQLitePath()).Info("Database connected")
	}

	kbStore, err := a.buildKnowledgeStore(ctx)
	if err != nil {
		return err
	}
	a.knowledge = specialcase.NewKnowledge(kbStore, specialcase.KnowledgeOptions{
		Engine:  engine,
		Tuning:  tuning,
		Metrics: m,
		Logger:  log,
	})
	if err := a.knowledge.Load(ctx, true); err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	log.WithField("backend", cfg.KBBackend).WithField("cases", a.knowledge.Len()).Info("Knowledge base loaded")

	sessions, err := a.buildSessionStore(ctx)
	if err != nil {
		return err
	}

	a.detector = loop.NewDetector(loop.Options{
		Store:         sessions,
		Engine:        engine,
		Tuning:        tuning,
		TTL:           cfg.SessionTTL,
		CleanupPeriod: config.SessionSweepInterval,
		Metrics:       m,
		Logger:        log,
	})
	matcher := specialcase.NewMatcher(a.knowledge, specialcase.MatcherOptions{
		Engine:   engine,
		Tuning:   tuning,
		Recorder: a.detector,
		Metrics:  m,
		Logger:   log,
	})
	arbitrator := extract.NewArbitrator(patterns, engine, tuning, m, log)

	index, err := buildCatalog(ctx, cfg, log)
	if err != nil {
		return err
	}

	a.limiter = ratelimit.NewKeyedLimiter(ratelimit.KeyedConfig{
		Name:          "session",
		Burst:         float64(cfg.SessionRateBurst),
		RefillRate:    cfg.SessionRateRPS,
		CleanupPeriod: config.RateLimiterCleanupInterval,
		Metrics:       m,
	})

	acfg := assistant.Config{
		Patterns:   patterns,
		Arbitrator: arbitrator,
		Matcher:    matcher,
		Detector:   a.detector,
		Sessions:   sessions,
		Tuning:     tuning,
		Catalog:    index,
		Limiter:    a.limiter,
		Metrics:    m,
		Logger:     log,
	}
	llm := buildLLM(ctx, cfg, m, log)
	// Chains are concrete pointers; a nil one must not become a non-nil interface.
	if llm.classifier != nil {
		acfg.Classifier = llm.classifier
	}
	if llm.generator != nil {
		acfg.Generator = llm.generator
	}
	a.assistant, err = assistant.New(acfg)
	if err != nil {
		return fmt.Errorf("assistant: %w", err)
	}

	var lineHandler gin.HandlerFunc
	if cfg.LineEnabled() {
		a.webhookHandler, err = webhook.NewHandler(webhook.HandlerConfig{
			ChannelSecret: cfg.LineChannelSecret,
			ChannelToken:  cfg.LineChannelToken,
			Assistant:     a.assistant,
			Limiter:       ratelimit.NewPerSecond(lineReplyRPS),
			Metrics:       m,
			Logger:        log,
		})
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		lineHandler = a.webhookHandler.Handle
		log.Info("LINE channel enabled")
	}

	gin.SetMode(gin.ReleaseMode)
	a.handler = api.NewRouter(api.Config{
		Assistant:       a.assistant,
		Knowledge:       a.knowledge,
		Patterns:        patterns,
		Tuning:          tuning,
		Registry:        a.registry,
		Logger:          log,
		PatternFile:     cfg.PatternFile,
		AdminToken:      cfg.AdminToken,
		MetricsUsername: cfg.MetricsUsername,
		MetricsPassword: cfg.MetricsPassword,
		Checks:          a.readinessChecks(),
		Features: map[string]bool{
			"embeddings":     engine.Enabled(),
			"llm_classifier": llm.classifier != nil,
			"llm_generator":  llm.generator != nil,
			"line":           a.webhookHandler != nil,
			"r2_snapshot":    a.snapshots != nil,
		},
		LineWebhook: lineHandler,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: config.HTTPRead,
		ReadTimeout:       config.HTTPRead,
		WriteTimeout:      config.HTTPWrite,
		IdleTimeout:       config.HTTPIdle,
	}
	return nil
}

func (a *Application) readinessChecks() map[string]api.ReadinessCheck {
	checks := make(map[string]api.ReadinessCheck)
	if a.db != nil {
		checks["database"] = a.db.Ping
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	return checks
}

// Handler returns the HTTP handler serving every route.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve runs the HTTP server and background jobs until ctx is done or the
// server fails.
func (a *Application) Serve(ctx context.Context) error {
	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	a.startBackgroundJobs(jobsCtx)

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		cancelJobs()
		a.wg.Wait()
		a.closeResources()
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", ln.Addr().String()).Info("Starting HTTP server")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			a.logger.WithError(err).Error("HTTP server error")
			runErr = err
		}
	}

	return errors.Join(runErr, a.shutdown(cancelJobs))
}

// shutdown stops intake first so the final knowledge base flush sees every
// learned case: HTTP server, then webhook events, then background jobs.
func (a *Application) shutdown(cancelJobs context.CancelFunc) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.logger.Info("Stopping HTTP server...")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("HTTP server shutdown error")
	}

	if a.webhookHandler != nil {
		a.logger.Info("Waiting for webhook events to complete...")
		if err := a.webhookHandler.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("Webhook handler shutdown timeout")
		}
	}

	a.logger.Info("Waiting for background jobs to finish...")
	start := time.Now()
	cancelJobs()
	a.wg.Wait()
	a.logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("All background jobs completed")

	a.closeResources()
	sentry.Flush(2 * time.Second)
	a.logger.Info("Shutdown complete")
	return nil
}

// closeResources releases everything opened by build. Safe on a partially
// built application.
func (a *Application) closeResources() {
	if a.detector != nil {
		a.detector.Stop()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).WithField("component", "redis").Error("Component close error")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).WithField("component", "database").Error("Component close error")
		}
	}
}
