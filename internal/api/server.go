// Package api exposes the assistant over HTTP: the chat turn endpoint,
// session inspection, knowledge base administration, health probes and
// Prometheus metrics.
package api

import (
	"context"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/assistant"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/sentry"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Config holds the dependencies of the HTTP layer.
type Config struct {
	Assistant *assistant.Assistant
	Knowledge *specialcase.Knowledge
	Patterns  *slots.Store
	Tuning    *config.TuningStore
	Registry  *prometheus.Registry
	Logger    *logger.Logger

	// PatternFile is re-read on admin reload; empty reloads the built-in schema.
	PatternFile string
	// TuningSource produces fresh tuning on admin reload. Defaults to config.LoadTuning.
	TuningSource func() config.Tuning

	AdminToken      string // Empty disables the admin routes
	MetricsUsername string
	MetricsPassword string // Empty leaves /metrics unauthenticated

	Checks   map[string]ReadinessCheck // Named readiness probes, e.g. "database"
	Features map[string]bool           // Reported by /readyz

	LineWebhook gin.HandlerFunc // Optional LINE callback
}

// Server serves the HTTP API.
type Server struct {
	assistant    *assistant.Assistant
	knowledge    *specialcase.Knowledge
	patterns     *slots.Store
	tuning       *config.TuningStore
	patternFile  string
	tuningSource func() config.Tuning
	checks       map[string]ReadinessCheck
	features     map[string]bool
	logger       *logger.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.TuningSource == nil {
		cfg.TuningSource = config.LoadTuning
	}
	s := &Server{
		assistant:    cfg.Assistant,
		knowledge:    cfg.Knowledge,
		patterns:     cfg.Patterns,
		tuning:       cfg.Tuning,
		patternFile:  cfg.PatternFile,
		tuningSource: cfg.TuningSource,
		checks:       cfg.Checks,
		features:     cfg.Features,
		logger:       cfg.Logger.WithModule("api"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if sentry.IsEnabled() {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(securityHeadersMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(s.logger))

	router.GET("/livez", s.livenessCheck)
	router.HEAD("/livez", s.livenessCheck)
	router.GET("/readyz", s.readinessCheck)
	router.HEAD("/readyz", s.readinessCheck)

	if cfg.Registry != nil {
		router.GET("/metrics",
			metricsAuthMiddleware(cfg.MetricsPassword != "", cfg.MetricsUsername, cfg.MetricsPassword),
			gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}
	if cfg.LineWebhook != nil {
		router.POST("/webhook/line", cfg.LineWebhook)
	}

	v1 := router.Group("/api/v1")
	v1.POST("/turn", s.handleTurn)
	v1.GET("/sessions/:id", s.getSession)
	v1.DELETE("/sessions/:id", s.resetSession)
	v1.GET("/kb/stats", s.kbStats)

	admin := v1.Group("", adminAuthMiddleware(cfg.AdminToken))
	admin.POST("/kb/learn", s.learnCase)
	admin.GET("/kb/cases", s.listCases)
	admin.POST("/kb/flush", s.flushKnowledge)
	admin.POST("/admin/reload", s.reload)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return router
}
