package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/assistant"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ctxutil"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
)

// ChannelAPI labels turns that arrive over HTTP.
const ChannelAPI = "api"

func (s *Server) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), config.ReadinessCheck)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.WithError(err).WithField("dependency", name).Warn("Readiness check failed")
			deps[name] = "unavailable"
			ready = false
			continue
		}
		deps[name] = "ok"
	}

	body := gin.H{
		"status":       "ready",
		"dependencies": deps,
		"features":     s.features,
	}
	if s.knowledge != nil {
		body["special_cases"] = s.knowledge.Len()
	}
	if !ready {
		body["status"] = "not ready"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleTurn(c *gin.Context) {
	var req assistant.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	ctx := ctxutil.WithChannel(c.Request.Context(), ChannelAPI)
	resp, err := s.assistant.HandleTurn(ctx, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getSession(c *gin.Context) {
	view, err := s.assistant.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) resetSession(c *gin.Context) {
	if err := s.assistant.Reset(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) kbStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.knowledge.Stats())
}

func (s *Server) listCases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cases": s.knowledge.Cases()})
}

type learnRequest struct {
	Query         string            `json:"query"`
	Variants      []string          `json:"variants"`
	InferredSlots map[string]string `json:"inferred_slots"`
	Response      json.RawMessage   `json:"response"`
}

func (s *Server) learnCase(c *gin.Context) {
	var req learnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	schema := s.patterns.Schema()
	for slot, value := range req.InferredSlots {
		if !schema.Has(slot, value) {
			s.writeError(c, domerrors.NewValidationError("inferred_slots", fmt.Sprintf("%s=%s is not an allowed slot value", slot, value)))
			return
		}
	}

	learned, err := s.knowledge.Learn(c.Request.Context(), specialcase.LearnRequest{
		Query:         req.Query,
		Variants:      req.Variants,
		InferredSlots: req.InferredSlots,
		Response:      req.Response,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, learned)
}

func (s *Server) flushKnowledge(c *gin.Context) {
	if err := s.knowledge.Flush(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.knowledge.Stats())
}

// reload re-reads tuning and the pattern file. Tuning is validated first so a
// bad environment leaves both unchanged.
func (s *Server) reload(c *gin.Context) {
	tuning := s.tuningSource()
	if err := tuning.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	def := slots.Default()
	if s.patternFile != "" {
		loaded, err := slots.LoadFile(s.patternFile)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		def = loaded
	}

	if err := s.tuning.Store(tuning); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	report := s.patterns.Reload(def)

	dropped := make([]string, 0, len(report.Errors))
	for _, e := range report.Errors {
		dropped = append(dropped, e.Error())
	}
	s.logger.WithField("patterns", report.Compiled).WithField("dropped", len(dropped)).Info("Configuration reloaded")
	c.JSON(http.StatusOK, gin.H{
		"patterns_compiled": report.Compiled,
		"patterns_dropped":  dropped,
		"tuning":            tuning,
	})
}

// writeError maps domain errors to HTTP statuses. Storage failures were
// already reported by the component that hit them.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case domerrors.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case domerrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domerrors.ErrDuplicateCase):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case domerrors.IsStorage(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": domerrors.MsgUnavailable})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": domerrors.MsgUnavailable})
	default:
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": domerrors.UserMessage(err)})
	}
}
