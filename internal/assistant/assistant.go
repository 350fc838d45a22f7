// Package assistant runs one dialogue turn end to end: loop check, curated
// special cases, hybrid slot extraction, the LLM classifier fallback, product
// retrieval and the reply.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/catalog"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ctxutil"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/extract"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/genai"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ratelimit"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/sentry"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/session"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
)

// MaxMessageRunes bounds an inbound message.
const MaxMessageRunes = 2000

// DefaultChannel labels turns whose context carries no channel.
const DefaultChannel = "api"

// Config holds the collaborators of an Assistant. Classifier, Generator,
// Catalog and Limiter are optional.
type Config struct {
	Patterns   *slots.Store
	Arbitrator *extract.Arbitrator
	Matcher    *specialcase.Matcher
	Detector   *loop.Detector
	Sessions   session.StateStore
	Tuning     *config.TuningStore

	Classifier genai.Classifier
	Generator  genai.Generator
	Catalog    catalog.Searcher
	Limiter    *ratelimit.KeyedLimiter

	TurnTimeout time.Duration // Default config.TurnProcessing
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
	Now         func() time.Time
}

// Assistant orchestrates dialogue turns. Turns of one session run one at a
// time in arrival order; different sessions run concurrently.
type Assistant struct {
	patterns   *slots.Store
	arbitrator *extract.Arbitrator
	matcher    *specialcase.Matcher
	detector   *loop.Detector
	sessions   session.StateStore
	tuning     *config.TuningStore

	classifier genai.Classifier
	generator  genai.Generator
	catalog    catalog.Searcher
	limiter    *ratelimit.KeyedLimiter

	turnTimeout time.Duration
	locks       *turnLocks
	metrics     *metrics.Metrics
	logger      *logger.Logger
	now         func() time.Time
}

// New creates an Assistant.
func New(cfg Config) (*Assistant, error) {
	switch {
	case cfg.Patterns == nil:
		return nil, errors.New("assistant: pattern store is required")
	case cfg.Arbitrator == nil:
		return nil, errors.New("assistant: arbitrator is required")
	case cfg.Matcher == nil:
		return nil, errors.New("assistant: special-case matcher is required")
	case cfg.Detector == nil:
		return nil, errors.New("assistant: loop detector is required")
	case cfg.Sessions == nil:
		return nil, errors.New("assistant: session store is required")
	}
	if cfg.Tuning == nil {
		cfg.Tuning = config.NewTuningStore(config.DefaultTuning())
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = config.TurnProcessing
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Assistant{
		patterns:    cfg.Patterns,
		arbitrator:  cfg.Arbitrator,
		matcher:     cfg.Matcher,
		detector:    cfg.Detector,
		sessions:    cfg.Sessions,
		tuning:      cfg.Tuning,
		classifier:  cfg.Classifier,
		generator:   cfg.Generator,
		catalog:     cfg.Catalog,
		limiter:     cfg.Limiter,
		turnTimeout: cfg.TurnTimeout,
		locks:       newTurnLocks(),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.WithModule("assistant"),
		now:         cfg.Now,
	}, nil
}

// LLMEnabled reports whether the classifier fallback is wired.
func (a *Assistant) LLMEnabled() bool {
	return a.classifier != nil
}

// HandleTurn processes one customer message. It always produces a usable
// reply; only invalid input and session or knowledge-base storage failures
// are returned as errors.
func (a *Assistant) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	start := a.now()
	sessionID := strings.TrimSpace(req.SessionID)
	message := strings.TrimSpace(req.Message)
	if sessionID == "" {
		return nil, domerrors.NewValidationError("session_id", "session id is required")
	}
	if message == "" {
		return nil, domerrors.NewValidationError("message", "message is required")
	}
	if n := len([]rune(message)); n > MaxMessageRunes {
		return nil, domerrors.WithUserMessage(
			domerrors.NewValidationError("message", fmt.Sprintf("message has %d characters, limit is %d", n, MaxMessageRunes)),
			msgTooLong)
	}

	channel := ctxutil.GetChannel(ctx)
	if channel == "" {
		channel = DefaultChannel
	}
	ctx = ctxutil.WithSessionID(ctx, sessionID)
	log := a.logger.WithSessionID(sessionID)

	if a.limiter != nil && !a.limiter.Allow(sessionID) {
		log.Warn("Session rate limit exceeded")
		a.metrics.RecordTurn(channel, string(OutcomeRateLimited), a.now().Sub(start).Seconds())
		return &TurnResponse{SessionID: sessionID, Reply: rateLimitedText, Outcome: OutcomeRateLimited}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.turnTimeout)
	defer cancel()

	unlock, err := a.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("wait for session turn: %w", err)
	}
	defer unlock()

	resp, err := a.handleLocked(ctx, sessionID, message)
	if err != nil {
		a.metrics.RecordTurn(channel, "error", a.now().Sub(start).Seconds())
		a.reportStorage(ctx, err)
		log.WithError(err).Error("Turn failed")
		return nil, err
	}
	a.metrics.RecordTurn(channel, string(resp.Outcome), a.now().Sub(start).Seconds())
	log.WithFields(map[string]any{
		"outcome": resp.Outcome,
		"updates": len(resp.Updates),
		"missing": len(resp.MissingSlots),
	}).Debug("Turn handled")
	return resp, nil
}

func (a *Assistant) handleLocked(ctx context.Context, sessionID, message string) (*TurnResponse, error) {
	schema := a.patterns.Schema()

	state, err := a.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Terminated {
		return a.respond(ctx, state, &TurnResponse{Reply: terminatedText, Outcome: OutcomeHandoff}, false)
	}

	loopState, err := a.detector.State(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if loopState == loop.StateLoopBreakOffered {
		return a.handleLoopChoice(ctx, schema, state, message)
	}

	isLoop, err := a.detector.Check(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}
	if isLoop {
		return a.respond(ctx, state, &TurnResponse{
			Reply:   loopBreakReply(),
			Outcome: OutcomeLoopBreak,
			Options: loopBreakOptions(),
		}, true)
	}

	resp := &TurnResponse{}
	filled := state.Clone()

	match, err := a.matcher.Match(ctx, message, sessionID)
	if err != nil {
		return nil, err
	}
	if match != nil {
		resp.CaseID = match.Case.CaseID
		resp.CaseResponse = match.Case.Response
		for _, slot := range schema.Slots() {
			value, ok := match.Case.InferredSlots[slot]
			if !ok || !schema.Has(slot, value) {
				continue
			}
			resp.Updates = a.apply(schema, filled, resp.Updates, slot, value, SourceSpecialCase, match.Score)
		}
	}

	var unset []string
	for _, slot := range schema.Slots() {
		if _, ok := filled.Slots[slot]; !ok {
			unset = append(unset, slot)
		}
	}
	if len(unset) > 0 {
		results := a.arbitrator.ExtractSlots(ctx, message, unset)
		for _, slot := range unset {
			r, ok := results[slot]
			if !ok {
				continue
			}
			resp.Updates = a.apply(schema, filled, resp.Updates, slot, r.Value, SourceHybrid, r.Confidence)
		}
	}

	missing := missingRequired(schema, filled.Slots)
	if len(resp.Updates) == 0 && len(missing) > 0 {
		if u, ok := a.classify(ctx, schema, missing[0], message); ok {
			resp.Updates = a.apply(schema, filled, resp.Updates, u.Slot, u.Value, SourceLLM, u.Confidence)
			missing = missingRequired(schema, filled.Slots)
		}
	}
	for _, u := range resp.Updates {
		a.metrics.RecordSlot(u.Slot, u.Source)
	}
	for _, slot := range missing {
		a.metrics.RecordUnresolved(slot)
	}

	recommending := len(missing) == 0
	if recommending {
		resp.Products = a.searchProducts(ctx, message, filled.Slots)
	}
	resp.MissingSlots = missing

	switch {
	case match != nil:
		resp.Outcome = OutcomeSpecialCase
	case recommending:
		resp.Outcome = OutcomeRecommend
	default:
		resp.Outcome = OutcomeElicit
	}
	hint := ""
	if match != nil {
		hint = caseMessage(match.Case.Response)
	}
	resp.Reply, resp.Generated = a.reply(ctx, schema, message, hint, filled.Slots, resp.Updates, missing, resp.Products, recommending)

	return a.respond(ctx, filled, resp, true)
}

// handleLoopChoice applies the answer to a pending loop-break offer. An
// unrecognised answer repeats the offer.
func (a *Assistant) handleLoopChoice(ctx context.Context, schema *slots.Schema, state *session.State, message string) (*TurnResponse, error) {
	choice, ok := parseChoice(message)
	if !ok {
		return a.respond(ctx, state, &TurnResponse{
			Reply:   loopBreakReply(),
			Outcome: OutcomeLoopBreak,
			Options: loopBreakOptions(),
		}, true)
	}

	if _, err := a.detector.Resolve(ctx, state.SessionID, choice); err != nil {
		return nil, err
	}
	a.logger.WithSessionID(state.SessionID).WithField("choice", choice).Info("Loop-break choice applied")

	switch choice {
	case loop.ChoiceRestart:
		fresh := session.NewState(state.SessionID, a.now())
		fresh.CreatedAt = state.CreatedAt
		missing := missingRequired(schema, fresh.Slots)
		return a.respond(ctx, fresh, &TurnResponse{
			Reply:        restartText + "\n" + templateReply(schema, nil, missing, nil, false),
			Outcome:      OutcomeRestart,
			MissingSlots: missing,
		}, true)

	case loop.ChoiceHuman:
		state.Terminated = true
		return a.respond(ctx, state, &TurnResponse{Reply: handoffText, Outcome: OutcomeHandoff}, true)

	default:
		products := a.searchProducts(ctx, "", state.Slots)
		return a.respond(ctx, state, &TurnResponse{
			Reply:        templateReply(schema, nil, nil, products, true),
			Outcome:      OutcomeRecommend,
			Products:     products,
			MissingSlots: missingRequired(schema, state.Slots),
		}, true)
	}
}

// apply sets slot on state and appends the update.
func (a *Assistant) apply(schema *slots.Schema, state *session.State, updates []SlotUpdate, slot, value, source string, confidence float64) []SlotUpdate {
	state.Slots[slot] = value
	state.SlotSources[slot] = source
	info, _ := schema.Info(slot)
	return append(updates, SlotUpdate{
		Slot:       slot,
		Value:      value,
		Label:      info.Label(value),
		Source:     source,
		Confidence: confidence,
	})
}

// classify asks the LLM for one slot. Any failure leaves the slot unresolved.
func (a *Assistant) classify(ctx context.Context, schema *slots.Schema, slot, message string) (SlotUpdate, bool) {
	if a.classifier == nil {
		return SlotUpdate{}, false
	}
	log := a.logger.WithSessionID(ctxutil.GetSessionID(ctx)).WithField("slot", slot)

	result, err := a.classifier.Classify(ctx, classifierPrompt(schema, slot, message))
	if err != nil {
		log.WithError(err).Warn("LLM classification unavailable")
		return SlotUpdate{}, false
	}
	floor := a.tuning.Load().Thresholds.ClassifierMinConfidence
	if !schema.Has(slot, result.Label) || result.Confidence < floor {
		log.WithFields(map[string]any{
			"label":      result.Label,
			"confidence": result.Confidence,
		}).Debug("LLM classification rejected")
		return SlotUpdate{}, false
	}
	return SlotUpdate{Slot: slot, Value: result.Label, Confidence: result.Confidence}, true
}

func (a *Assistant) searchProducts(ctx context.Context, query string, filled map[string]string) []catalog.Product {
	if a.catalog == nil {
		return nil
	}
	products, err := a.catalog.Search(ctx, query, catalog.FiltersFromSlots(filled))
	if err != nil {
		a.logger.WithError(err).Warn("Product search failed")
		return nil
	}
	return products
}

// reply uses the generator when configured and falls back to the template.
// A curated hint leads the template reply.
func (a *Assistant) reply(ctx context.Context, schema *slots.Schema, message, hint string, filled map[string]string, updates []SlotUpdate, missing []string, products []catalog.Product, recommending bool) (string, bool) {
	if a.generator != nil {
		text, err := a.generator.Generate(ctx, generatorPrompt(schema, message, hint, filled, missing, products))
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), true
		}
		if err != nil {
			a.logger.WithError(err).Warn("Reply generation failed, using template")
		}
	}
	text := templateReply(schema, updates, missing, products, recommending)
	if hint != "" {
		text = strings.TrimSpace(hint + "\n" + text)
	}
	return text, false
}

// respond stamps the response with the session view and, when persist is
// set, saves the state.
func (a *Assistant) respond(ctx context.Context, state *session.State, resp *TurnResponse, persist bool) (*TurnResponse, error) {
	if persist {
		state.Turns++
		state.UpdatedAt = a.now()
		if err := a.sessions.PutState(ctx, state); err != nil {
			return nil, domerrors.NewStorageError("session", "put_state", err)
		}
	}
	loopState, err := a.detector.State(ctx, state.SessionID)
	if err != nil {
		return nil, err
	}
	resp.SessionID = state.SessionID
	resp.Slots = maps.Clone(state.Slots)
	resp.LoopState = loopState.String()
	return resp, nil
}

func (a *Assistant) loadState(ctx context.Context, sessionID string) (*session.State, error) {
	state, err := a.sessions.GetState(ctx, sessionID)
	switch {
	case err == nil:
		return state.Clone(), nil
	case domerrors.IsNotFound(err):
		return session.NewState(sessionID, a.now()), nil
	default:
		return nil, domerrors.NewStorageError("session", "get_state", err)
	}
}

// Reset clears a session's slots and loop history.
func (a *Assistant) Reset(ctx context.Context, sessionID string) error {
	unlock, err := a.locks.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := a.detector.Reset(ctx, sessionID); err != nil {
		a.reportStorage(ctx, err)
		return err
	}
	if err := a.sessions.DeleteState(ctx, sessionID); err != nil && !domerrors.IsNotFound(err) {
		err = domerrors.NewStorageError("session", "delete_state", err)
		a.reportStorage(ctx, err)
		return err
	}
	a.logger.WithSessionID(sessionID).Info("Session reset")
	return nil
}

// Session returns a snapshot of a session, or errors.ErrNotFound when the
// session has neither state nor history.
func (a *Assistant) Session(ctx context.Context, sessionID string) (*SessionView, error) {
	state, err := a.sessions.GetState(ctx, sessionID)
	if err != nil && !domerrors.IsNotFound(err) {
		return nil, domerrors.NewStorageError("session", "get_state", err)
	}
	history, err := a.detector.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	loopState, err := a.detector.State(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil && len(history) == 0 {
		return nil, domerrors.ErrNotFound
	}
	if state == nil {
		state = session.NewState(sessionID, a.now())
	}
	return &SessionView{
		SessionID: sessionID,
		Slots:     maps.Clone(state.Slots),
		Sources:   maps.Clone(state.SlotSources),
		Turns:     state.Turns,
		LoopState: loopState.String(),
		History:   history,
	}, nil
}

func (a *Assistant) reportStorage(ctx context.Context, err error) {
	var se *domerrors.StorageError
	if !errors.As(err, &se) {
		return
	}
	a.metrics.RecordStorageError(se.Store, se.Op)
	sentry.CaptureStorageError(ctx, se.Store, se.Op, err)
}

// missingRequired lists unfilled required slots in elicitation order.
func missingRequired(schema *slots.Schema, filled map[string]string) []string {
	var missing []string
	for _, slot := range schema.Required() {
		if _, ok := filled[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	return missing
}
