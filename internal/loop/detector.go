// Package loop detects conversational loops: a session repeating essentially
// the same utterance without progress. It owns the per-session bounded
// history and the loop-break state machine.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
)

// Turn is one recorded utterance.
type Turn struct {
	Utterance     string    `json:"utterance"`
	Timestamp     time.Time `json:"timestamp"`
	MatchedCaseID string    `json:"matched_case_id,omitempty"`
	Similarity    float64   `json:"similarity"`
}

// Record is the persisted loop state of one session.
type Record struct {
	State   State  `json:"state"`
	History []Turn `json:"history"`
}

// Clone returns a copy that shares no turns with r.
func (r *Record) Clone() *Record {
	return &Record{State: r.State, History: append([]Turn(nil), r.History...)}
}

// SessionStore persists loop records. A missing record reads as
// errors.ErrNotFound.
type SessionStore interface {
	GetRecord(ctx context.Context, sessionID string) (*Record, error)
	PutRecord(ctx context.Context, sessionID string, record *Record) error
	DeleteRecord(ctx context.Context, sessionID string) error
}

// State is the loop-break state of a session.
type State int

const (
	StateNormal State = iota
	StateLoopBreakOffered
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateLoopBreakOffered:
		return "loop_break_offered"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "normal":
		*s = StateNormal
	case "loop_break_offered":
		*s = StateLoopBreakOffered
	case "terminated":
		*s = StateTerminated
	default:
		return fmt.Errorf("unknown loop state %q", text)
	}
	return nil
}

// Choice is an escape option offered when a loop is detected.
type Choice string

const (
	ChoiceRecommend Choice = "recommend" // Recommend products for the slots known so far
	ChoiceRestart   Choice = "restart"   // Clear slots and history
	ChoiceHuman     Choice = "human"     // Hand off to a human agent
)

// Choices lists the loop-break options in display order.
var Choices = []Choice{ChoiceRecommend, ChoiceRestart, ChoiceHuman}

// Options configures a Detector.
type Options struct {
	Store         SessionStore // Optional; records stay in memory when nil
	Engine        *similarity.Engine
	Tuning        *config.TuningStore
	TTL           time.Duration // Idle sessions are dropped from memory after TTL
	CleanupPeriod time.Duration
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	Now           func() time.Time
}

// Detector tracks per-session histories and loop-break state. Sessions are
// locked individually; no lock is held while embedding. With a store, every
// access reloads the record, so replicas sharing the store agree on it.
type Detector struct {
	mu       sync.RWMutex
	sessions map[string]*session

	store   SessionStore
	engine  *similarity.Engine
	tuning  *config.TuningStore
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time

	stopCh  chan struct{}
	stopped sync.Once
}

type session struct {
	mu       sync.Mutex
	history  []Turn
	state    State
	lastSeen time.Time
}

// NewDetector creates a Detector and starts its idle-session cleanup loop.
// Callers must Stop it.
func NewDetector(opts Options) *Detector {
	if opts.Engine == nil {
		opts.Engine = similarity.New(nil, similarity.Options{})
	}
	if opts.Tuning == nil {
		opts.Tuning = config.NewTuningStore(config.DefaultTuning())
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.CleanupPeriod <= 0 {
		opts.CleanupPeriod = config.SessionSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Detector{
		sessions: make(map[string]*session),
		store:    opts.Store,
		engine:   opts.Engine,
		tuning:   opts.Tuning,
		ttl:      opts.TTL,
		metrics:  opts.Metrics,
		logger:   opts.Logger.WithModule("loop"),
		now:      opts.Now,
		stopCh:   make(chan struct{}),
	}
	go d.cleanupLoop(opts.CleanupPeriod)
	return d
}

// Check compares query with the last window turns of the session, then
// records it. It reports a loop when at least MaxRepeats prior turns are
// similar at or above the loop threshold, and moves the session to
// StateLoopBreakOffered. Only storage failures are returned.
func (d *Detector) Check(ctx context.Context, sessionID, query string) (bool, error) {
	tuning := d.tuning.Load()

	s, err := d.acquire(ctx, sessionID)
	if err != nil {
		return false, err
	}
	window := lastN(s.history, tuning.Loop.Window)
	s.mu.Unlock()

	prior := make([]string, len(window))
	for i, t := range window {
		prior[i] = t.Utterance
	}
	sims := d.engine.Batch(ctx, query, prior)

	repeats, best := 0, 0.0
	for _, sim := range sims {
		if sim >= tuning.Thresholds.LoopDetection {
			repeats++
		}
		best = max(best, sim)
	}
	isLoop := repeats >= tuning.Loop.MaxRepeats

	s, err = d.acquire(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	s.append(Turn{Utterance: query, Timestamp: d.now(), Similarity: best}, tuning.Loop.HistoryCap)
	if isLoop && s.state != StateTerminated {
		s.state = StateLoopBreakOffered
		d.metrics.RecordLoop()
		d.logger.WithSessionID(sessionID).
			WithField("repeats", repeats).
			WithField("similarity", best).
			Info("Conversation loop detected")
	}
	return isLoop, d.persist(ctx, sessionID, s)
}

// Record appends turn to the session history.
func (d *Detector) Record(ctx context.Context, sessionID string, turn Turn) error {
	s, err := d.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = d.now()
	}
	s.append(turn, d.tuning.Load().Loop.HistoryCap)
	return d.persist(ctx, sessionID, s)
}

// RecordMatch attaches a special-case match to the current turn. When the
// latest turn is the same utterance without a match (it was recorded by
// Check moments ago), it is annotated in place; otherwise turn is appended.
func (d *Detector) RecordMatch(ctx context.Context, sessionID string, turn Turn) error {
	s, err := d.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if n := len(s.history); n > 0 {
		last := &s.history[n-1]
		if last.Utterance == turn.Utterance && last.MatchedCaseID == "" {
			last.MatchedCaseID = turn.MatchedCaseID
			last.Similarity = turn.Similarity
			return d.persist(ctx, sessionID, s)
		}
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = d.now()
	}
	s.append(turn, d.tuning.Load().Loop.HistoryCap)
	return d.persist(ctx, sessionID, s)
}

// State returns the loop-break state of the session.
func (d *Detector) State(ctx context.Context, sessionID string) (State, error) {
	s, err := d.acquire(ctx, sessionID)
	if err != nil {
		return StateNormal, err
	}
	defer s.mu.Unlock()
	return s.state, nil
}

// History returns a copy of the session history, oldest first.
func (d *Detector) History(ctx context.Context, sessionID string) ([]Turn, error) {
	s, err := d.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...), nil
}

// Resolve applies the user's loop-break choice. Recommend and restart return
// the session to StateNormal with a cleared history; human terminates it.
func (d *Detector) Resolve(ctx context.Context, sessionID string, choice Choice) (State, error) {
	s, err := d.acquire(ctx, sessionID)
	if err != nil {
		return StateNormal, err
	}
	defer s.mu.Unlock()

	if s.state != StateLoopBreakOffered {
		return s.state, domerrors.NewValidationError("choice", fmt.Sprintf("session is %s, no loop-break offer pending", s.state))
	}

	switch choice {
	case ChoiceRecommend, ChoiceRestart:
		s.state = StateNormal
		s.history = nil
	case ChoiceHuman:
		s.state = StateTerminated
	default:
		return s.state, domerrors.NewValidationError("choice", fmt.Sprintf("unknown loop-break choice %q", choice))
	}
	d.metrics.RecordLoopChoice(string(choice))
	return s.state, d.persist(ctx, sessionID, s)
}

// Reset drops the session from memory and from the store.
func (d *Detector) Reset(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()

	if d.store == nil {
		return nil
	}
	if err := d.store.DeleteRecord(ctx, sessionID); err != nil {
		return domerrors.NewStorageError("session", "delete_loop", err)
	}
	return nil
}

// ActiveSessions returns the number of sessions held in memory.
func (d *Detector) ActiveSessions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (d *Detector) Stop() {
	d.stopped.Do(func() { close(d.stopCh) })
}

// acquire returns the locked session. Without a store the record lives in
// memory; with one it is reloaded on every call.
func (d *Detector) acquire(ctx context.Context, sessionID string) (*session, error) {
	if sessionID == "" {
		return nil, domerrors.NewValidationError("session_id", "session id is required")
	}
	s := d.lockLive(sessionID)
	s.lastSeen = d.now()
	if d.store == nil {
		return s, nil
	}

	rec, err := d.store.GetRecord(ctx, sessionID)
	switch {
	case domerrors.IsNotFound(err):
		s.history, s.state = nil, StateNormal
	case err != nil:
		s.mu.Unlock()
		return nil, domerrors.NewStorageError("session", "get_loop", err)
	default:
		s.history, s.state = rec.History, rec.State
	}
	return s, nil
}

// lockLive locks the session entry registered for sessionID. An entry swept
// between lookup and lock is discarded and the lookup retried.
func (d *Detector) lockLive(sessionID string) *session {
	for {
		s := d.getOrCreate(sessionID)
		s.mu.Lock()
		if d.registered(sessionID, s) {
			return s
		}
		s.mu.Unlock()
	}
}

func (d *Detector) registered(sessionID string, s *session) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[sessionID] == s
}

func (d *Detector) getOrCreate(sessionID string) *session {
	d.mu.RLock()
	s, ok := d.sessions[sessionID]
	d.mu.RUnlock()
	if ok {
		return s
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok = d.sessions[sessionID]; ok {
		return s
	}
	s = &session{}
	d.sessions[sessionID] = s
	return s
}

// persist writes the history and state through to the store. Must hold s.mu.
func (d *Detector) persist(ctx context.Context, sessionID string, s *session) error {
	if d.store == nil {
		return nil
	}
	rec := &Record{State: s.state, History: append([]Turn(nil), s.history...)}
	if err := d.store.PutRecord(ctx, sessionID, rec); err != nil {
		return domerrors.NewStorageError("session", "put_loop", err)
	}
	return nil
}

func (d *Detector) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

// sweep drops sessions idle for longer than the TTL. Sessions currently
// locked are skipped.
func (d *Detector) sweep() int {
	cutoff := d.now().Add(-d.ttl)
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, s := range d.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.lastSeen.Before(cutoff) {
			delete(d.sessions, id)
			removed++
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		d.logger.WithField("removed", removed).Debug("Expired idle sessions")
	}
	return removed
}

// append adds turn and evicts the oldest turns beyond historyCap.
func (s *session) append(turn Turn, historyCap int) {
	s.history = append(s.history, turn)
	if historyCap > 0 && len(s.history) > historyCap {
		s.history = append([]Turn(nil), s.history[len(s.history)-historyCap:]...)
	}
}

func lastN(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return append([]Turn(nil), turns...)
	}
	return append([]Turn(nil), turns[len(turns)-n:]...)
}
