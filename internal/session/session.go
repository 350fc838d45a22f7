// Package session persists per-session conversation state: the loop
// history and the slot state accumulated across turns.
package session

import (
	"context"
	"maps"
	"time"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
)

// State is the slot state of one conversation.
type State struct {
	SessionID   string            `json:"session_id"`
	Slots       map[string]string `json:"slots"`        // slot -> value
	SlotSources map[string]string `json:"slot_sources"` // slot -> special_case, hybrid, llm
	Turns       int               `json:"turns"`
	Terminated  bool              `json:"terminated"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewState returns an empty state for sessionID.
func NewState(sessionID string, now time.Time) *State {
	return &State{
		SessionID:   sessionID,
		Slots:       make(map[string]string),
		SlotSources: make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Slots = maps.Clone(s.Slots)
	c.SlotSources = maps.Clone(s.SlotSources)
	if c.Slots == nil {
		c.Slots = make(map[string]string)
	}
	if c.SlotSources == nil {
		c.SlotSources = make(map[string]string)
	}
	return &c
}

// StateStore persists slot state.
type StateStore interface {
	GetState(ctx context.Context, sessionID string) (*State, error)
	PutState(ctx context.Context, state *State) error
	DeleteState(ctx context.Context, sessionID string) error
}

// Store is the full session persistence contract: loop histories and slot
// state. Every backend (memory, sqlite, redis) implements it.
type Store interface {
	loop.SessionStore
	StateStore
}
