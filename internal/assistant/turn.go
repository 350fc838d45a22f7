package assistant

import (
	"encoding/json"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/catalog"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
)

// Outcome classifies how a turn was answered.
type Outcome string

const (
	OutcomeElicit      Outcome = "elicit"       // Asked for the next missing slot
	OutcomeRecommend   Outcome = "recommend"    // Returned products
	OutcomeSpecialCase Outcome = "special_case" // Answered from a curated case
	OutcomeLoopBreak   Outcome = "loop_break"   // Offered the loop-break options
	OutcomeRestart     Outcome = "restart"      // Session cleared on request
	OutcomeHandoff     Outcome = "handoff"      // Session handed to a human
	OutcomeRateLimited Outcome = "rate_limited"
)

// Slot sources recorded in session state.
const (
	SourceSpecialCase = "special_case"
	SourceHybrid      = "hybrid"
	SourceLLM         = "llm"
)

// TurnRequest is one inbound customer message.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SlotUpdate is a slot resolved during the turn.
type SlotUpdate struct {
	Slot       string  `json:"slot"`
	Value      string  `json:"value"`
	Label      string  `json:"label"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Option is one loop-break choice.
type Option struct {
	Choice loop.Choice `json:"choice"`
	Label  string      `json:"label"`
}

// TurnResponse is the assistant's answer to one message.
type TurnResponse struct {
	SessionID    string            `json:"session_id"`
	Reply        string            `json:"reply"`
	Outcome      Outcome           `json:"outcome"`
	Slots        map[string]string `json:"slots"`
	Updates      []SlotUpdate      `json:"updates,omitempty"`
	MissingSlots []string          `json:"missing_slots,omitempty"`
	Products     []catalog.Product `json:"products,omitempty"`
	Options      []Option          `json:"options,omitempty"`
	CaseID       string            `json:"case_id,omitempty"`
	CaseResponse json.RawMessage   `json:"case_response,omitempty"`
	LoopState    string            `json:"loop_state"`
	Generated    bool              `json:"generated"` // Reply text came from the LLM generator
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	SessionID string            `json:"session_id"`
	Slots     map[string]string `json:"slots"`
	Sources   map[string]string `json:"sources"`
	Turns     int               `json:"turns"`
	LoopState string            `json:"loop_state"`
	History   []loop.Turn       `json:"history"`
}
