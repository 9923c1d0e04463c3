package consensus

import (
	"github.com/danielpatrickdp/magi/go-controller/internal/fallback"
	"github.com/danielpatrickdp/magi/go-controller/internal/gate"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
)

// #region persona-backend
// personaBackend maps each persona to the backend that normally plays it.
var personaBackend = map[prompts.Persona]generator.BackendID{
	prompts.Melchior:  generator.Gemini,
	prompts.Balthasar: generator.Claude,
	prompts.Caspar:    generator.Codex,
}

// BackendFor returns the backend that plays persona p.
func BackendFor(p prompts.Persona) generator.BackendID { return personaBackend[p] }

// #endregion persona-backend

// #region results
// PersonaResult is one persona's parsed verdict.
type PersonaResult struct {
	Persona       prompts.Persona `json:"persona"`
	Vote          gate.Vote       `json:"vote"`
	Reason        string          `json:"reason"`
	OptionalNotes *string         `json:"optional_notes,omitempty"`
	Errored       bool            `json:"-"`
}

// MagiDecision is the outcome of one evaluation. Immutable once returned.
type MagiDecision struct {
	Decision         gate.Decision   `json:"decision"`
	RiskLevel        gate.RiskLevel  `json:"risk_level"`
	PersonaResults   []PersonaResult `json:"persona_results"`
	AggregateReason  string          `json:"aggregate_reason"`
	SuggestedActions []string        `json:"suggested_actions"`
}

// #endregion results

// #region request
// Request is the input to Engine.Evaluate.
type Request struct {
	Proposal    string
	Criticality gate.Criticality
	// Overrides maps persona name to an extra profile block appended to its instructions.
	Overrides map[string]string
	Verbose   bool
	SessionID string
	TraceID   string
}

// Evaluation is the decision plus the optional verbose trace.
type Evaluation struct {
	MagiDecision
	TraceID  string     `json:"trace_id"`
	Logs     []LogEntry `json:"logs,omitempty"`
	Summary  string     `json:"summary,omitempty"`
	Timeline []string   `json:"timeline,omitempty"`
}

// LogEntry is one verbose log record. Persona entries carry a vote, fallback
// entries carry Fallback.
type LogEntry struct {
	T        string         `json:"t"`
	Persona  string         `json:"persona"`
	Vote     gate.Vote      `json:"vote,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Fallback *fallback.Info `json:"fallback,omitempty"`
}

// #endregion request
