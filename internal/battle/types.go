package battle

import (
	"strings"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/fallback"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
)

// #region policy

// Policy decides what happens to later stages when a stage finally fails.
type Policy string

const (
	// Strict skips every later stage once a stage fails after its fallback attempt.
	Strict Policy = "strict"
	// Lenient keeps going and feeds the failure text forward.
	Lenient Policy = "lenient"
)

// ParsePolicy normalizes s. Anything other than "strict" is lenient.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == Strict {
		return Strict
	}
	return Lenient
}

// #endregion

// #region status

// Status of one output slot.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Skip and error reasons recorded in output metadata.
const (
	ReasonStrictCodex  = "strict_policy_due_to_codex_failure"
	ReasonStrictClaude = "strict_policy_due_to_claude_failure"
	ReasonSkipFlag     = "skip_flag"
	ReasonExhausted    = "all_backends_exhausted"
)

// #endregion

// #region output

// Metadata describes how a slot's content was produced.
type Metadata struct {
	Status     Status              `json:"status"`
	Backend    generator.BackendID `json:"backend,omitempty"` // physical backend, differs from the slot after a fallback
	DurationMS int64               `json:"duration_ms"`
	Source     string              `json:"source,omitempty"`
	TraceID    string              `json:"trace_id"`
	Reason     string              `json:"reason,omitempty"`
	ErrorType  string              `json:"error_type,omitempty"`
	RetryAt    *time.Time          `json:"retry_at,omitempty"` // advisory, from a rate-limit message
	Fallback   *fallback.Info      `json:"fallback,omitempty"`
}

// Output is one slot of a battle. Model is always the canonical slot id.
// Content is never empty.
type Output struct {
	Model    generator.BackendID `json:"model"`
	Content  string              `json:"content"`
	Metadata Metadata            `json:"metadata"`
}

// Outputs maps canonical slot id to output.
type Outputs map[generator.BackendID]Output

// #endregion

// #region request

// Request is one pipeline run.
type Request struct {
	Task           string
	Verbose        bool
	SkipEvaluation bool // skip the claude stage and feed codex output forward
	SessionID      string
	TraceID        string
}

// Result holds the three outputs plus the verbose trace when requested.
type Result struct {
	TraceID  string     `json:"trace_id"`
	Outputs  Outputs    `json:"results"`
	Logs     []LogEntry `json:"logs,omitempty"`
	Summary  string     `json:"summary,omitempty"`
	Timeline []string   `json:"timeline,omitempty"`
}

// LogEntry is one verbose stage record.
type LogEntry struct {
	T              string              `json:"t"`
	Stage          generator.BackendID `json:"stage"`
	TraceID        string              `json:"trace_id"`
	Status         Status              `json:"status"`
	DurationMS     int64               `json:"duration_ms"`
	Source         string              `json:"source,omitempty"`
	PromptPreview  string              `json:"prompt_preview,omitempty"`
	ContentPreview string              `json:"content_preview"`
	Reason         string              `json:"reason,omitempty"`
}

// #endregion
