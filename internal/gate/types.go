package gate

import (
	"strings"

	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
)

// #region vote
// Vote is one persona's verdict.
type Vote string

const (
	VoteYes         Vote = "YES"
	VoteNo          Vote = "NO"
	VoteConditional Vote = "CONDITIONAL"
)

// Decision is the aggregated verdict.
type Decision string

const (
	Approved    Decision = "APPROVED"
	Rejected    Decision = "REJECTED"
	Conditional Decision = "CONDITIONAL"
)

// RiskLevel is derived from the votes alone.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// #endregion vote

// #region criticality
// Criticality selects how strict aggregation is.
type Criticality string

const (
	Critical Criticality = "CRITICAL"
	Normal   Criticality = "NORMAL"
	Low      Criticality = "LOW"
)

// ParseCriticality normalizes s; anything unrecognized is NORMAL.
func ParseCriticality(s string) Criticality {
	switch c := Criticality(strings.ToUpper(strings.TrimSpace(s))); c {
	case Critical, Normal, Low:
		return c
	default:
		return Normal
	}
}

// #endregion criticality

// #region ballot
// Ballot is one persona's parsed vote as seen by the gate.
type Ballot struct {
	Persona prompts.Persona
	Vote    Vote
	Reason  string
	Errored bool // vote came from a generator failure, not from parsed output
}

// #endregion ballot

// #region gate-config
// GateConfig holds weights and thresholds for aggregation.
type GateConfig struct {
	Weights                 map[prompts.Persona]float64
	ConditionalWeight       float64 // fraction of a persona's weight a CONDITIONAL vote contributes
	ApproveThreshold        float64 // total score needed to approve
	SafetyOverrideThreshold float64 // other personas' score needed to overrule a safety NO
	ConditionalCeiling      float64 // below this, mixed CONDITIONAL votes downgrade an approval
}

// DefaultGateConfig returns the stock weights and thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Weights: map[prompts.Persona]float64{
			prompts.Melchior:  0.4,
			prompts.Balthasar: 0.35,
			prompts.Caspar:    0.25,
		},
		ConditionalWeight:       0.3,
		ApproveThreshold:        0.3,
		SafetyOverrideThreshold: 0.7,
		ConditionalCeiling:      0.8,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Decision Decision
	Reason   string
	Score    float64
	Vetoed   bool // safety persona's NO decided the outcome
}

// #endregion gate-decision
