package gate

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
)

// safety is the persona whose NO vote acts as a veto.
const safety = prompts.Balthasar

const vetoReasonPreview = 200

// #region gate
// Gate aggregates persona ballots into a decision.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the active configuration.
func (g *Gate) Config() GateConfig { return g.config }

// Evaluate checks the safety veto first, then scores the weighted votes.
func (g *Gate) Evaluate(ballots []Ballot, criticality Criticality) GateDecision {
	total := g.Score(ballots)
	veto, hasVeto := findSafetyNo(ballots)

	// --- CRITICAL: unanimous approval, safety NO is final ---
	if criticality == Critical {
		if hasVeto {
			return GateDecision{
				Decision: Rejected,
				Reason: fmt.Sprintf("CRITICAL change rejected: BALTHASAR (safety) voted NO. Reason: %s",
					truncate(veto.Reason, vetoReasonPreview)),
				Score:  total,
				Vetoed: true,
			}
		}
		for _, b := range ballots {
			if b.Errored {
				continue
			}
			if b.Vote != VoteYes && b.Vote != VoteConditional {
				return GateDecision{
					Decision: Rejected,
					Reason:   "CRITICAL change rejected: Not all personas approved",
					Score:    total,
				}
			}
		}
		return GateDecision{
			Decision: Approved,
			Reason:   fmt.Sprintf("CRITICAL change approved. All personas approved. Score: %.2f", total),
			Score:    total,
		}
	}

	// --- NORMAL / LOW: safety NO sticks unless the others clear a high bar ---
	if hasVeto {
		var others float64
		for _, b := range ballots {
			if b.Persona != safety {
				others += g.weighted(b)
			}
		}
		if others < g.config.SafetyOverrideThreshold {
			return GateDecision{
				Decision: Rejected,
				Reason: fmt.Sprintf("Rejected: BALTHASAR (safety) voted NO. Reason: %s",
					truncate(veto.Reason, vetoReasonPreview)),
				Score:  total,
				Vetoed: true,
			}
		}
	}

	hasConditional := anyVote(ballots, VoteConditional)
	switch {
	case total >= g.config.ApproveThreshold:
		if hasConditional && !allVote(ballots, VoteYes) && total < g.config.ConditionalCeiling {
			return GateDecision{
				Decision: Conditional,
				Reason:   fmt.Sprintf("CONDITIONAL approval. Score: %.2f. Some personas have conditions.", total),
				Score:    total,
			}
		}
		return GateDecision{Decision: Approved, Reason: fmt.Sprintf("Approved. Score: %.2f", total), Score: total}
	case total >= 0:
		if hasConditional {
			return GateDecision{
				Decision: Conditional,
				Reason:   fmt.Sprintf("CONDITIONAL approval. Score: %.2f. Conditions must be met.", total),
				Score:    total,
			}
		}
		return GateDecision{Decision: Rejected, Reason: fmt.Sprintf("Rejected. Score too low: %.2f", total), Score: total}
	default:
		return GateDecision{Decision: Rejected, Reason: fmt.Sprintf("Rejected. Negative score: %.2f", total), Score: total}
	}
}

// Score sums the weighted votes.
func (g *Gate) Score(ballots []Ballot) float64 {
	var total float64
	for _, b := range ballots {
		total += g.weighted(b)
	}
	return total
}

func (g *Gate) weighted(b Ballot) float64 {
	w := g.config.Weights[b.Persona]
	switch b.Vote {
	case VoteYes:
		return w
	case VoteConditional:
		return g.config.ConditionalWeight * w
	default:
		return -w
	}
}

// #endregion gate

// #region risk
// Risk derives the risk level from the votes.
func Risk(ballots []Ballot) RiskLevel {
	if _, veto := findSafetyNo(ballots); veto {
		return RiskHigh
	}
	if anyVote(ballots, VoteConditional) {
		return RiskMedium
	}
	if allVote(ballots, VoteYes) {
		return RiskLow
	}
	return RiskMedium
}

// #endregion risk

// #region actions
type actionRule struct {
	keywords []string
	action   string
}

var securityRules = []actionRule{
	{[]string{"sql", "injection"}, "Use parameterized queries or ORM to prevent SQL injection"},
	{[]string{"input", "validation"}, "Add input validation and sanitization"},
	{[]string{"auth", "authorization"}, "Review authentication and authorization logic"},
	{[]string{"xss", "cross-site"}, "Implement XSS protection (output encoding)"},
}

var conditionRules = []actionRule{
	{[]string{"test"}, "Add tests as suggested"},
	{[]string{"document"}, "Add documentation"},
	{[]string{"refactor"}, "Consider refactoring"},
}

// SuggestedActions derives follow-ups from a safety NO and from CONDITIONAL reasons.
// Order follows ballot order, then rule order.
func SuggestedActions(ballots []Ballot, decision Decision) []string {
	actions := []string{}
	if veto, ok := findSafetyNo(ballots); ok {
		matched := matchRules(securityRules, veto.Reason)
		if len(matched) == 0 {
			matched = []string{"Review security concerns raised by BALTHASAR"}
		}
		actions = append(actions, matched...)
	}
	if decision == Conditional {
		for _, b := range ballots {
			if b.Vote == VoteConditional {
				actions = append(actions, matchRules(conditionRules, b.Reason)...)
			}
		}
	}
	return actions
}

func matchRules(rules []actionRule, reason string) []string {
	lower := strings.ToLower(reason)
	var out []string
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				out = append(out, r.action)
				break
			}
		}
	}
	return out
}

// #endregion actions

// #region helpers
func findSafetyNo(ballots []Ballot) (Ballot, bool) {
	for _, b := range ballots {
		if b.Persona == safety && b.Vote == VoteNo {
			return b, true
		}
	}
	return Ballot{}, false
}

func anyVote(ballots []Ballot, v Vote) bool {
	for _, b := range ballots {
		if b.Vote == v {
			return true
		}
	}
	return false
}

func allVote(ballots []Ballot, v Vote) bool {
	for _, b := range ballots {
		if b.Vote != v {
			return false
		}
	}
	return len(ballots) > 0
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// #endregion helpers
