package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	TraceID    string
	SessionID  string
	Mode       string // "consensus" | "proposal_battle"
	Input      string // proposal or task, truncated
	Outcome    string // decision for consensus, summary line for the pipeline
	RiskLevel  string
	Reason     string
	DetailJSON string
	CreatedAt  time.Time
}

// #endregion decision-entry

// #region consensus-record
// ConsensusRecord captures everything that fed one consensus decision.
// Serialized as JSON into decision_log.detail_json.
type ConsensusRecord struct {
	Criticality string          `json:"criticality"`
	Personas    []PersonaRecord `json:"personas"`

	// Aggregation config active at decision time
	Weights    map[string]float64  `json:"weights"`
	Thresholds ConsensusThresholds `json:"thresholds"`

	Score            float64  `json:"score"`
	Vetoed           bool     `json:"vetoed"`
	Decision         string   `json:"decision"`
	SuggestedActions []string `json:"suggested_actions"`
}

// PersonaRecord is one persona's final input to aggregation.
type PersonaRecord struct {
	Persona  string `json:"persona"`
	Backend  string `json:"backend"` // backend that actually answered
	Vote     string `json:"vote"`
	Reason   string `json:"reason"`
	Errored  bool   `json:"errored"`
	Fallback string `json:"fallback,omitempty"`
}

// ConsensusThresholds captures the gate thresholds.
type ConsensusThresholds struct {
	ConditionalWeight       float64 `json:"conditional_weight"`
	ApproveThreshold        float64 `json:"approve_threshold"`
	SafetyOverrideThreshold float64 `json:"safety_override_threshold"`
	ConditionalCeiling      float64 `json:"conditional_ceiling"`
}

// #endregion consensus-record

// #region battle-record
// BattleRecord captures the stage outcomes of one pipeline run.
type BattleRecord struct {
	Policy         string        `json:"policy"`
	SkipEvaluation bool          `json:"skip_evaluation"`
	SingleBackend  string        `json:"single_backend,omitempty"`
	Exhausted      bool          `json:"exhausted"`
	Stages         []StageRecord `json:"stages"`
}

// StageRecord is one pipeline slot.
type StageRecord struct {
	Slot       string `json:"slot"`
	Backend    string `json:"backend"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Fallback   string `json:"fallback,omitempty"`
	RetryAt    string `json:"retry_at,omitempty"` // RFC 3339
}

// #endregion battle-record
