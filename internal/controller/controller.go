package controller

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/magi/go-controller/internal/battle"
	"github.com/danielpatrickdp/magi/go-controller/internal/config"
	"github.com/danielpatrickdp/magi/go-controller/internal/consensus"
	"github.com/danielpatrickdp/magi/go-controller/internal/gate"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
	"github.com/danielpatrickdp/magi/go-controller/internal/session"
)

// #endregion

// ModeProposalBattle is the only session mode.
const ModeProposalBattle = "proposal_battle"

// #region errors
var (
	ErrUnsupportedMode = errors.New("only proposal_battle mode is supported")
	ErrInvalidSession  = errors.New("invalid session_id")
	ErrNoOutputs       = errors.New("session has no outputs")
	ErrInvalidDecision = errors.New("decision must be one of codex/claude/gemini")
)

// IsInvalidInput reports whether err is a rejected caller request rather than
// an infrastructure failure.
func IsInvalidInput(err error) bool {
	for _, target := range []error{
		ErrUnsupportedMode, ErrInvalidSession, ErrNoOutputs, ErrInvalidDecision,
		battle.ErrEmptyTask, prompts.ErrInvalidProposal, prompts.ErrUnknownPersona,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// #endregion

// #region controller

// Auditor receives decision trail entries from both modes.
type Auditor interface {
	Record(ctx context.Context, e logging.DecisionEntry) error
}

// Controller ties sessions, the battle pipeline and the consensus engine together.
type Controller struct {
	clients  generator.Set
	sessions session.Store
	auditor  Auditor
	base     *slog.Logger // handed to the engine and pipeline untagged
	logger   *slog.Logger

	mu          sync.RWMutex
	engine      *consensus.Engine
	pipeline    *battle.Pipeline
	criticality gate.Criticality
	verbose     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithAuditor records every decision.
func WithAuditor(a Auditor) Option { return func(c *Controller) { c.auditor = a } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.base = l } }

// New creates a controller. cfg supplies weights, policy and defaults;
// the clients are fixed for the controller's lifetime.
func New(clients generator.Set, sessions session.Store, cfg *config.Config, opts ...Option) *Controller {
	c := &Controller{clients: clients, sessions: sessions}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Component(c.base, "controller")
	c.ApplyConfig(cfg)
	return c
}

// ApplyConfig swaps weights, thresholds, policy and defaults for later requests.
// Requests already running keep the settings they started with.
func (c *Controller) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.Default()
	}
	engineOpts := []consensus.Option{consensus.WithLogger(c.base)}
	pipelineOpts := []battle.Option{battle.WithPolicy(cfg.Policy()), battle.WithLogger(c.base)}
	if c.auditor != nil {
		engineOpts = append(engineOpts, consensus.WithAuditor(c.auditor))
		pipelineOpts = append(pipelineOpts, battle.WithAuditor(c.auditor))
	}
	engine := consensus.NewEngine(c.clients, cfg.GateConfig(), engineOpts...)
	pipeline := battle.NewPipeline(c.clients, pipelineOpts...)

	c.mu.Lock()
	c.engine = engine
	c.pipeline = pipeline
	c.criticality = cfg.Criticality()
	c.verbose = cfg.Consensus.VerboseDefault
	c.mu.Unlock()

	c.logger.Info("config applied", "policy", cfg.Policy(), "criticality", cfg.Criticality(),
		"verbose_default", cfg.Consensus.VerboseDefault)
}

type snapshot struct {
	engine      *consensus.Engine
	pipeline    *battle.Pipeline
	criticality gate.Criticality
	verbose     bool
}

func (c *Controller) current() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshot{engine: c.engine, pipeline: c.pipeline, criticality: c.criticality, verbose: c.verbose}
}

// #endregion

// #region battle-session

// StartRequest starts a session.
type StartRequest struct {
	Prompt     string `json:"initial_prompt"`
	Mode       string `json:"mode"`
	SkipClaude bool   `json:"skip_claude"`
	Verbose    *bool  `json:"verbose,omitempty"` // nil uses the configured default
}

// StartResult is the session id plus the three outputs.
type StartResult struct {
	SessionID string            `json:"session_id"`
	TraceID   string            `json:"trace_id"`
	Results   battle.Outputs    `json:"results"`
	Logs      []battle.LogEntry `json:"logs,omitempty"`
	Summary   string            `json:"summary,omitempty"`
	Timeline  []string          `json:"timeline,omitempty"`
}

// Start runs a proposal battle in a new session and stores its outputs.
func (c *Controller) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = ModeProposalBattle
	}
	if mode != ModeProposalBattle {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, battle.ErrEmptyTask
	}
	snap := c.current()

	st, err := c.sessions.Create(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	res, err := snap.pipeline.Run(ctx, battle.Request{
		Task:           req.Prompt,
		Verbose:        verbose(req.Verbose, snap.verbose),
		SkipEvaluation: req.SkipClaude,
		SessionID:      st.SessionID,
	})
	if err != nil {
		_ = c.sessions.Delete(ctx, st.SessionID)
		return nil, err
	}
	if err := c.sessions.SaveOutputs(ctx, st.SessionID, res.Outputs); err != nil {
		return nil, fmt.Errorf("save outputs: %w", err)
	}
	c.logger.Info("session started", "session_id", st.SessionID, "trace_id", res.TraceID, "skip_claude", req.SkipClaude)

	return &StartResult{
		SessionID: st.SessionID,
		TraceID:   res.TraceID,
		Results:   res.Outputs,
		Logs:      res.Logs,
		Summary:   res.Summary,
		Timeline:  res.Timeline,
	}, nil
}

// StepResult is the adopted output.
type StepResult struct {
	SessionID    string `json:"session_id"`
	AdoptedModel string `json:"adopted_model"`
	AdoptedText  string `json:"adopted_text"`
}

// Step adopts one of the session's outputs. decision is a backend id, any case.
func (c *Controller) Step(ctx context.Context, sessionID, decision string) (*StepResult, error) {
	outputs, err := c.outputs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	id, ok := generator.ParseBackendID(strings.ToLower(strings.TrimSpace(decision)))
	if !ok {
		return nil, ErrInvalidDecision
	}
	adopted, ok := outputs[id]
	if !ok {
		return nil, ErrInvalidDecision
	}
	c.logger.Info("output adopted", "session_id", sessionID, "model", adopted.Model)
	return &StepResult{SessionID: sessionID, AdoptedModel: string(adopted.Model), AdoptedText: adopted.Content}, nil
}

// JudgeResult carries the prompt a judge model would receive for a session.
type JudgeResult struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// Judge builds the comparison prompt over the session's three outputs.
// Running the judge itself is left to the caller.
func (c *Controller) Judge(ctx context.Context, sessionID string) (*JudgeResult, error) {
	outputs, err := c.outputs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prompt := prompts.Judge(
		outputs[generator.Codex].Content,
		outputs[generator.Claude].Content,
		outputs[generator.Gemini].Content,
	)
	return &JudgeResult{SessionID: sessionID, Prompt: prompt}, nil
}

func (c *Controller) outputs(ctx context.Context, sessionID string) (battle.Outputs, error) {
	st, ok, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidSession
	}
	if len(st.LastOutputs) == 0 {
		return nil, ErrNoOutputs
	}
	return st.LastOutputs, nil
}

// StopResult confirms a stopped session.
type StopResult struct {
	SessionID string `json:"session_id"`
	Stopped   bool   `json:"stopped"`
}

// Stop deletes the session. Unknown ids are not an error.
func (c *Controller) Stop(ctx context.Context, sessionID string) (*StopResult, error) {
	if err := c.sessions.Delete(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	c.logger.Info("session stopped", "session_id", sessionID)
	return &StopResult{SessionID: sessionID, Stopped: true}, nil
}

// #endregion

// #region consensus

// ConsensusRequest asks the three personas for a verdict.
type ConsensusRequest struct {
	Proposal    string            `json:"proposal"`
	Criticality string            `json:"criticality,omitempty"` // empty uses the configured default
	Overrides   map[string]string `json:"persona_overrides,omitempty"`
	Verbose     *bool             `json:"verbose,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
}

// Consensus runs one evaluation with the configured defaults filled in.
func (c *Controller) Consensus(ctx context.Context, req ConsensusRequest) (*consensus.Evaluation, error) {
	snap := c.current()
	crit := snap.criticality
	if strings.TrimSpace(req.Criticality) != "" {
		crit = gate.ParseCriticality(req.Criticality)
	}
	return snap.engine.Evaluate(ctx, consensus.Request{
		Proposal:    req.Proposal,
		Criticality: crit,
		Overrides:   req.Overrides,
		Verbose:     verbose(req.Verbose, snap.verbose),
		SessionID:   req.SessionID,
	})
}

// #endregion

// #region status

// HealthReport summarizes backend availability.
type HealthReport struct {
	Status   string                                   `json:"status"` // ok or degraded
	Commands map[generator.BackendID]bool             `json:"commands"`
	Backends map[generator.BackendID]generator.Health `json:"backends,omitempty"`
}

// Status probes all backends concurrently.
func (c *Controller) Status(ctx context.Context) map[generator.BackendID]generator.Health {
	results := make([]generator.Health, len(generator.Canonical))
	var g errgroup.Group
	for i, id := range generator.Canonical {
		i, id := i, id
		g.Go(func() error {
			client := c.clients.Get(id)
			if client == nil {
				results[i] = generator.Health{Kind: generator.HealthMissing, Message: "no client configured"}
				return nil
			}
			results[i] = client.Health(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[generator.BackendID]generator.Health, len(results))
	for i, id := range generator.Canonical {
		out[id] = results[i]
	}
	return out
}

// Health is Status reduced to ok/degraded.
func (c *Controller) Health(ctx context.Context) HealthReport {
	status := c.Status(ctx)
	report := HealthReport{Status: "ok", Commands: make(map[generator.BackendID]bool, len(status)), Backends: status}
	for id, h := range status {
		report.Commands[id] = h.Available
		if !h.Available {
			report.Status = "degraded"
		}
	}
	return report
}

// #endregion

func verbose(requested *bool, fallback bool) bool {
	if requested != nil {
		return *requested
	}
	return fallback
}
