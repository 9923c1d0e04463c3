package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/magi/go-controller/internal/fallback"
	"github.com/danielpatrickdp/magi/go-controller/internal/gate"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
	"github.com/danielpatrickdp/magi/go-controller/internal/ratelimit"
)

const (
	logReasonPreview      = 200
	timelineReasonPreview = 100
	auditInputPreview     = 500
)

// #region engine
// Auditor receives one entry per evaluation.
type Auditor interface {
	Record(ctx context.Context, e logging.DecisionEntry) error
}

// Engine runs the three personas and aggregates their votes.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	clients generator.Set
	gate    *gate.Gate
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuditor records every decision to a.
func WithAuditor(a Auditor) Option { return func(e *Engine) { e.auditor = a } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides the timestamp source for verbose logs.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine over clients with the given aggregation config.
func NewEngine(clients generator.Set, cfg gate.GateConfig, opts ...Option) *Engine {
	e := &Engine{
		clients: clients,
		gate:    gate.NewGate(cfg),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.Component(e.logger, "consensus")
	return e
}

// #endregion engine

// #region evaluate

// slot is one persona's journey through an evaluation.
type slot struct {
	persona  prompts.Persona
	backend  generator.BackendID // backend that produced result
	prompt   string
	result   generator.Result
	fallback *fallback.Info
}

// Evaluate runs one consensus evaluation. The only errors are caller-input
// errors: an invalid proposal or an override naming an unknown persona.
// Backend failures degrade to NO votes.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Evaluation, error) {
	overrides := make(map[prompts.Persona]string, len(req.Overrides))
	for name, text := range req.Overrides {
		p, err := prompts.ParsePersona(name)
		if err != nil {
			return nil, err
		}
		overrides[p] = text
	}

	slots := make([]*slot, len(prompts.Personas))
	for i, p := range prompts.Personas {
		prompt, err := prompts.PersonaPrompt(p, req.Proposal, overrides[p])
		if err != nil {
			return nil, fmt.Errorf("build %s prompt: %w", p, err)
		}
		slots[i] = &slot{persona: p, backend: personaBackend[p], prompt: prompt}
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}
	ctx = generator.WithTraceID(ctx, traceID)
	criticality := gate.ParseCriticality(string(req.Criticality))
	tr := newTrace(req.Verbose, e.now)
	tr.event("[start] parallel evaluation (trace_id=%s)", traceID)

	router := fallback.NewRouter()
	e.dispatch(ctx, slots)
	e.correct(ctx, router, slots, traceID, tr)

	results := make([]PersonaResult, len(slots))
	ballots := make([]gate.Ballot, len(slots))
	for i, s := range slots {
		results[i] = resultToPersona(s.persona, s.result)
		r := results[i]
		ballots[i] = gate.Ballot{Persona: r.Persona, Vote: r.Vote, Reason: r.Reason, Errored: r.Errored}
		if r.Errored {
			e.logger.Warn("persona evaluation failed", "persona", r.Persona, "backend", s.backend,
				"reason", r.Reason, "trace_id", traceID)
		}
		tr.persona(r)
	}

	verdict := e.gate.Evaluate(ballots, criticality)
	decision := MagiDecision{
		Decision:         verdict.Decision,
		RiskLevel:        gate.Risk(ballots),
		PersonaResults:   results,
		AggregateReason:  verdict.Reason,
		SuggestedActions: gate.SuggestedActions(ballots, verdict.Decision),
	}

	e.logger.Info("consensus decision",
		"decision", decision.Decision,
		"risk_level", decision.RiskLevel,
		"score", verdict.Score,
		"criticality", criticality,
		"session_id", orUnknown(req.SessionID),
		"trace_id", traceID,
	)
	e.audit(ctx, req, criticality, traceID, slots, decision, verdict)

	out := &Evaluation{MagiDecision: decision, TraceID: traceID}
	if req.Verbose {
		out.Logs = tr.logs
		out.Timeline = tr.timeline
		out.Summary = Summary(results)
	}
	return out, nil
}

// dispatch invokes all three backends concurrently and waits for every one.
// Each call's timeout lives in its client; a failure never cancels siblings.
func (e *Engine) dispatch(ctx context.Context, slots []*slot) {
	var g errgroup.Group
	for _, s := range slots {
		s := s
		g.Go(func() error {
			s.result = generator.Invoke(ctx, e.clients.Get(s.backend), s.backend, s.prompt)
			return nil
		})
	}
	_ = g.Wait()
}

// correct replaces rate-limited failures with a substitute's answer, one at a time.
// All rate-limited backends are marked before any substitute is chosen.
func (e *Engine) correct(ctx context.Context, router *fallback.Router, slots []*slot, traceID string, tr *trace) {
	limited := make([]bool, len(slots))
	retryAt := make([]*time.Time, len(slots))
	for i, s := range slots {
		f, ok := s.result.(*generator.Failure)
		if !ok {
			continue
		}
		if limit := ratelimit.Classify(f.Message); limit.RateLimited {
			router.MarkRateLimited(s.backend)
			limited[i] = true
			retryAt[i] = limit.RetryAt
		}
	}

	for i, s := range slots {
		if !limited[i] {
			continue
		}
		original := s.backend
		sub, info, ok := router.FallbackFor(fallback.RoleFor(original), original)
		if !ok {
			e.logger.Warn("no fallback available", "persona", s.persona, "backend", original, "retry_at", retryAt[i], "trace_id", traceID)
			tr.event("[%s] no fallback available for %s (trace_id=%s)", s.persona, original, traceID)
			continue
		}
		info.Reason = fmt.Sprintf("%s is rate limited, using %s as fallback for %s", original, sub, s.persona)
		info.RetryAt = retryAt[i]
		e.logger.Info("fallback", "persona", s.persona, "original", original, "fallback", sub, "trace_id", traceID)

		res := generator.Invoke(ctx, e.clients.Get(sub), sub, s.prompt)
		if f, failed := res.(*generator.Failure); failed {
			if ratelimit.Classify(f.Message).RateLimited {
				router.MarkRateLimited(sub)
			}
			e.logger.Warn("fallback failed", "persona", s.persona, "fallback", sub, "error", f.Message, "trace_id", traceID)
			tr.event("[%s] fallback to %s failed: %s (trace_id=%s)", s.persona, sub, f.Kind, traceID)
			continue
		}
		s.result = res
		s.backend = sub
		s.fallback = &info
		tr.fallback(s.persona, info, traceID)
	}
}

// #endregion evaluate

// #region audit
func (e *Engine) audit(ctx context.Context, req Request, crit gate.Criticality, traceID string, slots []*slot, d MagiDecision, v gate.GateDecision) {
	if e.auditor == nil {
		return
	}
	cfg := e.gate.Config()
	rec := logging.ConsensusRecord{
		Criticality: string(crit),
		Weights:     make(map[string]float64, len(cfg.Weights)),
		Thresholds: logging.ConsensusThresholds{
			ConditionalWeight:       cfg.ConditionalWeight,
			ApproveThreshold:        cfg.ApproveThreshold,
			SafetyOverrideThreshold: cfg.SafetyOverrideThreshold,
			ConditionalCeiling:      cfg.ConditionalCeiling,
		},
		Score:            v.Score,
		Vetoed:           v.Vetoed,
		Decision:         string(d.Decision),
		SuggestedActions: d.SuggestedActions,
	}
	for p, w := range cfg.Weights {
		rec.Weights[string(p)] = w
	}
	for i, s := range slots {
		pr := logging.PersonaRecord{
			Persona: string(s.persona),
			Backend: string(s.backend),
			Vote:    string(d.PersonaResults[i].Vote),
			Reason:  generator.Truncate(d.PersonaResults[i].Reason, logReasonPreview),
			Errored: d.PersonaResults[i].Errored,
		}
		if s.fallback != nil {
			pr.Fallback = s.fallback.Reason
		}
		rec.Personas = append(rec.Personas, pr)
	}
	detail, err := json.Marshal(rec)
	if err != nil {
		e.logger.Warn("marshal consensus record", "error", err, "trace_id", traceID)
	}
	entry := logging.DecisionEntry{
		TraceID:    traceID,
		SessionID:  req.SessionID,
		Mode:       "consensus",
		Input:      generator.Truncate(req.Proposal, auditInputPreview),
		Outcome:    string(d.Decision),
		RiskLevel:  string(d.RiskLevel),
		Reason:     d.AggregateReason,
		DetailJSON: string(detail),
	}
	if err := e.auditor.Record(ctx, entry); err != nil {
		e.logger.Warn("audit write failed", "error", err, "trace_id", traceID)
	}
}

// #endregion audit

// #region summary
// Summary renders "melchior(YES) -> balthasar(NO) -> caspar(YES)".
func Summary(results []PersonaResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%s(%s)", r.Persona, r.Vote)
	}
	return strings.Join(parts, " -> ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// #endregion summary
