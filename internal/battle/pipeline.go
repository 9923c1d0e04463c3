package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/magi/go-controller/internal/fallback"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
	"github.com/danielpatrickdp/magi/go-controller/internal/ratelimit"
)

// #region constants
const (
	previewLen        = 200
	maxReasonLen      = 500
	auditInputPreview = 500

	skipPlaceholder = "[Claude skipped - using Codex output directly]"
	exhaustedText   = "[system] all backends exhausted: every backend is rate limited, nothing was generated"
)

// ErrEmptyTask is returned when Run is called without a task.
var ErrEmptyTask = errors.New("empty task")

// #endregion

// #region pipeline

// Auditor receives one entry per run.
type Auditor interface {
	Record(ctx context.Context, e logging.DecisionEntry) error
}

// Pipeline runs codex (execution) -> claude (evaluation) -> gemini (exploration),
// each stage prompted with the previous stage's output.
type Pipeline struct {
	clients generator.Set
	policy  Policy
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy sets the failure policy. The default is lenient.
func WithPolicy(p Policy) Option { return func(pl *Pipeline) { pl.policy = ParsePolicy(string(p)) } }

// WithAuditor records every run to a.
func WithAuditor(a Auditor) Option { return func(pl *Pipeline) { pl.auditor = a } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(pl *Pipeline) { pl.logger = l } }

// WithClock overrides the timestamp source for verbose logs.
func WithClock(now func() time.Time) Option { return func(pl *Pipeline) { pl.now = now } }

// NewPipeline creates a pipeline over clients.
func NewPipeline(clients generator.Set, opts ...Option) *Pipeline {
	pl := &Pipeline{clients: clients, policy: Lenient, now: time.Now}
	for _, opt := range opts {
		opt(pl)
	}
	pl.logger = logging.Component(pl.logger, "battle")
	return pl
}

// Policy returns the active failure policy.
func (pl *Pipeline) Policy() Policy { return pl.policy }

// #endregion

// #region run

// run is the state of one Run call. The router is never shared between runs.
type run struct {
	pl        *Pipeline
	req       Request
	traceID   string
	router    *fallback.Router
	trace     *trace
	outputs   Outputs
	single    generator.BackendID
	exhausted bool
	retryAt   map[generator.BackendID]*time.Time
}

// attempt is the final result of one stage after any fallback.
type attempt struct {
	slot     generator.BackendID
	backend  generator.BackendID
	prompt   string
	result   generator.Result
	elapsed  time.Duration
	fallback *fallback.Info
	retryAt  *time.Time
}

func (a *attempt) failed() bool {
	_, ok := a.result.(*generator.Failure)
	return ok
}

// Run executes one battle. The only error is an empty task; backend failures
// show up in output metadata.
func (pl *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, ErrEmptyTask
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}
	r := &run{
		pl:      pl,
		req:     req,
		traceID: traceID,
		router:  fallback.NewRouter(),
		trace:   newTrace(req.Verbose, pl.now),
		outputs: make(Outputs, len(generator.Canonical)),
	}
	r.execute(generator.WithTraceID(ctx, traceID))

	summary := Summary(r.outputs)
	pl.logger.Info("battle finished",
		"summary", summary,
		"policy", pl.policy,
		"single_backend", r.single,
		"exhausted", r.exhausted,
		"session_id", req.SessionID,
		"trace_id", traceID,
	)
	pl.audit(ctx, r, summary)

	res := &Result{TraceID: traceID, Outputs: r.outputs}
	if req.Verbose {
		res.Logs = r.trace.logs
		res.Timeline = r.trace.timeline
		res.Summary = summary
	}
	return res, nil
}

func (r *run) execute(ctx context.Context) {
	r.trace.event("[start] proposal battle policy=%s (trace_id=%s)", r.pl.policy, r.traceID)

	a := r.stage(ctx, fallback.Execution, r.req.Task)
	r.put(a)
	if r.pl.policy == Strict && a.failed() {
		r.skip(generator.Claude, ReasonStrictCodex)
		r.skip(generator.Gemini, ReasonStrictCodex)
		return
	}

	switch len(r.router.Available()) {
	case 0:
		r.exhaust()
		return
	case 1:
		r.singleBackend(ctx)
		return
	}

	forward := a.result.DisplayContent()
	if r.req.SkipEvaluation {
		r.skipFlag()
	} else {
		b := r.stage(ctx, fallback.Evaluation, forward)
		r.put(b)
		if r.pl.policy == Strict && b.failed() {
			r.skip(generator.Gemini, ReasonStrictClaude)
			return
		}
		forward = b.result.DisplayContent()
	}
	r.put(r.stage(ctx, fallback.Exploration, forward))
}

// #endregion

// #region stage

// stage invokes the role's backend. A rate-limited failure marks the backend
// and re-invokes one substitute with a role-substitution prompt; there is no
// second fallback. A failed substitute leaves the original failure in place.
func (r *run) stage(ctx context.Context, role fallback.Role, input string) *attempt {
	slot := fallback.BackendFor(role)
	a := &attempt{slot: slot, backend: slot, prompt: prompts.ForRole(string(role), input)}
	a.result = generator.Invoke(ctx, r.pl.clients.Get(slot), slot, a.prompt)
	a.elapsed = a.result.Elapsed()

	f, failed := a.result.(*generator.Failure)
	if !failed {
		return a
	}
	limit := r.classify(slot, f.Message)
	if !limit.RateLimited {
		return a
	}
	a.retryAt = limit.RetryAt
	sub, info, ok := r.router.FallbackFor(role, slot)
	if !ok {
		r.pl.logger.Warn("no fallback available", "stage", slot, "role", role, "retry_at", limit.RetryAt, "trace_id", r.traceID)
		r.trace.event("[%s] no fallback available (trace_id=%s)", slot, r.traceID)
		return a
	}

	info.RetryAt = limit.RetryAt
	prompt := r.router.BuildFallbackPrompt(role, sub, input)
	res := generator.Invoke(ctx, r.pl.clients.Get(sub), sub, prompt)
	a.elapsed += res.Elapsed()
	if sf, subFailed := res.(*generator.Failure); subFailed {
		r.classify(sub, sf.Message)
		r.pl.logger.Warn("fallback failed", "stage", slot, "fallback", sub, "error", sf.Message, "trace_id", r.traceID)
		r.trace.event("[%s] fallback to %s failed: %s (trace_id=%s)", slot, sub, sf.Kind, r.traceID)
		return a
	}

	r.pl.logger.Info("fallback", "stage", slot, "original", slot, "fallback", sub, "role", role, "trace_id", r.traceID)
	r.trace.event("[%s] fallback to %s (rate limit, trace_id=%s)", slot, sub, r.traceID)
	a.result = res
	a.backend = sub
	a.prompt = prompt
	a.fallback = &info
	return a
}

// singleBackend lets the only remaining backend serve every role, one call
// after another, each prompted with the previous role's output. Outputs land
// on the canonical slots. Earlier stage outputs are replaced.
func (r *run) singleBackend(ctx context.Context) {
	sole, infos, ok := r.router.SingleBackendForAllRoles()
	if !ok {
		return
	}
	r.single = sole
	displaced := make(map[fallback.Role]fallback.Info, len(infos))
	for _, info := range infos {
		displaced[info.Role] = info
	}
	r.pl.logger.Warn("single backend mode", "backend", sole, "trace_id", r.traceID)
	r.trace.event("[single] %s serves all roles (trace_id=%s)", sole, r.traceID)

	input := r.req.Task
	for _, role := range fallback.Roles {
		slot := fallback.BackendFor(role)
		if role == fallback.Evaluation && r.req.SkipEvaluation {
			r.skipFlag()
			continue
		}

		a := &attempt{slot: slot, backend: sole}
		if info, ok := displaced[role]; ok {
			info.RetryAt = r.retryAt[info.OriginalBackend]
			a.prompt = r.router.BuildFallbackPrompt(role, sole, input)
			a.fallback = &info
			a.retryAt = info.RetryAt
		} else {
			a.prompt = prompts.ForRole(string(role), input)
		}
		a.result = generator.Invoke(ctx, r.pl.clients.Get(sole), sole, a.prompt)
		a.elapsed = a.result.Elapsed()

		if f, failed := a.result.(*generator.Failure); failed && r.classify(sole, f.Message).RateLimited {
			r.exhaust()
			return
		}
		r.put(a)
		input = a.result.DisplayContent()
	}
}

// #endregion

// #region outputs
func (r *run) put(a *attempt) {
	md := Metadata{
		Backend:    a.backend,
		DurationMS: a.elapsed.Milliseconds(),
		TraceID:    r.traceID,
		Fallback:   a.fallback,
		RetryAt:    a.retryAt,
	}
	switch res := a.result.(type) {
	case *generator.Success:
		md.Status = StatusOK
		md.Source = res.Source
	case *generator.Failure:
		md.Status = StatusError
		md.Source = res.Source
		md.ErrorType = string(res.Kind)
		md.Reason = generator.Truncate(res.Message, maxReasonLen)
		r.pl.logger.Warn("stage failed", "stage", a.slot, "backend", a.backend, "kind", res.Kind,
			"error", md.Reason, "trace_id", r.traceID)
	}
	out := Output{Model: a.slot, Content: a.result.DisplayContent(), Metadata: md}
	r.outputs[a.slot] = out
	r.trace.stage(out, a.prompt)
}

func (r *run) skip(slot generator.BackendID, reason string) {
	failed := generator.Codex
	if reason == ReasonStrictClaude {
		failed = generator.Claude
	}
	out := Output{
		Model:    slot,
		Content:  fmt.Sprintf("[%s skipped - strict policy after %s failure]", slot, failed),
		Metadata: Metadata{Status: StatusSkipped, TraceID: r.traceID, Reason: reason},
	}
	r.outputs[slot] = out
	r.trace.event("[%s] skipped: %s (trace_id=%s)", slot, reason, r.traceID)
	r.trace.stage(out, "")
}

func (r *run) skipFlag() {
	out := Output{
		Model:    generator.Claude,
		Content:  skipPlaceholder,
		Metadata: Metadata{Status: StatusSkipped, TraceID: r.traceID, Reason: ReasonSkipFlag},
	}
	r.outputs[generator.Claude] = out
	r.trace.event("[claude] skipped: %s (trace_id=%s)", ReasonSkipFlag, r.traceID)
	r.trace.stage(out, "")
}

// classify marks id rate limited when msg says so and remembers the
// advertised retry time.
func (r *run) classify(id generator.BackendID, msg string) ratelimit.Info {
	limit := ratelimit.Classify(msg)
	if !limit.RateLimited {
		return limit
	}
	r.router.MarkRateLimited(id)
	if limit.RetryAt != nil {
		if r.retryAt == nil {
			r.retryAt = make(map[generator.BackendID]*time.Time)
		}
		r.retryAt[id] = limit.RetryAt
	}
	return limit
}

// earliestRetry is the soonest advertised time any limited backend frees up.
func (r *run) earliestRetry() *time.Time {
	var first *time.Time
	for _, t := range r.retryAt {
		if first == nil || t.Before(*first) {
			first = t
		}
	}
	return first
}

// exhaust replaces every slot with the same system-level error.
func (r *run) exhaust() {
	r.exhausted = true
	retryAt := r.earliestRetry()
	for _, id := range generator.Canonical {
		r.outputs[id] = Output{
			Model:   id,
			Content: exhaustedText,
			Metadata: Metadata{
				Status:    StatusError,
				Source:    "system",
				TraceID:   r.traceID,
				Reason:    ReasonExhausted,
				ErrorType: "rate_limited",
				RetryAt:   retryAt,
			},
		}
	}
	r.pl.logger.Error("all backends exhausted", "retry_at", retryAt, "trace_id", r.traceID)
	r.trace.event("[exhausted] all backends rate limited (trace_id=%s)", r.traceID)
}

// Summary renders "codex(ok) -> claude(skipped) -> gemini(ok)".
func Summary(outputs Outputs) string {
	parts := make([]string, 0, len(generator.Canonical))
	for _, id := range generator.Canonical {
		status := Status("missing")
		if out, ok := outputs[id]; ok {
			status = out.Metadata.Status
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", id, status))
	}
	return strings.Join(parts, " -> ")
}

// #endregion

// #region audit
func (pl *Pipeline) audit(ctx context.Context, r *run, summary string) {
	if pl.auditor == nil {
		return
	}
	rec := logging.BattleRecord{
		Policy:         string(pl.policy),
		SkipEvaluation: r.req.SkipEvaluation,
		SingleBackend:  string(r.single),
		Exhausted:      r.exhausted,
	}
	for _, id := range generator.Canonical {
		out := r.outputs[id]
		st := logging.StageRecord{
			Slot:       string(id),
			Backend:    string(out.Metadata.Backend),
			Status:     string(out.Metadata.Status),
			Reason:     out.Metadata.Reason,
			DurationMS: out.Metadata.DurationMS,
		}
		if out.Metadata.Fallback != nil {
			st.Fallback = out.Metadata.Fallback.Reason
		}
		if out.Metadata.RetryAt != nil {
			st.RetryAt = out.Metadata.RetryAt.Format(time.RFC3339)
		}
		rec.Stages = append(rec.Stages, st)
	}
	detail, err := json.Marshal(rec)
	if err != nil {
		pl.logger.Warn("marshal battle record", "error", err, "trace_id", r.traceID)
	}
	reason := ""
	if r.exhausted {
		reason = ReasonExhausted
	}
	entry := logging.DecisionEntry{
		TraceID:    r.traceID,
		SessionID:  r.req.SessionID,
		Mode:       "proposal_battle",
		Input:      generator.Truncate(r.req.Task, auditInputPreview),
		Outcome:    summary,
		Reason:     reason,
		DetailJSON: string(detail),
	}
	if err := pl.auditor.Record(ctx, entry); err != nil {
		pl.logger.Warn("audit write failed", "error", err, "trace_id", r.traceID)
	}
}

// #endregion
