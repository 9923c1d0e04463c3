package battle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
)

// #region mock
type fakeClient struct {
	id      generator.BackendID
	respond func(prompt string) generator.Result

	mu      sync.Mutex
	prompts []string
}

func (f *fakeClient) ID() generator.BackendID { return f.id }

func (f *fakeClient) Generate(_ context.Context, prompt string) generator.Result {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.respond(prompt)
}

func (f *fakeClient) Health(context.Context) generator.Health {
	return generator.Health{Available: true, Kind: generator.HealthReal}
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func replying(id generator.BackendID, content string) *fakeClient {
	return &fakeClient{id: id, respond: func(string) generator.Result {
		return &generator.Success{BackendID: id, Content: content, Duration: 10 * time.Millisecond, Source: "http://" + string(id)}
	}}
}

func failing(id generator.BackendID, kind generator.ErrorKind, msg string) *fakeClient {
	return &fakeClient{id: id, respond: func(string) generator.Result {
		return &generator.Failure{BackendID: id, Kind: kind, Message: msg, Duration: 3 * time.Millisecond}
	}}
}

type recordingAuditor struct {
	entries []logging.DecisionEntry
}

func (a *recordingAuditor) Record(_ context.Context, e logging.DecisionEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func newPipeline(codex, claude, gemini generator.Client, opts ...Option) *Pipeline {
	return NewPipeline(generator.NewSet(codex, claude, gemini), opts...)
}

func task(t string) Request { return Request{Task: t, TraceID: "t-1"} }

// #endregion mock

// #region chain-tests
func TestRun_ChainsStages(t *testing.T) {
	codex := replying(generator.Codex, "CODEX-PLAN")
	claude := replying(generator.Claude, "CLAUDE-REVIEW")
	gemini := replying(generator.Gemini, "GEMINI-IDEAS")
	p := newPipeline(codex, claude, gemini)

	res, err := p.Run(context.Background(), task("build a rate limiter"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(codex.prompts[0], "build a rate limiter") {
		t.Error("codex prompt must carry the task")
	}
	if !strings.Contains(claude.prompts[0], "CODEX-PLAN") {
		t.Error("claude prompt must carry codex output")
	}
	if !strings.Contains(gemini.prompts[0], "CLAUDE-REVIEW") {
		t.Error("gemini prompt must carry claude output")
	}
	for _, id := range generator.Canonical {
		out := res.Outputs[id]
		if out.Model != id || out.Metadata.Status != StatusOK || out.Metadata.Backend != id {
			t.Errorf("%s: unexpected output %+v", id, out)
		}
		if out.Metadata.TraceID != "t-1" || out.Metadata.DurationMS != 10 {
			t.Errorf("%s: unexpected metadata %+v", id, out.Metadata)
		}
	}
	if res.Logs != nil || res.Summary != "" || res.Timeline != nil {
		t.Error("non-verbose run must not carry a trace")
	}
}

func TestRun_SkipEvaluation(t *testing.T) {
	codex := replying(generator.Codex, "CODEX-PLAN")
	claude := replying(generator.Claude, "unused")
	gemini := replying(generator.Gemini, "GEMINI-IDEAS")
	p := newPipeline(codex, claude, gemini)

	req := task("x")
	req.SkipEvaluation = true
	res, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claude.calls() != 0 {
		t.Fatalf("expected claude to be skipped, got %d calls", claude.calls())
	}
	out := res.Outputs[generator.Claude]
	if out.Metadata.Status != StatusSkipped || out.Metadata.Reason != ReasonSkipFlag {
		t.Errorf("unexpected skipped output %+v", out)
	}
	if out.Content != "[Claude skipped - using Codex output directly]" {
		t.Errorf("unexpected placeholder %q", out.Content)
	}
	if !strings.Contains(gemini.prompts[0], "CODEX-PLAN") {
		t.Error("gemini must be prompted with codex output when claude is skipped")
	}
}

func TestRun_EmptyTask(t *testing.T) {
	p := newPipeline(replying(generator.Codex, "a"), replying(generator.Claude, "b"), replying(generator.Gemini, "c"))
	if _, err := p.Run(context.Background(), task("  ")); !errors.Is(err, ErrEmptyTask) {
		t.Fatalf("expected ErrEmptyTask, got %v", err)
	}
}

func TestRun_EmptyContentIsDisplayable(t *testing.T) {
	p := newPipeline(replying(generator.Codex, ""), replying(generator.Claude, "b"), replying(generator.Gemini, "c"))
	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs[generator.Codex].Content == "" {
		t.Fatal("every slot must carry displayable content")
	}
}

// #endregion chain-tests

// #region policy-tests
func TestRun_StrictSkipsAfterCodexFailure(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrException, "exit code 1: boom")
	claude := replying(generator.Claude, "b")
	gemini := replying(generator.Gemini, "c")
	p := newPipeline(codex, claude, gemini, WithPolicy(Strict))

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claude.calls() != 0 || gemini.calls() != 0 {
		t.Fatalf("strict policy must not invoke later stages, got claude=%d gemini=%d", claude.calls(), gemini.calls())
	}
	if a := res.Outputs[generator.Codex]; a.Metadata.Status != StatusError || a.Metadata.ErrorType != "exception" {
		t.Errorf("codex must keep its error, got %+v", a.Metadata)
	}
	for _, id := range []generator.BackendID{generator.Claude, generator.Gemini} {
		out := res.Outputs[id]
		if out.Metadata.Status != StatusSkipped || out.Metadata.Reason != ReasonStrictCodex {
			t.Errorf("%s: expected strict skip, got %+v", id, out.Metadata)
		}
		if out.Content == "" {
			t.Errorf("%s: skipped slot needs content", id)
		}
	}
}

func TestRun_StrictSkipsOnlyGeminiAfterClaudeFailure(t *testing.T) {
	gemini := replying(generator.Gemini, "c")
	p := newPipeline(replying(generator.Codex, "a"), failing(generator.Claude, generator.ErrTimeout, "timed out"), gemini, WithPolicy(Strict))

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gemini.calls() != 0 {
		t.Fatalf("expected gemini skipped, got %d calls", gemini.calls())
	}
	if res.Outputs[generator.Codex].Metadata.Status != StatusOK {
		t.Error("codex output must survive")
	}
	if res.Outputs[generator.Gemini].Metadata.Reason != ReasonStrictClaude {
		t.Errorf("unexpected gemini metadata %+v", res.Outputs[generator.Gemini].Metadata)
	}
}

func TestRun_StrictFallbackSuccessDoesNotSkip(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrHTTP, "HTTP 429: usage limit reached")
	claude := replying(generator.Claude, "CLAUDE")
	gemini := replying(generator.Gemini, "GEMINI")
	p := newPipeline(codex, claude, gemini, WithPolicy(Strict))

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claude.calls() != 2 {
		t.Fatalf("expected claude to cover codex and then run its own stage, got %d calls", claude.calls())
	}
	if !strings.Contains(claude.prompts[0], "[FALLBACK NOTICE]") || !strings.Contains(claude.prompts[0], "EXECUTION") {
		t.Errorf("substitute must get the role-substitution prompt, got %q", claude.prompts[0])
	}
	a := res.Outputs[generator.Codex]
	if a.Model != generator.Codex || a.Metadata.Status != StatusOK || a.Metadata.Backend != generator.Claude {
		t.Fatalf("expected codex slot served by claude, got %+v", a)
	}
	fb := a.Metadata.Fallback
	if fb == nil || fb.OriginalBackend != generator.Codex || fb.FallbackBackend != generator.Claude || fb.Role != "execution" {
		t.Fatalf("unexpected fallback info %+v", fb)
	}
	if a.Metadata.DurationMS != 13 {
		t.Errorf("expected duration to include both attempts, got %d", a.Metadata.DurationMS)
	}
	if res.Outputs[generator.Gemini].Metadata.Status != StatusOK {
		t.Error("gemini must still run")
	}
}

func TestRun_LenientForwardsErrorContent(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrException, "exit code 2: kaput")
	claude := replying(generator.Claude, "b")
	p := newPipeline(codex, claude, replying(generator.Gemini, "c"))

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claude.calls() != 1 {
		t.Fatalf("lenient policy must run claude, got %d calls", claude.calls())
	}
	if !strings.Contains(claude.prompts[0], "kaput") {
		t.Errorf("claude must see codex's error content, got %q", claude.prompts[0])
	}
	if res.Outputs[generator.Codex].Metadata.Status != StatusError {
		t.Error("codex slot must be an error")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{"strict": Strict, " STRICT ": Strict, "lenient": Lenient, "bogus": Lenient, "": Lenient}
	for in, want := range tests {
		if got := ParsePolicy(in); got != want {
			t.Errorf("ParsePolicy(%q) = %s, want %s", in, got, want)
		}
	}
	if got := NewPipeline(nil, WithPolicy("weird")).Policy(); got != Lenient {
		t.Errorf("expected unknown policy option to normalize to lenient, got %s", got)
	}
}

// #endregion policy-tests

// #region degraded-tests
func TestRun_SingleBackendMode(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrHTTP, "rate limit exceeded")
	claude := failing(generator.Claude, generator.ErrHTTP, "quota exceeded")
	gemini := replying(generator.Gemini, "GEMINI")
	p := newPipeline(codex, claude, gemini)

	req := task("x")
	req.Verbose = true
	res, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gemini.calls() != 3 || codex.calls() != 1 || claude.calls() != 1 {
		t.Fatalf("expected gemini to serve three roles, got codex=%d claude=%d gemini=%d",
			codex.calls(), claude.calls(), gemini.calls())
	}
	for _, id := range generator.Canonical {
		out := res.Outputs[id]
		if out.Model != id || out.Metadata.Status != StatusOK || out.Metadata.Backend != generator.Gemini {
			t.Errorf("%s: expected gemini-served ok slot, got %+v", id, out)
		}
	}
	if res.Outputs[generator.Codex].Metadata.Fallback == nil || res.Outputs[generator.Claude].Metadata.Fallback == nil {
		t.Error("displaced roles must carry fallback info")
	}
	if res.Outputs[generator.Gemini].Metadata.Fallback != nil {
		t.Error("gemini's own role is not a fallback")
	}
	if !strings.Contains(gemini.prompts[1], "GEMINI") || !strings.Contains(gemini.prompts[1], "[FALLBACK NOTICE]") {
		t.Error("evaluation call must chain the execution output in a fallback prompt")
	}
	if !containsLine(res.Timeline, "[single] gemini serves all roles (trace_id=t-1)") {
		t.Errorf("expected single-backend timeline event, got %v", res.Timeline)
	}
}

func TestRun_AllBackendsExhausted(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrHTTP, "usage limit")
	claude := failing(generator.Claude, generator.ErrHTTP, "usage limit")
	gemini := failing(generator.Gemini, generator.ErrHTTP, "usage limit")
	aud := &recordingAuditor{}
	p := newPipeline(codex, claude, gemini, WithAuditor(aud))

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range generator.Canonical {
		out := res.Outputs[id]
		if out.Model != id || out.Metadata.Status != StatusError || out.Metadata.Reason != ReasonExhausted {
			t.Errorf("%s: expected exhausted output, got %+v", id, out)
		}
		if !strings.Contains(out.Content, "all backends exhausted") {
			t.Errorf("%s: unexpected content %q", id, out.Content)
		}
	}
	if gemini.calls() != 1 {
		t.Errorf("expected no dispatch after exhaustion, got %d gemini calls", gemini.calls())
	}
	if len(aud.entries) != 1 || aud.entries[0].Reason != ReasonExhausted {
		t.Fatalf("expected exhausted audit entry, got %+v", aud.entries)
	}
}

func TestRun_FallbackCarriesRetryTime(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrHTTP, "usage limit reached. try again at 2025-12-05T16:05:00Z")
	aud := &recordingAuditor{}
	p := newPipeline(codex, replying(generator.Claude, "CLAUDE"), replying(generator.Gemini, "GEMINI"), WithAuditor(aud))

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 12, 5, 16, 5, 0, 0, time.UTC)
	md := res.Outputs[generator.Codex].Metadata
	if md.RetryAt == nil || !md.RetryAt.Equal(want) {
		t.Fatalf("expected retry_at %s, got %v", want, md.RetryAt)
	}
	if md.Fallback == nil || md.Fallback.RetryAt == nil || !md.Fallback.RetryAt.Equal(want) {
		t.Errorf("expected fallback retry_at %s, got %+v", want, md.Fallback)
	}
	if got := res.Outputs[generator.Claude].Metadata.RetryAt; got != nil {
		t.Errorf("claude was not limited, got retry_at %v", got)
	}

	data, err := json.Marshal(res.Outputs[generator.Codex])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"retry_at":"2025-12-05T16:05:00Z"`) {
		t.Errorf("expected retry_at in output json, got %s", data)
	}
	if len(aud.entries) != 1 || !strings.Contains(aud.entries[0].DetailJSON, `"retry_at":"2025-12-05T16:05:00Z"`) {
		t.Errorf("expected retry_at in audit detail, got %+v", aud.entries)
	}
}

func TestRun_SingleBackendCarriesRetryTimes(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrHTTP, "usage limit reached. try again at 2025-12-05T16:05:00Z")
	claude := failing(generator.Claude, generator.ErrHTTP, "quota exceeded, retry after 2025-12-05 18:00:00")
	p := newPipeline(codex, claude, replying(generator.Gemini, "GEMINI"))

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wants := map[generator.BackendID]time.Time{
		generator.Codex:  time.Date(2025, 12, 5, 16, 5, 0, 0, time.UTC),
		generator.Claude: time.Date(2025, 12, 5, 18, 0, 0, 0, time.UTC),
	}
	for id, want := range wants {
		md := res.Outputs[id].Metadata
		if md.RetryAt == nil || !md.RetryAt.Equal(want) {
			t.Errorf("%s: expected retry_at %s, got %v", id, want, md.RetryAt)
		}
		if md.Fallback == nil || md.Fallback.RetryAt == nil || !md.Fallback.RetryAt.Equal(want) {
			t.Errorf("%s: expected fallback retry_at %s, got %+v", id, want, md.Fallback)
		}
	}
	if got := res.Outputs[generator.Gemini].Metadata.RetryAt; got != nil {
		t.Errorf("gemini's own role has no retry time, got %v", got)
	}
}

func TestRun_ExhaustedReportsEarliestRetry(t *testing.T) {
	codex := failing(generator.Codex, generator.ErrHTTP, "usage limit reached. try again at 2025-12-05T16:05:00Z")
	claude := failing(generator.Claude, generator.ErrHTTP, "quota exceeded, retry after 2025-12-05 18:00:00")
	gemini := failing(generator.Gemini, generator.ErrHTTP, "rate limit exceeded")
	p := newPipeline(codex, claude, gemini)

	res, err := p.Run(context.Background(), task("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 12, 5, 16, 5, 0, 0, time.UTC)
	for _, id := range generator.Canonical {
		md := res.Outputs[id].Metadata
		if md.Reason != ReasonExhausted {
			t.Fatalf("%s: expected exhausted, got %+v", id, md)
		}
		if md.RetryAt == nil || !md.RetryAt.Equal(want) {
			t.Errorf("%s: expected retry_at %s, got %v", id, want, md.RetryAt)
		}
	}
}

// #endregion degraded-tests

// #region trace-tests
func TestRun_VerboseTrace(t *testing.T) {
	p := newPipeline(replying(generator.Codex, "a"), replying(generator.Claude, "b"), replying(generator.Gemini, "c"),
		WithClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }))

	req := task("x")
	req.Verbose = true
	req.SkipEvaluation = true
	res, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "codex(ok) -> claude(skipped) -> gemini(ok)" {
		t.Errorf("unexpected summary %q", res.Summary)
	}
	if len(res.Logs) != 3 {
		t.Fatalf("expected 3 stage logs, got %d", len(res.Logs))
	}
	if res.Logs[0].T != "2026-01-01T00:00:00Z" || res.Logs[0].TraceID != "t-1" || res.Logs[0].PromptPreview == "" {
		t.Errorf("unexpected first log %+v", res.Logs[0])
	}
	for _, line := range res.Timeline {
		if !strings.Contains(line, "trace_id=t-1") {
			t.Errorf("timeline line without trace id: %q", line)
		}
	}
}

func TestRun_AuditRecord(t *testing.T) {
	aud := &recordingAuditor{}
	p := newPipeline(failing(generator.Codex, generator.ErrHTTP, "rate limit"), replying(generator.Claude, "b"), replying(generator.Gemini, "c"),
		WithAuditor(aud))

	req := task("x")
	req.SessionID = "s-1"
	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aud.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(aud.entries))
	}
	e := aud.entries[0]
	if e.Mode != "proposal_battle" || e.SessionID != "s-1" || e.Outcome != "codex(ok) -> claude(ok) -> gemini(ok)" {
		t.Errorf("unexpected entry %+v", e)
	}
	var rec logging.BattleRecord
	if err := json.Unmarshal([]byte(e.DetailJSON), &rec); err != nil {
		t.Fatalf("detail json: %v", err)
	}
	if len(rec.Stages) != 3 || rec.Stages[0].Backend != "claude" || rec.Stages[0].Fallback == "" {
		t.Errorf("expected codex stage served by claude, got %+v", rec.Stages)
	}
}

// #endregion trace-tests

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
