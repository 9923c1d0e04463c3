package consensus

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/fallback"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
)

// trace accumulates the verbose log and timeline. A disabled trace drops everything.
type trace struct {
	enabled  bool
	now      func() time.Time
	logs     []LogEntry
	timeline []string
}

func newTrace(enabled bool, now func() time.Time) *trace {
	return &trace{enabled: enabled, now: now}
}

func (t *trace) stamp() string { return t.now().UTC().Format(time.RFC3339Nano) }

func (t *trace) event(format string, args ...any) {
	if !t.enabled {
		return
	}
	t.timeline = append(t.timeline, fmt.Sprintf(format, args...))
}

func (t *trace) fallback(persona prompts.Persona, info fallback.Info, traceID string) {
	if !t.enabled {
		return
	}
	t.event("[%s] fallback to %s (rate limit, trace_id=%s)", persona, info.FallbackBackend, traceID)
	inf := info
	t.logs = append(t.logs, LogEntry{T: t.stamp(), Persona: string(persona), Fallback: &inf})
}

func (t *trace) persona(r PersonaResult) {
	if !t.enabled {
		return
	}
	t.logs = append(t.logs, LogEntry{
		T:       t.stamp(),
		Persona: string(r.Persona),
		Vote:    r.Vote,
		Reason:  generator.Truncate(r.Reason, logReasonPreview),
	})
	t.event("[%s] %s - %s", r.Persona, r.Vote, generator.Truncate(r.Reason, timelineReasonPreview))
}
