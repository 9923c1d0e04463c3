package battle

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
)

// trace collects the verbose timeline and stage logs. Disabled traces record nothing.
type trace struct {
	enabled  bool
	now      func() time.Time
	logs     []LogEntry
	timeline []string
}

func newTrace(enabled bool, now func() time.Time) *trace {
	return &trace{enabled: enabled, now: now}
}

func (t *trace) event(format string, args ...any) {
	if !t.enabled {
		return
	}
	t.timeline = append(t.timeline, fmt.Sprintf(format, args...))
}

func (t *trace) stage(out Output, prompt string) {
	if !t.enabled {
		return
	}
	t.logs = append(t.logs, LogEntry{
		T:              t.now().UTC().Format(time.RFC3339Nano),
		Stage:          out.Model,
		TraceID:        out.Metadata.TraceID,
		Status:         out.Metadata.Status,
		DurationMS:     out.Metadata.DurationMS,
		Source:         out.Metadata.Source,
		PromptPreview:  generator.Truncate(prompt, previewLen),
		ContentPreview: generator.Truncate(out.Content, previewLen),
		Reason:         out.Metadata.Reason,
	})
	if out.Metadata.Status != StatusSkipped {
		t.event("[%s] %s in %dms (trace_id=%s)", out.Model, out.Metadata.Status, out.Metadata.DurationMS, out.Metadata.TraceID)
	}
}
