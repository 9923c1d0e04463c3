package generator

// #region imports
import (
	"context"
	"fmt"
	"io"
	"time"
)

// #endregion

// #region client

// Client is a uniform wrapper around one generator backend.
// Generate never panics and never returns an error: every outcome is a Result.
type Client interface {
	ID() BackendID
	Generate(ctx context.Context, prompt string) Result
	Health(ctx context.Context) Health
}

// #endregion

// #region set

// Set maps each backend id to its client.
type Set map[BackendID]Client

// NewSet builds a Set from the three canonical clients.
func NewSet(codex, claude, gemini Client) Set {
	return Set{Codex: codex, Claude: claude, Gemini: gemini}
}

// Get returns the client for id, or nil.
func (s Set) Get(id BackendID) Client {
	if s == nil {
		return nil
	}
	return s[id]
}

// Validate checks that every canonical backend has a client.
func (s Set) Validate() error {
	for _, id := range Canonical {
		if s.Get(id) == nil {
			return fmt.Errorf("generator set: missing client for %s", id)
		}
	}
	return nil
}

// Close releases clients that hold connections.
func (s Set) Close() error {
	var first error
	for _, c := range s {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// #endregion

// #region trace

type traceKey struct{}

// WithTraceID attaches a trace id to ctx for the clients to stamp on results.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id carried by ctx, if any.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// #endregion

// #region invoke

// Invoke calls client.Generate, converting a panic or a nil client into a Failure.
// The returned Result is never nil.
func Invoke(ctx context.Context, client Client, id BackendID, prompt string) (res Result) {
	start := time.Now()
	if client == nil {
		return &Failure{
			BackendID:       id,
			Kind:            ErrUnavailable,
			Message:         "no client configured",
			TraceID:         TraceID(ctx),
			FallbackContent: stubContent(id, "no client configured", prompt),
		}
	}
	defer func() {
		if r := recover(); r != nil {
			res = &Failure{
				BackendID: id,
				Kind:      ErrException,
				Message:   fmt.Sprintf("panic: %v", r),
				Duration:  nonNegative(time.Since(start)),
				TraceID:   TraceID(ctx),
			}
		}
	}()
	res = client.Generate(ctx, prompt)
	if res == nil {
		return &Failure{
			BackendID: id,
			Kind:      ErrException,
			Message:   "client returned no result",
			Duration:  nonNegative(time.Since(start)),
			TraceID:   TraceID(ctx),
		}
	}
	return res
}

// #endregion

// #region stub

const stubPromptPreview = 200

func stubContent(id BackendID, note, prompt string) string {
	suffix := ""
	if note != "" {
		suffix = " (" + note + ")"
	}
	return fmt.Sprintf("Stub response for %s%s: %s", id, suffix, Truncate(prompt, stubPromptPreview))
}

// #endregion
