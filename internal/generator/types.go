package generator

// #region imports
import (
	"fmt"
	"time"
)

// #endregion

// #region backend-id

// BackendID names one of the three generator backends.
type BackendID string

const (
	Codex  BackendID = "codex"
	Claude BackendID = "claude"
	Gemini BackendID = "gemini"
)

// Canonical is the fixed backend order used for availability lists and output slots.
var Canonical = []BackendID{Codex, Claude, Gemini}

// ParseBackendID returns the backend for s, or false if s names none of them.
func ParseBackendID(s string) (BackendID, bool) {
	for _, id := range Canonical {
		if string(id) == s {
			return id, true
		}
	}
	return "", false
}

// #endregion

// #region error-kind

// ErrorKind categorizes a failed Generate call.
type ErrorKind string

const (
	ErrTimeout     ErrorKind = "timeout"
	ErrHTTP        ErrorKind = "http_error"
	ErrUnavailable ErrorKind = "unavailable"
	ErrException   ErrorKind = "exception"
)

// #endregion

// #region result

// Result is the outcome of one Generate call: either Success or Failure.
type Result interface {
	Backend() BackendID
	Elapsed() time.Duration
	// DisplayContent is text that can always be shown for this result.
	DisplayContent() string
	isResult()
}

// Success is a completed generation.
type Success struct {
	BackendID BackendID
	Content   string
	Duration  time.Duration
	Source    string // endpoint URL or command string
	TraceID   string
	Metadata  map[string]string
}

// Failure is a generation that did not produce content.
type Failure struct {
	BackendID       BackendID
	Kind            ErrorKind
	Message         string
	Duration        time.Duration
	Source          string
	TraceID         string
	FallbackContent string // human-readable stub, may be empty
}

func (s *Success) Backend() BackendID     { return s.BackendID }
func (s *Success) Elapsed() time.Duration { return s.Duration }
func (s *Success) isResult()              {}

// DisplayContent returns the generated text, or a marker when the backend returned nothing.
func (s *Success) DisplayContent() string {
	if s.Content == "" {
		return fmt.Sprintf("[%s returned empty content]", s.BackendID)
	}
	return s.Content
}

func (f *Failure) Backend() BackendID     { return f.BackendID }
func (f *Failure) Elapsed() time.Duration { return f.Duration }
func (f *Failure) isResult()              {}

// DisplayContent returns the stub content if one was synthesized, else a short error line.
func (f *Failure) DisplayContent() string {
	if f.FallbackContent != "" {
		return f.FallbackContent
	}
	msg := f.Message
	if msg == "" {
		msg = "no error detail"
	}
	return fmt.Sprintf("[%s %s] %s", f.BackendID, f.Kind, msg)
}

// #endregion

// #region health

// HealthKind is the kind of backend behind a client.
type HealthKind string

const (
	HealthReal    HealthKind = "real"
	HealthStub    HealthKind = "stub"
	HealthMissing HealthKind = "missing"
)

// Health reports whether a backend is reachable, without generating content.
type Health struct {
	Available bool       `json:"available"`
	Kind      HealthKind `json:"type"`
	Path      string     `json:"path"`
	Message   string     `json:"message"`
}

// #endregion

// #region helpers

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// #endregion
