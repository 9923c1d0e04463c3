package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// #region helpers
type panicClient struct{}

func (panicClient) ID() BackendID                           { return Codex }
func (panicClient) Generate(context.Context, string) Result { panic("boom") }
func (panicClient) Health(context.Context) Health           { return Health{} }

type nilClient struct{}

func (nilClient) ID() BackendID                           { return Claude }
func (nilClient) Generate(context.Context, string) Result { return nil }
func (nilClient) Health(context.Context) Health           { return Health{} }

func newWrapperServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// #endregion helpers

// #region http-tests
func TestHTTPClient_Success(t *testing.T) {
	var gotPrompt string
	srv := newWrapperServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotPrompt = body["prompt"]
		json.NewEncoder(w).Encode(map[string]string{"content": "generated", "status": "ok"})
	})

	c := NewHTTPClient(Codex, srv.URL+"/", time.Second)
	res := c.Generate(WithTraceID(context.Background(), "trace-1"), "hello")
	s, ok := res.(*Success)
	if !ok {
		t.Fatalf("expected success, got %#v", res)
	}
	if s.Content != "generated" {
		t.Errorf("expected content 'generated', got %q", s.Content)
	}
	if s.TraceID != "trace-1" {
		t.Errorf("expected trace id, got %q", s.TraceID)
	}
	if s.Source != srv.URL+"/generate" {
		t.Errorf("expected source %s/generate, got %q", srv.URL, s.Source)
	}
	if gotPrompt != "hello" {
		t.Errorf("expected prompt 'hello', got %q", gotPrompt)
	}
	if s.Duration < 0 {
		t.Error("duration must be non-negative")
	}
}

func TestHTTPClient_Non2xxTruncatesBody(t *testing.T) {
	long := strings.Repeat("x", 2000)
	srv := newWrapperServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, long, http.StatusBadGateway)
	})

	res := NewHTTPClient(Claude, srv.URL, time.Second).Generate(context.Background(), "p")
	f, ok := res.(*Failure)
	if !ok {
		t.Fatalf("expected failure, got %#v", res)
	}
	if f.Kind != ErrHTTP {
		t.Errorf("expected http_error, got %s", f.Kind)
	}
	if !strings.HasPrefix(f.Message, "HTTP 502: ") {
		t.Errorf("expected HTTP 502 prefix, got %q", f.Message[:20])
	}
	if got := len(strings.TrimPrefix(f.Message, "HTTP 502: ")); got != 500 {
		t.Errorf("expected body truncated to 500, got %d", got)
	}
	if f.DisplayContent() == "" {
		t.Error("failure must have display content")
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := newWrapperServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	res := NewHTTPClient(Gemini, srv.URL, 50*time.Millisecond).Generate(context.Background(), "p")
	f, ok := res.(*Failure)
	if !ok {
		t.Fatalf("expected failure, got %#v", res)
	}
	if f.Kind != ErrTimeout {
		t.Errorf("expected timeout, got %s (%s)", f.Kind, f.Message)
	}
}

func TestHTTPClient_BadJSON(t *testing.T) {
	srv := newWrapperServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	res := NewHTTPClient(Codex, srv.URL, time.Second).Generate(context.Background(), "p")
	if f, ok := res.(*Failure); !ok || f.Kind != ErrHTTP {
		t.Fatalf("expected http_error failure, got %#v", res)
	}
}

func TestHTTPClient_EmptyURLStub(t *testing.T) {
	res := NewHTTPClient(Codex, "", time.Second).Generate(context.Background(), "write a parser")
	f, ok := res.(*Failure)
	if !ok {
		t.Fatalf("expected failure, got %#v", res)
	}
	if f.Kind != ErrUnavailable {
		t.Errorf("expected unavailable, got %s", f.Kind)
	}
	want := "Stub response for codex (wrapper url not configured): write a parser"
	if f.DisplayContent() != want {
		t.Errorf("expected %q, got %q", want, f.DisplayContent())
	}
}

func TestHTTPClient_Health(t *testing.T) {
	tests := []struct {
		status string
		want   HealthKind
		avail  bool
	}{
		{"ok", HealthReal, true},
		{"missing", HealthMissing, false},
		{"weird", HealthStub, true},
	}
	for _, tt := range tests {
		srv := newWrapperServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"status": tt.status, "command": []string{"codex"}})
		})
		h := NewHTTPClient(Codex, srv.URL, time.Second).Health(context.Background())
		if h.Kind != tt.want || h.Available != tt.avail {
			t.Errorf("status %q: expected %s/%v, got %s/%v", tt.status, tt.want, tt.avail, h.Kind, h.Available)
		}
	}
}

func TestHTTPClient_HealthUnreachable(t *testing.T) {
	h := NewHTTPClient(Codex, "http://127.0.0.1:1", time.Second).Health(context.Background())
	if h.Kind != HealthStub {
		t.Errorf("expected stub for unreachable wrapper, got %s", h.Kind)
	}
}

// #endregion http-tests

// #region command-tests
func TestCommandClient_Success(t *testing.T) {
	c := NewCommandClient(Codex, []string{"cat"}, 5*time.Second)
	res := c.Generate(context.Background(), "  echoed back\n")
	s, ok := res.(*Success)
	if !ok {
		t.Fatalf("expected success, got %#v", res)
	}
	if s.Content != "echoed back" {
		t.Errorf("expected trimmed stdout, got %q", s.Content)
	}
	if s.Source != "cat" {
		t.Errorf("expected source 'cat', got %q", s.Source)
	}
}

func TestCommandClient_NonZeroExit(t *testing.T) {
	c := NewCommandClient(Claude, []string{"sh", "-c", "echo 'usage limit reached' >&2; exit 3"}, 5*time.Second)
	f, ok := c.Generate(context.Background(), "p").(*Failure)
	if !ok {
		t.Fatal("expected failure")
	}
	if f.Kind != ErrException {
		t.Errorf("expected exception, got %s", f.Kind)
	}
	if !strings.Contains(f.Message, "usage limit reached") || !strings.Contains(f.Message, "exit code 3") {
		t.Errorf("expected stderr and exit code in message, got %q", f.Message)
	}
}

func TestCommandClient_Timeout(t *testing.T) {
	c := NewCommandClient(Gemini, []string{"sleep", "5"}, 50*time.Millisecond)
	f, ok := c.Generate(context.Background(), "p").(*Failure)
	if !ok {
		t.Fatal("expected failure")
	}
	if f.Kind != ErrTimeout {
		t.Errorf("expected timeout, got %s (%s)", f.Kind, f.Message)
	}
}

func TestCommandClient_Missing(t *testing.T) {
	c := NewCommandClient(Codex, []string{"definitely-not-a-real-binary-xyz"}, time.Second)
	f, ok := c.Generate(context.Background(), "p").(*Failure)
	if !ok {
		t.Fatal("expected failure")
	}
	if f.Kind != ErrUnavailable {
		t.Errorf("expected unavailable, got %s", f.Kind)
	}
	if !strings.HasPrefix(f.DisplayContent(), "Stub response for codex") {
		t.Errorf("expected stub content, got %q", f.DisplayContent())
	}
	if h := c.Health(context.Background()); h.Available || h.Kind != HealthMissing {
		t.Errorf("expected missing health, got %+v", h)
	}
}

// #endregion command-tests

// #region invoke-tests
func TestInvoke_RecoversPanic(t *testing.T) {
	res := Invoke(context.Background(), panicClient{}, Codex, "p")
	f, ok := res.(*Failure)
	if !ok {
		t.Fatalf("expected failure, got %#v", res)
	}
	if f.Kind != ErrException || !strings.Contains(f.Message, "boom") {
		t.Errorf("expected exception with panic message, got %s %q", f.Kind, f.Message)
	}
}

func TestInvoke_NilClientAndNilResult(t *testing.T) {
	if f, ok := Invoke(context.Background(), nil, Gemini, "p").(*Failure); !ok || f.Kind != ErrUnavailable {
		t.Errorf("expected unavailable for nil client")
	}
	if f, ok := Invoke(context.Background(), nilClient{}, Claude, "p").(*Failure); !ok || f.Kind != ErrException {
		t.Errorf("expected exception for nil result")
	}
}

// #endregion invoke-tests

// #region endpoint-tests
func TestNewFromEndpoint(t *testing.T) {
	tests := []struct {
		ep   Endpoint
		want string
	}{
		{Endpoint{URL: "http://127.0.0.1:9001"}, "*generator.HTTPClient"},
		{Endpoint{URL: "grpc://127.0.0.1:9101"}, "*generator.GRPCClient"},
		{Endpoint{Command: []string{"codex", "exec"}}, "*generator.CommandClient"},
		{Endpoint{}, "*generator.HTTPClient"},
	}
	for _, tt := range tests {
		c, err := NewFromEndpoint(Codex, tt.ep)
		if err != nil {
			t.Fatalf("%+v: unexpected error: %v", tt.ep, err)
		}
		if got := typeName(c); got != tt.want {
			t.Errorf("%+v: expected %s, got %s", tt.ep, tt.want, got)
		}
	}
	if _, err := NewFromEndpoint(Codex, Endpoint{URL: "ftp://nope"}); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func typeName(c Client) string {
	switch c.(type) {
	case *HTTPClient:
		return "*generator.HTTPClient"
	case *GRPCClient:
		return "*generator.GRPCClient"
	case *CommandClient:
		return "*generator.CommandClient"
	}
	return "unknown"
}

func TestSetValidate(t *testing.T) {
	set, err := NewSetFromEndpoints(map[BackendID]Endpoint{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := set.Validate(); err != nil {
		t.Errorf("expected complete set, got %v", err)
	}
	delete(set, Claude)
	if err := set.Validate(); err == nil {
		t.Error("expected error for missing claude client")
	}
}

// #endregion endpoint-tests

// #region display-tests
func TestDisplayContent(t *testing.T) {
	if got := (&Success{BackendID: Codex}).DisplayContent(); got != "[codex returned empty content]" {
		t.Errorf("unexpected empty-success display %q", got)
	}
	f := &Failure{BackendID: Claude, Kind: ErrTimeout, Message: "took too long"}
	if got := f.DisplayContent(); got != "[claude timeout] took too long" {
		t.Errorf("unexpected failure display %q", got)
	}
	if Truncate("héllo", 2) != "hé" {
		t.Error("Truncate must count runes")
	}
}

// #endregion display-tests
