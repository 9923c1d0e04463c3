package codec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region mock
type mockGeneratorService struct {
	generateResp *structpb.Struct
	generateErr  error
	lastPrompt   string

	healthResp *structpb.Struct
	healthErr  error
}

func (m *mockGeneratorService) Generate(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.lastPrompt = in.GetFields()["prompt"].GetStringValue()
	return m.generateResp, m.generateErr
}

func (m *mockGeneratorService) Health(_ context.Context, _ *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return m.healthResp, m.healthErr
}

type echoBackend struct {
	err error
}

func (b *echoBackend) Generate(_ context.Context, prompt string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return "echo: " + prompt, nil
}

func (b *echoBackend) Health(context.Context) HealthResult {
	return HealthResult{Status: "ok", Command: []string{"echo", "-n"}}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("structpb: %v", err)
	}
	return s
}

// #endregion mock

// #region constructor-tests
func TestNewClientInvalidAddr(t *testing.T) {
	client, err := NewClient("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer client.Close()
}

func TestNewClientWithService(t *testing.T) {
	c := NewClientWithService(&mockGeneratorService{})
	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.svc == nil {
		t.Fatal("expected non-nil internal service")
	}
	if err := c.Close(); err != nil {
		t.Errorf("close without conn should be a no-op, got %v", err)
	}
}

// #endregion constructor-tests

// #region generate-tests
func TestGenerate_Success(t *testing.T) {
	mock := &mockGeneratorService{
		generateResp: mustStruct(t, map[string]any{"content": "hello world", "status": "ok"}),
	}
	c := NewClientWithService(mock)

	result, err := c.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "hello world" {
		t.Errorf("expected content 'hello world', got %q", result.Content)
	}
	if result.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", result.Status)
	}
	if mock.lastPrompt != "prompt" {
		t.Errorf("expected prompt to be sent, got %q", mock.lastPrompt)
	}
}

func TestGenerate_Error(t *testing.T) {
	mock := &mockGeneratorService{generateErr: errors.New("rpc failed")}
	c := NewClientWithService(mock)

	_, err := c.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, mock.generateErr) {
		t.Errorf("expected wrapped rpc error, got: %v", err)
	}
}

// #endregion generate-tests

// #region health-tests
func TestHealth_Success(t *testing.T) {
	mock := &mockGeneratorService{
		healthResp: mustStruct(t, map[string]any{"status": "missing", "command": []any{"claude", "-p"}}),
	}
	c := NewClientWithService(mock)

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Status != "missing" {
		t.Errorf("expected status 'missing', got %q", h.Status)
	}
	if len(h.Command) != 2 || h.Command[0] != "claude" {
		t.Errorf("expected command [claude -p], got %v", h.Command)
	}
}

func TestHealth_Error(t *testing.T) {
	mock := &mockGeneratorService{healthErr: errors.New("down")}
	c := NewClientWithService(mock)

	if _, err := c.Health(context.Background()); !errors.Is(err, mock.healthErr) {
		t.Errorf("expected wrapped health error, got: %v", err)
	}
}

// #endregion health-tests

// #region bufconn-tests
func startBufServer(t *testing.T, b Backend) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterGeneratorServer(srv, NewServer(b))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := NewClientWithOptions("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_RoundTrip(t *testing.T) {
	c := startBufServer(t, &echoBackend{})

	res, err := c.Generate(context.Background(), "ping")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "echo: ping" {
		t.Errorf("expected 'echo: ping', got %q", res.Content)
	}
	if res.Status != "ok" {
		t.Errorf("expected status ok, got %q", res.Status)
	}

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected health error: %v", err)
	}
	if h.Status != "ok" || len(h.Command) != 2 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{ErrCommandTimeout, codes.DeadlineExceeded},
		{fmt.Errorf("run: %w", ErrCommandMissing), codes.Unavailable},
		{errors.New("exit status 1: boom"), codes.Internal},
	}
	for _, tt := range tests {
		c := startBufServer(t, &echoBackend{err: tt.err})
		_, err := c.Generate(context.Background(), "x")
		if err == nil {
			t.Fatalf("%v: expected error", tt.err)
		}
		if got := status.Code(errors.Unwrap(err)); got != tt.want {
			t.Errorf("%v: expected code %v, got %v", tt.err, tt.want, got)
		}
	}
}

// #endregion bufconn-tests
