// Package wrapper serves one local CLI over the generator wire protocols so
// controllers running in a container can reach CLIs installed on the host.
package wrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/danielpatrickdp/magi/go-controller/internal/codec"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
)

// #region runner

// Runner executes prompts through a single CLI command.
type Runner struct {
	client *generator.CommandClient
	logger *slog.Logger
}

// NewRunner wraps a command client. argv must name a command.
func NewRunner(id generator.BackendID, argv []string, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if len(argv) == 0 {
		return nil, errors.New("wrapper: empty command")
	}
	return &Runner{
		client: generator.NewCommandClient(id, argv, timeout),
		logger: logging.Component(logger, "wrapper").With("backend", string(id)),
	}, nil
}

// Generate runs the command once. Missing binaries and timeouts map to
// codec.ErrCommandMissing and codec.ErrCommandTimeout.
func (r *Runner) Generate(ctx context.Context, prompt string) (string, error) {
	switch res := r.client.Generate(ctx, prompt).(type) {
	case *generator.Success:
		r.logger.Debug("generate ok", "duration_ms", res.Duration.Milliseconds())
		return res.Content, nil
	case *generator.Failure:
		r.logger.Warn("generate failed", "kind", res.Kind, "message", res.Message)
		switch res.Kind {
		case generator.ErrUnavailable:
			return "", codec.ErrCommandMissing
		case generator.ErrTimeout:
			return "", codec.ErrCommandTimeout
		default:
			return "", errors.New(res.Message)
		}
	default:
		return "", fmt.Errorf("unexpected result %T", res)
	}
}

// Health reports "ok" when the binary is on PATH, "missing" otherwise.
func (r *Runner) Health(ctx context.Context) codec.HealthResult {
	status := "missing"
	if r.client.Health(ctx).Available {
		status = "ok"
	}
	return codec.HealthResult{Status: status, Command: r.client.Command()}
}

// #endregion runner

// #region http

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

type healthResponse struct {
	Status  string   `json:"status"`
	Command []string `json:"command"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Handler exposes POST /generate and GET /health.
func Handler(r *Runner) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "method not allowed"})
			return
		}
		h := r.Health(req.Context())
		writeJSON(w, http.StatusOK, healthResponse{Status: h.Status, Command: h.Command})
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "method not allowed"})
			return
		}
		var body generateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "invalid request body"})
			return
		}
		content, err := r.Generate(req.Context(), body.Prompt)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, generateResponse{Content: content, Status: "ok"})
		case errors.Is(err, codec.ErrCommandTimeout):
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Detail: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		}
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// #endregion http

// #region serve

// ServeHTTP serves Handler(r) on addr until ctx is cancelled.
func ServeHTTP(ctx context.Context, r *Runner, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: Handler(r), ReadHeaderTimeout: 5 * time.Second}
	r.logger.Info("http wrapper listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// ServeGRPC serves the Generator service backed by r on addr until ctx is cancelled.
func ServeGRPC(ctx context.Context, r *Runner, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	codec.RegisterGeneratorServer(srv, codec.NewServer(r))
	r.logger.Info("grpc wrapper listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	}
}

// #endregion serve
