package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/consensus"
	"github.com/danielpatrickdp/magi/go-controller/internal/controller"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal_error"
)

const maxBodyBytes = 1 << 20

// Service is the controller surface the API serves.
type Service interface {
	Start(ctx context.Context, req controller.StartRequest) (*controller.StartResult, error)
	Step(ctx context.Context, sessionID, decision string) (*controller.StepResult, error)
	Stop(ctx context.Context, sessionID string) (*controller.StopResult, error)
	Judge(ctx context.Context, sessionID string) (*controller.JudgeResult, error)
	Consensus(ctx context.Context, req controller.ConsensusRequest) (*consensus.Evaluation, error)
	Status(ctx context.Context) map[generator.BackendID]generator.Health
	Health(ctx context.Context) controller.HealthReport
}

// APIError is the body of an error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps APIError.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// SessionRequest addresses an existing session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// StepRequest adopts one output of a session.
type StepRequest struct {
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"`
}

// Server exposes the controller over HTTP.
type Server struct {
	svc     Service
	logger  *slog.Logger
	httpSrv *http.Server
}

// NewServer registers the MAGI routes.
func NewServer(svc Service, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc:    svc,
		logger: logging.Component(logger, "api"),
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/magi/start", s.startHandler)
	mux.HandleFunc("/magi/step", s.stepHandler)
	mux.HandleFunc("/magi/stop", s.stopHandler)
	mux.HandleFunc("/magi/judge", s.judgeHandler)
	mux.HandleFunc("/magi/consensus", s.consensusHandler)
	mux.HandleFunc("/", s.notFoundHandler)
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Serve listens on addr until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln, shutdownTimeout)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	s.logger.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

// #region handlers

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	report := s.svc.Health(r.Context())
	report.Backends = nil
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var req controller.StartRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	res, err := s.svc.Start(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) stepHandler(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	res, err := s.svc.Step(r.Context(), req.SessionID, req.Decision)
	s.respond(w, r, res, err)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	res, err := s.svc.Stop(r.Context(), req.SessionID)
	s.respond(w, r, res, err)
}

func (s *Server) judgeHandler(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	res, err := s.svc.Judge(r.Context(), req.SessionID)
	s.respond(w, r, res, err)
}

func (s *Server) consensusHandler(w http.ResponseWriter, r *http.Request) {
	var req controller.ConsensusRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	res, err := s.svc.Consensus(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, CodeNotFound, "route not found: "+r.URL.Path)
}

// #endregion

// #region helpers

func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, payload)
		return
	}
	if controller.IsInvalidInput(err) {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	s.writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: msg}})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	w.Header().Set("Allow", strings.Join(allow, ", "))
	s.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}

// #endregion
