package generator

// #region imports
import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// #endregion

// #region types

const (
	maxErrorBody  = 500
	healthTimeout = 3 * time.Second
)

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

// #endregion

// #region http-client

// HTTPClient talks to a host wrapper that exposes POST /generate and GET /health.
type HTTPClient struct {
	id      BackendID
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewHTTPClient creates a client for the wrapper at baseURL.
// An empty baseURL yields a client that always returns an unavailable stub.
func NewHTTPClient(id BackendID, baseURL string, timeout time.Duration) *HTTPClient {
	return NewHTTPClientWithTransport(id, baseURL, timeout, http.DefaultClient)
}

// NewHTTPClientWithTransport is NewHTTPClient with an injected *http.Client.
func NewHTTPClientWithTransport(id BackendID, baseURL string, timeout time.Duration, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    hc,
	}
}

// ID returns the backend id.
func (c *HTTPClient) ID() BackendID { return c.id }

// #endregion

// #region generate

// Generate posts prompt to the wrapper and maps every outcome to a Result.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) Result {
	start := time.Now()
	traceID := TraceID(ctx)
	if c.baseURL == "" {
		return &Failure{
			BackendID:       c.id,
			Kind:            ErrUnavailable,
			Message:         "wrapper url not configured",
			TraceID:         traceID,
			FallbackContent: stubContent(c.id, "wrapper url not configured", prompt),
		}
	}
	url := c.baseURL + "/generate"
	fail := func(kind ErrorKind, msg string) Result {
		return &Failure{
			BackendID: c.id,
			Kind:      kind,
			Message:   msg,
			Duration:  nonNegative(time.Since(start)),
			Source:    url,
			TraceID:   traceID,
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return fail(ErrException, fmt.Sprintf("encode request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(ErrException, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return fail(ErrTimeout, fmt.Sprintf("request timed out after %s", c.timeout))
		}
		return fail(ErrHTTP, fmt.Sprintf("transport error: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return fail(ErrTimeout, fmt.Sprintf("request timed out after %s", c.timeout))
		}
		return fail(ErrHTTP, fmt.Sprintf("read body: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(raw))
		return fail(ErrHTTP, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, Truncate(detail, maxErrorBody)))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail(ErrHTTP, fmt.Sprintf("decode response: %v", err))
	}
	status := out.Status
	if status == "" {
		status = "ok"
	}
	return &Success{
		BackendID: c.id,
		Content:   out.Content,
		Duration:  nonNegative(time.Since(start)),
		Source:    url,
		TraceID:   traceID,
		Metadata: map[string]string{
			"status":   status,
			"cli_type": string(HealthReal),
			"cli_path": c.baseURL,
		},
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// #endregion

// #region health

// Health probes GET /health on the wrapper.
func (c *HTTPClient) Health(ctx context.Context) Health {
	if c.baseURL == "" {
		return Health{Available: false, Kind: HealthMissing, Message: "wrapper url not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	stub := Health{Available: true, Kind: HealthStub, Path: c.baseURL, Message: "using stub response"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return stub
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return stub
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stub
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return stub
	}
	switch hr.Status {
	case "ok":
		return Health{Available: true, Kind: HealthReal, Path: c.baseURL, Message: "wrapper available"}
	case "missing":
		return Health{Available: false, Kind: HealthMissing, Path: c.baseURL, Message: "wrapper reports CLI missing"}
	default:
		return stub
	}
}

// #endregion
