package generator

// #region imports
import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// #endregion

// #region command-client

// CommandClient runs a local CLI with the prompt on stdin and returns its stdout.
type CommandClient struct {
	id      BackendID
	argv    []string
	timeout time.Duration
}

// NewCommandClient creates a client for argv. An empty argv yields an unavailable stub.
func NewCommandClient(id BackendID, argv []string, timeout time.Duration) *CommandClient {
	return &CommandClient{id: id, argv: append([]string(nil), argv...), timeout: timeout}
}

// ID returns the backend id.
func (c *CommandClient) ID() BackendID { return c.id }

// Command returns a copy of the configured argv.
func (c *CommandClient) Command() []string { return append([]string(nil), c.argv...) }

func (c *CommandClient) source() string { return strings.Join(c.argv, " ") }

// #endregion

// #region generate

// Generate runs the command once. Deadline maps to timeout, a missing binary to
// unavailable and a non-zero exit to exception carrying stderr.
func (c *CommandClient) Generate(ctx context.Context, prompt string) Result {
	start := time.Now()
	traceID := TraceID(ctx)
	if len(c.argv) == 0 {
		return &Failure{
			BackendID:       c.id,
			Kind:            ErrUnavailable,
			Message:         "command not configured",
			TraceID:         traceID,
			FallbackContent: stubContent(c.id, "command not configured", prompt),
		}
	}
	path, err := exec.LookPath(c.argv[0])
	if err != nil {
		return &Failure{
			BackendID:       c.id,
			Kind:            ErrUnavailable,
			Message:         fmt.Sprintf("command not found: %s", c.argv[0]),
			Source:          c.source(),
			TraceID:         traceID,
			FallbackContent: stubContent(c.id, "CLI missing", prompt),
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, c.argv[1:]...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	elapsed := nonNegative(time.Since(start))
	if err != nil {
		f := &Failure{
			BackendID: c.id,
			Duration:  elapsed,
			Source:    c.source(),
			TraceID:   traceID,
		}
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			f.Kind = ErrTimeout
			f.Message = fmt.Sprintf("command timed out after %s", c.timeout)
		case errors.As(err, &exitErr):
			f.Kind = ErrException
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			f.Message = fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), Truncate(detail, maxErrorBody))
		default:
			f.Kind = ErrException
			f.Message = err.Error()
		}
		return f
	}

	return &Success{
		BackendID: c.id,
		Content:   strings.TrimSpace(stdout.String()),
		Duration:  elapsed,
		Source:    c.source(),
		TraceID:   traceID,
		Metadata: map[string]string{
			"status":   "ok",
			"cli_type": string(HealthReal),
			"cli_path": path,
		},
	}
}

// #endregion

// #region health

// Health reports whether the command's binary is on PATH.
func (c *CommandClient) Health(context.Context) Health {
	if len(c.argv) == 0 {
		return Health{Available: true, Kind: HealthStub, Message: "command not configured, using stub response"}
	}
	path, err := exec.LookPath(c.argv[0])
	if err != nil {
		return Health{Available: false, Kind: HealthMissing, Path: c.argv[0], Message: "CLI missing"}
	}
	return Health{Available: true, Kind: HealthReal, Path: path, Message: "CLI available"}
}

// #endregion
