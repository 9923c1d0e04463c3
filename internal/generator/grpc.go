package generator

// #region imports
import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/codec"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #endregion

// #region grpc-client

// GRPCClient calls a remote generator over the codec gRPC service.
type GRPCClient struct {
	id      BackendID
	addr    string
	timeout time.Duration
	codec   *codec.Client
}

// NewGRPCClient wraps an existing codec client. addr is used only for provenance.
func NewGRPCClient(id BackendID, addr string, timeout time.Duration, c *codec.Client) *GRPCClient {
	return &GRPCClient{id: id, addr: addr, timeout: timeout, codec: c}
}

// ID returns the backend id.
func (c *GRPCClient) ID() BackendID { return c.id }

// Close releases the underlying connection.
func (c *GRPCClient) Close() error { return c.codec.Close() }

func (c *GRPCClient) source() string { return "grpc://" + c.addr }

// #endregion

// #region generate

// Generate issues one unary Generate call.
func (c *GRPCClient) Generate(ctx context.Context, prompt string) Result {
	start := time.Now()
	traceID := TraceID(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.codec.Generate(ctx, prompt)
	elapsed := nonNegative(time.Since(start))
	if err != nil {
		f := &Failure{
			BackendID: c.id,
			Duration:  elapsed,
			Source:    c.source(),
			TraceID:   traceID,
		}
		st, _ := status.FromError(err)
		if st.Code() == codes.DeadlineExceeded || isTimeout(ctx, err) {
			f.Kind = ErrTimeout
			f.Message = fmt.Sprintf("request timed out after %s", c.timeout)
		} else {
			f.Kind = ErrHTTP
			f.Message = fmt.Sprintf("gRPC %s: %s", st.Code(), Truncate(st.Message(), maxErrorBody))
		}
		return f
	}

	stat := res.Status
	if stat == "" {
		stat = "ok"
	}
	return &Success{
		BackendID: c.id,
		Content:   res.Content,
		Duration:  elapsed,
		Source:    c.source(),
		TraceID:   traceID,
		Metadata: map[string]string{
			"status":   stat,
			"cli_type": string(HealthReal),
			"cli_path": c.source(),
		},
	}
}

// #endregion

// #region health

// Health calls the remote Health method with a short deadline.
func (c *GRPCClient) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	h, err := c.codec.Health(ctx)
	if err != nil {
		return Health{Available: true, Kind: HealthStub, Path: c.source(), Message: "using stub response"}
	}
	switch h.Status {
	case "ok":
		return Health{Available: true, Kind: HealthReal, Path: c.source(), Message: "wrapper available"}
	case "missing":
		return Health{Available: false, Kind: HealthMissing, Path: c.source(), Message: "wrapper reports CLI missing"}
	default:
		return Health{Available: true, Kind: HealthStub, Path: c.source(), Message: "using stub response"}
	}
}

// #endregion
