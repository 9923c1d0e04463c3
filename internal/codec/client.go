package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region types
// GenerateResult holds the response from a Generate RPC call.
type GenerateResult struct {
	Content string
	Status  string
}

// HealthResult holds the response from a Health RPC call.
type HealthResult struct {
	Status  string
	Command []string
}

// #endregion types

// #region service
// GeneratorService is the client side of magi.generator.v1.Generator.
// Messages are google.protobuf.Struct so no generated stubs are needed.
type GeneratorService interface {
	Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type generatorService struct {
	cc grpc.ClientConnInterface
}

// NewGeneratorService binds the service methods to a connection.
func NewGeneratorService(cc grpc.ClientConnInterface) GeneratorService {
	return &generatorService{cc: cc}
}

func (s *generatorService) Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.cc.Invoke(ctx, generateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *generatorService) Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.cc.Invoke(ctx, healthMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service

// #region client-struct
// Client wraps the gRPC connection to a remote generator.
type Client struct {
	conn *grpc.ClientConn
	svc  GeneratorService
}

// #endregion client-struct

// #region constructor
// NewClient connects to a generator gRPC server.
func NewClient(addr string) (*Client, error) {
	return NewClientWithOptions(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// NewClientWithOptions is NewClient with explicit dial options.
func NewClientWithOptions(addr string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn: conn,
		svc:  NewGeneratorService(conn),
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc GeneratorService) *Client {
	return &Client{svc: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region generate
// Generate sends a prompt to the remote generator.
func (c *Client) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	req, err := structpb.NewStruct(map[string]any{"prompt": prompt})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("encode generate request: %w", err)
	}
	resp, err := c.svc.Generate(ctx, req)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("generate rpc: %w", err)
	}
	return GenerateResult{
		Content: stringField(resp, "content"),
		Status:  stringField(resp, "status"),
	}, nil
}

// #endregion generate

// #region health
// Health asks the remote generator whether its backing command is present.
func (c *Client) Health(ctx context.Context) (HealthResult, error) {
	resp, err := c.svc.Health(ctx, &structpb.Struct{})
	if err != nil {
		return HealthResult{}, fmt.Errorf("health rpc: %w", err)
	}
	out := HealthResult{Status: stringField(resp, "status")}
	if lv := resp.GetFields()["command"].GetListValue(); lv != nil {
		for _, v := range lv.GetValues() {
			out.Command = append(out.Command, v.GetStringValue())
		}
	}
	return out, nil
}

// #endregion health

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}
