package codec

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
const (
	ServiceName    = "magi.generator.v1.Generator"
	generateMethod = "/" + ServiceName + "/Generate"
	healthMethod   = "/" + ServiceName + "/Health"
)

// GeneratorServer is the server side of magi.generator.v1.Generator.
type GeneratorServer interface {
	Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Health(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var generatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeneratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "magi/generator/v1/generator.proto",
}

// RegisterGeneratorServer registers srv on s.
func RegisterGeneratorServer(s grpc.ServiceRegistrar, srv GeneratorServer) {
	s.RegisterService(&generatorServiceDesc, srv)
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeneratorServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generateMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(GeneratorServer).Generate(ctx, req.(*structpb.Struct))
	})
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeneratorServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: healthMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(GeneratorServer).Health(ctx, req.(*structpb.Struct))
	})
}

// #endregion service-desc

// #region backend-adapter
// Backend is a prompt-to-text function exposed over the Generator service.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Health(ctx context.Context) HealthResult
}

// Errors a Backend may return to select the gRPC status code.
var (
	ErrCommandMissing = errors.New("CLI missing")
	ErrCommandTimeout = errors.New("CLI timeout")
)

// NewServer adapts b to GeneratorServer.
func NewServer(b Backend) GeneratorServer {
	return &backendServer{backend: b}
}

type backendServer struct {
	backend Backend
}

func (s *backendServer) Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	prompt := stringField(in, "prompt")
	content, err := s.backend.Generate(ctx, prompt)
	switch {
	case err == nil:
	case errors.Is(err, ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrCommandMissing):
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(map[string]any{"content": content, "status": "ok"})
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func (s *backendServer) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	h := s.backend.Health(ctx)
	cmd := make([]any, len(h.Command))
	for i, c := range h.Command {
		cmd[i] = c
	}
	out, err := structpb.NewStruct(map[string]any{"status": h.Status, "command": cmd})
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// #endregion backend-adapter
