package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// RunMethod is the full gRPC method name of the engine's Run call.
const RunMethod = "/brer.v1.Engine/Run"

// #region service
// EngineServiceClient is the raw RPC surface. Bodies are google.protobuf.Struct values
// carrying the JSON form of Request and Result.
type EngineServiceClient interface {
	Run(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type engineServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewEngineServiceClient returns an EngineServiceClient on cc.
func NewEngineServiceClient(cc grpc.ClientConnInterface) EngineServiceClient {
	return &engineServiceClient{cc: cc}
}

func (c *engineServiceClient) Run(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RunMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EngineServiceServer is implemented by Go-hosted engines.
type EngineServiceServer interface {
	Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServiceServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServiceServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the brer.v1.Engine service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "brer.v1.Engine",
	HandlerType: (*EngineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "brer/v1/engine.proto",
}

// RegisterEngineServer registers srv on s.
func RegisterEngineServer(s grpc.ServiceRegistrar, srv EngineServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// #endregion service

// #region client
// Client is an Engine reached over gRPC.
type Client struct {
	conn   *grpc.ClientConn
	client EngineServiceClient
}

// NewClient connects to the engine service at addr. The connection is insecure unless
// opts override the transport credentials.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, client: NewEngineServiceClient(conn)}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
func NewClientWithService(svc EngineServiceClient) *Client {
	return &Client{client: svc}
}

// Close shuts down the connection, if the client owns one.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Run sends req and waits for the engine to finish the phase.
func (c *Client) Run(ctx context.Context, req Request) (Result, error) {
	in, err := toStruct(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}
	out, err := c.client.Run(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("%w: run rpc: %w", ErrEngine, err)
	}
	var res Result
	if err := fromStruct(out, &res); err != nil {
		return Result{}, fmt.Errorf("%w: decode result: %w", ErrEngine, err)
	}
	return res, nil
}

// #endregion client

// #region server
// Server exposes an Engine as an EngineServiceServer.
type Server struct {
	engine Engine
}

// NewServer wraps e.
func NewServer(e Engine) *Server {
	return &Server{engine: e}
}

// Run decodes the request, runs the wrapped engine and encodes its result.
func (s *Server) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req Request
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	res, err := s.engine.Run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// #endregion server

// #region codec
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// #endregion codec
