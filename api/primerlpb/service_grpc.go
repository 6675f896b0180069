package primerlpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EpisodesClient is the client API for the Episodes service (spec.md
// §6.1). StartEpisode and EndEpisode are unary; Step is bidirectional-
// streaming so the server can yield tokens one at a time instead of
// blocking the whole decode round behind a single response. Shaped to
// match what protoc-gen-go-grpc emits for a service with one streaming
// method alongside two unary ones.
type EpisodesClient interface {
	StartEpisode(ctx context.Context, in *StartEpisodeRequest, opts ...grpc.CallOption) (*StartEpisodeResponse, error)
	Step(ctx context.Context, opts ...grpc.CallOption) (Episodes_StepClient, error)
	EndEpisode(ctx context.Context, in *EndEpisodeRequest, opts ...grpc.CallOption) (*EndEpisodeResponse, error)
}

type episodesClient struct {
	cc grpc.ClientConnInterface
}

// NewEpisodesClient wraps cc. Callers must dial with
// grpc.WithDefaultCallOptions(grpc.ForceCodec(primerlpb.Codec()))
// since this service carries no protobuf messages for the default
// codec to marshal.
func NewEpisodesClient(cc grpc.ClientConnInterface) EpisodesClient {
	return &episodesClient{cc: cc}
}

func (c *episodesClient) StartEpisode(ctx context.Context, in *StartEpisodeRequest, opts ...grpc.CallOption) (*StartEpisodeResponse, error) {
	out := new(StartEpisodeResponse)
	if err := c.cc.Invoke(ctx, "/primerl.Episodes/StartEpisode", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *episodesClient) Step(ctx context.Context, opts ...grpc.CallOption) (Episodes_StepClient, error) {
	stream, err := c.cc.NewStream(ctx, &Episodes_ServiceDesc.Streams[0], "/primerl.Episodes/Step", opts...)
	if err != nil {
		return nil, err
	}
	return &episodesStepClient{stream}, nil
}

func (c *episodesClient) EndEpisode(ctx context.Context, in *EndEpisodeRequest, opts ...grpc.CallOption) (*EndEpisodeResponse, error) {
	out := new(EndEpisodeResponse)
	if err := c.cc.Invoke(ctx, "/primerl.Episodes/EndEpisode", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Episodes_StepClient is the client side of the Step stream: one
// StepRequest sent per decode round, with the engine's tokens for that
// round arriving as a run of StepResponses. Recv returns io.EOF only
// once the server ends the whole stream, not after each round.
type Episodes_StepClient interface {
	Send(*StepRequest) error
	Recv() (*StepResponse, error)
	grpc.ClientStream
}

type episodesStepClient struct {
	grpc.ClientStream
}

func (x *episodesStepClient) Send(m *StepRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *episodesStepClient) Recv() (*StepResponse, error) {
	m := new(StepResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// EpisodesServer is the server API for the Episodes service.
type EpisodesServer interface {
	StartEpisode(context.Context, *StartEpisodeRequest) (*StartEpisodeResponse, error)
	Step(Episodes_StepServer) error
	EndEpisode(context.Context, *EndEpisodeRequest) (*EndEpisodeResponse, error)
}

// Episodes_StepServer is the server side of the Step stream: Recv reads
// the next StepRequest the client submits, Send yields one token back.
// A Step implementation keeps calling Recv/Send in a loop until Recv
// returns io.EOF (the client has no more decode rounds to submit) or the
// stream's context is cancelled (the caller abandoned the rollout,
// spec.md §5).
type Episodes_StepServer interface {
	Send(*StepResponse) error
	Recv() (*StepRequest, error)
	grpc.ServerStream
}

type episodesStepServer struct {
	grpc.ServerStream
}

func (x *episodesStepServer) Send(m *StepResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *episodesStepServer) Recv() (*StepRequest, error) {
	m := new(StepRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// UnimplementedEpisodesServer must be embedded by any EpisodesServer
// implementation for forward compatibility with future RPCs, matching
// protoc-gen-go-grpc's generated base.
type UnimplementedEpisodesServer struct{}

func (UnimplementedEpisodesServer) StartEpisode(context.Context, *StartEpisodeRequest) (*StartEpisodeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StartEpisode not implemented")
}
func (UnimplementedEpisodesServer) Step(Episodes_StepServer) error {
	return status.Error(codes.Unimplemented, "method Step not implemented")
}
func (UnimplementedEpisodesServer) EndEpisode(context.Context, *EndEpisodeRequest) (*EndEpisodeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method EndEpisode not implemented")
}

// RegisterEpisodesServer registers srv's methods against s.
func RegisterEpisodesServer(s grpc.ServiceRegistrar, srv EpisodesServer) {
	s.RegisterService(&Episodes_ServiceDesc, srv)
}

func _Episodes_StartEpisode_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StartEpisodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EpisodesServer).StartEpisode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/primerl.Episodes/StartEpisode"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EpisodesServer).StartEpisode(ctx, req.(*StartEpisodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Episodes_Step_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(EpisodesServer).Step(&episodesStepServer{stream})
}

func _Episodes_EndEpisode_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EndEpisodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EpisodesServer).EndEpisode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/primerl.Episodes/EndEpisode"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EpisodesServer).EndEpisode(ctx, req.(*EndEpisodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Episodes_ServiceDesc is the grpc.ServiceDesc for the Episodes
// service, in the shape protoc-gen-go-grpc emits.
var Episodes_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "primerl.Episodes",
	HandlerType: (*EpisodesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartEpisode", Handler: _Episodes_StartEpisode_Handler},
		{MethodName: "EndEpisode", Handler: _Episodes_EndEpisode_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Step",
			Handler:       _Episodes_Step_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "primerl/episodes.proto",
}
