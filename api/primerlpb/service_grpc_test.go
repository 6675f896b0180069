package primerlpb

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// stubEpisodesServer is a minimal EpisodesServer used only to prove the
// hand-authored ServiceDesc and JSON codec actually carry an RPC
// end-to-end over a real grpc.Server/grpc.ClientConn pair.
type stubEpisodesServer struct {
	UnimplementedEpisodesServer
}

func (stubEpisodesServer) StartEpisode(ctx context.Context, in *StartEpisodeRequest) (*StartEpisodeResponse, error) {
	return &StartEpisodeResponse{SessionId: "sess-" + in.EnvId, CacheHit: false}, nil
}

// echoStepServer implements Step by echoing one StepResponse per
// StepRequest received, proving the bidi-streaming descriptor and codec
// carry per-message sends/receives rather than a single aggregated call.
type echoStepServer struct {
	UnimplementedEpisodesServer
}

func (echoStepServer) Step(stream Episodes_StepServer) error {
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := stream.Send(&StepResponse{Token: "echo:" + in.SessionId, Boundary: true, Accepted: true}); err != nil {
			return err
		}
	}
}

func dialBufconnWith(t *testing.T, srvImpl EpisodesServer) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	RegisterEpisodesServer(srv, srvImpl)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func dialBufconn(t *testing.T) (*grpc.ClientConn, func()) {
	return dialBufconnWith(t, stubEpisodesServer{})
}

func TestStartEpisodeRoundTripsOverRealGRPCTransport(t *testing.T) {
	conn, cleanup := dialBufconn(t)
	defer cleanup()

	client := NewEpisodesClient(conn)
	resp, err := client.StartEpisode(context.Background(), &StartEpisodeRequest{EnvId: "env-7", Model: "m"})
	require.NoError(t, err)
	require.Equal(t, "sess-env-7", resp.SessionId)
}

func TestUnimplementedMethodsReturnUnimplementedStatus(t *testing.T) {
	conn, cleanup := dialBufconn(t)
	defer cleanup()

	client := NewEpisodesClient(conn)
	stream, err := client.Step(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&StepRequest{SessionId: "s"}))

	_, err = stream.Recv()
	require.Error(t, err)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestStepStreamsOneResponsePerRequest(t *testing.T) {
	conn, cleanup := dialBufconnWith(t, echoStepServer{})
	defer cleanup()

	client := NewEpisodesClient(conn)
	stream, err := client.Step(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.Send(&StepRequest{SessionId: "s1"}))
	require.NoError(t, stream.Send(&StepRequest{SessionId: "s2"}))
	require.NoError(t, stream.CloseSend())

	first, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "echo:s1", first.Token)

	second, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "echo:s2", second.Token)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}
