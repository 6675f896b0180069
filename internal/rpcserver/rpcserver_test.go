package rpcserver

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/primerl/bridge/api/primerlpb"
	"github.com/primerl/bridge/internal/batcher"
	"github.com/primerl/bridge/internal/cacheindex"
	"github.com/primerl/bridge/internal/engine"
	"github.com/primerl/bridge/internal/observability"
	"github.com/primerl/bridge/internal/serving"
	"github.com/primerl/bridge/internal/session"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct{}

func (fakeAdapter) Prefill(ctx context.Context, model, prompt, grammar string) (engine.PrefillResult, error) {
	return engine.PrefillResult{SessionID: "eng-1", Tokens: 3}, nil
}

func (fakeAdapter) ContinueDecode(ctx context.Context, req engine.DecodeRequest) <-chan engine.DecodeEvent {
	out := make(chan engine.DecodeEvent, 1)
	out <- engine.DecodeEvent{Token: engine.Token{Text: "ok", Boundary: true}}
	close(out)
	return out
}

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	adapter := fakeAdapter{}
	b := batcher.New(adapter, time.Millisecond, 32, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	svc := serving.New(serving.Config{
		Engine:     adapter,
		Sessions:   session.NewManager(),
		CacheIndex: cacheindex.New(10),
		Batcher:    b,
		Metrics:    observability.NewMetrics(),
	})
	return New(svc), cancel
}

// fakeStepStream is an in-memory grpc.ServerStream stand-in, feeding a
// fixed queue of requests to Recv and collecting every Send into a
// slice, so Step's send/recv loop can be exercised without a real
// network connection.
type fakeStepStream struct {
	ctx  context.Context
	in   []*primerlpb.StepRequest
	pos  int
	sent []*primerlpb.StepResponse
}

func (f *fakeStepStream) Context() context.Context { return f.ctx }

func (f *fakeStepStream) SendMsg(m any) error {
	f.sent = append(f.sent, m.(*primerlpb.StepResponse))
	return nil
}

func (f *fakeStepStream) RecvMsg(m any) error {
	if f.pos >= len(f.in) {
		return io.EOF
	}
	*m.(*primerlpb.StepRequest) = *f.in[f.pos]
	f.pos++
	return nil
}

func (f *fakeStepStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeStepStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeStepStream) SetTrailer(metadata.MD)       {}

func newFakeStepStream(reqs ...*primerlpb.StepRequest) *fakeStepStream {
	return &fakeStepStream{ctx: context.Background(), in: reqs}
}

func TestStartEpisodeStepEndEpisodeRoundTrip(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()
	ctx := context.Background()

	start, err := srv.StartEpisode(ctx, &primerlpb.StartEpisodeRequest{EnvId: "e1", Model: "m", Prompt: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, start.SessionId)

	stream := newFakeStepStream(&primerlpb.StepRequest{SessionId: start.SessionId, MaxNew: 1})
	require.NoError(t, srv.Step(stream))
	require.Len(t, stream.sent, 1)
	require.Equal(t, "ok", stream.sent[0].Token)
	require.True(t, stream.sent[0].Boundary)

	_, err = srv.EndEpisode(ctx, &primerlpb.EndEpisodeRequest{SessionId: start.SessionId})
	require.NoError(t, err)
}

func TestStepOnUnknownSessionPropagatesNotFound(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	stream := newFakeStepStream(&primerlpb.StepRequest{SessionId: "missing", MaxNew: 1})
	err := srv.Step(stream)
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestStepMissingSessionIDIsInvalidArgument(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	stream := newFakeStepStream(&primerlpb.StepRequest{MaxNew: 1})
	err := srv.Step(stream)
	require.Error(t, err)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestStartEpisodeMissingFieldsIsInvalidArgument(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	_, err := srv.StartEpisode(context.Background(), &primerlpb.StartEpisodeRequest{})
	require.Error(t, err)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestEndEpisodeOnUnknownSessionPropagatesNotFound(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	_, err := srv.EndEpisode(context.Background(), &primerlpb.EndEpisodeRequest{SessionId: "missing"})
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestMapErrorDefaultsToUnknown(t *testing.T) {
	err := mapError(errors.New("boom"))
	require.Equal(t, codes.Unknown, status.Code(err))
}
