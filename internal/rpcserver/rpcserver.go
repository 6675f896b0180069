// Package rpcserver adapts api/primerlpb's hand-rolled EpisodesServer
// contract onto internal/serving.Service, translating between the wire
// message shapes and the service's Go-native request/response types, and
// mapping domain errors onto gRPC status codes (spec.md §6.1: NOT_FOUND
// for unknown sessions, INVALID_ARGUMENT for missing fields, INTERNAL
// for unrecoverable engine failures).
package rpcserver

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/primerl/bridge/api/primerlpb"
	"github.com/primerl/bridge/internal/serving"
	"github.com/primerl/bridge/internal/session"
)

// Server implements primerlpb.EpisodesServer over a serving.Service.
type Server struct {
	primerlpb.UnimplementedEpisodesServer
	svc *serving.Service
}

// New wraps svc as a gRPC EpisodesServer.
func New(svc *serving.Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) StartEpisode(ctx context.Context, in *primerlpb.StartEpisodeRequest) (*primerlpb.StartEpisodeResponse, error) {
	if in.EnvId == "" || in.Model == "" {
		return nil, status.Error(codes.InvalidArgument, "env_id and model are required")
	}
	resp, err := s.svc.StartEpisode(ctx, serving.StartRequest{
		EnvID:      in.EnvId,
		Model:      in.Model,
		Prompt:     in.Prompt,
		PromptFP:   in.PromptFp,
		PinPrefill: in.PinPrefill,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &primerlpb.StartEpisodeResponse{SessionId: resp.SessionID, CacheHit: resp.CacheHit}, nil
}

// Step implements the bidirectional-streaming RPC (spec.md §6.1): each
// StepRequest the client sends advances the session by one decode round,
// and every resulting token is streamed back as its own StepResponse
// before Step loops around to read the next request.
func (s *Server) Step(stream primerlpb.Episodes_StepServer) error {
	ctx := stream.Context()
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if in.SessionId == "" {
			return status.Error(codes.InvalidArgument, "session_id is required")
		}

		resp, err := s.svc.Step(ctx, serving.StepRequest{
			SessionID:   in.SessionId,
			Obs:         in.Obs,
			Grammar:     in.Grammar,
			MaxNew:      int(in.MaxNew),
			Speculative: in.Speculative,
			Tools:       in.Tools,
		})
		if err != nil {
			return mapError(err)
		}

		for _, t := range resp.Results {
			out := &primerlpb.StepResponse{
				Token:    t.Text,
				TUs:      t.TUs,
				KVBytes:  t.KVBytes,
				Boundary: t.Boundary,
				Accepted: t.Accepted,
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

func (s *Server) EndEpisode(ctx context.Context, in *primerlpb.EndEpisodeRequest) (*primerlpb.EndEpisodeResponse, error) {
	if in.SessionId == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	if err := s.svc.EndEpisode(ctx, serving.EndRequest{
		SessionID:  in.SessionId,
		PolicyMeta: in.PolicyMeta,
	}); err != nil {
		return nil, mapError(err)
	}
	return &primerlpb.EndEpisodeResponse{}, nil
}

// mapError translates a serving.Service error into the gRPC status code
// spec.md §6.1 mandates for it: NOT_FOUND for an unknown session,
// INTERNAL for an unrecoverable engine/session failure, UNKNOWN for
// anything else (grpc-go's own default, kept explicit here so callers
// can rely on status.Code returning a stable value either way).
func mapError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, serving.ErrInternal):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
