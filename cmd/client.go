package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/primerl/bridge/api/primerlpb"
)

var (
	clientAddr       string
	clientEnvID      string
	clientModel      string
	clientPrompt     string
	clientSessionID  string
	clientObs        string
	clientMaxNew     int
	clientGrammar    string
	clientPinPrefill bool
)

// clientCmd is a manual RPC probe, the gRPC analogue of
// original_source/rl_client/async_decode_client.py's example usage
// block: a thin way to exercise a running bridge by hand without
// standing up a full RL trainer.
var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Probe a running bridge's gRPC episode surface",
}

var clientStartCmd = &cobra.Command{
	Use:   "start-episode",
	Short: "Call StartEpisode",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, conn, err := dialEpisodes()
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := c.StartEpisode(ctx, &primerlpb.StartEpisodeRequest{
			EnvId:      clientEnvID,
			Model:      clientModel,
			Prompt:     clientPrompt,
			PinPrefill: clientPinPrefill,
		})
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var clientStepCmd = &cobra.Command{
	Use:   "step",
	Short: "Call Step",
	RunE: func(cmd *cobra.Command, args []string) error {
		if clientSessionID == "" {
			return fmt.Errorf("client step: --session is required")
		}
		c, conn, err := dialEpisodes()
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stream, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if err := stream.Send(&primerlpb.StepRequest{
			SessionId: clientSessionID,
			Obs:       clientObs,
			MaxNew:    int32(clientMaxNew),
			Grammar:   clientGrammar,
		}); err != nil {
			return err
		}
		if err := stream.CloseSend(); err != nil {
			return err
		}

		var tokens []*primerlpb.StepResponse
		for {
			tok, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			tokens = append(tokens, tok)
		}
		return printJSON(tokens)
	},
}

var clientEndCmd = &cobra.Command{
	Use:   "end-episode",
	Short: "Call EndEpisode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if clientSessionID == "" {
			return fmt.Errorf("client end-episode: --session is required")
		}
		c, conn, err := dialEpisodes()
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := c.EndEpisode(ctx, &primerlpb.EndEpisodeRequest{SessionId: clientSessionID})
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func dialEpisodes() (primerlpb.EpisodesClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(clientAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(primerlpb.Codec())),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("client: dial %s: %w", clientAddr, err)
	}
	return primerlpb.NewEpisodesClient(conn), conn, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func init() {
	clientCmd.PersistentFlags().StringVar(&clientAddr, "addr", "localhost:50051", "Bridge gRPC address")

	clientStartCmd.Flags().StringVar(&clientEnvID, "env", "default", "Environment id")
	clientStartCmd.Flags().StringVar(&clientModel, "model", "llama3-8b", "Model name")
	clientStartCmd.Flags().StringVar(&clientPrompt, "prompt", "", "Prompt to prefill")
	clientStartCmd.Flags().BoolVar(&clientPinPrefill, "pin-prefill", false, "Pin the prompt's prefill immediately")

	clientStepCmd.Flags().StringVar(&clientSessionID, "session", "", "Session id returned by start-episode")
	clientStepCmd.Flags().StringVar(&clientObs, "obs", "", "Observation text appended before decoding")
	clientStepCmd.Flags().IntVar(&clientMaxNew, "max-new", 128, "Maximum new tokens")
	clientStepCmd.Flags().StringVar(&clientGrammar, "grammar", "", "Grammar id constraining decoding")

	clientEndCmd.Flags().StringVar(&clientSessionID, "session", "", "Session id returned by start-episode")

	clientCmd.AddCommand(clientStartCmd, clientStepCmd, clientEndCmd)
}
