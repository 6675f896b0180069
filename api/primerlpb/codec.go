package primerlpb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's global encoding registry and must
// be selected explicitly by client and server via
// grpc.ForceCodec/grpc.CallContentSubtype, since it replaces the
// protobuf wire format entirely — this service has no .proto, so there
// is nothing for the real protobuf codec to marshal.
const codecName = "primerl-json"

// jsonCodec implements grpc/encoding.Codec over encoding/json, letting the hand-authored messages in
// messages.go travel over a real gRPC transport without a protobuf
// runtime dependency.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("primerlpb: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("primerlpb: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Codec returns the encoding.Codec callers must pass to
// grpc.ForceCodec/grpc.ForceServerCodec when dialing or serving the
// Episodes service from outside this package.
func Codec() encoding.Codec { return jsonCodec{} }
