package primerlpb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestJSONCodecRoundTrips(t *testing.T) {
	var c jsonCodec
	in := &StepRequest{SessionId: "s1", MaxNew: 8, Speculative: true}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(StepRequest)
	require.NoError(t, c.Unmarshal(data, out))
	require.Equal(t, in, out)
}

func TestJSONCodecIsRegisteredUnderItsName(t *testing.T) {
	require.NotNil(t, encoding.GetCodec(codecName))
}

func TestJSONCodecRejectsMalformedPayload(t *testing.T) {
	var c jsonCodec
	err := c.Unmarshal([]byte("{not json"), new(StepRequest))
	require.Error(t, err)
}
