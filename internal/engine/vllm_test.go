package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVLLMPrefillSynthesizesSessionID(t *testing.T) {
	adapter := NewVLLM("http://unused.invalid")
	res, err := adapter.Prefill(context.Background(), "m", "prompt", "")
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, 0, res.Tokens)
}

func TestVLLMContinueDecodeRequiresPrompt(t *testing.T) {
	adapter := NewVLLM("http://unused.invalid")
	events := adapter.ContinueDecode(context.Background(), DecodeRequest{MaxNew: 1})
	ev := <-events
	require.Error(t, ev.Err)
}

func TestVLLMContinueDecodeParsesSSEChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/completions", r.URL.Path)
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"choices":[{"text":"hel","finish_reason":null}]}`,
			`{"choices":[{"text":"lo","finish_reason":"stop"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n")
		flusher.Flush()
	}))
	defer srv.Close()

	adapter := NewVLLM(srv.URL)
	events := adapter.ContinueDecode(context.Background(), DecodeRequest{Prompt: "hi", Model: "m", MaxNew: 2})

	var got []DecodeEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	require.Equal(t, "hel", got[0].Token.Text)
	require.False(t, got[0].Token.Boundary)
	require.Equal(t, "lo", got[1].Token.Text)
	require.True(t, got[1].Token.Boundary)
}

func TestVLLMContinueDecodeSkipsEmptyTextChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, `data: {"choices":[{"text":"","finish_reason":null}]}`+"\n")
		flusher.Flush()
		fmt.Fprint(w, `data: {"choices":[{"text":"x","finish_reason":"stop"}]}`+"\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n")
		flusher.Flush()
	}))
	defer srv.Close()

	adapter := NewVLLM(srv.URL)
	events := adapter.ContinueDecode(context.Background(), DecodeRequest{Prompt: "hi", MaxNew: 1})

	var got []DecodeEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	require.Equal(t, "x", got[0].Token.Text)
}
