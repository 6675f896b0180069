package speculator

import (
	"context"
	"testing"

	"github.com/primerl/bridge/internal/engine"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter streams a fixed token sequence, one call per adapter
// instance, ignoring req beyond MaxNew.
type scriptedAdapter struct {
	tokens []engine.Token
}

func (s *scriptedAdapter) Prefill(ctx context.Context, model, prompt, grammar string) (engine.PrefillResult, error) {
	return engine.PrefillResult{}, nil
}

func (s *scriptedAdapter) ContinueDecode(ctx context.Context, req engine.DecodeRequest) <-chan engine.DecodeEvent {
	out := make(chan engine.DecodeEvent)
	go func() {
		defer close(out)
		n := req.MaxNew
		if n > len(s.tokens) {
			n = len(s.tokens)
		}
		for i := 0; i < n; i++ {
			out <- engine.DecodeEvent{Token: s.tokens[i]}
		}
	}()
	return out
}

func tok(text string) engine.Token { return engine.Token{Text: text} }

func TestGenerateFullyAcceptsWhenDraftMatchesTarget(t *testing.T) {
	draft := &scriptedAdapter{tokens: []engine.Token{tok("a"), tok("b"), tok("c")}}
	target := &scriptedAdapter{tokens: []engine.Token{tok("a"), tok("b"), tok("c")}}
	spec := New(draft, target, "[TOOL_END]")

	tokens, mask, err := spec.Generate(context.Background(), engine.DecodeRequest{MaxNew: 3})
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	require.Equal(t, []bool{true, true, true}, mask)
}

func TestGenerateTruncatesAtFirstDivergence(t *testing.T) {
	draft := &scriptedAdapter{tokens: []engine.Token{tok("a"), tok("b"), tok("c")}}
	target := &scriptedAdapter{tokens: []engine.Token{tok("a"), tok("X"), tok("c")}}
	spec := New(draft, target, "[TOOL_END]")

	tokens, mask, err := spec.Generate(context.Background(), engine.DecodeRequest{MaxNew: 3})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, "a", tokens[0].Text)
	require.Equal(t, "b", tokens[1].Text)
	require.Equal(t, []bool{true, false}, mask)
}

func TestGenerateStopsDraftAtBoundaryToken(t *testing.T) {
	draft := &scriptedAdapter{tokens: []engine.Token{tok("a"), {Text: "b", Boundary: true}, tok("c")}}
	target := &scriptedAdapter{tokens: []engine.Token{tok("a"), tok("b"), tok("c")}}
	spec := New(draft, target, "[TOOL_END]")

	tokens, mask, err := spec.Generate(context.Background(), engine.DecodeRequest{MaxNew: 10})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, []bool{true, true}, mask)
}

func TestGenerateEmptyDraftStreamSynthesizesEmptyMask(t *testing.T) {
	draft := &scriptedAdapter{tokens: nil}
	target := &scriptedAdapter{tokens: nil}
	spec := New(draft, target, "[TOOL_END]")

	tokens, mask, err := spec.Generate(context.Background(), engine.DecodeRequest{MaxNew: 5})
	require.NoError(t, err)
	require.Empty(t, tokens)
	require.Empty(t, mask)
}

func TestGenerateTargetShorterThanDraftDropsUnverifiedTail(t *testing.T) {
	draft := &scriptedAdapter{tokens: []engine.Token{tok("a"), tok("b"), tok("c")}}
	target := &scriptedAdapter{tokens: []engine.Token{tok("a")}}
	spec := New(draft, target, "[TOOL_END]")

	tokens, mask, err := spec.Generate(context.Background(), engine.DecodeRequest{MaxNew: 3})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, []bool{true}, mask)
}
