// Package speculator implements draft+verify speculation bounded by a
// grammar boundary token (spec.md §4.9), grounded on
// original_source/speculation/tool_boundary_spec.py.
package speculator

import (
	"context"

	"github.com/primerl/bridge/internal/engine"
)

// Speculator runs a cheap draft engine ahead of the target engine and
// verifies the draft's output token-by-token.
type Speculator struct {
	draft    engine.Adapter
	target   engine.Adapter
	boundary string
}

// New returns a Speculator. boundary is the grammar-defined stop token
// name (e.g. "[TOOL_END]"); it is stored but not consulted: draft
// generation yields on a token whose Boundary flag is set.
func New(draft, target engine.Adapter, boundary string) *Speculator {
	return &Speculator{draft: draft, target: target, boundary: boundary}
}

// Generate drafts up to maxNew tokens, verifies them against the target
// engine, and returns the verified draft tokens (up to and including the
// first rejected one) plus their per-token mask. The returned slices
// always have equal length.
func (s *Speculator) Generate(ctx context.Context, req engine.DecodeRequest) ([]engine.Token, []bool, error) {
	draftReq := req
	draftReq.Speculative = false
	draftTokens, err := collectUntilBoundary(ctx, s.draft, draftReq, req.MaxNew)
	if err != nil {
		return nil, nil, err
	}

	targetReq := req
	targetReq.Speculative = false
	targetReq.MaxNew = len(draftTokens)
	targetTokens, err := collectUntilBoundary(ctx, s.target, targetReq, len(draftTokens))
	if err != nil {
		return nil, nil, err
	}

	return buildAcceptedMask(draftTokens, targetTokens)
}

// collectUntilBoundary streams up to limit tokens, stopping early at a
// grammar boundary token.
func collectUntilBoundary(ctx context.Context, adapter engine.Adapter, req engine.DecodeRequest, limit int) ([]engine.Token, error) {
	var tokens []engine.Token
	for ev := range adapter.ContinueDecode(ctx, req) {
		if ev.Err != nil {
			return tokens, ev.Err
		}
		tokens = append(tokens, ev.Token)
		if ev.Token.Boundary || len(tokens) >= limit {
			break
		}
	}
	return tokens, nil
}

// buildAcceptedMask compares draft and target token-by-token, truncating
// at the first mismatch (or at the point the target stream ran out).
// A genuinely empty draft stream is the only case synthesizing an
// all-true mask — every other truncation leaves a real, possibly empty,
// verified prefix.
func buildAcceptedMask(draft, target []engine.Token) ([]engine.Token, []bool, error) {
	var accepted []bool
	out := draft

	for idx, tok := range draft {
		if idx >= len(target) {
			out = draft[:idx]
			accepted = accepted[:idx]
			break
		}
		ok := tok.Text == target[idx].Text
		accepted = append(accepted, ok)
		if !ok {
			out = draft[:idx+1]
			accepted = accepted[:idx+1]
			break
		}
	}

	if len(accepted) == 0 {
		accepted = make([]bool, len(out))
		for i := range accepted {
			accepted[i] = true
		}
	}

	return out, accepted, nil
}
