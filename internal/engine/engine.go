// Package engine defines the abstract model-execution engine adapter
// contract (spec.md §6.2, C12) and ships a handful of concrete adapters.
// The engines themselves are out of scope (spec.md §1) — these adapters
// are thin shells translating the bridge's calls into whatever wire
// protocol a concrete engine speaks.
package engine

import "context"

// Token is one decoded token plus its accounting metadata.
type Token struct {
	Text     string
	TUs      int64 // wall time in microseconds, engine-reported
	KVBytes  int64
	Boundary bool // grammar-defined stop position
}

// DecodeEvent is one item in a ContinueDecode stream: either a Token or a
// terminal error. Streams are modeled as explicit close-on-error channels
// rather than propagating exceptions across a suspension point (spec.md
// §9, "Streaming generators").
type DecodeEvent struct {
	Token Token
	Err   error
}

// PrefillResult is returned by a successful Prefill call.
type PrefillResult struct {
	SessionID string
	Tokens    int
}

// DecodeRequest groups the parameters of one continue_decode call.
type DecodeRequest struct {
	SessionID   string
	Obs         string
	MaxNew      int
	Grammar     string // empty means unconstrained
	Speculative bool
	Prompt      string // required by stateless adapters, ignored by stateful ones
	Model       string
}

// Adapter is the abstract prefill/decode interface every concrete engine
// implements (spec.md §6.2).
type Adapter interface {
	// Prefill runs the one-time attention pass over prompt, populating KV
	// state and returning an engine-assigned session id.
	Prefill(ctx context.Context, model, prompt, grammar string) (PrefillResult, error)

	// ContinueDecode streams up to req.MaxNew new tokens. The returned
	// channel is closed after the final event (which may carry a non-nil
	// Err). Implementations must not block sends past ctx cancellation.
	ContinueDecode(ctx context.Context, req DecodeRequest) <-chan DecodeEvent
}

// SessionCloser is an optional capability: adapters that manage server-
// side session state may implement it. Absence must be tolerated (spec.md
// §6.2, "close_session — optional capability").
type SessionCloser interface {
	CloseSession(ctx context.Context, sessionID string) error
}

// Close calls adapter.CloseSession if adapter implements SessionCloser,
// and is a no-op otherwise — the single call site the serving layer uses
// so it never needs a type switch of its own.
func Close(ctx context.Context, adapter Adapter, sessionID string) error {
	closer, ok := adapter.(SessionCloser)
	if !ok {
		return nil
	}
	return closer.CloseSession(ctx, sessionID)
}
