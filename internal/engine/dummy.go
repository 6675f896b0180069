package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Dummy is an in-memory adapter that synthesizes tokens, used for local
// development; other packages' tests use their own fake adapters. Grounded on
// original_source/engines/dummy_adapter.py.
type Dummy struct {
	counter atomic.Int64
}

// NewDummy returns a ready-to-use Dummy adapter.
func NewDummy() *Dummy { return &Dummy{} }

// Prefill synthesizes a session id and reports a word-count token total.
func (d *Dummy) Prefill(ctx context.Context, model, prompt, grammar string) (PrefillResult, error) {
	select {
	case <-ctx.Done():
		return PrefillResult{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	id := d.counter.Add(1)
	return PrefillResult{
		SessionID: fmt.Sprintf("dummy-%d", id),
		Tokens:    len(strings.Fields(prompt)),
	}, nil
}

// ContinueDecode synthesizes req.MaxNew tokens, marking the last one as a
// grammar boundary.
func (d *Dummy) ContinueDecode(ctx context.Context, req DecodeRequest) <-chan DecodeEvent {
	out := make(chan DecodeEvent)
	go func() {
		defer close(out)
		for i := 0; i < req.MaxNew; i++ {
			select {
			case <-ctx.Done():
				out <- DecodeEvent{Err: ctx.Err()}
				return
			case <-time.After(5 * time.Millisecond):
			}
			tok := Token{
				Text:     fmt.Sprintf("tok-%d", i),
				TUs:      time.Now().UnixMicro(),
				KVBytes:  int64(i+1) * 1024,
				Boundary: i == req.MaxNew-1,
			}
			select {
			case out <- DecodeEvent{Token: tok}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// CloseSession is a no-op that always succeeds.
func (d *Dummy) CloseSession(ctx context.Context, sessionID string) error {
	return nil
}
