// Package batcher implements the single-writer decode coalescing
// coordinator (spec.md §4.8), grounded on
// original_source/rl_client/batcher.py. Go has no asyncio.Queue with a
// put_nowait-to-head operation, so a mismatched-key item pulled while
// draining is held in a one-slot rewind buffer and becomes the next
// group's anchor instead of being pushed back onto the queue.
package batcher

import (
	"context"
	"time"

	"github.com/primerl/bridge/internal/engine"
)

// Key groups requests eligible to merge into one decode batch (spec.md
// §4.8: "key = (model, grammar, speculative)").
type Key struct {
	Model       string
	Grammar     string
	Speculative bool
}

func keyOf(req engine.DecodeRequest) Key {
	return Key{Model: req.Model, Grammar: req.Grammar, Speculative: req.Speculative}
}

// Result is the outcome of one submission's decode stream.
type Result struct {
	Tokens []engine.Token
	Err    error
}

// submission is one queued request awaiting batching.
type submission struct {
	key    Key
	req    engine.DecodeRequest
	result chan Result
}

// Batcher coalesces compatible ContinueDecode submissions behind one
// engine fan-out round per group.
type Batcher struct {
	adapter  engine.Adapter
	queue    chan submission
	interval time.Duration
	maxBatch int
	p95SLO   time.Duration

	// onSLOViolation, if set, is called with the observed wall time of
	// any group whose fan-out exceeded p95SLO (spec.md §4.8 step 4).
	onSLOViolation func(model string, wall time.Duration)

	rewind *submission
}

// Defaults match spec.md §4.8: interval=8ms, max_batch=32, p95_slo_ms=300.
const (
	DefaultInterval = 8 * time.Millisecond
	DefaultMaxBatch = 32
	DefaultP95SLO   = 300 * time.Millisecond
)

// New returns a Batcher with a generous queue buffer; Run must be
// started in its own goroutine before Submit is called.
func New(adapter engine.Adapter, interval time.Duration, maxBatch int, p95SLO time.Duration) *Batcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if p95SLO <= 0 {
		p95SLO = DefaultP95SLO
	}
	return &Batcher{
		adapter:  adapter,
		queue:    make(chan submission, 4096),
		interval: interval,
		maxBatch: maxBatch,
		p95SLO:   p95SLO,
	}
}

// OnSLOViolation installs a callback invoked once per group whose
// fan-out wall time exceeds p95SLO.
func (b *Batcher) OnSLOViolation(f func(model string, wall time.Duration)) {
	b.onSLOViolation = f
}

// Submit enqueues req and blocks until its group has been decoded (or
// ctx is cancelled).
func (b *Batcher) Submit(ctx context.Context, req engine.DecodeRequest) ([]engine.Token, error) {
	sub := submission{key: keyOf(req), req: req, result: make(chan Result, 1)}

	select {
	case b.queue <- sub:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-sub.result:
		return res.Tokens, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drives the single-consumer coalescing loop until ctx is
// cancelled. Callers start exactly one Run per Batcher.
func (b *Batcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		anchor, ok := b.nextAnchor(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		group := b.drainGroup(anchor)
		b.fanOut(ctx, group)
	}
}

// nextAnchor returns the rewind buffer's contents if present, else
// blocks on the queue for up to b.interval.
func (b *Batcher) nextAnchor(ctx context.Context) (submission, bool) {
	if b.rewind != nil {
		anchor := *b.rewind
		b.rewind = nil
		return anchor, true
	}

	timer := time.NewTimer(b.interval)
	defer timer.Stop()
	select {
	case sub := <-b.queue:
		return sub, true
	case <-timer.C:
		return submission{}, false
	case <-ctx.Done():
		return submission{}, false
	}
}

// drainGroup pulls same-key submissions off the queue non-blockingly,
// up to maxBatch, rewinding the first mismatched key for next round.
func (b *Batcher) drainGroup(anchor submission) []submission {
	group := []submission{anchor}
	for len(group) < b.maxBatch {
		select {
		case item := <-b.queue:
			if item.key != anchor.key {
				b.rewind = &item
				return group
			}
			group = append(group, item)
		default:
			return group
		}
	}
	return group
}

// fanOut runs every submission's decode concurrently, delivers each
// result, and reports an SLO violation if the round took too long.
func (b *Batcher) fanOut(ctx context.Context, group []submission) {
	start := time.Now()

	done := make(chan struct{}, len(group))
	for _, sub := range group {
		go func(sub submission) {
			defer func() { done <- struct{}{} }()
			tokens, err := collect(ctx, b.adapter, sub.req)
			sub.result <- Result{Tokens: tokens, Err: err}
		}(sub)
	}
	for range group {
		<-done
	}

	wall := time.Since(start)
	if b.onSLOViolation != nil && wall > b.p95SLO {
		b.onSLOViolation(group[0].key.Model, wall)
	}
}

// collect drains an adapter's decode stream into a slice, stopping at
// the first error.
func collect(ctx context.Context, adapter engine.Adapter, req engine.DecodeRequest) ([]engine.Token, error) {
	var tokens []engine.Token
	for ev := range adapter.ContinueDecode(ctx, req) {
		if ev.Err != nil {
			return tokens, ev.Err
		}
		tokens = append(tokens, ev.Token)
	}
	return tokens, nil
}
