// Package serving composes every collaborator package into the public
// episode lifecycle service (spec.md §4.10-§4.11), grounded on
// original_source/server/service.py's PrimeRLService.
package serving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/primerl/bridge/internal/batcher"
	"github.com/primerl/bridge/internal/cacheindex"
	"github.com/primerl/bridge/internal/engine"
	"github.com/primerl/bridge/internal/fingerprint"
	"github.com/primerl/bridge/internal/kvestimate"
	"github.com/primerl/bridge/internal/observability"
	"github.com/primerl/bridge/internal/prefixcache"
	"github.com/primerl/bridge/internal/registry"
	"github.com/primerl/bridge/internal/router"
	"github.com/primerl/bridge/internal/session"
	"github.com/primerl/bridge/internal/speculator"
	"github.com/primerl/bridge/internal/verifier"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInternal wraps the hard aborts: a failed pin prefill in StartEpisode,
// a failover replay (re-prefill, rebind or resubmit) that itself failed,
// and a session bookkeeping failure while recording a Step's tokens.
var ErrInternal = errors.New("serving: internal error")

// llama3ShapeDefault matches original_source/server/main.py's build_engine
// kv estimator closure for the reference llama3-8b deployment.
var llama3ShapeDefault = kvestimate.Shape{Layers: 40, Heads: 40, HeadDim: 128, DTypeLen: 2}

// Service is the public entry point bridging trainers to model engines.
// It owns no goroutines of its own besides the Batcher's consumer loop,
// started by Run.
type Service struct {
	engine      engine.Adapter
	prefixCache *prefixcache.Cache
	sessions    *session.Manager
	cacheIndex  *cacheindex.Index
	registry    *registry.Registry
	router      *router.Router
	batcher     *batcher.Batcher
	speculator  *speculator.Speculator
	verifier    *verifier.Client
	metrics     *observability.Metrics
	tracer      trace.Tracer
	nodeID      string
	kvShape     kvestimate.Shape
}

// Config groups the collaborators a Service is wired from.
type Config struct {
	Engine      engine.Adapter
	PrefixCache *prefixcache.Cache
	Sessions    *session.Manager
	CacheIndex  *cacheindex.Index
	Registry    *registry.Registry
	Router      *router.Router
	Batcher     *batcher.Batcher
	Metrics     *observability.Metrics
	Tracer      trace.Tracer
	NodeID      string
	KVShape     kvestimate.Shape

	// BoundaryToken is the grammar stop token name handed to the speculator
	// (spec.md §4.9); "[TOOL_END]" matches the original's default. The
	// speculator stops drafting on a token whose Boundary flag is set; it
	// does not compare token text with this value.
	BoundaryToken string
}

// New wires a Service from cfg. Run must be called once to start the
// batcher's consumer loop before Step is used.
func New(cfg Config) *Service {
	boundary := cfg.BoundaryToken
	if boundary == "" {
		boundary = "[TOOL_END]"
	}
	shape := cfg.KVShape
	if shape == (kvestimate.Shape{}) {
		shape = llama3ShapeDefault
	}
	return &Service{
		engine:      cfg.Engine,
		prefixCache: cfg.PrefixCache,
		sessions:    cfg.Sessions,
		cacheIndex:  cfg.CacheIndex,
		registry:    cfg.Registry,
		router:      cfg.Router,
		batcher:     cfg.Batcher,
		speculator:  speculator.New(cfg.Engine, cfg.Engine, boundary),
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		nodeID:      cfg.NodeID,
		kvShape:     shape,
	}
}

// WithVerifier attaches a verifier client (optional: EndEpisode works
// fine without one, per spec.md §7's VerifierError policy).
func (s *Service) WithVerifier(v *verifier.Client) *Service {
	s.verifier = v
	return s
}

// Run starts the batcher's single-consumer loop; it blocks until ctx is
// cancelled and should be launched in its own goroutine.
func (s *Service) Run(ctx context.Context) {
	s.batcher.Run(ctx)
}

// StartRequest is StartEpisode's input.
type StartRequest struct {
	EnvID      string
	Model      string
	Prompt     string
	PromptFP   []byte
	PinPrefill bool
}

// StartResponse is StartEpisode's output.
type StartResponse struct {
	SessionID string
	CacheHit  bool
}

// StartEpisode creates a session, advisorially consults the router, and
// optionally pins a prefill (spec.md §4.10).
func (s *Service) StartEpisode(ctx context.Context, req StartRequest) (StartResponse, error) {
	ctx, span := s.startSpan(ctx, "StartEpisode",
		attribute.String("env_id", req.EnvID), attribute.String("model", req.Model))
	defer span.End()

	promptFP := req.PromptFP
	if len(promptFP) == 0 && req.Prompt != "" {
		promptFP = fingerprint.Bytes(req.Prompt)
	}

	cacheHit := false
	if len(promptFP) > 0 {
		if s.prefixCache != nil {
			_, cacheHit = s.prefixCache.Get(ctx, promptFP)
		}
		if s.metrics != nil {
			if cacheHit {
				s.metrics.RecordCacheHit(req.Model)
			} else {
				s.metrics.RecordCacheMiss(req.Model)
			}
		}
	}

	sessionID := s.sessions.Start(req.EnvID, req.Model)

	meta := map[string]any{}
	if len(promptFP) > 0 {
		meta["prompt_fp"] = fmt.Sprintf("%x", promptFP)
	}
	if req.Prompt != "" {
		meta["prompt"] = req.Prompt
	}
	if len(meta) > 0 {
		_ = s.sessions.SetMeta(sessionID, meta)
	}

	// Advisory-only: the router's verdict is logged but never changes
	// which engine actually runs the prefill below — placement is a
	// hint for external schedulers, not a dispatch decision this bridge
	// enforces (spec.md §4.6).
	if s.router != nil && req.Prompt != "" {
		kvEst := kvestimate.KVBytes(s.kvShape, kvestimate.SeqLen(req.Prompt), 1)
		nodeID, ok := s.router.Route(router.Request{
			PromptFP:     promptFP,
			KVEstimate:   kvEst,
			SLOLatencyMS: 300,
			Model:        req.Model,
		})
		if ok {
			logrus.WithFields(logrus.Fields{"session_id": sessionID, "node_id": nodeID}).Info("serving: advisory placement")
		} else {
			logrus.WithField("session_id", sessionID).Warn("serving: no placement candidate available")
		}
	}

	if req.PinPrefill && req.Prompt != "" {
		if err := s.pinPrefill(ctx, sessionID, req.Model, req.Prompt, promptFP); err != nil {
			return StartResponse{}, err
		}
	}

	return StartResponse{SessionID: sessionID, CacheHit: cacheHit}, nil
}

// pinPrefill runs one Prefill call, binds the resulting engine session,
// and registers warmth against the cache index and prefix cache. A
// prefill failure here is the one hard error StartEpisode can return
// (spec.md §4.10, "pin_prefill failure aborts StartEpisode").
func (s *Service) pinPrefill(ctx context.Context, sessionID, model, prompt string, promptFP []byte) error {
	result, err := s.engine.Prefill(ctx, model, prompt, "")
	if err != nil {
		return fmt.Errorf("%w: prefill failed: %v", ErrInternal, err)
	}
	if s.metrics != nil {
		s.metrics.RecordTokens("prefill", model, result.Tokens)
	}
	if err := s.sessions.BindEngine(sessionID, result.SessionID); err != nil {
		return fmt.Errorf("%w: bind engine session: %v", ErrInternal, err)
	}

	if len(promptFP) > 0 {
		if s.cacheIndex != nil {
			s.cacheIndex.Register(promptFP, s.nodeID)
		}
		if s.prefixCache != nil {
			s.prefixCache.Put(ctx, promptFP, map[string]any{
				"model": model, "node_id": s.nodeID, "engine_session_id": result.SessionID,
			}, s.nodeID, "hbm")
		}
	}
	return nil
}

// StepRequest is Step's input.
type StepRequest struct {
	SessionID   string
	Obs         string
	MaxNew      int
	Grammar     string
	Speculative bool
	Tools       []map[string]any
}

// TokenResult is one decoded token plus the per-token accounting the
// gRPC transport streams back as a StepResp (spec.md §6.1: "token, t_us,
// kv_bytes, boundary, accepted").
type TokenResult struct {
	Text     string
	TUs      int64
	KVBytes  int64
	Boundary bool
	Accepted bool
}

// StepResponse is Step's output. Results carries the per-token detail the
// gRPC transport streams one-by-one; Tokens/AcceptedMask/Boundary are the
// same data aggregated, which is all the REST gateway's single-shot POST
// needs (SPEC_FULL.md §4.10).
type StepResponse struct {
	Tokens       []string
	AcceptedMask []bool
	Boundary     bool
	Results      []TokenResult
}

// Step advances a session by one decode round, dispatching through the
// speculator when requested (falling back to plain batching on
// speculation failure) and through failoverReplay on decode failure
// (spec.md §4.11, §4.9).
func (s *Service) Step(ctx context.Context, req StepRequest) (StepResponse, error) {
	sess, ok := s.sessions.Get(req.SessionID)
	if !ok {
		return StepResponse{}, fmt.Errorf("%w: %s", session.ErrNotFound, req.SessionID)
	}
	model, engineSessionID := sess.Model, sess.EngineSession

	ctx, span := s.startSpan(ctx, "Step", attribute.String("session_id", req.SessionID), attribute.String("model", model))
	defer span.End()

	prompt, _ := sess.Meta["prompt"].(string)
	decodeReq := engine.DecodeRequest{
		SessionID:   engineSessionID,
		Obs:         req.Obs,
		MaxNew:      req.MaxNew,
		Grammar:     req.Grammar,
		Speculative: req.Speculative,
		Prompt:      prompt + req.Obs,
		Model:       model,
	}

	tokens, mask, err := s.decodeOnce(ctx, decodeReq)
	if err != nil {
		tokens, mask, err = s.failoverReplay(ctx, req.SessionID, &decodeReq)
		if err != nil {
			return StepResponse{}, err
		}
	}

	for _, t := range req.Tools {
		_ = s.sessions.RecordTool(req.SessionID, t)
	}

	texts := make([]string, len(tokens))
	results := make([]TokenResult, len(tokens))
	var kvBytes int64
	boundary := false
	for i, t := range tokens {
		texts[i] = t.Text
		kvBytes = t.KVBytes
		boundary = boundary || t.Boundary
		accepted := i < len(mask) && mask[i]
		results[i] = TokenResult{Text: t.Text, TUs: t.TUs, KVBytes: t.KVBytes, Boundary: t.Boundary, Accepted: accepted}
	}

	if err := s.sessions.RecordTokens(req.SessionID, texts, mask); err != nil {
		return StepResponse{}, fmt.Errorf("%w: record tokens: %v", ErrInternal, err)
	}
	if err := s.sessions.Touch(req.SessionID, kvBytes); err != nil {
		return StepResponse{}, fmt.Errorf("%w: touch session: %v", ErrInternal, err)
	}
	if boundary {
		_ = s.sessions.SetIdle(req.SessionID)
	}

	if s.metrics != nil {
		s.metrics.RecordTokens("decode", model, len(tokens))
		s.metrics.SetKVResidentBytes(model, kvBytes)
	}

	return StepResponse{Tokens: texts, AcceptedMask: mask, Boundary: boundary, Results: results}, nil
}

// decodeOnce runs one decode round: speculative requests try the
// speculator first and fall back to plain batching transparently on any
// speculator error (spec.md §4.9, "speculation failures fall back to
// non-speculative decode without surfacing an error to the caller").
func (s *Service) decodeOnce(ctx context.Context, req engine.DecodeRequest) ([]engine.Token, []bool, error) {
	if req.Speculative {
		tokens, mask, err := s.speculator.Generate(ctx, req)
		if err == nil {
			return tokens, mask, nil
		}
		logrus.WithError(err).WithField("session_id", req.SessionID).Warn("serving: speculation failed, falling back to plain decode")
	}

	nonSpec := req
	nonSpec.Speculative = false
	tokens, err := s.batcher.Submit(ctx, nonSpec)
	if err != nil {
		return nil, nil, err
	}
	mask := make([]bool, len(tokens))
	for i := range mask {
		mask[i] = true
	}
	return tokens, mask, nil
}

// failoverReplay handles a single decode failure by re-prefilling from
// the session's recorded prompt and resubmitting once, non-speculatively
// (spec.md §4.11). A second failure is the only case that propagates as
// a true internal abort.
func (s *Service) failoverReplay(ctx context.Context, sessionID string, req *engine.DecodeRequest) ([]engine.Token, []bool, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	prompt, _ := sess.Meta["prompt"].(string)
	if prompt == "" {
		return nil, nil, fmt.Errorf("%w: no prompt recorded, cannot replay session %s", ErrInternal, sessionID)
	}

	result, err := backoff.Retry(ctx,
		func() (engine.PrefillResult, error) { return s.engine.Prefill(ctx, req.Model, prompt, req.Grammar) },
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failover re-prefill failed: %v", ErrInternal, err)
	}
	if err := s.sessions.BindEngine(sessionID, result.SessionID); err != nil {
		return nil, nil, fmt.Errorf("%w: failover bind failed: %v", ErrInternal, err)
	}

	replay := *req
	replay.SessionID = result.SessionID
	replay.Speculative = false
	replay.Prompt = prompt

	tokens, err := s.batcher.Submit(ctx, replay)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failover resubmit failed: %v", ErrInternal, err)
	}
	mask := make([]bool, len(tokens))
	for i := range mask {
		mask[i] = true
	}
	return tokens, mask, nil
}

// EndRequest is EndEpisode's input.
type EndRequest struct {
	SessionID  string
	PolicyMeta map[string]any
}

// EndEpisode closes the engine session, best-effort posts the episode
// trace to the verifier, and releases the session (spec.md §4.10, §7
// VerifierError policy: a verifier failure never fails EndEpisode).
func (s *Service) EndEpisode(ctx context.Context, req EndRequest) error {
	began := time.Now()
	ctx, span := s.startSpan(ctx, "EndEpisode", attribute.String("session_id", req.SessionID))
	defer span.End()

	trace, err := s.sessions.Trace(req.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrNotFound, err)
	}

	sess, ok := s.sessions.Get(req.SessionID)
	engineSessionID := ""
	if ok {
		engineSessionID = sess.EngineSession
	}
	if engineSessionID != "" {
		if err := engine.Close(ctx, s.engine, engineSessionID); err != nil {
			logrus.WithError(err).WithField("session_id", req.SessionID).Warn("serving: close_session failed")
		}
	}

	if s.verifier != nil && s.verifier.Enabled() {
		payload := verifier.Payload{
			EpisodeID:    req.SessionID,
			Model:        trace.Model,
			PromptFP:     hexMeta(trace.Meta),
			Tokens:       joinTokens(trace.Tokens),
			AcceptedMask: trace.AcceptedMask,
			Tools:        trace.Tools,
			Metrics:      map[string]any{"kv_bytes": trace.KVBytes},
			PolicyMeta:   req.PolicyMeta,
			Meta:         trace.Meta,
		}
		if _, err := s.verifier.Post(ctx, payload); err != nil {
			logrus.WithError(err).WithField("session_id", req.SessionID).Warn("serving: verifier post failed")
		}
	}

	if err := s.sessions.End(req.SessionID); err != nil {
		return fmt.Errorf("%w: %v", session.ErrNotFound, err)
	}

	if s.metrics != nil {
		s.metrics.ObserveLatency("EndEpisode", trace.Model, time.Since(began).Seconds())
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func hexMeta(meta map[string]any) string {
	v, _ := meta["prompt_fp"].(string)
	return v
}

func joinTokens(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
