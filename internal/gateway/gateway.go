// Package gateway mirrors original_source/rl_client/async_decode_client.py:
// a thin REST front door over the in-process serving.Service, for
// callers that would rather speak JSON/HTTP than gRPC. spec.md's
// distillation kept only the gRPC surface; original_source shows both
// existed side by side, so this is a recovered feature, not an
// invention. Grounded on allaspectsdev-tokenman/internal/proxy/server.go
// for the chi wiring shape.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/primerl/bridge/internal/serving"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP server exposing the episode lifecycle as JSON/REST.
type Server struct {
	router  chi.Router
	svc     *serving.Service
	httpSrv *http.Server
}

// New builds a Server bound to addr, delegating every route to svc.
// readTimeout/writeTimeout/idleTimeout of 0 leave the corresponding
// http.Server field at its default (no timeout).
func New(svc *serving.Service, addr string, readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	s := &Server{router: r, svc: svc}

	r.Post("/start-episode", s.handleStartEpisode)
	r.Post("/step", s.handleStep)
	r.Post("/end-episode", s.handleEndEpisode)
	r.Get("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Router returns the underlying chi.Router for tests or additional
// route mounting.
func (s *Server) Router() chi.Router { return s.router }

// Start blocks serving HTTP until Shutdown is called or a fatal error
// occurs.
func (s *Server) Start() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type startEpisodeBody struct {
	EnvID      string `json:"env_id"`
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	PinPrefill bool   `json:"pin_prefill"`
}

func (s *Server) handleStartEpisode(w http.ResponseWriter, r *http.Request) {
	var body startEpisodeBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.EnvID == "" {
		body.EnvID = "default"
	}
	if body.Model == "" {
		body.Model = "llama3-8b"
	}

	resp, err := s.svc.StartEpisode(r.Context(), serving.StartRequest{
		EnvID: body.EnvID, Model: body.Model, Prompt: body.Prompt, PinPrefill: body.PinPrefill,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": resp.SessionID, "cache_hit": resp.CacheHit})
}

type stepBody struct {
	SessionID   string `json:"session_id"`
	Obs         string `json:"obs"`
	MaxNewTok   int    `json:"max_new_tokens"`
	GrammarID   string `json:"grammar_id"`
	Speculative bool   `json:"speculative"`
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var body stepBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.SessionID == "" {
		writeError(w, http.StatusBadRequest, errSessionIDRequired)
		return
	}
	maxNew := body.MaxNewTok
	if maxNew == 0 {
		maxNew = 128
	}

	resp, err := s.svc.Step(r.Context(), serving.StepRequest{
		SessionID: body.SessionID, Obs: body.Obs, MaxNew: maxNew,
		Grammar: body.GrammarID, Speculative: body.Speculative,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type tokenOut struct {
		Token    string `json:"token"`
		Boundary bool   `json:"boundary"`
		Accepted bool   `json:"accepted"`
	}
	tokens := make([]tokenOut, len(resp.Tokens))
	for i, tok := range resp.Tokens {
		accepted := i < len(resp.AcceptedMask) && resp.AcceptedMask[i]
		tokens[i] = tokenOut{Token: tok, Boundary: i == len(resp.Tokens)-1 && resp.Boundary, Accepted: accepted}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

type endEpisodeBody struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleEndEpisode(w http.ResponseWriter, r *http.Request) {
	var body endEpisodeBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.SessionID == "" {
		writeError(w, http.StatusBadRequest, errSessionIDRequired)
		return
	}

	if err := s.svc.EndEpisode(r.Context(), serving.EndRequest{SessionID: body.SessionID}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evicted": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("gateway: failed writing response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"detail": err.Error()})
}

var errSessionIDRequired = jsonError("session_id required")

type jsonError string

func (e jsonError) Error() string { return string(e) }
