// Package session implements the episode/session state machine and the
// in-memory session manager, grounded on
// original_source/rl_client/session_manager.py. spec.md §3 names an
// explicit STARTED → BOUND → {DECODING ↔ IDLE}* → CLOSED state machine
// that the Python original left implicit; we make it a real enum here.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a session's position in the episode state machine.
type State int

const (
	// Started marks a session created but not yet bound to an engine.
	Started State = iota
	// Bound marks a session whose engine_session_id has been set once.
	Bound
	// Decoding marks a session currently streaming tokens for a Step call.
	Decoding
	// Idle marks a session between Step calls, already bound.
	Idle
	// Closed marks a session released by EndEpisode; no further
	// operations are valid against it.
	Closed
)

func (s State) String() string {
	switch s {
	case Started:
		return "STARTED"
	case Bound:
		return "BOUND"
	case Decoding:
		return "DECODING"
	case Idle:
		return "IDLE"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotFound is returned by every operation referencing a missing or
// already-closed session (spec.md §3, "unknown session" error).
var ErrNotFound = errors.New("session: unknown session")

// Session is the live state for one RL episode.
type Session struct {
	ID            string
	EnvID         string
	Model         string
	EngineSession string // empty until bound
	LastTouch     time.Time
	KVBytes       int64
	Tokens        []string
	AcceptedMask  []bool
	Tools         []map[string]any
	Meta          map[string]any
	State         State
}

// Manager is a concurrency-safe keyed store of live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Start creates a new session in the STARTED state and returns its id.
func (m *Manager) Start(envID, model string) string {
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &Session{
		ID:        id,
		EnvID:     envID,
		Model:     model,
		LastTouch: time.Now(),
		Meta:      make(map[string]any),
		State:     Started,
	}
	return id
}

// BindEngine sets the session's engine session id exactly once
// successfully; later calls rebind it (failover — spec.md §3).
func (m *Manager) BindEngine(sessionID, engineSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.EngineSession = engineSessionID
	if s.State == Started {
		s.State = Bound
	}
	return nil
}

// Touch updates last-touch time and current KV bytes, and marks the
// session Decoding (SetIdle moves it back to Idle; the serving layer calls
// it when a Step round decodes a boundary token).
func (m *Manager) Touch(sessionID string, kvBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.LastTouch = time.Now()
	s.KVBytes = kvBytes
	if s.State == Bound || s.State == Idle {
		s.State = Decoding
	}
	return nil
}

// SetIdle marks a bound session Idle between Step calls.
func (m *Manager) SetIdle(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if s.State == Decoding {
		s.State = Idle
	}
	return nil
}

// Get returns the live session for sessionID, or (nil, false). The
// returned pointer aliases live state — callers must not mutate fields
// directly; use the Manager's operations, or Trace for a safe snapshot.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// RecordTokens appends tokens and their per-token accepted mask to the
// session's transcript, enforcing len(Tokens) == len(AcceptedMask) at the
// boundary (spec.md §3 invariant).
func (m *Manager) RecordTokens(sessionID string, tokens []string, mask []bool) error {
	if len(tokens) != len(mask) {
		return fmt.Errorf("session: tokens (%d) and mask (%d) length mismatch", len(tokens), len(mask))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.Tokens = append(s.Tokens, tokens...)
	s.AcceptedMask = append(s.AcceptedMask, mask...)
	return nil
}

// RecordTool appends a tool call to the session's transcript.
func (m *Manager) RecordTool(sessionID string, tool map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.Tools = append(s.Tools, tool)
	return nil
}

// SetMeta merges kv into the session's meta map.
func (m *Manager) SetMeta(sessionID string, kv map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	for k, v := range kv {
		s.Meta[k] = v
	}
	return nil
}

// End removes a session from the manager (CLOSED state — once removed
// there is nothing left to transition).
func (m *Manager) End(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	return nil
}

// Trace is a serialization-safe snapshot of a session: its token, mask
// and tool slices and its meta map are copies, while the individual
// tool-call maps and meta values are shared with the live session.
type Trace struct {
	EnvID        string
	Model        string
	Tokens       []string
	AcceptedMask []bool
	KVBytes      int64
	Tools        []map[string]any
	Meta         map[string]any
}

// Trace returns a snapshot copy of sessionID's state, safe to serialize
// or hand to the verifier without aliasing live state (spec.md §4.7,
// §9 "Trace snapshots must deep-copy").
func (m *Manager) Trace(sessionID string) (Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Trace{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	tokens := make([]string, len(s.Tokens))
	copy(tokens, s.Tokens)
	mask := make([]bool, len(s.AcceptedMask))
	copy(mask, s.AcceptedMask)
	tools := make([]map[string]any, len(s.Tools))
	copy(tools, s.Tools)
	meta := make(map[string]any, len(s.Meta))
	for k, v := range s.Meta {
		meta[k] = v
	}

	return Trace{
		EnvID:        s.EnvID,
		Model:        s.Model,
		Tokens:       tokens,
		AcceptedMask: mask,
		KVBytes:      s.KVBytes,
		Tools:        tools,
		Meta:         meta,
	}, nil
}
