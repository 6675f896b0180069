package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartCreatesStartedSession(t *testing.T) {
	m := NewManager()
	id := m.Start("env-1", "llama3-8b")
	require.NotEmpty(t, id)

	s, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, Started, s.State)
	require.Equal(t, "env-1", s.EnvID)
}

func TestBindEngineTransitionsToBound(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")
	require.NoError(t, m.BindEngine(id, "engine-sess-1"))

	s, _ := m.Get(id)
	require.Equal(t, Bound, s.State)
	require.Equal(t, "engine-sess-1", s.EngineSession)
}

func TestBindEngineCanRebindOnFailover(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")
	require.NoError(t, m.BindEngine(id, "engine-sess-1"))
	require.NoError(t, m.BindEngine(id, "engine-sess-2"))

	s, _ := m.Get(id)
	require.Equal(t, "engine-sess-2", s.EngineSession)
}

func TestOperationsOnUnknownSessionReturnNotFound(t *testing.T) {
	m := NewManager()
	require.ErrorIs(t, m.BindEngine("nope", "x"), ErrNotFound)
	require.ErrorIs(t, m.Touch("nope", 1), ErrNotFound)
	require.ErrorIs(t, m.RecordTokens("nope", nil, nil), ErrNotFound)
	require.ErrorIs(t, m.End("nope"), ErrNotFound)
	_, err := m.Trace("nope")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestRecordTokensEnforcesLengthInvariant(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")

	require.NoError(t, m.RecordTokens(id, []string{"a", "b"}, []bool{true, false}))
	require.Error(t, m.RecordTokens(id, []string{"c"}, []bool{true, false}))

	s, _ := m.Get(id)
	require.Len(t, s.Tokens, 2)
	require.Len(t, s.AcceptedMask, 2)
	require.Equal(t, len(s.Tokens), len(s.AcceptedMask))
}

func TestRecordTokensAccumulatesAcrossCalls(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")
	require.NoError(t, m.RecordTokens(id, []string{"a"}, []bool{true}))
	require.NoError(t, m.RecordTokens(id, []string{"b", "c"}, []bool{true, true}))

	s, _ := m.Get(id)
	require.Equal(t, []string{"a", "b", "c"}, s.Tokens)
	require.Equal(t, len(s.Tokens), len(s.AcceptedMask))
}

func TestEndRemovesSession(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")
	require.NoError(t, m.End(id))
	_, ok := m.Get(id)
	require.False(t, ok)
}

func TestTraceIsDeepCopy(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")
	require.NoError(t, m.SetMeta(id, map[string]any{"prompt": "hello"}))
	require.NoError(t, m.RecordTokens(id, []string{"a"}, []bool{true}))

	tr, err := m.Trace(id)
	require.NoError(t, err)

	tr.Tokens[0] = "mutated"
	tr.Meta["prompt"] = "mutated"

	s, _ := m.Get(id)
	require.Equal(t, "a", s.Tokens[0], "mutating the trace snapshot must not affect live state")
	require.Equal(t, "hello", s.Meta["prompt"])
}

func TestTouchMarksDecoding(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")
	require.NoError(t, m.BindEngine(id, "e1"))
	require.NoError(t, m.Touch(id, 1024))

	s, _ := m.Get(id)
	require.Equal(t, Decoding, s.State)
	require.Equal(t, int64(1024), s.KVBytes)
}

func TestSetIdleFromDecoding(t *testing.T) {
	m := NewManager()
	id := m.Start("env", "model")
	require.NoError(t, m.BindEngine(id, "e1"))
	require.NoError(t, m.Touch(id, 10))
	require.NoError(t, m.SetIdle(id))

	s, _ := m.Get(id)
	require.Equal(t, Idle, s.State)
}
