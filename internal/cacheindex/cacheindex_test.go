package cacheindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	idx := New(10)
	fp := []byte("fingerprint-a")
	idx.Register(fp, "node-1")
	idx.Register(fp, "node-2")

	nodes := idx.Lookup(fp)
	require.ElementsMatch(t, []string{"node-1", "node-2"}, nodes)
}

func TestLookupUnknownFingerprintIsEmpty(t *testing.T) {
	idx := New(10)
	require.Empty(t, idx.Lookup([]byte("nope")))
}

func TestLookupNilFingerprintIsEmpty(t *testing.T) {
	idx := New(10)
	require.Empty(t, idx.Lookup(nil))
}

func TestUnregisterNodeRemovesFromEverySet(t *testing.T) {
	idx := New(10)
	idx.Register([]byte("a"), "node-1")
	idx.Register([]byte("b"), "node-1")
	idx.Register([]byte("b"), "node-2")

	idx.UnregisterNode("node-1")

	require.Empty(t, idx.Lookup([]byte("a")))
	require.ElementsMatch(t, []string{"node-2"}, idx.Lookup([]byte("b")))
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	idx := New(100)
	fp := []byte("hot")
	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			idx.Register(fp, "writer")
		}
		close(done)
	}()

	for i := 0; i < 1000; i++ {
		idx.Lookup(fp)
	}
	<-done
	require.Contains(t, idx.Lookup(fp), "writer")
}
