package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupNode(t *testing.T) {
	r := New()
	r.RegisterModel(Model{Name: "llama3-8b", Version: "0.1", Artifacts: map[string]string{"weights": "s3://x"}})
	r.RegisterNode(Node{ID: "node-a", Models: []string{"llama3-8b"}, FreeHBM: 100, LinkBW: 900, QueuePenalty: 0.1})

	nodes := r.NodesForModel("llama3-8b")
	require.Len(t, nodes, 1)
	require.Equal(t, "node-a", nodes[0].ID)

	uri, ok := r.ArtifactPath("llama3-8b", "weights")
	require.True(t, ok)
	require.Equal(t, "s3://x", uri)
}

func TestUpdateNodeCapacityNoopForUnknownNode(t *testing.T) {
	r := New()
	require.NotPanics(t, func() {
		r.UpdateNodeCapacity("missing", 10, 0.5)
	})
	_, ok := r.Node("missing")
	require.False(t, ok)
}

func TestUpdateNodeCapacityMutatesExistingNode(t *testing.T) {
	r := New()
	r.RegisterNode(Node{ID: "node-a", Models: []string{"m"}, FreeHBM: 100, QueuePenalty: 0.1})
	r.UpdateNodeCapacity("node-a", 50, 0.9)
	n, ok := r.Node("node-a")
	require.True(t, ok)
	require.Equal(t, int64(50), n.FreeHBM)
	require.Equal(t, 0.9, n.QueuePenalty)
}

func TestNodesForModelReturnsIndependentCopies(t *testing.T) {
	r := New()
	r.RegisterNode(Node{ID: "node-a", Models: []string{"m"}, FreeHBM: 100})
	nodes := r.NodesForModel("m")
	nodes[0].FreeHBM = 999
	n, _ := r.Node("node-a")
	require.Equal(t, int64(100), n.FreeHBM, "mutating a returned copy must not affect the registry")
}

func TestArtifactPathUnknownModel(t *testing.T) {
	r := New()
	_, ok := r.ArtifactPath("nope", "weights")
	require.False(t, ok)
}
