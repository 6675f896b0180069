// Package registry holds model and serving-node records for the placement
// router and scheduler, grounded on original_source's
// prime_stack/control_plane/registry.py.
package registry

import "sync"

// Model describes a servable model: its artifacts and aggregate metrics.
type Model struct {
	Name      string
	Version   string
	Artifacts map[string]string
	Metrics   map[string]float64
	Tags      []string
}

// Node describes a serving node's identity and mutable capacity.
type Node struct {
	ID           string
	Models       []string
	FreeHBM      int64   // bytes
	LinkBW       float64 // higher is better
	QueuePenalty float64 // lower is better
}

func (n Node) servesModel(model string) bool {
	for _, m := range n.Models {
		if m == model {
			return true
		}
	}
	return false
}

// clone returns a value copy of n, so readers never observe a record being
// torn mid-write by a concurrent capacity update.
func (n Node) clone() Node {
	models := make([]string, len(n.Models))
	copy(models, n.Models)
	n.Models = models
	return n
}

// Registry is a concurrency-safe store of model and node records.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	nodes  map[string]Node
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		models: make(map[string]Model),
		nodes:  make(map[string]Node),
	}
}

// RegisterModel upserts a model record.
func (r *Registry) RegisterModel(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// RegisterNode upserts a node record.
func (r *Registry) RegisterNode(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID] = n.clone()
}

// UpdateNodeCapacity updates a node's free HBM and queue penalty. A no-op
// if the node is unknown (spec.md §4.4).
func (r *Registry) UpdateNodeCapacity(nodeID string, freeHBM int64, queuePenalty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	n.FreeHBM = freeHBM
	n.QueuePenalty = queuePenalty
	r.nodes[nodeID] = n
}

// NodesForModel returns every node that serves model, as value copies safe
// to read after the lock is released.
func (r *Registry) NodesForModel(model string) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Node
	for _, n := range r.nodes {
		if n.servesModel(model) {
			out = append(out, n.clone())
		}
	}
	return out
}

// ArtifactPath returns the URI for (model, artifact), or ("", false) if
// either is unknown.
func (r *Registry) ArtifactPath(model, artifact string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.models[model]
	if !ok {
		return "", false
	}
	uri, ok := rec.Artifacts[artifact]
	return uri, ok
}

// Node returns a copy of the node record for id, if known.
func (r *Registry) Node(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n.clone(), ok
}
