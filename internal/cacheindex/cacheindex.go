// Package cacheindex implements the in-process, best-effort fingerprint →
// warm-node-set structure described in spec.md §4.3. It is a disjoint
// concern from the durable prefix cache: this index may be a stale or
// partial view, and losing entries (via LRU pressure) never causes a
// correctness fault — only a colder-than-reality routing decision.
package cacheindex

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds how many distinct fingerprints the index tracks
// at once. Sized generously; callers with different working-set needs
// should use New instead of the package-level default.
const DefaultCapacity = 4096

// Index is a concurrency-safe, LRU-bounded fingerprint → node-id-set map.
type Index struct {
	mu    sync.RWMutex
	nodes *lru.Cache[string, map[string]struct{}]
}

// New returns an Index capped at capacity distinct fingerprints.
func New(capacity int) *Index {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, map[string]struct{}](capacity)
	if err != nil {
		// Only returned by golang-lru for capacity <= 0, already guarded above.
		panic(err)
	}
	return &Index{nodes: c}
}

func key(fp []byte) string { return string(fp) }

// Register adds nodeID to the warm set for fp, creating the entry if
// absent. Safe under concurrent readers and writers.
func (idx *Index) Register(fp []byte, nodeID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	k := key(fp)
	set, ok := idx.nodes.Get(k)
	if !ok {
		set = make(map[string]struct{}, 1)
	}
	set[nodeID] = struct{}{}
	idx.nodes.Add(k, set)
}

// UnregisterNode removes nodeID from every entry's set, e.g. on node
// deregistration or drain.
func (idx *Index) UnregisterNode(nodeID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, k := range idx.nodes.Keys() {
		set, ok := idx.nodes.Peek(k)
		if !ok {
			continue
		}
		delete(set, nodeID)
	}
}

// Lookup returns the node ids currently believed warm for fp. A nil or
// unknown fp returns an empty slice, never an error.
func (idx *Index) Lookup(fp []byte) []string {
	if fp == nil {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set, ok := idx.nodes.Get(key(fp))
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
