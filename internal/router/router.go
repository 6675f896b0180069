// Package router implements placement routing: warmth lookup via the cache
// index, candidate scoring via the scheduler, random fallback when no
// candidate clears the headroom guard. Grounded on
// original_source/prime_stack/control_plane/router.py.
package router

import (
	"math/rand/v2"

	"github.com/primerl/bridge/internal/registry"
	"github.com/primerl/bridge/internal/scheduler"
)

// CacheIndex is the subset of cacheindex.Index the router needs, kept as
// an interface so tests can substitute a fake.
type CacheIndex interface {
	Lookup(fp []byte) []string
}

// Registry is the subset of registry.Registry the router needs.
type Registry interface {
	NodesForModel(model string) []registry.Node
}

// Request is a routing request: the candidate's warmth signal, its KV
// requirement, its SLO budget, and the model it must serve.
type Request struct {
	PromptFP     []byte
	KVEstimate   int64
	SLOLatencyMS int
	Model        string
}

// Router picks a placement for a Request. Scoring is delegated to the
// pure scheduler.ScoreNode function — there is no stateful scheduler type
// to hold a reference to.
type Router struct {
	index    CacheIndex
	registry Registry
}

// New builds a Router over index and reg.
func New(index CacheIndex, reg Registry) *Router {
	return &Router{index: index, registry: reg}
}

// Route returns the chosen node id, or ("", false) iff there are zero
// candidate nodes for req.Model. Warmth is a bonus, never a gate: every
// admissible node remains reachable even when cold.
func (r *Router) Route(req Request) (string, bool) {
	var warmSet map[string]struct{}
	if req.PromptFP != nil && r.index != nil {
		ids := r.index.Lookup(req.PromptFP)
		warmSet = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			warmSet[id] = struct{}{}
		}
	}

	candidates := r.registry.NodesForModel(req.Model)
	if len(candidates) == 0 {
		return "", false
	}

	bestID := ""
	bestScore := 0.0
	haveBest := false
	for _, n := range candidates {
		_, warm := warmSet[n.ID]
		score, ok := scheduler.ScoreNode(scheduler.Node{
			ID:           n.ID,
			FreeHBM:      n.FreeHBM,
			LinkBW:       n.LinkBW,
			QueuePenalty: n.QueuePenalty,
		}, warm, req.KVEstimate, req.SLOLatencyMS)
		if !ok {
			continue
		}
		if !haveBest || score > bestScore || (score == bestScore && n.ID < bestID) {
			bestID = n.ID
			bestScore = score
			haveBest = true
		}
	}

	if haveBest {
		return bestID, true
	}

	// No candidate cleared the headroom guard: fall back to a uniform
	// random choice among all candidates for the model (spec.md §4.6).
	idx := rand.IntN(len(candidates))
	return candidates[idx].ID, true
}
