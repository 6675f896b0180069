package prefixcache

// CostWeights are the α/β/γ/ε coefficients of the eviction cost formula
// (spec.md §3, "Eviction cost"). Defaults match the spec exactly:
// α=β=1, γ=1e-3, ε=1e-3.
type CostWeights struct {
	Alpha   float64
	Beta    float64
	Gamma   float64
	Epsilon float64
}

// DefaultCostWeights returns the spec's literal defaults.
func DefaultCostWeights() CostWeights {
	return CostWeights{Alpha: 1, Beta: 1, Gamma: 1e-3, Epsilon: 1e-3}
}

// Candidate is one entry under eviction consideration.
type Candidate struct {
	Fingerprint []byte
	HBMBytes    float64
	HitRate     float64
	AgeSeconds  float64
}

// Cost computes the eviction cost of candidate c: higher cost means a
// more preferred eviction candidate (spec.md §3). This is a pure
// function — it never suspends and never touches the backing store.
func Cost(c Candidate, w CostWeights) float64 {
	return w.Alpha*c.HBMBytes + w.Beta/(c.HitRate+w.Epsilon) + w.Gamma*c.AgeSeconds
}

// EvictionPolicy decides which candidates to demote under capacity
// pressure. The cost function is a contract, not a schedule (spec.md §3,
// "the cost is a contract for eviction, not a policy of when to run
// it") — policies are pluggable and spec.md never commits to a
// background reaper.
type EvictionPolicy interface {
	// SelectForDemotion returns the subset of candidates that should be
	// moved to a colder tier, highest cost first.
	SelectForDemotion(candidates []Candidate, weights CostWeights) []Candidate
}

// NoopPolicy never demotes anything. It is the default: spec.md commits
// only to exposing the cost formula, not to running an eviction loop
// (see SPEC_FULL.md §4.2b).
type NoopPolicy struct{}

func (NoopPolicy) SelectForDemotion(candidates []Candidate, weights CostWeights) []Candidate {
	return nil
}

// TopNPolicy demotes the N highest-cost candidates, for operators who
// want to manually trigger a demotion pass (e.g. from an admin CLI).
type TopNPolicy struct {
	N int
}

func (p TopNPolicy) SelectForDemotion(candidates []Candidate, weights CostWeights) []Candidate {
	if p.N <= 0 || len(candidates) == 0 {
		return nil
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	costs := make([]float64, len(ranked))
	for i, c := range ranked {
		costs[i] = Cost(c, weights)
	}

	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && costs[j] > costs[j-1]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
			costs[j], costs[j-1] = costs[j-1], costs[j]
		}
	}

	n := p.N
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}
