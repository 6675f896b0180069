// Package scheduler implements pure placement scoring, grounded on
// original_source/placement/scheduler.py.
package scheduler

import "sort"

// headroomRatio is the fraction of kv_required a node's free HBM must
// exceed to be admissible at all (spec.md §4.5's "10% headroom guard").
const headroomRatio = 1.1

// Node is the minimal view the scheduler needs to score a candidate.
type Node struct {
	ID           string
	FreeHBM      int64
	LinkBW       float64
	QueuePenalty float64
}

// ScoreNode returns a placement score for node, or (0, false) iff
// free_hbm <= 1.1 * kvRequired (the headroom guard). Higher is better.
// Pure, never suspends.
func ScoreNode(node Node, warm bool, kvRequired int64, sloMS int) (float64, bool) {
	if float64(node.FreeHBM) <= float64(kvRequired)*headroomRatio {
		return 0, false
	}

	sloFactor := float64(sloMS) / 250
	if sloFactor < 1 {
		sloFactor = 1
	}
	bonus := 0.0
	if warm {
		bonus = 0.2
	}

	score := float64(node.FreeHBM)/float64(kvRequired) + node.LinkBW - node.QueuePenalty - sloFactor + bonus
	return score, true
}

// Candidate is the minimal view PickSlice needs.
type Candidate struct {
	ID           string
	FreeHBM      int64
	QueuePenalty float64
	LinkBW       float64
}

// PickSlice sorts candidates descending on (free_hbm - required_kv,
// -queue_penalty, link_bw) and returns the id of the first candidate whose
// free_hbm exceeds 1.1*requiredKV, or ("", false) if none qualifies.
func PickSlice(requiredKV int64, candidates []Candidate) (string, bool) {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)

	sort.Slice(sorted, func(i, j int) bool {
		ki := sortKey(sorted[i], requiredKV)
		kj := sortKey(sorted[j], requiredKV)
		for k := range ki {
			if ki[k] != kj[k] {
				return ki[k] > kj[k]
			}
		}
		return false
	})

	for _, c := range sorted {
		if float64(c.FreeHBM) > float64(requiredKV)*headroomRatio {
			return c.ID, true
		}
	}
	return "", false
}

func sortKey(c Candidate, requiredKV int64) [3]float64 {
	return [3]float64{float64(c.FreeHBM - requiredKV), -c.QueuePenalty, c.LinkBW}
}
