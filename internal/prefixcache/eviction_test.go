package prefixcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCostMatchesSpecFormula(t *testing.T) {
	w := DefaultCostWeights()
	c := Candidate{HBMBytes: 1000, HitRate: 0.5, AgeSeconds: 100}

	got := Cost(c, w)
	want := w.Alpha*1000 + w.Beta/(0.5+w.Epsilon) + w.Gamma*100
	require.InDelta(t, want, got, 1e-9)
}

func TestCostHigherForColderLargerOlderEntries(t *testing.T) {
	w := DefaultCostWeights()
	cold := Candidate{HBMBytes: 2000, HitRate: 0.1, AgeSeconds: 500}
	hot := Candidate{HBMBytes: 500, HitRate: 10, AgeSeconds: 1}

	require.Greater(t, Cost(cold, w), Cost(hot, w))
}

func TestNoopPolicyNeverDemotes(t *testing.T) {
	cands := []Candidate{{HBMBytes: 1}, {HBMBytes: 2}}
	require.Empty(t, NoopPolicy{}.SelectForDemotion(cands, DefaultCostWeights()))
}

func TestTopNPolicyPicksHighestCostFirst(t *testing.T) {
	w := DefaultCostWeights()
	low := Candidate{Fingerprint: []byte("low"), HBMBytes: 10, HitRate: 100, AgeSeconds: 1}
	high := Candidate{Fingerprint: []byte("high"), HBMBytes: 10000, HitRate: 0.01, AgeSeconds: 10000}
	mid := Candidate{Fingerprint: []byte("mid"), HBMBytes: 500, HitRate: 1, AgeSeconds: 100}

	got := TopNPolicy{N: 2}.SelectForDemotion([]Candidate{low, mid, high}, w)
	require.Len(t, got, 2)
	require.Equal(t, "high", string(got[0].Fingerprint))
	require.Equal(t, "mid", string(got[1].Fingerprint))
}

func TestTopNPolicyClampsToAvailableCandidates(t *testing.T) {
	got := TopNPolicy{N: 10}.SelectForDemotion([]Candidate{{HBMBytes: 1}}, DefaultCostWeights())
	require.Len(t, got, 1)
}

func TestTopNPolicyZeroNDemotesNothing(t *testing.T) {
	got := TopNPolicy{N: 0}.SelectForDemotion([]Candidate{{HBMBytes: 1}}, DefaultCostWeights())
	require.Empty(t, got)
}
