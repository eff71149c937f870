package fuzz

import (
	"b3hybrid/internal/corpus"
	"b3hybrid/internal/coverage"
	"math"
	"math/rand/v2"
)

// We score the queue entries on several factors. Each factor returns one raw
// score per entry; the picker balances each factor's scores, weights them and
// samples an entry from the result.
type factor interface {
	Score(entries []*corpus.Entry) []float64
}

type picker struct {
	weightedFactors map[factor]float64
	rng             *rand.Rand
}

func newPicker(registry *coverage.Registry, rng *rand.Rand) *picker {
	weightedFactors := make(map[factor]float64)
	weightedFactors[&SizeFactor{}] = 1.0
	weightedFactors[&PickFactor{}] = 1.0
	weightedFactors[&FreshnessFactor{registry}] = 2.0

	return &picker{weightedFactors, rng}
}

func (p *picker) pick(entries []*corpus.Entry) *corpus.Entry {
	finalScores := make([]float64, len(entries))

	for f, weight := range p.weightedFactors {
		balancedScores := balance(f.Score(entries))
		for i, score := range balancedScores {
			finalScores[i] += score * weight
		}
	}

	normalScores := balance(finalScores)

	randomNum := p.rng.Float64()
	cumulativeScore := 0.0
	for i, score := range normalScores {
		cumulativeScore += score
		if randomNum <= cumulativeScore {
			return entries[i]
		}
	}
	// rounding left the cumulative sum just short of randomNum
	return entries[p.rng.IntN(len(entries))]
}

// balance scales scores to sum to 1. All-zero scores become uniform.
func balance(ubScore []float64) []float64 {
	balancedScore := make([]float64, len(ubScore))
	sum := 0.0
	for _, score := range ubScore {
		sum += score
	}
	for idx, score := range ubScore {
		if sum == 0 {
			balancedScore[idx] = 1 / float64(len(ubScore))
			continue
		}
		balancedScore[idx] = score / sum
	}
	return balancedScore
}

// SizeFactor prefers small inputs, they run faster and mutate more densely.
type SizeFactor struct{}

func (sf *SizeFactor) Score(entries []*corpus.Entry) []float64 {
	score := make([]float64, len(entries))
	for idx, entry := range entries {
		score[idx] = 1 / (1 + math.Log1p(float64(entry.Size)))
	}
	return score
}

// PickFactor prefers entries that were picked less often.
type PickFactor struct{}

func (pf *PickFactor) Score(entries []*corpus.Entry) []float64 {
	score := make([]float64, len(entries))
	for idx, entry := range entries {
		score[idx] = 1 / float64(1+entry.Picks)
	}
	return score
}

// FreshnessFactor drops entries whose edges are all on the flip list.
type FreshnessFactor struct {
	registry *coverage.Registry
}

func (ff *FreshnessFactor) Score(entries []*corpus.Entry) []float64 {
	score := make([]float64, len(entries))
	for idx, entry := range entries {
		score[idx] = 1 - ff.registry.Exhausted(entry.Edges) + 0.01
	}
	return score
}
