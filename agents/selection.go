package agents

import (
	"golang.org/x/exp/rand"
	"golang.org/x/exp/slices"

	"github.com/zeu5/recsim-rl/types"
)

func randomSlate(rng *rand.Rand, space types.ActionSpace) types.Slate {
	perm := rng.Perm(space.NumCandidates)
	slate := make(types.Slate, space.SlateSize)
	copy(slate, perm[:space.SlateSize])
	return slate
}

// SelectTopK returns the k candidates with the highest score*q, ties go to lower indices
func SelectTopK(scores, qValues []float64, k int) types.Slate {
	indices := make([]int, len(scores))
	for i := range indices {
		indices[i] = i
	}
	slices.SortStableFunc(indices, func(a, b int) int {
		va := scores[a] * qValues[a]
		vb := scores[b] * qValues[b]
		switch {
		case va > vb:
			return -1
		case va < vb:
			return 1
		}
		return 0
	})
	slate := make(types.Slate, k)
	copy(slate, indices[:k])
	return slate
}

// SelectGreedy builds the slate one position at a time, each time adding the
// candidate that maximizes the expected slate value
//
//	sum_i score_i*q_i / (sum_i score_i + noClickMass)
func SelectGreedy(scores, qValues []float64, k int, noClickMass float64) types.Slate {
	slate := make(types.Slate, 0, k)
	chosen := make([]bool, len(scores))
	numerator := 0.0
	denominator := noClickMass
	for len(slate) < k {
		best := -1
		bestVal := 0.0
		for i := range scores {
			if chosen[i] {
				continue
			}
			val := slateValue(numerator+scores[i]*qValues[i], denominator+scores[i])
			if best == -1 || val > bestVal {
				best = i
				bestVal = val
			}
		}
		chosen[best] = true
		slate = append(slate, best)
		numerator += scores[best] * qValues[best]
		denominator += scores[best]
	}
	return slate
}

// ExpectedSlateValue under the conditional logit choice model
func ExpectedSlateValue(scores, qValues []float64, slate types.Slate, noClickMass float64) float64 {
	numerator := 0.0
	denominator := noClickMass
	for _, i := range slate {
		numerator += scores[i] * qValues[i]
		denominator += scores[i]
	}
	return slateValue(numerator, denominator)
}

func slateValue(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}
