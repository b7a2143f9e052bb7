package phase1

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// makeSamplingPlan draws uniform block indices without meaningful
// replacement until ceil(frac * maxBlocks) distinct blocks are chosen, and
// returns them in ascending order. Collisions are simply re-drawn, which is
// why frac is capped well below the density where that becomes quadratic.
func makeSamplingPlan(maxBlocks uint64, frac float64, rng *rand.Rand) ([]uint64, error) {
	if frac >= maxSamplingFraction {
		return nil, fmt.Errorf("sampling fraction %g too dense for the rejection sampler; specify f < %g",
			frac, maxSamplingFraction)
	}
	if frac <= 0 {
		return nil, fmt.Errorf("sampling fraction must be positive (got %g)", frac)
	}
	if maxBlocks == 0 {
		return nil, nil
	}

	target := uint64(math.Ceil(frac * float64(maxBlocks)))
	chosen := make(map[uint64]struct{}, target)
	for uint64(len(chosen)) < target {
		chosen[uint64(rng.Int63n(int64(maxBlocks)))] = struct{}{}
	}

	plan := make([]uint64, 0, len(chosen))
	for b := range chosen {
		plan = append(plan, b)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i] < plan[j] })
	return plan, nil
}
