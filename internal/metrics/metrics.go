// Package metrics computes the two swarm-formation quality scores used by
// the training loop: coverage (M1) and uniformity (M2). Both are pure
// functions of a shape mask and the current robot positions, grounded on
// backend/app/metrics.py's coverage_m1/uniformity_m2.
package metrics

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/miry41/lamarl-playground/internal/shapemask"
)

// Position is a robot's 2D location.
type Position struct {
	X, Y float64
}

// sampleCap bounds the number of shape cells uniformity sampling considers,
// matching the Python original's sample_k=2000 default.
const sampleCap = 2000

// Coverage returns M1: the fraction of shape cells within rAvoid-scaled
// distance of their nearest robot. Returns 0 for an empty shape.
func Coverage(mask *shapemask.Mask, positions []Position, rAvoid float64) float64 {
	cells := mask.Cells()
	if len(cells) == 0 {
		return 0.0
	}

	threshold := math.Max(1.0, rAvoid*float64(mask.Size)/4)
	occupied := 0
	for _, cell := range cells {
		if nearestDistance(cell.X, cell.Y, positions) < threshold {
			occupied++
		}
	}
	return float64(occupied) / float64(len(cells))
}

func nearestDistance(cx, cy float64, positions []Position) float64 {
	best := math.Inf(1)
	for _, p := range positions {
		dx, dy := cx-p.X, cy-p.Y
		d := math.Sqrt(dx*dx + dy*dy)
		if d < best {
			best = d
		}
	}
	return best
}

// Uniformity returns M2: the variance of per-robot Voronoi assignment
// counts over a random sample of shape cells. Lower is more uniform. Worst
// value (1.0) is returned for an empty shape or zero robots. rng is
// supplied by the caller so results are reproducible under a seed, per the
// open question in spec.md section 9 about the source's unseeded sampling.
func Uniformity(mask *shapemask.Mask, positions []Position, rng *rand.Rand) float64 {
	cells := mask.Cells()
	if len(cells) == 0 || len(positions) == 0 {
		return 1.0
	}

	k := len(cells)
	if k > sampleCap {
		k = sampleCap
	}
	sample := sampleWithoutReplacement(rng, len(cells), k)

	counts := make([]int, len(positions))
	for _, idx := range sample {
		cell := cells[idx]
		nearest := nearestRobotIndex(cell.X, cell.Y, positions)
		counts[nearest]++
	}

	countsF := make([]float64, len(counts))
	for i, c := range counts {
		countsF[i] = float64(c)
	}

	// stat.Variance returns the unbiased (n-1) sample variance; the
	// original metric is the population (n) variance of assignment
	// counts, so rescale rather than reimplement the reduction by hand.
	n := float64(len(countsF))
	if n < 2 {
		// A single robot has no other count to vary against: the
		// population variance of one value is 0 by definition.
		return 0.0
	}
	return stat.Variance(countsF, nil) * (n - 1) / n
}

func nearestRobotIndex(cx, cy float64, positions []Position) int {
	best := math.Inf(1)
	bestIdx := 0
	for i, p := range positions {
		dx, dy := cx-p.X, cy-p.Y
		d2 := dx*dx + dy*dy
		if d2 < best {
			best = d2
			bestIdx = i
		}
	}
	return bestIdx
}

// sampleWithoutReplacement returns k distinct indices in [0, n), via a
// partial Fisher-Yates shuffle over an n-element index pool: only the first
// k positions are shuffled.
func sampleWithoutReplacement(rng *rand.Rand, n, k int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
