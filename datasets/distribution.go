package datasets

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/pkg/errors"
)

// Distribution is a categorical distribution over indices 0..Len()-1,
// stored as normalized cumulative weights.
type Distribution struct {
	cumulative []float64
}

// NewDistribution creates a distribution proportional to weights. Weights
// must be non-negative and finite, and at least one must be positive.
func NewDistribution(weights []float64) (*Distribution, error) {
	if len(weights) == 0 {
		return nil, errors.New("distribution needs at least one weight")
	}
	cumulative := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, errors.Errorf("invalid weight %g at position %d", w, i)
		}
		total += w
		cumulative[i] = total
	}
	if total <= 0 {
		return nil, errors.Errorf("weights %v sum to zero", weights)
	}
	for i := range cumulative {
		cumulative[i] /= total
	}
	cumulative[len(cumulative)-1] = 1
	return &Distribution{cumulative: cumulative}, nil
}

// UniformDistribution returns the distribution giving each of n indices the
// same probability.
func UniformDistribution(n int) *Distribution {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	d, _ := NewDistribution(weights)
	return d
}

// Len returns the number of indices.
func (d *Distribution) Len() int {
	return len(d.cumulative)
}

// Probabilities returns the probability of each index.
func (d *Distribution) Probabilities() []float64 {
	probabilities := make([]float64, len(d.cumulative))
	previous := 0.0
	for i, c := range d.cumulative {
		probabilities[i] = c - previous
		previous = c
	}
	return probabilities
}

// Sample draws an index. Indices of zero weight are never drawn.
func (d *Distribution) Sample(rng *rand.Rand) int {
	u := rng.Float64()
	return sort.Search(len(d.cumulative), func(i int) bool { return d.cumulative[i] > u })
}
