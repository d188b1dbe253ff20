package datasets

import (
	"math"
	"math/rand/v2"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// truncatedNormal samples a zero-mean Gaussian restricted to [-2σ, 2σ]:
// samples outside are redrawn, not clipped.
type truncatedNormal struct {
	normal distuv.Normal
	bound  float64
}

func newTruncatedNormal(scale float64, rng *rand.Rand) (*truncatedNormal, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, errors.Errorf("invalid noise scale %g", scale)
	}
	return &truncatedNormal{
		normal: distuv.Normal{Mu: 0, Sigma: scale, Src: rng},
		bound:  2 * scale,
	}, nil
}

// Rand returns a sample. The loop terminates with probability 1: each draw
// is accepted with probability ~0.954.
func (t *truncatedNormal) Rand() float64 {
	for {
		if x := t.normal.Rand(); x >= -t.bound && x <= t.bound {
			return x
		}
	}
}

// AddNoise adds independent truncated Gaussian noise of the given scale to
// every channel of every image value of batch, then clamps images to [0, 1].
// A scale of zero is a no-op.
func AddNoise(batch *values.Batch, schema *values.Schema, scale float64, rng *rand.Rand) error {
	if scale == 0 {
		return nil
	}
	noise, err := newTruncatedNormal(scale, rng)
	if err != nil {
		return err
	}
	for _, f := range schema.Fields() {
		if f.Type.Kind != values.KindImage {
			continue
		}
		for _, img := range values.Get[*values.Image](batch, f.Name) {
			addNoise(img, noise)
		}
		for _, alts := range values.Get[[]*values.Image](batch, f.Name) {
			for _, img := range alts {
				addNoise(img, noise)
			}
		}
	}
	return nil
}

func addNoise(img *values.Image, noise *truncatedNormal) {
	for i := range img.Pix {
		img.Pix[i] += float32(noise.Rand())
	}
	img.Clamp()
}
