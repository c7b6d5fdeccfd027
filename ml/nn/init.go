package nn

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/flowvision/flowmotion/ml"
)

// kaimingNormal draws weights from N(0, 2/fanIn), the fan-in scaled scheme
// for rectifying nonlinearities. Biases are initialized to zero elsewhere.
func kaimingNormal(ctx ml.Context, rng *rand.Rand, fanIn int, shape ...int) ml.Tensor {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: math.Sqrt(2 / float64(fanIn)),
		Src:   rng,
	}

	n := 1
	for _, d := range shape {
		n *= d
	}

	s := make([]float32, n)
	for i := range s {
		s[i] = float32(dist.Rand())
	}

	return ctx.FromFloats(s, shape...)
}
