package nn

import (
	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/ml"
)

type Linear struct {
	Weight ml.Tensor `weight:"weight"`
	Bias   ml.Tensor `weight:"bias,optional"`
}

func NewLinear(ctx ml.Context, rng *rand.Rand, inFeatures, outFeatures int) *Linear {
	return &Linear{
		Weight: kaimingNormal(ctx, rng, inFeatures, outFeatures, inFeatures),
		Bias:   ctx.Zeros(ml.DTypeF32, outFeatures),
	}
}

func (m *Linear) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = m.Weight.Mulmat(ctx, t)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias.Reshape(ctx, 1, m.Bias.Dim(0)))
	}

	return t
}
