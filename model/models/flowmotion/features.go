package flowmotion

import (
	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/ml/nn"
)

const negativeSlope = 0.1

// ConvNorm is the basic block: convolution, optional batch normalization,
// leaky rectification. Blocks with normalization carry no convolution bias.
type ConvNorm struct {
	Conv *nn.Conv2D
	Norm *nn.BatchNorm2D
}

func newConvNorm(ctx ml.Context, rng *rand.Rand, in, out, kernel, stride, padding int, norm bool) *ConvNorm {
	m := &ConvNorm{Conv: nn.NewConv2D(ctx, rng, in, out, kernel, stride, padding, !norm)}
	if norm {
		m.Norm = nn.NewBatchNorm2D(ctx, out)
	}
	return m
}

func (m *ConvNorm) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = m.Conv.Forward(ctx, t)
	if m.Norm != nil {
		t = m.Norm.Forward(ctx, t)
	}
	return t.LeakyReLU(ctx, negativeSlope)
}

// featureWidths holds the pyramid channel width per level, coarsening from
// level 1 (half resolution) to level 5 (1/32 resolution).
var featureWidths = [5]int{16, 32, 64, 96, 128}

// FeatureLevel halves the spatial resolution and widens the channels.
type FeatureLevel struct {
	Down   *ConvNorm // stride 2
	Refine *ConvNorm
	Out    *ConvNorm
}

func newFeatureLevel(ctx ml.Context, rng *rand.Rand, in, out int) *FeatureLevel {
	return &FeatureLevel{
		Down:   newConvNorm(ctx, rng, in, out, 3, 2, 1, true),
		Refine: newConvNorm(ctx, rng, out, out, 3, 1, 1, true),
		Out:    newConvNorm(ctx, rng, out, out, 3, 1, 1, true),
	}
}

func (m *FeatureLevel) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return m.Out.Forward(ctx, m.Refine.Forward(ctx, m.Down.Forward(ctx, t)))
}

// FeaturePyramid extracts five feature maps from a 3-channel image, one per
// pyramid level, finest first.
type FeaturePyramid struct {
	Levels [5]*FeatureLevel
}

func newFeaturePyramid(ctx ml.Context, rng *rand.Rand) *FeaturePyramid {
	p := &FeaturePyramid{}
	in := 3
	for i, out := range featureWidths {
		p.Levels[i] = newFeatureLevel(ctx, rng, in, out)
		in = out
	}
	return p
}

func (p *FeaturePyramid) Forward(ctx ml.Context, image ml.Tensor) [5]ml.Tensor {
	var out [5]ml.Tensor
	t := image
	for i, l := range p.Levels {
		t = l.Forward(ctx, t)
		out[i] = t
	}
	return out
}
