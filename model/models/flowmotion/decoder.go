package flowmotion

import (
	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/ml/nn"
)

// FlowDecoder refines a flow estimate from a cost volume. Five convolutions
// run in sequence and each output is concatenated back onto the running
// input, so every stage sees all earlier outputs. The accumulated tensor
// feeds a linear 2-channel flow head and, on all but the finest level, a
// learned 2x feature upsampler handed to the next level.
type FlowDecoder struct {
	Convs       [5]*ConvNorm
	PredictFlow *nn.Conv2D
	UpFeat      *nn.ConvTranspose2D
}

func newFlowDecoder(ctx ml.Context, rng *rand.Rand, in int, widths [5]int, upfeat bool) *FlowDecoder {
	d := &FlowDecoder{}
	w := in
	for i, out := range widths {
		d.Convs[i] = newConvNorm(ctx, rng, w, out, 3, 1, 1, false)
		w += out
	}
	d.PredictFlow = nn.NewConv2D(ctx, rng, w, 2, 3, 1, 1, true)
	if upfeat {
		d.UpFeat = nn.NewConvTranspose2D(ctx, rng, w, 2, 4, 2, 1)
	}
	return d
}

// featureWidth is the channel count of the accumulated decoder tensor for a
// given input width.
func featureWidth(in int, widths [5]int) int {
	for _, w := range widths {
		in += w
	}
	return in
}

// Forward returns the accumulated feature tensor and the predicted flow.
func (d *FlowDecoder) Forward(ctx ml.Context, x ml.Tensor) (features, flow ml.Tensor) {
	for _, c := range d.Convs {
		x = c.Forward(ctx, x).Concat(ctx, x, 1)
	}
	return x, d.PredictFlow.Forward(ctx, x)
}

// Upsample doubles the resolution of the level's outputs for the next finer
// level: flow values scale by 2 along with the grid, features pass through
// the learned upsampler.
func (d *FlowDecoder) Upsample(ctx ml.Context, features, flow ml.Tensor) (upFlow, upFeat ml.Tensor) {
	h, w := flow.Dim(2), flow.Dim(3)
	upFlow = flow.Interpolate(ctx, 2*h, 2*w, ml.SamplingModeBilinear).Scale(ctx, 2)
	upFeat = d.UpFeat.Forward(ctx, features)
	return upFlow, upFeat
}
