package flowmotion

import (
	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/ml/nn"
)

// MotionHead regresses a 6-vector camera motion from a level's decoder
// features and flow: the first three components are an axis-angle rotation,
// the last three a unit-norm translation direction. The flow enters only as
// normalized coordinate channels and is treated as a constant.
type MotionHead struct {
	Shrink  *ConvNorm // 1x1 projection to 32 channels, no normalization
	Convs   []*nn.Conv2D
	Linears []*nn.Linear
	Last    *nn.Linear

	grid ml.Tensor // [1, 2, h, w] pixel coordinates, fixed at construction
	norm ml.Tensor // [1, 4, 1, 1] frame half-extents
	h, w int
}

const shrinkWidth = 32

func newMotionHead(ctx ml.Context, rng *rand.Rand, convSizes, linSizes []int, h, w int) *MotionHead {
	m := &MotionHead{
		Shrink: newConvNorm(ctx, rng, convSizes[0], shrinkWidth, 1, 1, 0, false),
		grid:   meshGrid(ctx, 1, h, w),
		norm: ctx.FromFloats([]float32{
			float32(w) / 2, float32(h) / 2, float32(w) / 2, float32(h) / 2,
		}, 1, 4, 1, 1),
		h: h,
		w: w,
	}

	// Each stage is a pair of stride-2 convolutions.
	in := shrinkWidth + 4
	for _, out := range convSizes[1:] {
		m.Convs = append(m.Convs,
			nn.NewConv2D(ctx, rng, in, out, 3, 2, 1, true),
			nn.NewConv2D(ctx, rng, out, out, 3, 2, 1, true))
		in = out
	}

	for i := 0; i < len(linSizes)-1; i++ {
		m.Linears = append(m.Linears, nn.NewLinear(ctx, rng, linSizes[i], linSizes[i+1]))
	}
	m.Last = nn.NewLinear(ctx, rng, linSizes[len(linSizes)-1], 6)

	return m
}

func (m *MotionHead) Forward(ctx ml.Context, x, flow ml.Tensor) ml.Tensor {
	n := x.Dim(0)

	grid := m.grid
	if n > 1 {
		grid = grid.Add(ctx, ctx.Zeros(ml.DTypeF32, n, 2, m.h, m.w))
	}
	moved := grid.Add(ctx, flow)

	info := grid.Concat(ctx, moved, 1)
	info = info.Sub(ctx, m.norm).Div(ctx, m.norm)

	t := m.Shrink.Forward(ctx, x).Concat(ctx, info, 1)
	for _, c := range m.Convs {
		t = c.Forward(ctx, t).LeakyReLU(ctx, negativeSlope)
	}

	// Global average pool to one vector per batch item.
	c := t.Dim(1)
	t = t.Reshape(ctx, n, c, t.Dim(2)*t.Dim(3)).Mean(ctx, 2)

	for _, l := range m.Linears {
		t = l.Forward(ctx, t).LeakyReLU(ctx, negativeSlope)
	}
	v := m.Last.Forward(ctx, t)

	rotation := v.Slice(ctx, 1, 0, 3)
	translation := v.Slice(ctx, 1, 3, 6).L2Norm(ctx, 1e-12)
	return rotation.Concat(ctx, translation, 1)
}
