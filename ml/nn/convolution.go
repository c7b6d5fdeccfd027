package nn

import (
	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/ml"
)

type Conv2D struct {
	Weight ml.Tensor `weight:"weight"`
	Bias   ml.Tensor `weight:"bias,optional"`

	Stride   int
	Padding  int
	Dilation int
}

// NewConv2D builds a square-kernel convolution with Kaiming-initialized
// weights and, if bias is set, a zero-initialized bias.
func NewConv2D(ctx ml.Context, rng *rand.Rand, inChannels, outChannels, kernel, stride, padding int, bias bool) *Conv2D {
	m := &Conv2D{
		Weight:  kaimingNormal(ctx, rng, inChannels*kernel*kernel, outChannels, inChannels, kernel, kernel),
		Stride:  stride,
		Padding: padding,
	}
	if bias {
		m.Bias = ctx.Zeros(ml.DTypeF32, outChannels)
	}

	return m
}

func (m *Conv2D) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	s, d := m.Stride, m.Dilation
	if s == 0 {
		s = 1
	}
	if d == 0 {
		d = 1
	}

	t = t.Conv2D(ctx, m.Weight, s, s, m.Padding, m.Padding, d, d)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias.Reshape(ctx, 1, m.Bias.Dim(0), 1, 1))
	}

	return t
}

type ConvTranspose2D struct {
	Weight ml.Tensor `weight:"weight"`
	Bias   ml.Tensor `weight:"bias,optional"`

	Stride  int
	Padding int
}

// NewConvTranspose2D builds a transposed convolution. The weight layout is
// [out, in, kH, kW]; the fan-in used for initialization follows the reference
// framework's convention for transposed kernels (outChannels * kernel²).
func NewConvTranspose2D(ctx ml.Context, rng *rand.Rand, inChannels, outChannels, kernel, stride, padding int) *ConvTranspose2D {
	return &ConvTranspose2D{
		Weight:  kaimingNormal(ctx, rng, outChannels*kernel*kernel, outChannels, inChannels, kernel, kernel),
		Bias:    ctx.Zeros(ml.DTypeF32, outChannels),
		Stride:  stride,
		Padding: padding,
	}
}

func (m *ConvTranspose2D) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	s := m.Stride
	if s == 0 {
		s = 1
	}

	t = t.ConvTranspose2D(ctx, m.Weight, s, s, m.Padding, m.Padding)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias.Reshape(ctx, 1, m.Bias.Dim(0), 1, 1))
	}

	return t
}
