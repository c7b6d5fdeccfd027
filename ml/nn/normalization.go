package nn

import "github.com/flowvision/flowmotion/ml"

// BatchNorm2D normalizes per channel with running statistics (inference mode).
type BatchNorm2D struct {
	Weight      ml.Tensor `weight:"weight"`
	Bias        ml.Tensor `weight:"bias"`
	RunningMean ml.Tensor `weight:"running_mean"`
	RunningVar  ml.Tensor `weight:"running_var"`

	Eps float32
}

func NewBatchNorm2D(ctx ml.Context, channels int) *BatchNorm2D {
	return &BatchNorm2D{
		Weight:      ctx.Ones(ml.DTypeF32, channels),
		Bias:        ctx.Zeros(ml.DTypeF32, channels),
		RunningMean: ctx.Zeros(ml.DTypeF32, channels),
		RunningVar:  ctx.Ones(ml.DTypeF32, channels),
		Eps:         1e-5,
	}
}

func (m *BatchNorm2D) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	c := m.RunningMean.Dim(0)

	mean := m.RunningMean.Reshape(ctx, 1, c, 1, 1)
	variance := m.RunningVar.Reshape(ctx, 1, c, 1, 1)

	t = t.Sub(ctx, mean).Div(ctx, variance.AddScalar(ctx, m.Eps).Sqrt(ctx))

	if m.Weight != nil {
		t = t.Mul(ctx, m.Weight.Reshape(ctx, 1, c, 1, 1))
	}
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias.Reshape(ctx, 1, c, 1, 1))
	}

	return t
}
