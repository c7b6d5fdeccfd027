package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/flowvision/flowmotion/ml"
)

type tensor struct {
	data  []float32
	shape []int
}

func newTensor(shape []int) *tensor {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("cpu: invalid dimension %d in shape %v", d, shape))
		}
		n *= d
	}

	return &tensor{
		data:  make([]float32, n),
		shape: append([]int(nil), shape...),
	}
}

func (t *tensor) Dim(n int) int {
	return t.shape[n]
}

func (t *tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *tensor) DType() ml.DType {
	return ml.DTypeF32
}

func (t *tensor) Floats() []float32 {
	return t.data
}

// strides returns element strides for the tensor's shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}

	return s
}

func cast(t2 ml.Tensor, op string) *tensor {
	u, ok := t2.(*tensor)
	if !ok {
		panic(fmt.Sprintf("cpu: %s: operand from a different backend", op))
	}

	return u
}

func broadcastShape(a, b []int, op string) []int {
	if len(a) != len(b) {
		panic(fmt.Sprintf("cpu: %s: rank mismatch %v vs %v", op, a, b))
	}

	out := make([]int, len(a))
	for i := range a {
		switch {
		case a[i] == b[i]:
			out[i] = a[i]
		case a[i] == 1:
			out[i] = b[i]
		case b[i] == 1:
			out[i] = a[i]
		default:
			panic(fmt.Sprintf("cpu: %s: shape mismatch %v vs %v", op, a, b))
		}
	}

	return out
}

func (t *tensor) binary(t2 ml.Tensor, op string, f func(x, y float32) float32) *tensor {
	u := cast(t2, op)

	// Fast path for identical shapes.
	if shapeEqual(t.shape, u.shape) {
		out := newTensor(t.shape)
		for i := range out.data {
			out.data[i] = f(t.data[i], u.data[i])
		}
		return out
	}

	shape := broadcastShape(t.shape, u.shape, op)
	out := newTensor(shape)

	ts := strides(t.shape)
	us := strides(u.shape)
	for i := range ts {
		if t.shape[i] == 1 {
			ts[i] = 0
		}
		if u.shape[i] == 1 {
			us[i] = 0
		}
	}

	idx := make([]int, len(shape))
	for i := range out.data {
		var ti, ui int
		for d := range idx {
			ti += idx[d] * ts[d]
			ui += idx[d] * us[d]
		}
		out.data[i] = f(t.data[ti], u.data[ui])

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}

	return out
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func (t *tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, "add", func(x, y float32) float32 { return x + y })
}

func (t *tensor) Sub(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, "sub", func(x, y float32) float32 { return x - y })
}

func (t *tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, "mul", func(x, y float32) float32 { return x * y })
}

func (t *tensor) Div(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, "div", func(x, y float32) float32 { return x / y })
}

func (t *tensor) unary(f func(x float32) float32) *tensor {
	out := newTensor(t.shape)
	for i, v := range t.data {
		out.data[i] = f(v)
	}

	return out
}

func (t *tensor) AddScalar(ctx ml.Context, s float32) ml.Tensor {
	return t.unary(func(x float32) float32 { return x + s })
}

func (t *tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	f := float32(s)
	return t.unary(func(x float32) float32 { return x * f })
}

func (t *tensor) Sqrt(ctx ml.Context) ml.Tensor {
	return t.unary(math32.Sqrt)
}

func (t *tensor) LeakyReLU(ctx ml.Context, negativeSlope float32) ml.Tensor {
	return t.unary(func(x float32) float32 {
		if x < 0 {
			return x * negativeSlope
		}
		return x
	})
}

func (t *tensor) Step(ctx ml.Context, threshold float32) ml.Tensor {
	return t.unary(func(x float32) float32 {
		if x > threshold {
			return 1
		}
		return 0
	})
}
