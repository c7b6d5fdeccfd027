package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/flowvision/flowmotion/ml"
)

func (t *tensor) Mean(ctx ml.Context, dim int) ml.Tensor {
	if dim < 0 || dim >= len(t.shape) {
		panic(fmt.Sprintf("cpu: mean: dimension %d out of range for %v", dim, t.shape))
	}

	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= t.shape[i]
	}
	for i := dim + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}
	n := t.shape[dim]

	shape := make([]int, 0, len(t.shape)-1)
	shape = append(shape, t.shape[:dim]...)
	shape = append(shape, t.shape[dim+1:]...)
	if len(shape) == 0 {
		shape = []int{1}
	}

	out := newTensor(shape)
	inv := 1 / float32(n)
	for o := 0; o < outer; o++ {
		dst := out.data[o*inner:]
		for d := 0; d < n; d++ {
			src := t.data[(o*n+d)*inner:]
			for i := 0; i < inner; i++ {
				dst[i] += src[i]
			}
		}
		for i := 0; i < inner; i++ {
			dst[i] *= inv
		}
	}

	return out
}

func (t *tensor) L2Norm(ctx ml.Context, eps float32) ml.Tensor {
	k := t.shape[len(t.shape)-1]
	rows := len(t.data) / k

	out := newTensor(t.shape)
	for r := 0; r < rows; r++ {
		v := t.data[r*k : (r+1)*k]

		var ss float32
		for _, x := range v {
			ss += x * x
		}

		denom := math32.Sqrt(ss)
		if denom < eps {
			denom = eps
		}

		for i, x := range v {
			out.data[r*k+i] = x / denom
		}
	}

	return out
}
