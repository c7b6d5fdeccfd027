package cpu

import (
	"fmt"

	"github.com/flowvision/flowmotion/ml"
)

func (t *tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(t.data) {
		panic(fmt.Sprintf("cpu: reshape: cannot view %v as %v", t.shape, shape))
	}

	// Tensors are immutable once produced, so the view can share storage.
	return &tensor{
		data:  t.data,
		shape: append([]int(nil), shape...),
	}
}

func (t *tensor) Concat(ctx ml.Context, t2 ml.Tensor, dim int) ml.Tensor {
	u := cast(t2, "concat")
	if len(t.shape) != len(u.shape) || dim < 0 || dim >= len(t.shape) {
		panic(fmt.Sprintf("cpu: concat: incompatible shapes %v and %v on dim %d", t.shape, u.shape, dim))
	}
	for i := range t.shape {
		if i != dim && t.shape[i] != u.shape[i] {
			panic(fmt.Sprintf("cpu: concat: incompatible shapes %v and %v on dim %d", t.shape, u.shape, dim))
		}
	}

	shape := t.Shape()
	shape[dim] += u.shape[dim]

	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= t.shape[i]
	}
	for i := dim + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}

	ta := t.shape[dim] * inner
	tb := u.shape[dim] * inner

	out := newTensor(shape)
	for o := 0; o < outer; o++ {
		copy(out.data[o*(ta+tb):], t.data[o*ta:(o+1)*ta])
		copy(out.data[o*(ta+tb)+ta:], u.data[o*tb:(o+1)*tb])
	}

	return out
}

func (t *tensor) Slice(ctx ml.Context, dim, start, stop int) ml.Tensor {
	if dim < 0 || dim >= len(t.shape) || start < 0 || stop > t.shape[dim] || start >= stop {
		panic(fmt.Sprintf("cpu: slice: range [%d,%d) on dim %d invalid for %v", start, stop, dim, t.shape))
	}

	shape := t.Shape()
	shape[dim] = stop - start

	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= t.shape[i]
	}
	for i := dim + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}
	n := t.shape[dim]

	out := newTensor(shape)
	for o := 0; o < outer; o++ {
		copy(out.data[o*(stop-start)*inner:], t.data[(o*n+start)*inner:(o*n+stop)*inner])
	}

	return out
}
