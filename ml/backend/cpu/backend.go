// Package cpu is a pure-Go float32 backend. Tensors are dense row-major
// NCHW buffers; operations execute eagerly and parallelize across batch
// items or output bands with errgroup.
package cpu

import (
	"runtime"

	"github.com/flowvision/flowmotion/ml"
)

func init() {
	ml.RegisterBackend("cpu", New)
}

func New(params ml.BackendParams) (ml.Backend, error) {
	threads := params.NumThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	return &Backend{threads: threads}, nil
}

type Backend struct {
	threads int
}

func (b *Backend) NewContext() ml.Context {
	return &context{threads: b.threads}
}

func (b *Backend) Close() {}

type context struct {
	threads int
}

func (c *context) Empty(dtype ml.DType, shape ...int) ml.Tensor {
	if dtype != ml.DTypeF32 {
		panic("cpu: only float32 tensors are supported")
	}

	return newTensor(shape)
}

func (c *context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	return c.Empty(dtype, shape...)
}

func (c *context) Ones(dtype ml.DType, shape ...int) ml.Tensor {
	t := c.Empty(dtype, shape...).(*tensor)
	for i := range t.data {
		t.data[i] = 1
	}

	return t
}

func (c *context) FromFloats(s []float32, shape ...int) ml.Tensor {
	t := newTensor(shape)
	if len(s) != len(t.data) {
		panic("cpu: data length does not match shape")
	}

	copy(t.data, s)
	return t
}

func (c *context) Arange(start, stop, step float32, dtype ml.DType) ml.Tensor {
	if step <= 0 {
		panic("cpu: arange step must be positive")
	}

	var s []float32
	for v := start; v < stop; v += step {
		s = append(s, v)
	}

	return c.FromFloats(s, len(s))
}

func (c *context) Close() {}

// threadsOf extracts the worker count from a context, defaulting to one.
func threadsOf(ctx ml.Context) int {
	if c, ok := ctx.(*context); ok && c.threads > 0 {
		return c.threads
	}

	return 1
}
