package ml

import "fmt"

// Backend owns the execution resources for a model. The CPU backend is
// currently the only implementation; it executes tensor operations eagerly.
type Backend interface {
	NewContext() Context
	Close()
}

// BackendParams controls how the backend executes models.
type BackendParams struct {
	// NumThreads sets the number of worker goroutines used by batched
	// operations. Zero means one worker per logical CPU.
	NumThreads int
}

var backends = make(map[string]func(BackendParams) (Backend, error))

// RegisterBackend registers a backend factory function.
func RegisterBackend(name string, f func(BackendParams) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// NewBackend creates a new instance of a registered backend.
func NewBackend(name string, params BackendParams) (Backend, error) {
	if backend, ok := backends[name]; ok {
		return backend(params)
	}

	return nil, fmt.Errorf("unsupported backend %q", name)
}

// Context allocates tensors. Contexts returned by a backend may be used
// concurrently: allocation is independent and operations never mutate their
// inputs.
type Context interface {
	Empty(dtype DType, shape ...int) Tensor
	Zeros(dtype DType, shape ...int) Tensor
	Ones(dtype DType, shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor

	// Arange creates a 1D tensor with values in [start, stop) increased by step.
	Arange(start, stop, step float32, dtype DType) Tensor

	Close()
}

// SamplingMode selects the interpolation kernel for Interpolate.
type SamplingMode int

const (
	SamplingModeNearest SamplingMode = iota
	SamplingModeBilinear
)

// Tensor is a dense n-dimensional array. Shapes are row-major with dimension
// 0 outermost; image tensors are laid out NCHW. Operations execute eagerly,
// return new tensors and never mutate their inputs. Shape mismatches are
// programming errors and panic.
type Tensor interface {
	Dim(n int) int
	Shape() []int
	DType() DType

	// Floats returns the backing values. The slice is owned by the tensor
	// and must not be modified.
	Floats() []float32

	// Binary operations broadcast: dimensions of size 1 in either operand
	// stretch to match the other.
	Add(ctx Context, t2 Tensor) Tensor
	Sub(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Div(ctx Context, t2 Tensor) Tensor

	AddScalar(ctx Context, s float32) Tensor
	Scale(ctx Context, s float64) Tensor
	Sqrt(ctx Context) Tensor

	LeakyReLU(ctx Context, negativeSlope float32) Tensor

	// Step maps values strictly greater than threshold to 1 and everything
	// else to 0.
	Step(ctx Context, threshold float32) Tensor

	// Mulmat treats the receiver as a [rows, cols] weight matrix and t2 as a
	// batch of cols-sized vectors [n, cols], producing [n, rows].
	Mulmat(ctx Context, t2 Tensor) Tensor

	// Conv2D applies the receiver [N,C,H,W] through weight [O,C,kH,kW] with
	// the given strides, zero paddings and dilations.
	Conv2D(ctx Context, weight Tensor, s0, s1, p0, p1, d0, d1 int) Tensor

	// ConvTranspose2D applies the transposed convolution of weight
	// [O,C,kH,kW] where C matches the receiver's channels and O is the
	// output width.
	ConvTranspose2D(ctx Context, weight Tensor, s0, s1, p0, p1 int) Tensor

	// Interpolate resizes the spatial dimensions of an NCHW tensor. Bilinear
	// sampling aligns corner pixels of the input and output grids.
	Interpolate(ctx Context, h, w int, mode SamplingMode) Tensor

	// GridSample samples the receiver [N,C,H,W] at the locations given by
	// grid [N,2,H,W], expressed in normalized [-1,1] coordinates with
	// channel 0 holding x and channel 1 holding y. Sampling is bilinear with
	// corner alignment; taps outside the input contribute zero.
	GridSample(ctx Context, grid Tensor) Tensor

	// Mean reduces dimension dim by averaging, dropping it from the shape.
	Mean(ctx Context, dim int) Tensor

	// L2Norm scales vectors along the last dimension to unit length. Norms
	// below eps are clamped to eps.
	L2Norm(ctx Context, eps float32) Tensor

	Reshape(ctx Context, shape ...int) Tensor
	Concat(ctx Context, t2 Tensor, dim int) Tensor
	Slice(ctx Context, dim, start, stop int) Tensor
}

type DType int

const (
	DTypeF32 DType = iota
	DTypeI32
	DTypeOther
)
