// Package weights reads model checkpoints. Safetensors is the native format;
// torch pickle checkpoints are supported read-only so originals can be loaded
// or converted without leaving Go.
package weights

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/flowvision/flowmotion/ml"
)

// Source provides named tensors from a checkpoint.
type Source interface {
	// Names lists the available tensors in sorted order.
	Names() []string
	Has(name string) bool

	// Tensor materializes a tensor as float32 on the given context.
	Tensor(ctx ml.Context, name string) (ml.Tensor, error)

	// Metadata returns a header metadata value, or "" when absent.
	Metadata(key string) string

	Close() error
}

// RawSource is implemented by sources that can hand out tensor values
// without staging them on a context. The converter uses it to rewrite
// checkpoints wholesale.
type RawSource interface {
	Raw(name string) ([]float32, []int, error)
}

// Open picks a reader by file extension.
func Open(path string) (Source, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".safetensors":
		return OpenSafetensors(path)
	case ".pt", ".pth":
		return OpenTorch(path)
	default:
		return nil, fmt.Errorf("weights: unsupported checkpoint format %q", ext)
	}
}

// TransposeLeading swaps the two leading dimensions of a row-major tensor.
// Torch stores transposed-convolution kernels as [in, out, kH, kW]; the
// runtime wants [out, in, kH, kW].
func TransposeLeading(data []float32, shape []int) ([]float32, []int, error) {
	if len(shape) < 2 {
		return nil, nil, fmt.Errorf("weights: cannot transpose shape %v", shape)
	}

	d0, d1 := shape[0], shape[1]
	inner := 1
	for _, d := range shape[2:] {
		inner *= d
	}
	if len(data) != d0*d1*inner {
		return nil, nil, fmt.Errorf("weights: %d values do not fill shape %v", len(data), shape)
	}

	out := make([]float32, len(data))
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			copy(out[(j*d0+i)*inner:(j*d0+i+1)*inner], data[(i*d1+j)*inner:(i*d1+j+1)*inner])
		}
	}

	swapped := append([]int{d1, d0}, shape[2:]...)
	return out, swapped, nil
}
