// Package convert rewrites torch training checkpoints as native safetensors
// files the runtime can load directly.
package convert

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"

	"github.com/flowvision/flowmotion/weights"
)

// Convert reads a torch checkpoint and writes a float32 safetensors file.
// Transposed-convolution kernels are repacked from torch's [in, out, kH, kW]
// to the native [out, in, kH, kW] layout so loading needs no further work.
func Convert(src, dst string) error {
	ws, err := weights.OpenTorch(src)
	if err != nil {
		return err
	}
	defer ws.Close()

	raw, ok := ws.(weights.RawSource)
	if !ok {
		return fmt.Errorf("convert: source %T cannot provide raw tensors", ws)
	}

	out := make(map[string]weights.Tensor)
	for _, name := range ws.Names() {
		data, shape, err := raw.Raw(name)
		if err != nil {
			return err
		}

		if isDeconvWeight(name) {
			data, shape, err = repack(data, shape)
			if err != nil {
				return fmt.Errorf("convert: repacking %s: %w", name, err)
			}
			slog.Debug("repacked transposed kernel", "tensor", name, "shape", shape)
		}

		out[name] = weights.Tensor{Shape: shape, Data: data}
	}

	slog.Info("writing checkpoint", "tensors", len(out), "path", dst)
	return weights.WriteSafetensors(dst, map[string]string{
		"architecture": "flowmotion",
		"layout":       "native",
	}, out)
}

// isDeconvWeight reports whether a state dict entry is a transposed
// convolution kernel. Only the feature upsamplers use them.
func isDeconvWeight(name string) bool {
	return strings.HasPrefix(name, "upfeat") && strings.HasSuffix(name, ".weight")
}

func repack(data []float32, dims []int) ([]float32, []int, error) {
	if len(dims) != 4 {
		return nil, nil, fmt.Errorf("kernel has %d dimensions, want 4", len(dims))
	}

	n := tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data))
	if err := n.T(1, 0, 2, 3); err != nil {
		return nil, nil, err
	}
	if err := n.Transpose(); err != nil {
		return nil, nil, err
	}

	ts, err := native.SelectF32(n, 1)
	if err != nil {
		return nil, nil, err
	}

	var f32s []float32
	for _, t := range ts {
		f32s = append(f32s, t...)
	}

	return f32s, []int{dims[1], dims[0], dims[2], dims[3]}, nil
}
