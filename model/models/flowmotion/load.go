package flowmotion

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/weights"
)

// Load builds a model and fills it from a checkpoint. Tensor names follow
// the torch state dict of the reference training code; checkpoints saved in
// the native layout carry a "layout: native" metadata entry and skip the
// transposed-convolution repack.
func Load(ctx ml.Context, ws weights.Source, cfg Config) (*Model, error) {
	m, err := New(ctx, rand.New(rand.NewSource(0)), cfg)
	if err != nil {
		return nil, err
	}

	if err := m.visit(func(prefix string, mod any) error {
		return weights.LoadModule(ctx, ws, prefix, mod)
	}); err != nil {
		return nil, err
	}

	// Torch stores transposed-convolution kernels as [in, out, kH, kW].
	if ws.Metadata("layout") != "native" {
		for _, d := range m.Decoders {
			if d.UpFeat == nil {
				continue
			}
			data, shape, err := weights.TransposeLeading(d.UpFeat.Weight.Floats(), d.UpFeat.Weight.Shape())
			if err != nil {
				return nil, err
			}
			d.UpFeat.Weight = ctx.FromFloats(data, shape...)
		}
	}

	return m, nil
}

// StateDict collects every parameter under its checkpoint name, in the
// native [out, in, kH, kW] layout.
func (m *Model) StateDict() (map[string]weights.Tensor, error) {
	out := make(map[string]weights.Tensor)
	err := m.visit(func(prefix string, mod any) error {
		ts, err := weights.ModuleTensors(mod)
		if err != nil {
			return err
		}
		for name, t := range ts {
			out[prefix+"."+name] = weights.Tensor{Shape: t.Shape(), Data: t.Floats()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save writes the model as a native-layout safetensors checkpoint.
func (m *Model) Save(path string) error {
	sd, err := m.StateDict()
	if err != nil {
		return err
	}
	return weights.WriteSafetensors(path, map[string]string{
		"architecture": "flowmotion",
		"layout":       "native",
	}, sd)
}

// visit walks every parameterized layer under its checkpoint name prefix.
// Sequential containers in the original training code interleave activation
// modules, so towers index their parameters at even positions.
func (m *Model) visit(f func(prefix string, mod any) error) error {
	suffixes := []struct {
		name  string
		block func(*FeatureLevel) *ConvNorm
	}{
		{"a", func(l *FeatureLevel) *ConvNorm { return l.Down }},
		{"aa", func(l *FeatureLevel) *ConvNorm { return l.Refine }},
		{"b", func(l *FeatureLevel) *ConvNorm { return l.Out }},
	}
	for i, lvl := range m.Pyramid.Levels {
		for _, s := range suffixes {
			if err := visitConvNorm(fmt.Sprintf("conv%d%s", i+1, s.name), s.block(lvl), f); err != nil {
				return err
			}
		}
	}

	for i, d := range m.Decoders {
		lvl := i + 1
		for j, c := range d.Convs {
			if err := visitConvNorm(fmt.Sprintf("conv%d_%d", lvl, j), c, f); err != nil {
				return err
			}
		}
		if err := f(fmt.Sprintf("predict_flow%d", lvl), d.PredictFlow); err != nil {
			return err
		}
		if d.UpFeat != nil {
			if err := f(fmt.Sprintf("upfeat%d", lvl), d.UpFeat); err != nil {
				return err
			}
		}
	}

	for i, h := range m.Motions {
		base := fmt.Sprintf("motion_%d", i+1)
		if err := visitConvNorm(base+".shrink", h.Shrink, f); err != nil {
			return err
		}
		for j, c := range h.Convs {
			if err := f(fmt.Sprintf("%s.conv_layers.%d", base, 2*j), c); err != nil {
				return err
			}
		}
		for j, l := range h.Linears {
			if err := f(fmt.Sprintf("%s.dropout_layers.%d", base, 2*j), l); err != nil {
				return err
			}
		}
		if err := f(base+".last_layer", h.Last); err != nil {
			return err
		}
	}

	return nil
}

func visitConvNorm(prefix string, c *ConvNorm, f func(string, any) error) error {
	if err := f(prefix+".0", c.Conv); err != nil {
		return err
	}
	if c.Norm != nil {
		return f(prefix+".1", c.Norm)
	}
	return nil
}
