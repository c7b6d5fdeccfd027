package weights

import (
	"fmt"
	"slices"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/flowvision/flowmotion/ml"
)

type torchSource struct {
	tensors map[string]*pytorch.Tensor
}

// OpenTorch reads a pickled torch state dict. The whole file is materialized
// up front; checkpoints for this model are small enough for that.
func OpenTorch(path string) (Source, error) {
	loaded, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("weights: loading torch checkpoint: %w", err)
	}

	s := &torchSource{tensors: make(map[string]*pytorch.Tensor)}
	if err := s.collect(loaded); err != nil {
		return nil, err
	}
	if len(s.tensors) == 0 {
		return nil, fmt.Errorf("weights: no tensors in torch checkpoint %s", path)
	}
	return s, nil
}

func (s *torchSource) collect(v any) error {
	switch d := v.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			name, ok := k.(string)
			if !ok {
				continue
			}
			if err := s.add(name, d.MustGet(k)); err != nil {
				return err
			}
		}
	case *types.OrderedDict:
		for k, entry := range d.Map {
			name, ok := k.(string)
			if !ok {
				continue
			}
			if err := s.add(name, entry.Value); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("weights: unexpected torch checkpoint layout %T", v)
	}
	return nil
}

func (s *torchSource) add(name string, v any) error {
	t, ok := v.(*pytorch.Tensor)
	if !ok {
		// Checkpoints sometimes nest the state dict under a key such as
		// "state_dict"; descend into nested dicts and skip scalars.
		switch v.(type) {
		case *types.Dict, *types.OrderedDict:
			return s.collect(v)
		}
		return nil
	}
	s.tensors[name] = t
	return nil
}

func (s *torchSource) Names() []string {
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *torchSource) Has(name string) bool {
	_, ok := s.tensors[name]
	return ok
}

func (s *torchSource) Metadata(string) string { return "" }

func (s *torchSource) Tensor(ctx ml.Context, name string) (ml.Tensor, error) {
	t, ok := s.tensors[name]
	if !ok {
		return nil, fmt.Errorf("weights: no tensor %q", name)
	}

	f32s, err := storageFloats(t)
	if err != nil {
		return nil, fmt.Errorf("weights: tensor %q: %w", name, err)
	}

	shape := t.Size
	if len(shape) == 0 {
		shape = []int{1}
	}
	return ctx.FromFloats(f32s, shape...), nil
}

func (s *torchSource) Close() error { return nil }

// Raw returns the tensor's values and shape without staging it on a context.
func (s *torchSource) Raw(name string) ([]float32, []int, error) {
	t, ok := s.tensors[name]
	if !ok {
		return nil, nil, fmt.Errorf("weights: no tensor %q", name)
	}
	f32s, err := storageFloats(t)
	if err != nil {
		return nil, nil, fmt.Errorf("weights: tensor %q: %w", name, err)
	}
	return f32s, t.Size, nil
}

func storageFloats(t *pytorch.Tensor) ([]float32, error) {
	n := 1
	for _, d := range t.Size {
		n *= d
	}

	var data []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		data = s.Data
	case *pytorch.HalfStorage:
		data = s.Data
	case *pytorch.BFloat16Storage:
		data = s.Data
	default:
		return nil, fmt.Errorf("unsupported storage type %T", s)
	}

	if t.StorageOffset+n > len(data) {
		return nil, fmt.Errorf("storage has %d values, tensor wants %d at offset %d", len(data), n, t.StorageOffset)
	}
	return data[t.StorageOffset : t.StorageOffset+n], nil
}
