package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/flowvision/flowmotion/ml"
)

type tensorInfo struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

type safetensorsSource struct {
	file    *os.File
	base    int64 // start of the data section
	tensors map[string]tensorInfo
	meta    map[string]string
}

func OpenSafetensors(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("weights: reading safetensors header size: %w", err)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("weights: reading safetensors header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		f.Close()
		return nil, fmt.Errorf("weights: parsing safetensors header: %w", err)
	}

	s := &safetensorsSource{
		file:    f,
		base:    int64(8 + headerSize),
		tensors: make(map[string]tensorInfo),
		meta:    make(map[string]string),
	}
	for name, msg := range raw {
		if name == "__metadata__" {
			if err := json.Unmarshal(msg, &s.meta); err != nil {
				f.Close()
				return nil, fmt.Errorf("weights: parsing safetensors metadata: %w", err)
			}
			continue
		}

		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			f.Close()
			return nil, fmt.Errorf("weights: parsing tensor %q: %w", name, err)
		}
		s.tensors[name] = info
	}

	return s, nil
}

func (s *safetensorsSource) Names() []string {
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *safetensorsSource) Has(name string) bool {
	_, ok := s.tensors[name]
	return ok
}

func (s *safetensorsSource) Metadata(key string) string {
	return s.meta[key]
}

func (s *safetensorsSource) Tensor(ctx ml.Context, name string) (ml.Tensor, error) {
	info, ok := s.tensors[name]
	if !ok {
		return nil, fmt.Errorf("weights: no tensor %q", name)
	}

	buf := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := s.file.ReadAt(buf, s.base+int64(info.DataOffsets[0])); err != nil {
		return nil, fmt.Errorf("weights: reading tensor %q: %w", name, err)
	}

	f32s, err := decode(info.Dtype, buf)
	if err != nil {
		return nil, fmt.Errorf("weights: tensor %q: %w", name, err)
	}

	shape := info.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	return ctx.FromFloats(f32s, shape...), nil
}

func (s *safetensorsSource) Close() error {
	return s.file.Close()
}

func decode(dtype string, buf []byte) ([]float32, error) {
	switch strings.ToUpper(dtype) {
	case "F32", "FLOAT32":
		f32s := make([]float32, len(buf)/4)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return f32s, nil
	case "F16", "FLOAT16":
		f32s := make([]float32, len(buf)/2)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		}
		return f32s, nil
	case "BF16", "BFLOAT16":
		return bfloat16.DecodeFloat32(buf), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// Tensor is an in-memory tensor staged for writing.
type Tensor struct {
	Shape []int
	Data  []float32
}

// WriteSafetensors writes a single-file float32 checkpoint.
func WriteSafetensors(path string, meta map[string]string, tensors map[string]Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(tensors)+1)
	if len(meta) > 0 {
		header["__metadata__"] = meta
	}

	offset := 0
	for _, name := range names {
		t := tensors[name]
		size := 4 * len(t.Data)
		header[name] = tensorInfo{
			Dtype:       "F32",
			Shape:       t.Shape,
			DataOffsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := binary.Write(f, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(headerBytes); err != nil {
		f.Close()
		return err
	}
	for _, name := range names {
		if err := binary.Write(f, binary.LittleEndian, tensors[name].Data); err != nil {
			f.Close()
			return err
		}
	}

	return f.Close()
}
