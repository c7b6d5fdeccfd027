package weights

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvision/flowmotion/ml"
	_ "github.com/flowvision/flowmotion/ml/backend"
)

func setup(tb testing.TB) ml.Context {
	tb.Helper()

	b, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: 2})
	require.NoError(tb, err)
	tb.Cleanup(b.Close)

	ctx := b.NewContext()
	tb.Cleanup(ctx.Close)
	return ctx
}

func TestSafetensorsRoundTrip(t *testing.T) {
	ctx := setup(t)
	path := filepath.Join(t.TempDir(), "test.safetensors")

	err := WriteSafetensors(path, map[string]string{"architecture": "flowmotion"}, map[string]Tensor{
		"conv.weight": {Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
		"conv.bias":   {Shape: []int{2}, Data: []float32{-1, 1}},
	})
	require.NoError(t, err)

	ws, err := Open(path)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, []string{"conv.bias", "conv.weight"}, ws.Names())
	assert.Equal(t, "flowmotion", ws.Metadata("architecture"))
	assert.Empty(t, ws.Metadata("layout"))
	assert.True(t, ws.Has("conv.weight"))
	assert.False(t, ws.Has("missing"))

	w, err := ws.Tensor(ctx, "conv.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.Floats())

	_, err = ws.Tensor(ctx, "missing")
	assert.Error(t, err)
}

func TestOpenUnsupportedExtension(t *testing.T) {
	_, err := Open("model.gguf")
	assert.Error(t, err)
}

func TestDecodeHalf(t *testing.T) {
	// 1.0 in IEEE half is 0x3C00; -2.0 is 0xC000.
	f32s, err := decode("F16", []byte{0x00, 0x3C, 0x00, 0xC0})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2}, f32s)

	_, err = decode("I64", []byte{0, 0, 0, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}

func TestTransposeLeading(t *testing.T) {
	data := []float32{
		1, 2, // (0,0)
		3, 4, // (0,1)
		5, 6, // (1,0)
		7, 8, // (1,1)
	}

	out, shape, err := TransposeLeading(data, []int{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, shape)
	assert.Equal(t, []float32{1, 2, 5, 6, 3, 4, 7, 8}, out)

	_, _, err = TransposeLeading(data, []int{8})
	assert.Error(t, err)
	_, _, err = TransposeLeading(data, []int{3, 3})
	assert.Error(t, err)
}

type testModule struct {
	Weight ml.Tensor `weight:"weight"`
	Bias   ml.Tensor `weight:"bias,optional"`

	Stride int
}

func TestLoadModule(t *testing.T) {
	ctx := setup(t)
	path := filepath.Join(t.TempDir(), "mod.safetensors")

	require.NoError(t, WriteSafetensors(path, nil, map[string]Tensor{
		"layer.weight": {Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
	}))

	ws, err := Open(path)
	require.NoError(t, err)
	defer ws.Close()

	var mod testModule
	require.NoError(t, LoadModule(ctx, ws, "layer", &mod))
	assert.Equal(t, []float32{1, 2, 3, 4}, mod.Weight.Floats())
	assert.Nil(t, mod.Bias, "absent optional tensor should stay nil")

	// A required tensor that is missing fails.
	type strict struct {
		Weight ml.Tensor `weight:"weight"`
	}
	var s strict
	assert.Error(t, LoadModule(ctx, ws, "other", &s))

	assert.Error(t, LoadModule(ctx, ws, "layer", testModule{}), "non-pointer should be rejected")
}

func TestModuleTensors(t *testing.T) {
	ctx := setup(t)

	mod := testModule{
		Weight: ctx.FromFloats([]float32{1, 2}, 2),
	}

	ts, err := ModuleTensors(&mod)
	require.NoError(t, err)
	assert.Len(t, ts, 1)
	assert.Equal(t, []float32{1, 2}, ts["weight"].Floats())
}
