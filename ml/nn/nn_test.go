package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/ml"
	_ "github.com/flowvision/flowmotion/ml/backend"
)

func setup(tb testing.TB) ml.Context {
	tb.Helper()

	b, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: 2})
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(b.Close)

	ctx := b.NewContext()
	tb.Cleanup(ctx.Close)
	return ctx
}

func approx() cmp.Option {
	return cmpopts.EquateApprox(0, 1e-5)
}

func TestConv2DForward(t *testing.T) {
	ctx := setup(t)

	m := &Conv2D{
		Weight: ctx.Ones(ml.DTypeF32, 1, 1, 2, 2),
		Bias:   ctx.FromFloats([]float32{100}, 1),
		Stride: 1,
	}

	x := ctx.FromFloats([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	got := m.Forward(ctx, x)

	want := []float32{112, 116, 124, 128}
	if diff := cmp.Diff(want, got.Floats(), approx()); diff != "" {
		t.Error(diff)
	}
}

func TestConvTranspose2DForward(t *testing.T) {
	ctx := setup(t)

	m := &ConvTranspose2D{
		Weight: ctx.Ones(ml.DTypeF32, 1, 1, 2, 2),
		Bias:   ctx.FromFloats([]float32{1}, 1),
		Stride: 2,
	}

	x := ctx.FromFloats([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	got := m.Forward(ctx, x)

	if diff := cmp.Diff([]int{1, 1, 4, 4}, got.Shape()); diff != "" {
		t.Fatal(diff)
	}
	want := []float32{
		2, 2, 3, 3,
		2, 2, 3, 3,
		4, 4, 5, 5,
		4, 4, 5, 5,
	}
	if diff := cmp.Diff(want, got.Floats(), approx()); diff != "" {
		t.Error(diff)
	}
}

func TestLinearForward(t *testing.T) {
	ctx := setup(t)

	m := &Linear{
		Weight: ctx.FromFloats([]float32{1, 2, 3, 4, 5, 6}, 3, 2),
		Bias:   ctx.FromFloats([]float32{1, 1, 1}, 3),
	}

	x := ctx.FromFloats([]float32{1, 1}, 1, 2)
	got := m.Forward(ctx, x)

	if diff := cmp.Diff([]float32{4, 8, 12}, got.Floats(), approx()); diff != "" {
		t.Error(diff)
	}
}

func TestBatchNorm2DForward(t *testing.T) {
	ctx := setup(t)

	m := &BatchNorm2D{
		Weight:      ctx.FromFloats([]float32{2, 1}, 2),
		Bias:        ctx.FromFloats([]float32{0, 10}, 2),
		RunningMean: ctx.FromFloats([]float32{1, 0}, 2),
		RunningVar:  ctx.FromFloats([]float32{4, 1}, 2),
		Eps:         0,
	}

	x := ctx.FromFloats([]float32{1, 3, 5, 7, 0, 1, 2, 3}, 1, 2, 2, 2)
	got := m.Forward(ctx, x)

	// channel 0: (x-1)/2*2, channel 1: x+10
	want := []float32{0, 2, 4, 6, 10, 11, 12, 13}
	if diff := cmp.Diff(want, got.Floats(), approx()); diff != "" {
		t.Error(diff)
	}
}

func TestBatchNorm2DIdentityAtInit(t *testing.T) {
	ctx := setup(t)

	m := NewBatchNorm2D(ctx, 3)
	m.Eps = 0

	x := ctx.FromFloats([]float32{-1, 0, 1, 2, 3, 4}, 1, 3, 1, 2)
	got := m.Forward(ctx, x)

	if diff := cmp.Diff(x.Floats(), got.Floats(), approx()); diff != "" {
		t.Error(diff)
	}
}

func TestKaimingInit(t *testing.T) {
	ctx := setup(t)

	rng := rand.New(rand.NewSource(1))
	m := NewConv2D(ctx, rng, 8, 16, 3, 1, 1, true)

	if diff := cmp.Diff([]int{16, 8, 3, 3}, m.Weight.Shape()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(make([]float32, 16), m.Bias.Floats()); diff != "" {
		t.Error("bias not zero:", diff)
	}

	// Same seed reproduces the same draw.
	rng2 := rand.New(rand.NewSource(1))
	m2 := NewConv2D(ctx, rng2, 8, 16, 3, 1, 1, true)
	if diff := cmp.Diff(m.Weight.Floats(), m2.Weight.Floats()); diff != "" {
		t.Error(diff)
	}

	// Sample variance should be in the neighborhood of 2/fanIn.
	s := m.Weight.Floats()
	var sum, sq float64
	for _, v := range s {
		sum += float64(v)
	}
	mean := sum / float64(len(s))
	for _, v := range s {
		d := float64(v) - mean
		sq += d * d
	}
	variance := sq / float64(len(s))

	want := 2.0 / (8 * 3 * 3)
	if variance < want/2 || variance > want*2 {
		t.Errorf("variance %v too far from %v", variance, want)
	}
}
