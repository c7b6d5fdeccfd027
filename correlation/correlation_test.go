package correlation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/flowvision/flowmotion/geometry"
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

func TestChannels(t *testing.T) {
	if got := New(4).Channels(); got != 81 {
		t.Errorf("square window: %d channels, want 81", got)
	}
	if got := NewEpipolar(4, 2, 64, 80).Channels(); got != 49 {
		t.Errorf("9x5 window: %d channels, want 49", got)
	}
	if got := NewEpipolar(3, 1, 128, 160).Channels(); got != 25 {
		t.Errorf("7x3 window: %d channels, want 25", got)
	}
}

func TestCostVolumeSelf(t *testing.T) {
	ctx := setup(t)

	// Two channels, constant planes: self correlation at zero displacement
	// is (1*1 + 2*2)/2 everywhere.
	f := ctx.FromFloats([]float32{
		1, 1, 1, 1,
		2, 2, 2, 2,
	}, 1, 2, 2, 2)

	c := New(1)
	got := c.Forward(ctx, f, f)
	if diff := cmp.Diff([]int{1, 9, 2, 2}, got.Shape()); diff != "" {
		t.Fatal(diff)
	}

	center := got.Slice(ctx, 1, 4, 5)
	if diff := cmp.Diff([]float32{2.5, 2.5, 2.5, 2.5}, center.Floats(), approx()); diff != "" {
		t.Error(diff)
	}
}

func TestCostVolumePeakAtShift(t *testing.T) {
	ctx := setup(t)

	h, w := 4, 4
	a := make([]float32, h*w)
	b := make([]float32, h*w)
	a[1*w+1] = 5
	// b is a shifted one pixel to the right.
	for y := 0; y < h; y++ {
		for x := 1; x < w; x++ {
			b[y*w+x] = a[y*w+x-1]
		}
	}

	c := New(1)
	got := c.Forward(ctx, ctx.FromFloats(a, 1, 1, h, w), ctx.FromFloats(b, 1, 1, h, w))
	v := got.Floats()

	// The impulse only matches its shifted copy, so at the impulse pixel
	// the (dy=0, dx=+1) channel is the only nonzero one.
	y, x := 1, 1
	peak := 0
	best := float32(-1)
	for o := 0; o < 9; o++ {
		if s := v[(o*h+y)*w+x]; s > best {
			best, peak = s, o
		}
	}
	if peak != 5 { // (dy+1)*3 + (dx+1) with dy=0, dx=1
		t.Errorf("peak at channel %d, want 5", peak)
	}
	if want := a[y*w+x] * a[y*w+x]; best != want {
		t.Errorf("peak value %v, want %v", best, want)
	}
}

func TestCostVolumeZeroOutside(t *testing.T) {
	ctx := setup(t)

	f := ctx.Ones(ml.DTypeF32, 1, 1, 2, 2)
	got := New(1).Forward(ctx, f, f).Floats()

	// Channel 0 is (dy=-1, dx=-1): out of bounds at the top-left corner.
	if got[0] != 0 {
		t.Errorf("out-of-window tap = %v, want 0", got[0])
	}
}

func TestEpipolarCenterMatchesPlain(t *testing.T) {
	ctx := setup(t)

	h, w := 4, 4
	vals := make([]float32, 2*h*w)
	for i := range vals {
		vals[i] = float32(i%7) - 3
	}
	f := ctx.FromFloats(vals, 1, 2, h, w)

	op := &Epipolar{Tangent: []int{-1, 0, 1}, Normal: []int{0}, Height: h, Width: w}
	motions := []geometry.Transform{geometry.Decode([]float32{0, 0, 0, 0, 0, 1})}
	flow := ctx.Zeros(ml.DTypeF32, 1, 2, h, w)

	got := op.Forward(ctx, f, f, motions, flow)
	if diff := cmp.Diff([]int{1, 7, h, w}, got.Shape()); diff != "" {
		t.Fatal(diff)
	}

	// The zero-offset tangent channel samples at the pixel itself, so it
	// must equal the plain zero-displacement correlation.
	plain := New(0).Forward(ctx, f, f)
	center := got.Slice(ctx, 1, 1, 2)
	if diff := cmp.Diff(plain.Floats(), center.Floats(), approx()); diff != "" {
		t.Error(diff)
	}
}

func TestEpipolarAuxChannels(t *testing.T) {
	ctx := setup(t)

	h, w := 4, 4
	f := ctx.Ones(ml.DTypeF32, 1, 1, h, w)

	op := &Epipolar{Tangent: []int{0}, Normal: []int{0}, Height: h, Width: w}
	motions := []geometry.Transform{geometry.Decode([]float32{0, 0, 0, 0, 0, 1})}

	fl := make([]float32, 2*h*w)
	for i := 0; i < h*w; i++ {
		fl[i] = 1 // x flow of one pixel everywhere
	}
	got := op.Forward(ctx, f, f, motions, ctx.FromFloats(fl, 1, 2, h, w))

	aux := got.Slice(ctx, 1, 1, 5).Floats()

	// Direction channels are unit length away from the epipole.
	y, x := 0, 0
	dx, dy := aux[(0*h+y)*w+x], aux[(1*h+y)*w+x]
	if n := dx*dx + dy*dy; n < 0.999 || n > 1.001 {
		t.Errorf("direction norm² = %v, want 1", n)
	}

	// Flow channels are the coarse flow over the half-extents.
	if v := aux[(2*h+y)*w+x]; v != 0.5 {
		t.Errorf("normalized x flow = %v, want 0.5", v)
	}
	if v := aux[(3*h+y)*w+x]; v != 0 {
		t.Errorf("normalized y flow = %v, want 0", v)
	}
}
