package geometry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAxisAngleZero(t *testing.T) {
	m := AxisAngleMatrix(0, 0, 0)

	want := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if !mat.EqualApprox(m, want, 1e-12) {
		t.Errorf("zero vector should decode to identity, got:\n%v", mat.Formatted(m))
	}
}

func TestAxisAngleTrace(t *testing.T) {
	for _, angle := range []float64{0.1, 0.5, 1.0, math.Pi / 2, 2.5} {
		m := AxisAngleMatrix(0, float32(angle), 0)

		got := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
		want := 1 + 2*math.Cos(angle)
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("angle %v: trace = %v, want %v", angle, got, want)
		}
	}
}

func TestAxisAngleQuarterTurn(t *testing.T) {
	// 90 degrees about z maps x onto y.
	m := AxisAngleMatrix(0, 0, float32(math.Pi/2))

	var got mat.VecDense
	got.MulVec(m, mat.NewVecDense(3, []float64{1, 0, 0}))

	want := []float64{0, 1, 0}
	for i, w := range want {
		if math.Abs(got.AtVec(i)-w) > 1e-6 {
			t.Errorf("component %d = %v, want %v", i, got.AtVec(i), w)
		}
	}
}

func TestDecodeBatch(t *testing.T) {
	flat := []float32{
		0, 0, 0, 1, 0, 0,
		0, 0, float32(math.Pi), 0, 0, 1,
	}

	ts := DecodeBatch(flat, 2)
	if len(ts) != 2 {
		t.Fatalf("got %d transforms", len(ts))
	}
	if ts[0].T.X != 1 || ts[1].T.Z != 1 {
		t.Errorf("translations not carried through: %+v, %+v", ts[0].T, ts[1].T)
	}

	// Half turn about z negates the x axis.
	if math.Abs(ts[1].R.At(0, 0)+1) > 1e-6 {
		t.Errorf("R[0,0] = %v, want -1", ts[1].R.At(0, 0))
	}
}

func TestEssentialPureTranslation(t *testing.T) {
	tr := Decode([]float32{0, 0, 0, 1, 0, 0})
	e := tr.Essential()

	want := mat.NewDense(3, 3, []float64{
		0, 0, 0,
		0, 0, -1,
		0, 1, 0,
	})
	if !mat.EqualApprox(e, want, 1e-12) {
		t.Errorf("E:\n%v", mat.Formatted(e))
	}
}

func TestEpipolarConstraint(t *testing.T) {
	// For any point pair related by the rigid motion, p2' E p1 = 0.
	tr := Decode([]float32{0.1, -0.2, 0.3, 0.5, 0.5, 0.70710678})
	e := tr.Essential()

	p1 := mat.NewVecDense(3, []float64{0.2, -0.1, 1})

	// Project a 3D point on the ray of p1 into the second camera.
	depth := 2.0
	var p3d mat.VecDense
	p3d.ScaleVec(depth, p1)

	var rotated mat.VecDense
	rotated.MulVec(tr.R, &p3d)
	p2 := mat.NewVecDense(3, []float64{
		rotated.AtVec(0) + tr.T.X,
		rotated.AtVec(1) + tr.T.Y,
		rotated.AtVec(2) + tr.T.Z,
	})

	var ep1 mat.VecDense
	ep1.MulVec(e, p1)
	got := mat.Dot(p2, &ep1)
	if math.Abs(got) > 1e-9 {
		t.Errorf("p2' E p1 = %v, want 0", got)
	}
}

func TestEpipolarDirectionUnit(t *testing.T) {
	tr := Decode([]float32{0, 0.05, 0, 0, 0, 1})
	e := tr.Essential()

	dx, dy := EpipolarDirection(e, 0.3, -0.4)
	if n := math.Hypot(dx, dy); math.Abs(n-1) > 1e-9 {
		t.Errorf("direction norm = %v, want 1", n)
	}

	// Forward translation puts the epipole at the image center.
	dx, dy = EpipolarDirection(mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 0,
	}), 0, 0)
	if dx != 0 || dy != 0 {
		t.Errorf("epipole direction = (%v, %v), want (0, 0)", dx, dy)
	}
}
