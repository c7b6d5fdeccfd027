// Package geometry converts predicted motion vectors into rigid transforms
// and derives the epipolar quantities the constrained correlation needs.
// Everything here runs on the host, per batch item, outside the tensor graph.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid camera motion: rotation followed by translation.
type Transform struct {
	R *mat.Dense // 3x3 rotation matrix
	T r3.Vec     // translation direction, unit norm for predicted motions
}

// Decode splits a 6-element motion vector into a Transform. The first three
// components are an axis-angle rotation (direction = axis, magnitude = angle
// in radians); the last three are the translation direction.
func Decode(v []float32) Transform {
	if len(v) != 6 {
		panic(fmt.Sprintf("geometry: motion vector has %d components, want 6", len(v)))
	}

	return Transform{
		R: AxisAngleMatrix(v[0], v[1], v[2]),
		T: r3.Vec{X: float64(v[3]), Y: float64(v[4]), Z: float64(v[5])},
	}
}

// DecodeBatch decodes n motion vectors laid out contiguously in flat.
func DecodeBatch(flat []float32, n int) []Transform {
	if len(flat) != 6*n {
		panic(fmt.Sprintf("geometry: batch of %d motion vectors needs %d values, have %d", n, 6*n, len(flat)))
	}

	out := make([]Transform, n)
	for i := range out {
		out[i] = Decode(flat[6*i : 6*i+6])
	}
	return out
}

// AxisAngleMatrix returns the rotation matrix for the axis-angle vector
// (x, y, z). A zero vector maps to the identity.
func AxisAngleMatrix(x, y, z float32) *mat.Dense {
	axis := r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}
	angle := r3.Norm(axis)

	m := mat.NewDense(3, 3, nil)
	if angle < 1e-12 {
		m.Set(0, 0, 1)
		m.Set(1, 1, 1)
		m.Set(2, 2, 1)
		return m
	}

	rot := r3.NewRotation(angle, axis)
	for j, e := range []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}} {
		c := rot.Rotate(e)
		m.Set(0, j, c.X)
		m.Set(1, j, c.Y)
		m.Set(2, j, c.Z)
	}
	return m
}

// Essential returns the essential matrix E = [t]x R for the transform.
func (t Transform) Essential() *mat.Dense {
	skew := mat.NewDense(3, 3, []float64{
		0, -t.T.Z, t.T.Y,
		t.T.Z, 0, -t.T.X,
		-t.T.Y, t.T.X, 0,
	})

	e := mat.NewDense(3, 3, nil)
	e.Mul(skew, t.R)
	return e
}

// EpipolarDirection returns the unit direction of the epipolar line through
// the normalized image point (x, y) under essential matrix e. The direction
// is perpendicular to the line normal (a, b) of a*x + b*y + c = 0. At the
// epipole the line degenerates; the direction collapses to zero there.
func EpipolarDirection(e *mat.Dense, x, y float64) (dx, dy float64) {
	a := e.At(0, 0)*x + e.At(0, 1)*y + e.At(0, 2)
	b := e.At(1, 0)*x + e.At(1, 1)*y + e.At(1, 2)

	n := math.Hypot(a, b)
	if n < 1e-12 {
		return 0, 0
	}
	return b / n, -a / n
}
