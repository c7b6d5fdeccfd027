package correlation

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/flowvision/flowmotion/geometry"
	"github.com/flowvision/flowmotion/ml"
)

// Epipolar correlates along a window aligned with the epipolar geometry of a
// hypothesized camera motion. For each pixel the search set is the coarse
// flow target displaced by Tangent steps along the epipolar direction and
// Normal steps perpendicular to it, sampled bilinearly from the second map.
// Four auxiliary channels follow the correlation channels: the unit epipolar
// direction and the coarse flow scaled by the frame half-extents.
type Epipolar struct {
	Tangent []int
	Normal  []int

	Height, Width int
}

// NewEpipolar builds an operator with tangent offsets -maxd..maxd and normal
// offsets -mind..mind at the given level resolution.
func NewEpipolar(maxd, mind, height, width int) *Epipolar {
	e := &Epipolar{Height: height, Width: width}
	for d := -maxd; d <= maxd; d++ {
		e.Tangent = append(e.Tangent, d)
	}
	for d := -mind; d <= mind; d++ {
		e.Normal = append(e.Normal, d)
	}
	return e
}

func (e *Epipolar) Channels() int {
	return len(e.Tangent)*len(e.Normal) + 4
}

// Forward expects one transform per batch item and a coarse flow of shape
// [N, 2, H, W] at the operator's resolution.
func (e *Epipolar) Forward(ctx ml.Context, f1, f2 ml.Tensor, motions []geometry.Transform, flow ml.Tensor) ml.Tensor {
	checkPair(f1, f2)

	n, ch := f1.Dim(0), f1.Dim(1)
	h, w := f1.Dim(2), f1.Dim(3)
	if h != e.Height || w != e.Width {
		panic(fmt.Sprintf("correlation: features are %dx%d, operator built for %dx%d", h, w, e.Height, e.Width))
	}
	if len(motions) != n {
		panic(fmt.Sprintf("correlation: %d transforms for batch of %d", len(motions), n))
	}
	if flow.Dim(0) != n || flow.Dim(1) != 2 || flow.Dim(2) != h || flow.Dim(3) != w {
		panic(fmt.Sprintf("correlation: flow shape %v, want [%d 2 %d %d]", flow.Shape(), n, h, w))
	}

	a, b := f1.Floats(), f2.Floats()
	fl := flow.Floats()
	oc := e.Channels()
	nc := oc - 4
	out := make([]float32, n*oc*h*w)
	inv := 1 / float32(ch)
	halfW, halfH := float32(w)/2, float32(h)/2

	var g errgroup.Group
	for ni := 0; ni < n; ni++ {
		ess := motions[ni].Essential()
		for y := 0; y < h; y++ {
			g.Go(func() error {
				for x := 0; x < w; x++ {
					fx := fl[((ni*2+0)*h+y)*w+x]
					fy := fl[((ni*2+1)*h+y)*w+x]

					xn := (float32(x) - halfW) / halfW
					yn := (float32(y) - halfH) / halfH
					dx, dy := geometry.EpipolarDirection(ess, float64(xn), float64(yn))
					tx, ty := float32(dx), float32(dy)

					cx := float32(x) + fx
					cy := float32(y) + fy

					o := 0
					for _, t := range e.Tangent {
						for _, m := range e.Normal {
							sx := cx + float32(t)*tx - float32(m)*ty
							sy := cy + float32(t)*ty + float32(m)*tx

							var sum float32
							for ci := 0; ci < ch; ci++ {
								v := sampleBilinear(b, ni, ci, ch, h, w, sx, sy)
								sum += a[((ni*ch+ci)*h+y)*w+x] * v
							}
							out[((ni*oc+o)*h+y)*w+x] = sum * inv
							o++
						}
					}

					out[((ni*oc+nc+0)*h+y)*w+x] = tx
					out[((ni*oc+nc+1)*h+y)*w+x] = ty
					out[((ni*oc+nc+2)*h+y)*w+x] = fx / halfW
					out[((ni*oc+nc+3)*h+y)*w+x] = fy / halfH
				}
				return nil
			})
		}
	}
	g.Wait()

	return ctx.FromFloats(out, n, oc, h, w)
}

// sampleBilinear reads plane (ni, ci) of src at the fractional position
// (x, y). Taps outside the frame contribute zero.
func sampleBilinear(src []float32, ni, ci, ch, h, w int, x, y float32) float32 {
	x0, y0 := floor(x), floor(y)
	wx, wy := x-float32(x0), y-float32(y0)

	var v float32
	for _, tap := range [4]struct {
		dx, dy int
		wt     float32
	}{
		{0, 0, (1 - wx) * (1 - wy)},
		{1, 0, wx * (1 - wy)},
		{0, 1, (1 - wx) * wy},
		{1, 1, wx * wy},
	} {
		xi, yi := x0+tap.dx, y0+tap.dy
		if xi < 0 || xi >= w || yi < 0 || yi >= h || tap.wt == 0 {
			continue
		}
		v += tap.wt * src[((ni*ch+ci)*h+yi)*w+xi]
	}
	return v
}

func floor(v float32) int {
	i := int(v)
	if float32(i) > v {
		i--
	}
	return i
}
