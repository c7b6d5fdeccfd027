// Package correlation provides the cost-volume operators the flow decoders
// consume: a plain square-window correlation and an epipolar-constrained
// variant whose search window follows a hypothesized camera motion.
package correlation

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/flowvision/flowmotion/ml"
)

// CostVolume correlates two same-shape feature maps over a square
// displacement window of radius MaxDisplacement. Output channel
// (dy+md)*(2*md+1)+(dx+md) holds the channel-mean dot product of the first
// map at (y, x) with the second at (y+dy, x+dx); taps outside the frame
// contribute zero.
type CostVolume struct {
	MaxDisplacement int
}

func New(maxDisplacement int) *CostVolume {
	return &CostVolume{MaxDisplacement: maxDisplacement}
}

func (c *CostVolume) Channels() int {
	d := 2*c.MaxDisplacement + 1
	return d * d
}

func (c *CostVolume) Forward(ctx ml.Context, f1, f2 ml.Tensor) ml.Tensor {
	checkPair(f1, f2)

	n, ch := f1.Dim(0), f1.Dim(1)
	h, w := f1.Dim(2), f1.Dim(3)
	md := c.MaxDisplacement
	oc := c.Channels()

	a, b := f1.Floats(), f2.Floats()
	out := make([]float32, n*oc*h*w)
	inv := 1 / float32(ch)

	var g errgroup.Group
	for ni := 0; ni < n; ni++ {
		for y := 0; y < h; y++ {
			g.Go(func() error {
				for x := 0; x < w; x++ {
					for dy := -md; dy <= md; dy++ {
						y2 := y + dy
						if y2 < 0 || y2 >= h {
							continue
						}
						for dx := -md; dx <= md; dx++ {
							x2 := x + dx
							if x2 < 0 || x2 >= w {
								continue
							}

							var sum float32
							for ci := 0; ci < ch; ci++ {
								sum += a[((ni*ch+ci)*h+y)*w+x] * b[((ni*ch+ci)*h+y2)*w+x2]
							}

							o := (dy+md)*(2*md+1) + (dx + md)
							out[((ni*oc+o)*h+y)*w+x] = sum * inv
						}
					}
				}
				return nil
			})
		}
	}
	g.Wait()

	return ctx.FromFloats(out, n, oc, h, w)
}

func checkPair(f1, f2 ml.Tensor) {
	if f1.Dim(0) != f2.Dim(0) || f1.Dim(1) != f2.Dim(1) || f1.Dim(2) != f2.Dim(2) || f1.Dim(3) != f2.Dim(3) {
		panic(fmt.Sprintf("correlation: feature shapes %v and %v differ", f1.Shape(), f2.Shape()))
	}
}
