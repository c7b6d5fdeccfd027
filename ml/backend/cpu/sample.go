package cpu

import (
	"fmt"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"github.com/flowvision/flowmotion/ml"
)

func (t *tensor) Interpolate(ctx ml.Context, h, w int, mode ml.SamplingMode) ml.Tensor {
	if len(t.shape) != 4 {
		panic(fmt.Sprintf("cpu: interpolate: want 4D input, got %v", t.shape))
	}
	if h < 1 || w < 1 {
		panic(fmt.Sprintf("cpu: interpolate: invalid target %dx%d", h, w))
	}

	n, c, ih, iw := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	out := newTensor([]int{n, c, h, w})

	var sy, sx float32
	if h > 1 {
		sy = float32(ih-1) / float32(h-1)
	}
	if w > 1 {
		sx = float32(iw-1) / float32(w-1)
	}

	for p := 0; p < n*c; p++ {
		src := t.data[p*ih*iw:]
		dst := out.data[p*h*w:]
		for oy := 0; oy < h; oy++ {
			for ox := 0; ox < w; ox++ {
				switch mode {
				case ml.SamplingModeNearest:
					iy := oy * ih / h
					ix := ox * iw / w
					dst[oy*w+ox] = src[iy*iw+ix]
				case ml.SamplingModeBilinear:
					dst[oy*w+ox] = bilinear(src, ih, iw, float32(oy)*sy, float32(ox)*sx)
				default:
					panic("cpu: interpolate: unknown sampling mode")
				}
			}
		}
	}

	return out
}

// bilinear samples an in-bounds location of a single plane.
func bilinear(src []float32, h, w int, y, x float32) float32 {
	y0 := int(math32.Floor(y))
	x0 := int(math32.Floor(x))
	y1, x1 := y0+1, x0+1

	fy := y - float32(y0)
	fx := x - float32(x0)

	clampY := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= h {
			return h - 1
		}
		return v
	}
	clampX := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= w {
			return w - 1
		}
		return v
	}

	v00 := src[clampY(y0)*w+clampX(x0)]
	v01 := src[clampY(y0)*w+clampX(x1)]
	v10 := src[clampY(y1)*w+clampX(x0)]
	v11 := src[clampY(y1)*w+clampX(x1)]

	top := v00 + (v01-v00)*fx
	bot := v10 + (v11-v10)*fx
	return top + (bot-top)*fy
}

func (t *tensor) GridSample(ctx ml.Context, grid ml.Tensor) ml.Tensor {
	g := cast(grid, "gridsample")
	if len(t.shape) != 4 || len(g.shape) != 4 {
		panic(fmt.Sprintf("cpu: gridsample: want 4D operands, got %v and %v", t.shape, g.shape))
	}
	if g.shape[0] != t.shape[0] || g.shape[1] != 2 {
		panic(fmt.Sprintf("cpu: gridsample: grid %v does not match input %v", g.shape, t.shape))
	}

	n, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	gh, gw := g.shape[2], g.shape[3]

	out := newTensor([]int{n, c, gh, gw})

	var eg errgroup.Group
	for ni := 0; ni < n; ni++ {
		ni := ni
		eg.Go(func() error {
			gx := g.data[ni*2*gh*gw:]
			gy := g.data[(ni*2+1)*gh*gw:]
			for oy := 0; oy < gh; oy++ {
				for ox := 0; ox < gw; ox++ {
					// Normalized [-1,1] to pixel coordinates, corners aligned.
					x := (gx[oy*gw+ox] + 1) / 2 * float32(w-1)
					y := (gy[oy*gw+ox] + 1) / 2 * float32(h-1)

					x0 := int(math32.Floor(x))
					y0 := int(math32.Floor(y))
					fx := x - float32(x0)
					fy := y - float32(y0)

					for ci := 0; ci < c; ci++ {
						src := t.data[(ni*c+ci)*h*w:]
						var v float32
						for _, tap := range [4]struct {
							dy, dx int
							wt     float32
						}{
							{0, 0, (1 - fy) * (1 - fx)},
							{0, 1, (1 - fy) * fx},
							{1, 0, fy * (1 - fx)},
							{1, 1, fy * fx},
						} {
							iy, ix := y0+tap.dy, x0+tap.dx
							if iy >= 0 && iy < h && ix >= 0 && ix < w {
								v += tap.wt * src[iy*w+ix]
							}
						}
						out.data[((ni*c+ci)*gh+oy)*gw+ox] = v
					}
				}
			}
			return nil
		})
	}
	eg.Wait()

	return out
}
