package cpu

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/flowvision/flowmotion/ml"
)

func (t *tensor) Mulmat(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	w, x := t, cast(t2, "mulmat")
	if len(w.shape) != 2 || len(x.shape) != 2 {
		panic(fmt.Sprintf("cpu: mulmat: want 2D operands, got %v and %v", w.shape, x.shape))
	}
	if w.shape[1] != x.shape[1] {
		panic(fmt.Sprintf("cpu: mulmat: inner dimensions %v vs %v", w.shape, x.shape))
	}

	out := newTensor([]int{x.shape[0], w.shape[0]})
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: x.shape[0], Cols: x.shape[1], Stride: x.shape[1], Data: x.data},
		blas32.General{Rows: w.shape[0], Cols: w.shape[1], Stride: w.shape[1], Data: w.data},
		0,
		blas32.General{Rows: x.shape[0], Cols: w.shape[0], Stride: w.shape[0], Data: out.data})

	return out
}

func (t *tensor) Conv2D(ctx ml.Context, weight ml.Tensor, s0, s1, p0, p1, d0, d1 int) ml.Tensor {
	w := cast(weight, "conv2d")
	if len(t.shape) != 4 || len(w.shape) != 4 {
		panic(fmt.Sprintf("cpu: conv2d: want 4D operands, got %v and %v", t.shape, w.shape))
	}

	n, c, h, width := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	oc, wc, kh, kw := w.shape[0], w.shape[1], w.shape[2], w.shape[3]
	if c != wc {
		panic(fmt.Sprintf("cpu: conv2d: input has %d channels, weight expects %d", c, wc))
	}

	outH := (h+2*p0-d0*(kh-1)-1)/s0 + 1
	outW := (width+2*p1-d1*(kw-1)-1)/s1 + 1
	if outH < 1 || outW < 1 {
		panic(fmt.Sprintf("cpu: conv2d: empty output for input %v kernel %v", t.shape, w.shape))
	}

	out := newTensor([]int{n, oc, outH, outW})
	k := c * kh * kw

	bands := bandSplit(outH, threadsOf(ctx))

	var g errgroup.Group
	for ni := 0; ni < n; ni++ {
		for _, band := range bands {
			ni, band := ni, band
			g.Go(func() error {
				bh := band[1] - band[0]
				cols := make([]float32, k*bh*outW)

				// im2col for this band of output rows.
				for ci := 0; ci < c; ci++ {
					src := t.data[(ni*c+ci)*h*width:]
					for i := 0; i < kh; i++ {
						for j := 0; j < kw; j++ {
							row := cols[((ci*kh+i)*kw+j)*bh*outW:]
							for oy := band[0]; oy < band[1]; oy++ {
								iy := oy*s0 - p0 + i*d0
								for ox := 0; ox < outW; ox++ {
									ix := ox*s1 - p1 + j*d1
									var v float32
									if iy >= 0 && iy < h && ix >= 0 && ix < width {
										v = src[iy*width+ix]
									}
									row[(oy-band[0])*outW+ox] = v
								}
							}
						}
					}
				}

				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
					blas32.General{Rows: oc, Cols: k, Stride: k, Data: w.data},
					blas32.General{Rows: k, Cols: bh * outW, Stride: bh * outW, Data: cols},
					0,
					blas32.General{Rows: oc, Cols: bh * outW, Stride: outH * outW, Data: out.data[ni*oc*outH*outW+band[0]*outW:]})
				return nil
			})
		}
	}
	g.Wait()

	return out
}

func (t *tensor) ConvTranspose2D(ctx ml.Context, weight ml.Tensor, s0, s1, p0, p1 int) ml.Tensor {
	w := cast(weight, "convtranspose2d")
	if len(t.shape) != 4 || len(w.shape) != 4 {
		panic(fmt.Sprintf("cpu: convtranspose2d: want 4D operands, got %v and %v", t.shape, w.shape))
	}

	n, c, h, width := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	oc, wc, kh, kw := w.shape[0], w.shape[1], w.shape[2], w.shape[3]
	if c != wc {
		panic(fmt.Sprintf("cpu: convtranspose2d: input has %d channels, weight expects %d", c, wc))
	}

	outH := (h-1)*s0 - 2*p0 + kh
	outW := (width-1)*s1 - 2*p1 + kw
	if outH < 1 || outW < 1 {
		panic(fmt.Sprintf("cpu: convtranspose2d: empty output for input %v kernel %v", t.shape, w.shape))
	}

	out := newTensor([]int{n, oc, outH, outW})

	var g errgroup.Group
	for ni := 0; ni < n; ni++ {
		for co := 0; co < oc; co++ {
			ni, co := ni, co
			g.Go(func() error {
				dst := out.data[(ni*oc+co)*outH*outW:]
				for ci := 0; ci < c; ci++ {
					src := t.data[(ni*c+ci)*h*width:]
					kern := w.data[(co*c+ci)*kh*kw:]
					for y := 0; y < h; y++ {
						for x := 0; x < width; x++ {
							v := src[y*width+x]
							if v == 0 {
								continue
							}
							for i := 0; i < kh; i++ {
								oy := y*s0 + i - p0
								if oy < 0 || oy >= outH {
									continue
								}
								for j := 0; j < kw; j++ {
									ox := x*s1 + j - p1
									if ox < 0 || ox >= outW {
										continue
									}
									dst[oy*outW+ox] += v * kern[i*kw+j]
								}
							}
						}
					}
				}
				return nil
			})
		}
	}
	g.Wait()

	return out
}

// bandSplit divides [0, n) into at most parts contiguous bands.
func bandSplit(n, parts int) [][2]int {
	if parts > n {
		parts = n
	}
	if parts < 1 {
		parts = 1
	}

	bands := make([][2]int, 0, parts)
	for i := 0; i < parts; i++ {
		lo := i * n / parts
		hi := (i + 1) * n / parts
		if lo < hi {
			bands = append(bands, [2]int{lo, hi})
		}
	}

	return bands
}
