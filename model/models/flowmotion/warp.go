package flowmotion

import "github.com/flowvision/flowmotion/ml"

// warp samples the second image's features back to the first image's frame
// along the flow. Positions that fall outside the source are masked to zero:
// a ones tensor run through the same sampler marks partially-covered pixels,
// and anything below full coverage is cut.
func warp(ctx ml.Context, x, flow ml.Tensor) ml.Tensor {
	n, c := x.Dim(0), x.Dim(1)
	h, w := x.Dim(2), x.Dim(3)

	grid := meshGrid(ctx, n, h, w).Add(ctx, flow)

	// Scale pixel positions to [-1, 1] with corner alignment.
	half := ctx.FromFloats([]float32{float32(w-1) / 2, float32(h-1) / 2}, 1, 2, 1, 1)
	grid = grid.Div(ctx, half).AddScalar(ctx, -1)

	out := x.GridSample(ctx, grid)

	mask := ctx.Ones(ml.DTypeF32, n, c, h, w).GridSample(ctx, grid).Step(ctx, 0.9999)
	return out.Mul(ctx, mask)
}

// meshGrid returns a [n, 2, h, w] tensor of pixel coordinates, channel 0
// holding x and channel 1 holding y.
func meshGrid(ctx ml.Context, n, h, w int) ml.Tensor {
	xs := ctx.Arange(0, float32(w), 1, ml.DTypeF32).Reshape(ctx, 1, 1, 1, w)
	ys := ctx.Arange(0, float32(h), 1, ml.DTypeF32).Reshape(ctx, 1, 1, h, 1)

	zero := ctx.Zeros(ml.DTypeF32, n, 1, h, w)
	return xs.Add(ctx, zero).Concat(ctx, ys.Add(ctx, zero), 1)
}
