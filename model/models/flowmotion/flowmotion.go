// Package flowmotion implements a coarse-to-fine optical flow and ego-motion
// network. Five pyramid levels refine a dense flow field through cost-volume
// correlation, warping and dense decoding; levels 3, 2 and 1 additionally
// regress the relative camera motion, and the motion estimated at one level
// steers an epipolar-constrained correlation at the next finer level.
package flowmotion

import (
	"fmt"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/flowvision/flowmotion/correlation"
	"github.com/flowvision/flowmotion/geometry"
	"github.com/flowvision/flowmotion/ml"
)

type Config struct {
	// Height and Width are the network input resolution. Both must be
	// multiples of 64 so every pyramid level and motion tower divides
	// evenly.
	Height int
	Width  int

	// MaxDisplacement is the square correlation window radius used at the
	// three coarsest levels.
	MaxDisplacement int
}

func DefaultConfig() Config {
	return Config{Height: 256, Width: 320, MaxDisplacement: 4}
}

func (c Config) validate() error {
	if c.Height%64 != 0 || c.Width%64 != 0 {
		return fmt.Errorf("flowmotion: input resolution %dx%d is not a multiple of 64", c.Height, c.Width)
	}
	if c.MaxDisplacement <= 0 {
		return fmt.Errorf("flowmotion: max displacement %d must be positive", c.MaxDisplacement)
	}
	return nil
}

// Correlator scores two same-shape feature maps over a fixed search window,
// producing Channels() output channels.
type Correlator interface {
	Channels() int
	Forward(ctx ml.Context, f1, f2 ml.Tensor) ml.Tensor
}

// ConstrainedCorrelator scores feature maps along a search window steered by
// a hypothesized camera motion and a coarse flow estimate.
type ConstrainedCorrelator interface {
	Channels() int
	Forward(ctx ml.Context, f1, f2 ml.Tensor, motions []geometry.Transform, flow ml.Tensor) ml.Tensor
}

// decoderWidths are the dense decoder stage widths per level, finest first.
var decoderWidths = [5][5]int{
	{64, 64, 64, 32, 32},
	{96, 64, 64, 32, 32},
	{128, 96, 64, 32, 32},
	{128, 96, 64, 32, 32},
	{128, 96, 64, 32, 32},
}

// Model is the full network. Levels run strictly coarse to fine; the two
// input images only share work above the feature pyramids.
type Model struct {
	Config Config

	Pyramid  *FeaturePyramid
	Decoders [5]*FlowDecoder // finest first
	Motions  [3]*MotionHead  // finest first, levels 1..3

	corr     Correlator
	epiCorr2 ConstrainedCorrelator
	epiCorr1 ConstrainedCorrelator
}

// Output collects one forward pass. Flows and Motions are ordered finest
// first; flow level k has resolution (H, W) / 2^k.
type Output struct {
	Flows   [5]ml.Tensor
	Motions [3]ml.Tensor

	// Features is the finest level's accumulated decoder tensor. It is
	// exposed for inspection only; nothing downstream consumes it.
	Features ml.Tensor
}

func New(ctx ml.Context, rng *rand.Rand, cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Model{
		Config:   cfg,
		Pyramid:  newFeaturePyramid(ctx, rng),
		corr:     correlation.New(cfg.MaxDisplacement),
		epiCorr2: correlation.NewEpipolar(4, 2, cfg.Height/4, cfg.Width/4),
		epiCorr1: correlation.NewEpipolar(3, 1, cfg.Height/2, cfg.Width/2),
	}

	nd := m.corr.Channels()
	inputs := [5]int{
		m.epiCorr1.Channels() + featureWidths[0] + 4,
		m.epiCorr2.Channels() + featureWidths[1] + 4,
		nd + featureWidths[2] + 4,
		nd + featureWidths[3] + 4,
		nd + featureWidths[4],
	}

	for lvl := 4; lvl >= 0; lvl-- {
		m.Decoders[lvl] = newFlowDecoder(ctx, rng, inputs[lvl], decoderWidths[lvl], lvl != 0)
	}

	motionConvs := [3][]int{
		{featureWidth(inputs[0], decoderWidths[0]), 64, 128, 256, 512, 512},
		{featureWidth(inputs[1], decoderWidths[1]), 64, 128, 256, 512},
		{featureWidth(inputs[2], decoderWidths[2]), 64, 128, 256},
	}
	motionLins := [3][]int{
		{512, 256, 256},
		{512, 256, 256},
		{256, 256, 256},
	}
	for i := range m.Motions {
		scale := 1 << (i + 1)
		m.Motions[i] = newMotionHead(ctx, rng, motionConvs[i], motionLins[i], cfg.Height/scale, cfg.Width/scale)
	}

	return m, nil
}

// Forward runs the pyramid on a stacked image pair [N, 6, H, W]: the first
// three channels are the reference frame, the last three the target.
func (m *Model) Forward(ctx ml.Context, pair ml.Tensor) Output {
	n := pair.Dim(0)
	if pair.Dim(1) != 6 || pair.Dim(2) != m.Config.Height || pair.Dim(3) != m.Config.Width {
		panic(fmt.Sprintf("flowmotion: input shape %v, want [n 6 %d %d]", pair.Shape(), m.Config.Height, m.Config.Width))
	}

	im1 := pair.Slice(ctx, 1, 0, 3)
	im2 := pair.Slice(ctx, 1, 3, 6)

	// The two pyramids have no data dependency on each other.
	var f1, f2 [5]ml.Tensor
	var g errgroup.Group
	g.Go(func() error { f1 = m.Pyramid.Forward(ctx, im1); return nil })
	g.Go(func() error { f2 = m.Pyramid.Forward(ctx, im2); return nil })
	g.Wait()

	var out Output

	// Level 5: correlate the raw features, no warp yet.
	x := m.corr.Forward(ctx, f1[4], f2[4]).LeakyReLU(ctx, negativeSlope)
	x = x.Concat(ctx, f1[4], 1)
	feat, flow := m.Decoders[4].Forward(ctx, x)
	out.Flows[4] = flow
	upFlow, upFeat := m.Decoders[4].Upsample(ctx, feat, flow)

	// Levels 4 and 3: warp the target features along the coarser flow
	// before correlating.
	for lvl := 3; lvl >= 2; lvl-- {
		warped := warp(ctx, f2[lvl], upFlow)
		x = m.corr.Forward(ctx, f1[lvl], warped).LeakyReLU(ctx, negativeSlope)
		x = x.Concat(ctx, f1[lvl], 1).Concat(ctx, upFlow, 1).Concat(ctx, upFeat, 1)
		feat, flow = m.Decoders[lvl].Forward(ctx, x)
		out.Flows[lvl] = flow
		upFlow, upFeat = m.Decoders[lvl].Upsample(ctx, feat, flow)
	}

	// Level 3 ends with a motion estimate that constrains level 2's search.
	out.Motions[2] = m.Motions[2].Forward(ctx, feat, out.Flows[2])
	transforms := geometry.DecodeBatch(out.Motions[2].Floats(), n)

	// Level 2: epipolar correlation parameterized by the level-3 motion.
	x = m.epiCorr2.Forward(ctx, f1[1], f2[1], transforms, upFlow).LeakyReLU(ctx, negativeSlope)
	x = x.Concat(ctx, f1[1], 1).Concat(ctx, upFlow, 1).Concat(ctx, upFeat, 1)
	feat, flow = m.Decoders[1].Forward(ctx, x)
	out.Flows[1] = flow
	upFlow, upFeat = m.Decoders[1].Upsample(ctx, feat, flow)

	out.Motions[1] = m.Motions[1].Forward(ctx, feat, flow)
	transforms = geometry.DecodeBatch(out.Motions[1].Floats(), n)

	// Level 1: finest refinement, no further upsampling.
	x = m.epiCorr1.Forward(ctx, f1[0], f2[0], transforms, upFlow).LeakyReLU(ctx, negativeSlope)
	x = x.Concat(ctx, f1[0], 1).Concat(ctx, upFlow, 1).Concat(ctx, upFeat, 1)
	feat, flow = m.Decoders[0].Forward(ctx, x)
	out.Flows[0] = flow
	out.Motions[0] = m.Motions[0].Forward(ctx, feat, flow)
	out.Features = feat

	return out
}
