// Package cmd implements the flowmotion command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/convert"
	"github.com/flowvision/flowmotion/envconfig"
	"github.com/flowvision/flowmotion/flo"
	"github.com/flowvision/flowmotion/imageproc"
	"github.com/flowvision/flowmotion/logutil"
	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/model"
	"github.com/flowvision/flowmotion/model/models/flowmotion"
	"github.com/flowvision/flowmotion/server"
	"github.com/flowvision/flowmotion/version"
)

func NewCLI() *cobra.Command {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))

	rootCmd := &cobra.Command{
		Use:           "flowmotion",
		Short:         "Optical flow and ego-motion estimation",
		SilenceUsage:  true,
		Version:       version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	estimateCmd := &cobra.Command{
		Use:   "estimate FIRST SECOND",
		Short: "Estimate flow and camera motion between two frames",
		Args:  cobra.ExactArgs(2),
		RunE:  EstimateHandler,
	}
	estimateCmd.Flags().String("weights", envconfig.Weights, "Checkpoint path (.safetensors, .pt)")
	estimateCmd.Flags().String("flo", "", "Write the finest flow field to a Middlebury .flo file")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the estimation server",
		Args:    cobra.NoArgs,
		RunE:    ServeHandler,
	}
	serveCmd.Flags().String("weights", envconfig.Weights, "Checkpoint path (.safetensors, .pt)")

	convertCmd := &cobra.Command{
		Use:   "convert SOURCE DEST",
		Short: "Convert a torch checkpoint to native safetensors",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return convert.Convert(args[0], args[1])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}

	rootCmd.AddCommand(estimateCmd, serveCmd, convertCmd, versionCmd)
	return rootCmd
}

func newContext() (ml.Context, func(), error) {
	b, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: envconfig.Threads})
	if err != nil {
		return nil, nil, err
	}
	ctx := b.NewContext()
	return ctx, func() { ctx.Close(); b.Close() }, nil
}

// loadModel builds the network from a checkpoint, or with fresh random
// weights when no checkpoint is given.
func loadModel(ctx ml.Context, path string) (*flowmotion.Model, error) {
	if path == "" {
		slog.Warn("no checkpoint given, using randomly initialized weights")
		rng := rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
		return flowmotion.New(ctx, rng, flowmotion.DefaultConfig())
	}

	mdl, err := model.New(ctx, path)
	if err != nil {
		return nil, err
	}
	m, ok := mdl.(*flowmotion.Model)
	if !ok {
		return nil, fmt.Errorf("checkpoint %s holds a %T, not a flow model", path, mdl)
	}
	slog.Info("loaded checkpoint", "path", path)
	return m, nil
}

func EstimateHandler(cmd *cobra.Command, args []string) error {
	ctx, cleanup, err := newContext()
	if err != nil {
		return err
	}
	defer cleanup()

	weightsPath, _ := cmd.Flags().GetString("weights")
	m, err := loadModel(ctx, weightsPath)
	if err != nil {
		return err
	}

	cfg := m.Config
	pair, err := imageproc.LoadPair(args[0], args[1], cfg.Height, cfg.Width)
	if err != nil {
		return err
	}

	start := time.Now()
	out := m.Forward(ctx, ctx.FromFloats(pair, 1, 6, cfg.Height, cfg.Width))
	slog.Debug("forward pass complete", "duration", time.Since(start))
	if envconfig.Debug {
		slog.Debug("finest flow field", "values", ml.Dump(out.Flows[0], ml.DumpOptions{Items: 2, Precision: 3}))
	}

	for i, motion := range out.Motions {
		v := motion.Floats()
		fmt.Fprintf(cmd.OutOrStdout(), "level %d: rotation [%.5f %.5f %.5f] translation [%.5f %.5f %.5f]\n",
			i+1, v[0], v[1], v[2], v[3], v[4], v[5])
	}

	if path, _ := cmd.Flags().GetString("flo"); path != "" {
		finest := out.Flows[0]
		h, w := finest.Dim(2), finest.Dim(3)
		v := finest.Floats()
		if err := flo.WriteFile(path, w, h, v[:h*w], v[h*w:2*h*w]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %dx%d flow to %s\n", w, h, path)
	}

	return nil
}

func ServeHandler(cmd *cobra.Command, args []string) error {
	ctx, cleanup, err := newContext()
	if err != nil {
		return err
	}
	defer cleanup()

	weightsPath, _ := cmd.Flags().GetString("weights")
	m, err := loadModel(ctx, weightsPath)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", envconfig.Host)
	if err != nil {
		return err
	}
	return server.Serve(ln, ctx, m)
}
