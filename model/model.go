// Package model routes checkpoints to network constructors. Architectures
// register themselves by name; New reads a checkpoint's metadata to decide
// which constructor receives it.
package model

import (
	"fmt"

	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/weights"
)

// Model is a constructed network. Concrete types expose their own forward
// methods; callers assert to the architecture they asked for.
type Model any

// Builder constructs a network from an open checkpoint.
type Builder func(ctx ml.Context, ws weights.Source) (Model, error)

var architectures = make(map[string]Builder)

func Register(name string, b Builder) {
	if _, ok := architectures[name]; ok {
		panic("model: architecture " + name + " already registered")
	}
	architectures[name] = b
}

// New opens the checkpoint at path and builds the network it names. The
// architecture comes from checkpoint metadata, defaulting to "flowmotion"
// for checkpoints that carry none.
func New(ctx ml.Context, path string) (Model, error) {
	ws, err := weights.Open(path)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	arch := ws.Metadata("architecture")
	if arch == "" {
		arch = "flowmotion"
	}

	b, ok := architectures[arch]
	if !ok {
		return nil, fmt.Errorf("model: unknown architecture %q", arch)
	}
	return b(ctx, ws)
}
