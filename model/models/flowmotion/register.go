package flowmotion

import (
	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/model"
	"github.com/flowvision/flowmotion/weights"
)

func init() {
	model.Register("flowmotion", func(ctx ml.Context, ws weights.Source) (model.Model, error) {
		return Load(ctx, ws, DefaultConfig())
	})
}
