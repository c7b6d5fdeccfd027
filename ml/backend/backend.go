package backend

import (
	_ "github.com/flowvision/flowmotion/ml/backend/cpu"
)
