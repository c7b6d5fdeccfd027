// Package models registers every supported architecture.
package models

import (
	_ "github.com/flowvision/flowmotion/model/models/flowmotion"
)
