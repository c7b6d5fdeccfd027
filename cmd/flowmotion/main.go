package main

import (
	"os"

	"github.com/flowvision/flowmotion/cmd"
	_ "github.com/flowvision/flowmotion/ml/backend"
	_ "github.com/flowvision/flowmotion/model/models"
)

func main() {
	if err := cmd.NewCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
