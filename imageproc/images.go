// Package imageproc prepares image pairs for the flow network: decode,
// resize to the model resolution and pack into channel-first float tensors.
package imageproc

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"golang.org/x/image/draw"
)

const (
	ResizeBilinear = iota
	ResizeNearestNeighbor
	ResizeApproxBilinear
	ResizeCatmullrom
)

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("imageproc: decoding image: %w", err)
	}
	return img, nil
}

// Resize returns an image which has been scaled to a new size.
func Resize(img image.Image, newSize image.Point, method int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newSize.X, newSize.Y))

	kernels := map[int]draw.Interpolator{
		ResizeBilinear:        draw.BiLinear,
		ResizeNearestNeighbor: draw.NearestNeighbor,
		ResizeApproxBilinear:  draw.ApproxBiLinear,
		ResizeCatmullrom:      draw.CatmullRom,
	}

	kernel, ok := kernels[method]
	if !ok {
		panic("no resizing method found")
	}

	kernel.Scale(dst, dst.Rect, img, img.Bounds(), draw.Over, nil)

	return dst
}

// Normalize converts an image to channel-first float32 planes scaled to
// [0, 1].
func Normalize(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	out := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out[0*h*w+y*w+x] = float32(r>>8) / 255
			out[1*h*w+y*w+x] = float32(g>>8) / 255
			out[2*h*w+y*w+x] = float32(b>>8) / 255
		}
	}
	return out
}

// Pair resizes two frames to (width, height) and stacks them into a single
// 6-channel tensor: reference frame first, target frame after.
func Pair(first, second image.Image, height, width int) []float32 {
	size := image.Point{X: width, Y: height}
	a := Normalize(Resize(first, size, ResizeBilinear))
	b := Normalize(Resize(second, size, ResizeBilinear))
	return append(a, b...)
}

// LoadPair reads two image files and packs them for the network.
func LoadPair(firstPath, secondPath string, height, width int) ([]float32, error) {
	first, err := load(firstPath)
	if err != nil {
		return nil, err
	}
	second, err := load(secondPath)
	if err != nil {
		return nil, err
	}
	return Pair(first, second, height, width), nil
}

func load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
