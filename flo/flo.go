// Package flo reads and writes optical flow fields in the Middlebury .flo
// format: a float32 magic tag, int32 width and height, then interleaved
// (u, v) pairs in row-major order, all little endian.
package flo

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const magic float32 = 202021.25

// Write encodes a flow field. dx and dy are row-major planes of width*height
// values.
func Write(w io.Writer, width, height int, dx, dy []float32) error {
	if len(dx) != width*height || len(dy) != width*height {
		return fmt.Errorf("flo: plane sizes %d, %d do not match %dx%d", len(dx), len(dy), width, height)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, [2]int32{int32(width), int32(height)}); err != nil {
		return err
	}

	pairs := make([]float32, 0, 2*width*height)
	for i := range dx {
		pairs = append(pairs, dx[i], dy[i])
	}
	if err := binary.Write(bw, binary.LittleEndian, pairs); err != nil {
		return err
	}

	return bw.Flush()
}

// WriteFile writes a flow field to path.
func WriteFile(path string, width, height int, dx, dy []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, width, height, dx, dy); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes a flow field, returning the two planes.
func Read(r io.Reader) (width, height int, dx, dy []float32, err error) {
	var tag float32
	if err = binary.Read(r, binary.LittleEndian, &tag); err != nil {
		return 0, 0, nil, nil, err
	}
	if tag != magic {
		return 0, 0, nil, nil, fmt.Errorf("flo: bad magic %v", tag)
	}

	var dims [2]int32
	if err = binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return 0, 0, nil, nil, err
	}
	width, height = int(dims[0]), int(dims[1])
	if width <= 0 || height <= 0 {
		return 0, 0, nil, nil, fmt.Errorf("flo: bad dimensions %dx%d", width, height)
	}

	pairs := make([]float32, 2*width*height)
	if err = binary.Read(r, binary.LittleEndian, pairs); err != nil {
		return 0, 0, nil, nil, err
	}

	dx = make([]float32, width*height)
	dy = make([]float32, width*height)
	for i := range dx {
		dx[i] = pairs[2*i]
		dy[i] = pairs[2*i+1]
	}
	return width, height, dx, dy, nil
}
