// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermimage converts thermal frames into standard library images so
// they can be saved as PNG or piped into any image tooling.
package thermimage

import (
	"image"

	"github.com/dude84/go-mlx90640/mlx90640"
)

// Gray16Linear maps a frame onto the full 16-bit grayscale range: the coldest
// pixel becomes black, the hottest white. A flat frame maps to black.
func Gray16Linear(f *mlx90640.Frame) *image.Gray16 {
	dst := image.NewGray16(image.Rect(0, 0, mlx90640.Width, mlx90640.Height))
	min := f.Min()
	delta := f.Max() - min
	for i, v := range f.Pix {
		g := uint16(0)
		if delta > 0 {
			g = uint16((v - min) / delta * 65535)
		}
		dst.Pix[2*i] = uint8(g >> 8)
		dst.Pix[2*i+1] = uint8(g)
	}
	return dst
}

// GrayLinear reduces the dynamic range down to 8 bits very naively without
// gamma.
func GrayLinear(f *mlx90640.Frame) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, mlx90640.Width, mlx90640.Height))
	min := f.Min()
	delta := f.Max() - min
	for i, v := range f.Pix {
		g := uint8(0)
		if delta > 0 {
			g = uint8((v - min) / delta * 255)
		}
		dst.Pix[i] = g
	}
	return dst
}

// Gray16Fixed maps temperatures onto a fixed span in °C, so successive frames
// use a stable scale. Pixels outside the span are clamped.
func Gray16Fixed(f *mlx90640.Frame, min, max float64) *image.Gray16 {
	dst := image.NewGray16(image.Rect(0, 0, mlx90640.Width, mlx90640.Height))
	delta := max - min
	for i, v := range f.Pix {
		g := uint16(0)
		if delta > 0 {
			n := (v - min) / delta
			if n < 0 {
				n = 0
			}
			if n > 1 {
				n = 1
			}
			g = uint16(n * 65535)
		}
		dst.Pix[2*i] = uint8(g >> 8)
		dst.Pix[2*i+1] = uint8(g)
	}
	return dst
}
