// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import "time"

// Frame is one complete 24×32 thermal image: 768 object temperatures in °C,
// row-major (index = row*32 + col). Rotation and reshaping are caller-side
// concerns.
type Frame struct {
	Pix      [PixelCount]float64
	Metadata Metadata
}

// Metadata describes how a frame was captured.
type Metadata struct {
	CaptureTime time.Time
	// Ta is the sensor's own (ambient) temperature in °C, derived from the
	// PTAT readings of the second subpage.
	Ta float64
	// Vdd is the measured supply voltage in volts.
	Vdd float64
	// Subpages holds the two hardware-reported subpage indices that were
	// merged, in capture order.
	Subpages [2]int
	// Uncorrected lists defective pixels that bad-pixel correction had to
	// leave at their computed value because no valid neighbor existed. A
	// non-empty list is a warning, not an error.
	Uncorrected []int
}

// TempAt returns the temperature at pixel (x, y), x in [0,32), y in [0,24).
func (f *Frame) TempAt(x, y int) float64 {
	return f.Pix[y*Width+x]
}

// Min returns the coldest pixel of the frame.
func (f *Frame) Min() float64 {
	m := f.Pix[0]
	for _, v := range f.Pix[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the hottest pixel of the frame.
func (f *Frame) Max() float64 {
	m := f.Pix[0]
	for _, v := range f.Pix[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Mean returns the average temperature of the frame.
func (f *Frame) Mean() float64 {
	sum := 0.0
	for _, v := range f.Pix {
		sum += v
	}
	return sum / PixelCount
}

// Stats counts notable events over the lifetime of a Dev.
type Stats struct {
	GoodFrames    int // complete two-subpage frames delivered
	GhostedFrames int // repeated subpage index, frame discarded
	Timeouts      int // data-ready deadline expiries
	Uncorrectable int // defective pixels left uncorrected, cumulative
}
