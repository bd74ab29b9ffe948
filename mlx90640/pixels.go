// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import "math"

// correctBadPixels replaces each listed defective pixel with the mean of its
// valid 4-connected neighbors. Neighbors that are themselves defective are
// skipped. A pixel with no valid neighbor is left at its computed value and
// returned so the caller can signal the warning; correction never fails the
// frame.
func correctBadPixels(pix *[PixelCount]float64, bad []int) (uncorrected []int) {
	defective := make(map[int]bool, len(bad))
	for _, p := range bad {
		defective[p] = true
	}
	for _, p := range bad {
		sum := 0.0
		n := 0
		x, y := p%Width, p/Width
		for _, q := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
			if q[0] < 0 || q[0] >= Width || q[1] < 0 || q[1] >= Height {
				continue
			}
			idx := q[1]*Width + q[0]
			if defective[idx] {
				continue
			}
			sum += pix[idx]
			n++
		}
		if n == 0 {
			uncorrected = append(uncorrected, p)
			continue
		}
		pix[p] = sum / float64(n)
	}
	return uncorrected
}

// interpolateOutliers replaces pixels that deviate from their 3×3
// neighborhood mean by more than sigma local standard deviations with that
// mean. Detection runs against a snapshot so one replacement cannot cascade
// into its neighbors.
func interpolateOutliers(pix *[PixelCount]float64, sigma float64) {
	snapshot := *pix
	for p := 0; p < PixelCount; p++ {
		x, y := p%Width, p/Width
		sum, sumSq := 0.0, 0.0
		n := 0
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				nx, ny := x+dx, y+dy
				if nx < 0 || nx >= Width || ny < 0 || ny >= Height {
					continue
				}
				v := snapshot[ny*Width+nx]
				sum += v
				sumSq += v * v
				n++
			}
		}
		mean := sum / float64(n)
		variance := sumSq/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		stddev := math.Sqrt(variance)
		if math.Abs(snapshot[p]-mean) > sigma*stddev {
			pix[p] = mean
		}
	}
}
