// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

// Camera reads and controls an MLX90640. This interface can be mocked;
// mlx90640test provides a fake for development without hardware.
type Camera interface {
	Init() error                                                       // Init loads the calibration and configures chess-mode streaming.
	Close() error                                                      // Close releases the device; idempotent, Init recovers it.
	SetRefreshRate(hz float64) error                                   // SetRefreshRate sets the rate in Hz, one of 0.5..64 in powers of two.
	GetRefreshRate() (float64, error)                                  // GetRefreshRate reads the rate back from the device.
	SetResolution(code int) error                                      // SetResolution sets the ADC resolution code 0-3 (16-19 bit).
	GetResolution() (int, error)                                       // GetResolution reads the resolution code back.
	SetEmissivity(e float64) error                                     // SetEmissivity sets the surface emissivity in [0.1, 1.0].
	GetEmissivity() float64                                            // GetEmissivity returns the configured emissivity.
	SetReflectedTemp(tr float64) error                                 // SetReflectedTemp fixes the reflected ambient temperature in °C.
	GetFrame(interpolateOutliers, correctBadPixels bool) (*Frame, error) // GetFrame blocks for one complete two-subpage image.
	GetSubpageNumber() int                                             // GetSubpageNumber is 0, 1 or SubpageUnknown.
	GetSerial() (uint64, error)                                        // GetSerial reads the 48-bit factory serial number.
	Stats() Stats                                                      //
}

var _ Camera = &Dev{}
