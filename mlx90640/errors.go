// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"fmt"
	"time"
)

// BusError is a transport failure that persisted through the bounded retry
// loop. Op and Reg identify the transaction so the failure can be diagnosed
// without dumping bus traffic.
type BusError struct {
	Op       string // "read" or "write"
	Reg      uint16
	Attempts int
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("mlx90640: %s reg 0x%04X failed after %d attempts: %s", e.Op, e.Reg, e.Attempts, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// TimeoutError means the sensor did not signal readiness (or the bus did not
// respond) within the deadline. The caller may retry the operation.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mlx90640: %s timed out after %s", e.Op, e.Timeout)
}

// CalibrationError means the EEPROM content failed validation. It is fatal
// for the device instance; Init fails and must not proceed.
type CalibrationError struct {
	Reason string
}

func (e *CalibrationError) Error() string {
	return "mlx90640: calibration: " + e.Reason
}

// ValidationError rejects an out-of-range configuration value. Device and
// driver state are left unchanged.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mlx90640: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// CaptureError wraps a failure during a frame read. The caller may retry on
// the next cycle.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("mlx90640: capture: %s: %s", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// InitError wraps a bus or calibration failure during Init. The device stays
// uninitialized and Init may be retried.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("mlx90640: init: %s", e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
