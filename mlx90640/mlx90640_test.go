// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"errors"
	"math"
	"testing"
	"time"
)

func simDev(t *testing.T) (*Dev, *simTransport) {
	t.Helper()
	s := newSimTransport()
	o := DefaultOpts
	d, err := newDev(s, &o)
	if err != nil {
		t.Fatal(err)
	}
	return d, s
}

func TestNewDevValidation(t *testing.T) {
	var valErr *ValidationError
	o := DefaultOpts
	o.Emissivity = 0.05
	if _, err := newDev(newSimTransport(), &o); !errors.As(err, &valErr) {
		t.Fatalf("emissivity 0.05: got %v, want ValidationError", err)
	}
	o = DefaultOpts
	o.RefreshRate = RefreshRate(9)
	if _, err := newDev(newSimTransport(), &o); !errors.As(err, &valErr) {
		t.Fatalf("refresh code 9: got %v, want ValidationError", err)
	}
}

func TestUninitialized(t *testing.T) {
	d, _ := simDev(t)
	if _, err := d.GetFrame(false, false); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetFrame: got %v, want ErrNotInitialized", err)
	}
	if err := d.SetRefreshRate(8); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("SetRefreshRate: got %v, want ErrNotInitialized", err)
	}
	if _, err := d.GetResolution(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetResolution: got %v, want ErrNotInitialized", err)
	}
	if got := d.GetSubpageNumber(); got != SubpageUnknown {
		t.Fatalf("GetSubpageNumber = %d, want %d", got, SubpageUnknown)
	}
}

func TestInit(t *testing.T) {
	d, s := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if s.control&ctrlSubpageMode == 0 {
		t.Fatal("continuous subpage mode not enabled")
	}
	if s.control&ctrlDataHold != 0 {
		t.Fatal("data hold left enabled")
	}
	if s.control&ctrlSubpageRepeat != 0 {
		t.Fatal("subpage repeat left enabled")
	}
	if s.control&ctrlChessMode == 0 {
		t.Fatal("chess mode not enabled")
	}
	hz, err := d.GetRefreshRate()
	if err != nil {
		t.Fatal(err)
	}
	if hz != 16 {
		t.Fatalf("refresh rate = %gHz, want 16Hz", hz)
	}
	res, err := d.GetResolution()
	if err != nil {
		t.Fatal(err)
	}
	if res != Resolution18Bit {
		t.Fatalf("resolution = %d, want %d", res, Resolution18Bit)
	}
}

// A failed Init must leave the device recoverable: still uninitialized, a
// second attempt succeeds.
func TestInitRetry(t *testing.T) {
	d, s := simDev(t)
	s.failReads = 1
	var initErr *InitError
	if err := d.Init(); !errors.As(err, &initErr) {
		t.Fatalf("got %v, want InitError", err)
	}
	if _, err := d.GetFrame(false, false); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("after failed Init: got %v, want ErrNotInitialized", err)
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
}

func TestGetSerial(t *testing.T) {
	d, _ := simDev(t)
	serial, err := d.GetSerial()
	if err != nil {
		t.Fatal(err)
	}
	if serial != 0x123456789ABC {
		t.Fatalf("serial = %#012x, want 0x123456789abc", serial)
	}
}

func TestSetRefreshRate(t *testing.T) {
	d, _ := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	for _, hz := range []float64{0.5, 1, 2, 4, 8, 16, 32, 64} {
		if err := d.SetRefreshRate(hz); err != nil {
			t.Fatalf("SetRefreshRate(%g): %v", hz, err)
		}
		got, err := d.GetRefreshRate()
		if err != nil {
			t.Fatal(err)
		}
		if got != hz {
			t.Fatalf("read back %gHz, want %gHz", got, hz)
		}
	}
	var valErr *ValidationError
	for _, hz := range []float64{0, 3, 5, 128, -1} {
		if err := d.SetRefreshRate(hz); !errors.As(err, &valErr) {
			t.Fatalf("SetRefreshRate(%g): got %v, want ValidationError", hz, err)
		}
	}
	// Rejected input must not have touched the device.
	if got, _ := d.GetRefreshRate(); got != 64 {
		t.Fatalf("refresh rate moved to %gHz after rejected updates", got)
	}
}

func TestSetResolution(t *testing.T) {
	d, _ := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	for code := Resolution16Bit; code <= Resolution19Bit; code++ {
		if err := d.SetResolution(code); err != nil {
			t.Fatalf("SetResolution(%d): %v", code, err)
		}
		got, err := d.GetResolution()
		if err != nil {
			t.Fatal(err)
		}
		if got != code {
			t.Fatalf("read back %d, want %d", got, code)
		}
	}
	var valErr *ValidationError
	for _, code := range []int{-1, 4, 19} {
		if err := d.SetResolution(code); !errors.As(err, &valErr) {
			t.Fatalf("SetResolution(%d): got %v, want ValidationError", code, err)
		}
	}
}

func TestSetEmissivity(t *testing.T) {
	d, _ := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.SetEmissivity(0.95); err != nil {
		t.Fatal(err)
	}
	if got := d.GetEmissivity(); got != 0.95 {
		t.Fatalf("emissivity = %g, want 0.95", got)
	}
	var valErr *ValidationError
	for _, e := range []float64{0.05, 0, 1.5, -1} {
		if err := d.SetEmissivity(e); !errors.As(err, &valErr) {
			t.Fatalf("SetEmissivity(%g): got %v, want ValidationError", e, err)
		}
	}
	if got := d.GetEmissivity(); got != 0.95 {
		t.Fatalf("emissivity moved to %g after rejected updates", got)
	}
}

func TestSetReflectedTemp(t *testing.T) {
	d, _ := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.SetReflectedTemp(23); err != nil {
		t.Fatal(err)
	}
	var valErr *ValidationError
	if err := d.SetReflectedTemp(-300); !errors.As(err, &valErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestGetFrame(t *testing.T) {
	d, _ := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	f, err := d.GetFrame(false, false)
	if err != nil {
		t.Fatal(err)
	}
	if f.Metadata.Subpages[0] == f.Metadata.Subpages[1] {
		t.Fatalf("merged the same subpage twice: %v", f.Metadata.Subpages)
	}
	if math.Abs(f.Metadata.Ta-25) > 1e-9 {
		t.Fatalf("Ta = %g°C, want 25°C", f.Metadata.Ta)
	}
	if math.Abs(f.Metadata.Vdd-3.3) > 1e-9 {
		t.Fatalf("Vdd = %gV, want 3.3V", f.Metadata.Vdd)
	}
	if f.Metadata.CaptureTime.IsZero() {
		t.Fatal("capture time not set")
	}
	if f.Min() < 30 || f.Max() > 42 {
		t.Fatalf("frame range [%g, %g] out of expected band", f.Min(), f.Max())
	}
	if f.Max()-f.Min() > 1e-6 {
		t.Fatalf("uniform scene produced spread of %g", f.Max()-f.Min())
	}
	if got := d.GetSubpageNumber(); got != f.Metadata.Subpages[1] {
		t.Fatalf("GetSubpageNumber = %d, want %d", got, f.Metadata.Subpages[1])
	}
	if st := d.Stats(); st.GoodFrames != 1 {
		t.Fatalf("Stats = %+v, want one good frame", st)
	}

	// The next frame keeps alternating.
	f2, err := d.GetFrame(true, true)
	if err != nil {
		t.Fatal(err)
	}
	if f2.Metadata.Subpages[0] == f.Metadata.Subpages[1] {
		t.Fatal("subpage did not advance between frames")
	}
	if len(f2.Metadata.Uncorrected) != 0 {
		t.Fatalf("uncorrected pixels on a clean sensor: %v", f2.Metadata.Uncorrected)
	}
}

func TestGetFrameGhosted(t *testing.T) {
	d, s := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	s.ghost = true
	_, err := d.GetFrame(false, false)
	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("got %v, want CaptureError", err)
	}
	if st := d.Stats(); st.GhostedFrames != 1 {
		t.Fatalf("Stats = %+v, want one ghosted frame", st)
	}
}

func TestGetFrameTimeout(t *testing.T) {
	s := newSimTransport()
	o := DefaultOpts
	o.RefreshRate = RefreshRate64Hz // keeps the deadline short
	d, err := newDev(s, &o)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	s.pollsUntilReady = 1 << 30
	clearsBefore := s.statusClears
	_, err = d.GetFrame(false, false)
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("got %v, want TimeoutError", err)
	}
	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("timeout not wrapped in CaptureError: %v", err)
	}
	if st := d.Stats(); st.Timeouts != 1 {
		t.Fatalf("Stats = %+v, want one timeout", st)
	}
	// The driver must have reset the ready flag so a retry starts clean.
	if s.statusClears == clearsBefore {
		t.Fatal("no recovery write after timeout")
	}
}

// A failing recovery write after a timeout must not mask the timeout itself.
func TestGetFrameTimeoutRecoveryWriteFails(t *testing.T) {
	s := newSimTransport()
	o := DefaultOpts
	o.RefreshRate = RefreshRate64Hz
	d, err := newDev(s, &o)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	s.pollsUntilReady = 1 << 30
	s.failWrites = 1
	_, err = d.GetFrame(false, false)
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("got %v, want TimeoutError", err)
	}
	if st := d.Stats(); st.Timeouts != 1 {
		t.Fatalf("Stats = %+v, want one timeout", st)
	}
}

func TestCloseReopen(t *testing.T) {
	d, _ := simDev(t)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetFrame(false, false); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err) // idempotent
	}
	if _, err := d.GetFrame(false, false); !errors.Is(err, ErrClosed) {
		t.Fatalf("after Close: got %v, want ErrClosed", err)
	}
	if _, err := d.GetSerial(); !errors.Is(err, ErrClosed) {
		t.Fatalf("GetSerial after Close: got %v, want ErrClosed", err)
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetFrame(false, false); err != nil {
		t.Fatal(err)
	}
}

// A sensor with a factory-marked defective pixel still initializes; the
// pixel is substituted during correction.
func TestGetFrameDefectivePixel(t *testing.T) {
	s := newSimTransport()
	s.eeprom[64+165] = 0 // broken pixel at (5, 5)
	o := DefaultOpts
	d, err := newDev(s, &o)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	f, err := d.GetFrame(false, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Metadata.Uncorrected) != 0 {
		t.Fatalf("single defective pixel should be correctable: %v", f.Metadata.Uncorrected)
	}
	// On a uniform scene the substitute equals the neighbors.
	if math.Abs(f.Pix[165]-f.Pix[164]) > 1e-9 {
		t.Fatalf("corrected pixel %g differs from neighbor %g", f.Pix[165], f.Pix[164])
	}
}

func TestRefreshRateCodes(t *testing.T) {
	data := []struct {
		r      RefreshRate
		hz     float64
		period time.Duration
	}{
		{RefreshRate0_5Hz, 0.5, 2 * time.Second},
		{RefreshRate1Hz, 1, time.Second},
		{RefreshRate16Hz, 16, 62500 * time.Microsecond},
		{RefreshRate64Hz, 64, 15625 * time.Microsecond},
	}
	for _, line := range data {
		if got := line.r.Hz(); got != line.hz {
			t.Fatalf("%v.Hz() = %g, want %g", line.r, got, line.hz)
		}
		if got := line.r.Period(); got != line.period {
			t.Fatalf("%v.Period() = %s, want %s", line.r, got, line.period)
		}
	}
	if got := RefreshRate2Hz.String(); got != "2Hz" {
		t.Fatalf("String() = %q, want 2Hz", got)
	}
	if got := RefreshRate0_5Hz.String(); got != "0.5Hz" {
		t.Fatalf("String() = %q, want 0.5Hz", got)
	}
}

func TestFrameHelpers(t *testing.T) {
	f := &Frame{}
	for i := range f.Pix {
		f.Pix[i] = 20
	}
	f.Pix[5*Width+7] = 31
	f.Pix[100] = 11
	if got := f.TempAt(7, 5); got != 31 {
		t.Fatalf("TempAt = %g, want 31", got)
	}
	if f.Min() != 11 || f.Max() != 31 {
		t.Fatalf("Min/Max = %g/%g, want 11/31", f.Min(), f.Max())
	}
	want := (20.0*(PixelCount-2) + 31 + 11) / PixelCount
	if math.Abs(f.Mean()-want) > 1e-9 {
		t.Fatalf("Mean = %g, want %g", f.Mean(), want)
	}
}
