// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mlx90640 drives a Melexis MLX90640 32×24 far-infrared thermal
// camera over I²C.
//
// References:
// MLX90640 datasheet (register map, EEPROM layout, radiometric formula):
//   https://www.melexis.com/en/documents/documentation/datasheets/datasheet-mlx90640
//
// Driver application note:
//   https://www.melexis.com/en/documents/documentation/application-notes/mlx90640-driver-application-note
//
// The sensor reads out in two interleaved half-frames ("subpages"). In chess
// mode — the pattern the device is factory calibrated for — alternating
// pixels belong to alternating subpages in a checkerboard layout, and both
// subpages must be captured and merged to reconstruct all 768 pixels.
package mlx90640

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/periph/conn/i2c"
)

// Sensor geometry and fixed constants.
const (
	Width      = 32
	Height     = 24
	PixelCount = Width * Height

	// DefaultAddr is the factory-default 7-bit I²C address.
	DefaultAddr = 0x33

	// SubpageUnknown is reported before any subpage has been captured.
	SubpageUnknown = -1

	// openAirTaShift is the default offset between the sensor's own
	// temperature and the reflected ambient temperature for a sensor in
	// open air, used when no reflected temperature is configured.
	openAirTaShift = 8

	scaleAlpha = 0.000001
)

// Register map.
const (
	regFrameRAM   = 0x0400 // 832 words of raw ADC counts
	regEEPROMBase = 0x2400 // 832 words of factory calibration
	regID         = 0x2407 // 3 words of device serial number
	regStatus     = 0x8000
	regControl    = 0x800D

	eepromWords = 832
	frameWords  = 832
)

// Status register bits.
const (
	statusSubpage   = 0x0001
	statusDataReady = 0x0008
	// statusClear resets the data-ready flag and re-enables RAM overwrite.
	statusClear = 0x0030
)

// Control register 1 bits.
const (
	ctrlSubpageMode   = 1 << 0 // continuous alternating subpages
	ctrlDataHold      = 1 << 2
	ctrlSubpageRepeat = 1 << 3
	ctrlRefreshShift  = 7
	ctrlRefreshMask   = 0x0380
	ctrlResShift      = 10
	ctrlResMask       = 0x0C00
	ctrlChessMode     = 1 << 12
)

// RefreshRate is the measurement rate register code.
type RefreshRate uint8

// Valid refresh rates. Each step doubles the rate.
const (
	RefreshRate0_5Hz RefreshRate = iota
	RefreshRate1Hz
	RefreshRate2Hz
	RefreshRate4Hz
	RefreshRate8Hz
	RefreshRate16Hz
	RefreshRate32Hz
	RefreshRate64Hz
)

// Hz returns the rate in hertz.
func (r RefreshRate) Hz() float64 {
	return 0.5 * float64(uint(1)<<r)
}

// Period returns the duration of one integration cycle.
func (r RefreshRate) Period() time.Duration {
	return time.Duration(float64(time.Second) / r.Hz())
}

func (r RefreshRate) String() string {
	if r > RefreshRate64Hz {
		return fmt.Sprintf("RefreshRate(%d)", uint8(r))
	}
	return fmt.Sprintf("%gHz", r.Hz())
}

func refreshRateFromHz(hz float64) (RefreshRate, error) {
	for r := RefreshRate0_5Hz; r <= RefreshRate64Hz; r++ {
		if r.Hz() == hz {
			return r, nil
		}
	}
	return 0, &ValidationError{Field: "refresh rate", Value: hz, Reason: "must be one of 0.5, 1, 2, 4, 8, 16, 32, 64 Hz"}
}

// ADC resolution codes.
const (
	Resolution16Bit = iota
	Resolution17Bit
	Resolution18Bit
	Resolution19Bit
)

// Opts holds the options for New.
type Opts struct {
	// Addr is the device's 7-bit I²C address.
	Addr uint16
	// RefreshRate is applied during Init.
	RefreshRate RefreshRate
	// Emissivity of the observed surface, in [0.1, 1.0].
	Emissivity float64
	// OutlierSigma is the local standard-deviation multiple beyond which a
	// pixel is considered an outlier during interpolation.
	OutlierSigma float64
	// MaxTxWords caps the number of words per bus transaction. 0 uses a
	// safe default; lower it for masters with small transfer limits.
	MaxTxWords int
	// BusTimeout bounds a single register operation including retries.
	BusTimeout time.Duration
}

// DefaultOpts is the recommended default configuration: 16Hz chess-mode
// streaming of a blackbody surface.
var DefaultOpts = Opts{
	Addr:         DefaultAddr,
	RefreshRate:  RefreshRate16Hz,
	Emissivity:   1.0,
	OutlierSigma: 3.0,
	BusTimeout:   500 * time.Millisecond,
}

// Config is an immutable snapshot of the device configuration. Setters
// replace the whole snapshot after a successful validated update, so a
// partially applied configuration can never be observed.
type Config struct {
	RefreshRate      RefreshRate
	Resolution       int
	Emissivity       float64
	ReflectedTemp    float64
	HasReflectedTemp bool
	OutlierSigma     float64
}

type deviceState uint8

const (
	stateUninitialized deviceState = iota
	stateInitialized
	stateConfigured
	stateStreaming
	stateClosed
)

// Exported sentinel conditions a caller may test with errors.Is.
var (
	ErrNotInitialized = errors.New("mlx90640: device not initialized")
	ErrClosed         = errors.New("mlx90640: device closed")
	errGhostedFrame   = errors.New("repeated subpage index, frame dropped or ghosted")
)

// Dev is a handle to one MLX90640. The device is a single shared hardware
// resource on a serial bus; every operation that touches the bus is
// serialized by an instance-level lock.
type Dev struct {
	mu          sync.Mutex
	t           Transport
	cal         *CalibrationData
	cfg         Config
	state       deviceState
	lastSubpage int
	stats       Stats
}

// New wraps an I²C bus into a device handle. It does not touch the hardware;
// call Init to load the calibration and start measuring. The bus stays owned
// by the caller.
func New(bus i2c.Bus, opts *Opts) (*Dev, error) {
	if opts == nil {
		o := DefaultOpts
		opts = &o
	}
	addr := opts.Addr
	if addr == 0 {
		addr = DefaultAddr
	}
	return newDev(newI2CTransport(bus, addr, opts.MaxTxWords, opts.BusTimeout), opts)
}

func newDev(t Transport, opts *Opts) (*Dev, error) {
	if opts.RefreshRate > RefreshRate64Hz {
		return nil, &ValidationError{Field: "refresh rate", Value: opts.RefreshRate, Reason: "register code out of range"}
	}
	if opts.Emissivity < 0.1 || opts.Emissivity > 1.0 {
		return nil, &ValidationError{Field: "emissivity", Value: opts.Emissivity, Reason: "must be in [0.1, 1.0]"}
	}
	sigma := opts.OutlierSigma
	if sigma == 0 {
		sigma = DefaultOpts.OutlierSigma
	}
	return &Dev{
		t: t,
		cfg: Config{
			RefreshRate:  opts.RefreshRate,
			Emissivity:   opts.Emissivity,
			OutlierSigma: sigma,
		},
		state:       stateUninitialized,
		lastSubpage: SubpageUnknown,
	}, nil
}

// Init configures the device for continuous chess-mode measurement and loads
// the factory calibration from EEPROM. On failure the device stays
// uninitialized and Init may be retried; after Close it re-acquires the
// device, which is the supported recovery path.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateInitialized || d.state == stateConfigured || d.state == stateStreaming {
		// Re-running is allowed but wasteful.
		log.Printf("mlx90640: Init on an initialized device, reloading calibration")
	}

	// Same order as the reference application: configure the measurement
	// mode first, then dump the EEPROM.
	if err := d.updateControl(ctrlSubpageMode|ctrlDataHold, ctrlSubpageMode); err != nil {
		return &InitError{Err: err}
	}
	if err := d.updateControl(ctrlSubpageRepeat, 0); err != nil {
		return &InitError{Err: err}
	}
	if err := d.updateControl(ctrlRefreshMask, uint16(d.cfg.RefreshRate)<<ctrlRefreshShift); err != nil {
		return &InitError{Err: err}
	}
	if err := d.updateControl(ctrlChessMode, ctrlChessMode); err != nil {
		return &InitError{Err: err}
	}

	cal, err := loadCalibration(d.t)
	if err != nil {
		return &InitError{Err: err}
	}

	var control [1]uint16
	if err := d.t.ReadWords(regControl, control[:]); err != nil {
		return &InitError{Err: err}
	}

	d.cal = cal
	cfg := d.cfg
	cfg.Resolution = int((control[0] & ctrlResMask) >> ctrlResShift)
	d.cfg = cfg
	d.lastSubpage = SubpageUnknown
	d.state = stateInitialized
	return nil
}

// Close releases the device. It is idempotent and valid in any state. The
// underlying bus is owned by the caller and stays open; Init may be called
// again to recover the device.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = stateClosed
	d.cal = nil
	d.lastSubpage = SubpageUnknown
	return nil
}

// requireLive must be called with d.mu held.
func (d *Dev) requireLive() error {
	switch d.state {
	case stateUninitialized:
		return ErrNotInitialized
	case stateClosed:
		return ErrClosed
	}
	return nil
}

// updateControl read-modify-writes control register 1. Must be called with
// d.mu held.
func (d *Dev) updateControl(mask, value uint16) error {
	var control [1]uint16
	if err := d.t.ReadWords(regControl, control[:]); err != nil {
		return err
	}
	return d.t.WriteWord(regControl, control[0]&^mask|value)
}

// SetRefreshRate sets the measurement rate in hertz; valid values are 0.5,
// 1, 2, 4, 8, 16, 32 and 64. Rates of 16Hz and above need a 1MHz bus to
// sustain the frame reads. Invalid input fails without touching the device.
func (d *Dev) SetRefreshRate(hz float64) error {
	code, err := refreshRateFromHz(hz)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireLive(); err != nil {
		return err
	}
	if err := d.updateControl(ctrlRefreshMask, uint16(code)<<ctrlRefreshShift); err != nil {
		return err
	}
	cfg := d.cfg
	cfg.RefreshRate = code
	d.cfg = cfg
	if d.state == stateInitialized {
		d.state = stateConfigured
	}
	return nil
}

// GetRefreshRate reads the configured rate back from the device, in hertz.
func (d *Dev) GetRefreshRate() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireLive(); err != nil {
		return 0, err
	}
	var control [1]uint16
	if err := d.t.ReadWords(regControl, control[:]); err != nil {
		return 0, err
	}
	return RefreshRate((control[0] & ctrlRefreshMask) >> ctrlRefreshShift).Hz(), nil
}

// SetResolution sets the ADC resolution code: 0=16bit, 1=17bit, 2=18bit,
// 3=19bit. Invalid input fails without touching the device.
func (d *Dev) SetResolution(code int) error {
	if code < Resolution16Bit || code > Resolution19Bit {
		return &ValidationError{Field: "resolution", Value: code, Reason: "must be 0-3 (0=16bit, 1=17bit, 2=18bit, 3=19bit)"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireLive(); err != nil {
		return err
	}
	if err := d.updateControl(ctrlResMask, uint16(code)<<ctrlResShift); err != nil {
		return err
	}
	cfg := d.cfg
	cfg.Resolution = code
	d.cfg = cfg
	if d.state == stateInitialized {
		d.state = stateConfigured
	}
	return nil
}

// GetResolution reads the ADC resolution code back from the device.
func (d *Dev) GetResolution() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireLive(); err != nil {
		return 0, err
	}
	var control [1]uint16
	if err := d.t.ReadWords(regControl, control[:]); err != nil {
		return 0, err
	}
	return int((control[0] & ctrlResMask) >> ctrlResShift), nil
}

// SetEmissivity sets the emissivity coefficient of the observed surface:
// 1.0 for a blackbody, 0.95 for human skin, 0.90 for matte surfaces.
func (d *Dev) SetEmissivity(e float64) error {
	if e < 0.1 || e > 1.0 {
		return &ValidationError{Field: "emissivity", Value: e, Reason: "must be in [0.1, 1.0]"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireLive(); err != nil {
		return err
	}
	cfg := d.cfg
	cfg.Emissivity = e
	d.cfg = cfg
	if d.state == stateInitialized {
		d.state = stateConfigured
	}
	return nil
}

// GetEmissivity returns the configured emissivity.
func (d *Dev) GetEmissivity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Emissivity
}

// SetReflectedTemp fixes the reflected ambient temperature used by the
// radiometric formula, in °C. Without it the driver assumes a sensor in open
// air, 8°C below its own temperature.
func (d *Dev) SetReflectedTemp(tr float64) error {
	if tr < -273.15 {
		return &ValidationError{Field: "reflected temperature", Value: tr, Reason: "below absolute zero"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireLive(); err != nil {
		return err
	}
	cfg := d.cfg
	cfg.ReflectedTemp = tr
	cfg.HasReflectedTemp = true
	d.cfg = cfg
	if d.state == stateInitialized {
		d.state = stateConfigured
	}
	return nil
}

// GetFrame captures one complete thermal image. It blocks until the sensor
// has produced both subpages, self-paced by the configured refresh rate; the
// deadline per subpage is twice the frame period. The two captures must
// report alternating subpage indices — a repeat means a dropped or ghosted
// frame and is surfaced as a CaptureError rather than silently returned.
//
// interpolateOutliers replaces pixels deviating from their neighborhood by
// more than the configured sigma; correctBadPixels substitutes the pixels
// the factory marked defective. Either pass is a no-op when disabled.
func (d *Dev) GetFrame(interpolateOutlierPixels, correctDefectivePixels bool) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireLive(); err != nil {
		return nil, err
	}

	timeout := 2 * d.cfg.RefreshRate.Period()
	frame := &Frame{}
	for i := 0; i < 2; i++ {
		raw, err := d.captureSubpage(timeout)
		if err != nil {
			var te *TimeoutError
			if errors.As(err, &te) {
				d.stats.Timeouts++
			}
			return nil, &CaptureError{Op: "capture subpage", Err: err}
		}
		if raw.subpage == d.lastSubpage {
			d.stats.GhostedFrames++
			return nil, &CaptureError{Op: "merge subpages", Err: errGhostedFrame}
		}
		d.lastSubpage = raw.subpage
		frame.Metadata.Subpages[i] = raw.subpage

		tr := d.cfg.ReflectedTemp
		if !d.cfg.HasReflectedTemp {
			tr = ambientTemp(raw, d.cal) - openAirTaShift
		}
		frame.Metadata.Ta = computeSubpage(raw, d.cal, d.cfg.Emissivity, tr, &frame.Pix)
		frame.Metadata.Vdd = supplyVoltage(raw, d.cal)
	}

	if interpolateOutlierPixels {
		interpolateOutliers(&frame.Pix, d.cfg.OutlierSigma)
	}
	if correctDefectivePixels {
		defective := append(append([]int{}, d.cal.BrokenPixels...), d.cal.OutlierPixels...)
		if unc := correctBadPixels(&frame.Pix, defective); len(unc) != 0 {
			frame.Metadata.Uncorrected = unc
			d.stats.Uncorrectable += len(unc)
			log.Printf("mlx90640: %d defective pixels left uncorrected", len(unc))
		}
	}

	frame.Metadata.CaptureTime = time.Now()
	d.stats.GoodFrames++
	d.state = stateStreaming
	return frame, nil
}

// GetSubpageNumber reports the subpage index of the last capture: 0, 1, or
// SubpageUnknown before the first frame.
func (d *Dev) GetSubpageNumber() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSubpage
}

// GetSerial reads the 48-bit factory serial number.
func (d *Dev) GetSerial() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateClosed {
		return 0, ErrClosed
	}
	var id [3]uint16
	if err := d.t.ReadWords(regID, id[:]); err != nil {
		return 0, err
	}
	return uint64(id[0])<<32 | uint64(id[1])<<16 | uint64(id[2]), nil
}

// Stats returns a copy of the lifetime counters.
func (d *Dev) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
