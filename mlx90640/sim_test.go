// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import "errors"

// simTransport simulates the sensor's register space well enough to exercise
// the full driver without hardware: EEPROM reads, data-ready pacing, frame
// RAM reads and the control register.
type simTransport struct {
	eeprom  [eepromWords]uint16
	control uint16
	status  uint16
	subpage uint16

	// pollsUntilReady is how many status reads pass before the data-ready
	// bit appears; it stands in for the integration time.
	pollsUntilReady int
	polls           int

	// ghost freezes the subpage toggle, simulating a missed frame.
	ghost bool

	// failReads and failWrites make the next N operations fail with a bus
	// error.
	failReads  int
	failWrites int

	// pixel is the raw ADC count every pixel reports.
	pixel uint16

	statusClears int
}

func newSimTransport() *simTransport {
	s := &simTransport{
		eeprom:          testEEPROM(),
		control:         0x0800, // resolution code 2, matches the EEPROM
		subpage:         1,
		pollsUntilReady: 2,
		pixel:           1250,
	}
	return s
}

func (s *simTransport) ReadWords(reg uint16, words []uint16) error {
	if s.failReads > 0 {
		s.failReads--
		return errors.New("i2c: got NAK")
	}
	switch {
	case reg >= regEEPROMBase && int(reg) < regEEPROMBase+eepromWords:
		copy(words, s.eeprom[reg-regEEPROMBase:])
	case reg == regStatus:
		if s.status&statusDataReady == 0 {
			s.polls++
			if s.polls >= s.pollsUntilReady {
				if !s.ghost {
					s.subpage ^= 1
				}
				s.status = statusDataReady | s.subpage
			}
		}
		words[0] = s.status
	case reg == regControl:
		words[0] = s.control
	case reg == regFrameRAM:
		s.fillFrame(words)
	default:
		return errors.New("unexpected register")
	}
	return nil
}

func (s *simTransport) WriteWord(reg uint16, value uint16) error {
	if s.failWrites > 0 {
		s.failWrites--
		return errors.New("i2c: got NAK")
	}
	switch reg {
	case regStatus:
		if value == statusClear {
			s.status &^= statusDataReady
			s.polls = 0
			s.statusClears++
		}
	case regControl:
		s.control = value
	}
	return nil
}

func (s *simTransport) fillFrame(words []uint16) {
	for i := 0; i < PixelCount && i < len(words); i++ {
		words[i] = s.pixel
	}
	if len(words) == frameWords {
		words[rawVBE] = 15168
		words[rawGain] = 6000
		words[rawPTAT] = 1600
		words[rawVddPix] = 0xCD00 // int16(-13056), nominal 3.3V supply
	}
}

// testEEPROM builds a synthetic but physically plausible calibration block:
// nominal supply coefficients, KtPTAT of 42, unity gain against the test
// frame's reference count, flat per-pixel alpha and offset maps, and no
// defective pixels.
func testEEPROM() [eepromWords]uint16 {
	var ee [eepromWords]uint16
	ee[7] = 0x1234 // serial number
	ee[8] = 0x5678
	ee[9] = 0x9ABC
	ee[16] = 0xC000 // alphaPTAT=11, occ scales 0
	ee[17] = 0xFFC0 // offsetRef=-64
	ee[33] = 1000   // alphaRef
	ee[48] = 6000   // gainEE
	ee[49] = 12800  // vPTAT25
	ee[50] = 0x1150 // kvPTAT, ktPTAT=42
	ee[51] = 0x9D68 // kVdd=-3168, vdd25=-13056
	ee[52] = 0x2222 // kv nibbles
	ee[54] = 0x4040 // ktaRC
	ee[55] = 0x4040
	ee[56] = 0x2950 // resolutionEE=2, kvScale=9, ktaScale1=13
	ee[60] = 0xF000 // ksTa=-16/8192, tgc=0
	ee[61] = 0xFEFE // ksTo range coefficients
	ee[62] = 0xFEFE
	ee[63] = 0x2883 // ct2=160, ct3=320, ksToScale=2^11
	for p := 0; p < PixelCount; p++ {
		ee[64+p] = 0x0020
	}
	return ee
}

func testCalibration() *CalibrationData {
	ee := testEEPROM()
	cal, err := extractParameters(ee[:])
	if err != nil {
		panic(err)
	}
	return cal
}

// testRaw builds the raw subpage the simulated transport would deliver.
func testRaw(subpage int) *rawSubpage {
	raw := &rawSubpage{subpage: subpage}
	s := newSimTransport()
	s.fillFrame(raw.data[:])
	raw.controlReg = ctrlChessMode | 0x0800 | uint16(RefreshRate16Hz)<<ctrlRefreshShift | ctrlSubpageMode
	return raw
}
