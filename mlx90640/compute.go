// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import "math"

// Positions of the auxiliary data inside a raw frame, per the datasheet RAM
// map (relative to 0x0400).
const (
	rawVBE    = 768 // bandgap voltage
	rawCPSP0  = 776 // compensation pixel, subpage 0
	rawGain   = 778 // gain reference
	rawPTAT   = 800 // proportional-to-absolute-temperature
	rawCPSP1  = 808 // compensation pixel, subpage 1
	rawVddPix = 810 // supply voltage measurement
)

// supplyVoltage derives Vdd in volts from the raw supply measurement,
// corrected for the difference between the calibrated and the currently
// configured ADC resolution.
func supplyVoltage(raw *rawSubpage, cal *CalibrationData) float64 {
	vdd := float64(int16(raw.data[rawVddPix]))
	resolutionRAM := float64((raw.controlReg & 0x0C00) >> 10)
	resolutionCorrection := math.Pow(2, float64(cal.ResolutionEE)) / math.Pow(2, resolutionRAM)
	return (resolutionCorrection*vdd-float64(cal.Vdd25))/float64(cal.KVdd) + 3.3
}

// ambientTemp derives the sensor's own temperature in °C from the PTAT
// readings.
func ambientTemp(raw *rawSubpage, cal *CalibrationData) float64 {
	ptat := float64(int16(raw.data[rawPTAT]))
	vbe := float64(int16(raw.data[rawVBE]))
	ptatArt := ptat / (ptat*cal.AlphaPTAT + vbe) * 262144

	vdd := supplyVoltage(raw, cal)
	ta := ptatArt/(1+cal.KvPTAT*(vdd-3.3)) - float64(cal.VPTAT25)
	return ta/cal.KtPTAT + 25
}

// computeSubpage converts one raw subpage into object temperatures in °C for
// the 384 pixels belonging to that subpage's pattern, leaving the other
// pixels of out untouched. The two subpages of a frame are merged by calling
// it twice on the same output buffer.
//
// The computation is pure: identical inputs produce bit-identical output.
// All intermediate math is float64; the stored value is the object
// temperature with no rounding beyond floating point.
//
// emissivity is the configured surface emissivity; tr the reflected ambient
// temperature in °C. The radiometric formula follows the datasheet: gain
// compensation from the reference count, per-pixel offset/Kta/Kv correction,
// compensation-pixel (TGC) subtraction, then the fourth-root radiance
// inversion with the extended-range sensitivity correction.
func computeSubpage(raw *rawSubpage, cal *CalibrationData, emissivity, tr float64, out *[PixelCount]float64) (ta float64) {
	vdd := supplyVoltage(raw, cal)
	ta = ambientTemp(raw, cal)

	ta4 := ta + 273.15
	ta4 = ta4 * ta4
	ta4 = ta4 * ta4
	tr4 := tr + 273.15
	tr4 = tr4 * tr4
	tr4 = tr4 * tr4
	taTr := tr4 - (tr4-ta4)/emissivity

	ktaScale := math.Pow(2, float64(cal.KtaScale))
	kvScale := math.Pow(2, float64(cal.KvScale))
	alphaScale := math.Pow(2, float64(cal.AlphaScale))

	var alphaCorrR [4]float64
	alphaCorrR[0] = 1 / (1 + cal.KsTo[0]*40)
	alphaCorrR[1] = 1
	alphaCorrR[2] = 1 + cal.KsTo[1]*float64(cal.Ct[2])
	alphaCorrR[3] = alphaCorrR[2] * (1 + cal.KsTo[2]*float64(cal.Ct[3]-cal.Ct[2]))

	gain := float64(cal.GainEE) / float64(int16(raw.data[rawGain]))

	mode := int((raw.controlReg & ctrlChessMode) >> 5)

	var irDataCP [2]float64
	irDataCP[0] = float64(int16(raw.data[rawCPSP0])) * gain
	irDataCP[1] = float64(int16(raw.data[rawCPSP1])) * gain
	irDataCP[0] -= float64(cal.CpOffset[0]) * (1 + cal.CpKta*(ta-25)) * (1 + cal.CpKv*(vdd-3.3))
	if mode == cal.CalibrationModeEE {
		irDataCP[1] -= float64(cal.CpOffset[1]) * (1 + cal.CpKta*(ta-25)) * (1 + cal.CpKv*(vdd-3.3))
	} else {
		irDataCP[1] -= (float64(cal.CpOffset[1]) + cal.IlChessC[0]) * (1 + cal.CpKta*(ta-25)) * (1 + cal.CpKv*(vdd-3.3))
	}

	for p := 0; p < PixelCount; p++ {
		ilPattern := p/32 - (p/64)*2
		chessPattern := ilPattern ^ (p - (p/2)*2)
		conversionPattern := float64(((p+2)/4 - (p+3)/4 + (p+1)/4 - p/4) * (1 - 2*ilPattern))

		pattern := chessPattern
		if mode == 0 {
			pattern = ilPattern
		}
		if pattern != raw.subpage {
			continue
		}

		irData := float64(int16(raw.data[p])) * gain

		kta := float64(cal.Kta[p]) / ktaScale
		kv := float64(cal.Kv[p]) / kvScale
		irData -= float64(cal.Offset[p]) * (1 + kta*(ta-25)) * (1 + kv*(vdd-3.3))

		if mode != cal.CalibrationModeEE {
			irData += cal.IlChessC[2]*(2*float64(ilPattern)-1) - cal.IlChessC[1]*conversionPattern
		}

		irData -= cal.Tgc * irDataCP[raw.subpage]
		irData /= emissivity

		alphaCompensated := scaleAlpha * alphaScale / float64(cal.Alpha[p])
		alphaCompensated *= 1 + cal.KsTa*(ta-25)

		sx := alphaCompensated * alphaCompensated * alphaCompensated * (irData + alphaCompensated*taTr)
		sx = math.Sqrt(math.Sqrt(sx)) * cal.KsTo[1]

		to := math.Sqrt(math.Sqrt(irData/(alphaCompensated*(1-cal.KsTo[1]*273.15)+sx)+taTr)) - 273.15

		r := 3
		switch {
		case to < float64(cal.Ct[1]):
			r = 0
		case to < float64(cal.Ct[2]):
			r = 1
		case to < float64(cal.Ct[3]):
			r = 2
		}

		to = math.Sqrt(math.Sqrt(irData/(alphaCompensated*alphaCorrR[r]*(1+cal.KsTo[r]*(to-float64(cal.Ct[r]))))+taTr)) - 273.15

		out[p] = to
	}
	return ta
}
