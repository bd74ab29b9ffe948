// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import "math"

// CalibrationData holds the factory calibration coefficients decoded from
// the sensor EEPROM. It is loaded once by Init and never mutated afterwards;
// the compute engine treats it as read-only shared state.
//
// Field names follow the Melexis datasheet so the decode can be checked
// against the documented bit-field layouts.
type CalibrationData struct {
	KVdd  int
	Vdd25 int

	KvPTAT    float64
	KtPTAT    float64
	VPTAT25   int
	AlphaPTAT float64

	GainEE       int
	Tgc          float64
	ResolutionEE uint8
	KsTa         float64
	KsTo         [5]float64
	Ct           [5]int

	CpAlpha  [2]float64
	CpOffset [2]int
	CpKta    float64
	CpKv     float64

	Alpha      [PixelCount]int
	AlphaScale uint8
	Offset     [PixelCount]int
	Kta        [PixelCount]int8
	KtaScale   uint8
	Kv         [PixelCount]int8
	KvScale    uint8

	// Interleaved/chess correction terms and the readout pattern the device
	// was calibrated with.
	CalibrationModeEE int
	IlChessC          [3]float64

	// Pixels marked defective in the EEPROM, as flat row-major indices.
	BrokenPixels  []int
	OutlierPixels []int
}

// loadCalibration dumps the 832-word EEPROM block and decodes it. The read
// is chunked by the transport to respect transaction-size limits.
func loadCalibration(t Transport) (*CalibrationData, error) {
	ee := make([]uint16, eepromWords)
	if err := t.ReadWords(regEEPROMBase, ee); err != nil {
		return nil, err
	}
	return extractParameters(ee)
}

// extractParameters decodes a raw EEPROM dump. Extraction order matters:
// TGC and the compensation-pixel parameters feed the per-pixel alpha decode.
func extractParameters(ee []uint16) (*CalibrationData, error) {
	if err := validateEEPROM(ee); err != nil {
		return nil, err
	}
	c := &CalibrationData{}
	c.extractVDD(ee)
	c.extractPTAT(ee)
	c.extractGain(ee)
	c.extractTgc(ee)
	c.extractResolution(ee)
	c.extractKsTa(ee)
	c.extractKsTo(ee)
	c.extractCP(ee)
	c.extractAlpha(ee)
	c.extractOffset(ee)
	c.extractKtaPixels(ee)
	c.extractKvPixels(ee)
	c.extractCILC(ee)
	if err := c.extractDeviatingPixels(ee); err != nil {
		return nil, err
	}
	return c, nil
}

// validateEEPROM rejects dumps that cannot belong to a healthy MLX90640:
// a blank block (bus returned all zeros or all ones) or a device-select bit
// indicating a different device family.
func validateEEPROM(ee []uint16) error {
	if len(ee) != eepromWords {
		return &CalibrationError{Reason: "short EEPROM dump"}
	}
	blank0, blank1 := true, true
	for _, w := range ee {
		if w != 0x0000 {
			blank0 = false
		}
		if w != 0xFFFF {
			blank1 = false
		}
		if !blank0 && !blank1 {
			break
		}
	}
	if blank0 || blank1 {
		return &CalibrationError{Reason: "EEPROM is blank"}
	}
	if ee[10]&0x0040 != 0 {
		return &CalibrationError{Reason: "device select bit set, not an MLX90640"}
	}
	return nil
}

func (c *CalibrationData) extractVDD(ee []uint16) {
	kVdd := int((ee[51] & 0xFF00) >> 8)
	if kVdd > 127 {
		kVdd -= 256
	}
	c.KVdd = kVdd * 32

	vdd25 := int(ee[51] & 0x00FF)
	c.Vdd25 = (vdd25-256)<<5 - 8192
}

func (c *CalibrationData) extractPTAT(ee []uint16) {
	c.KvPTAT = float64((ee[50] & 0xFC00) >> 10)
	if c.KvPTAT > 31 {
		c.KvPTAT -= 64
	}
	c.KvPTAT /= 4096

	c.KtPTAT = float64(ee[50] & 0x03FF)
	if c.KtPTAT > 511 {
		c.KtPTAT -= 1024
	}
	c.KtPTAT /= 8

	c.VPTAT25 = int(int16(ee[49]))
	c.AlphaPTAT = float64(ee[16]&0xF000)/16384 + 8
}

func (c *CalibrationData) extractGain(ee []uint16) {
	c.GainEE = int(int16(ee[48]))
}

func (c *CalibrationData) extractTgc(ee []uint16) {
	tgc := float64(ee[60] & 0x00FF)
	if tgc > 127 {
		tgc -= 256
	}
	c.Tgc = tgc / 32
}

func (c *CalibrationData) extractResolution(ee []uint16) {
	c.ResolutionEE = uint8((ee[56] & 0x3000) >> 12)
}

func (c *CalibrationData) extractKsTa(ee []uint16) {
	ksTa := float64((ee[60] & 0xFF00) >> 8)
	if ksTa > 127 {
		ksTa -= 256
	}
	c.KsTa = ksTa / 8192
}

func (c *CalibrationData) extractKsTo(ee []uint16) {
	step := int(((ee[63] & 0x3000) >> 12) * 10)
	c.Ct[0] = -40
	c.Ct[1] = 0
	c.Ct[2] = int((ee[63]&0x00F0)>>4) * step
	c.Ct[3] = c.Ct[2] + int((ee[63]&0x0F00)>>8)*step

	ksToScale := 1 << ((ee[63] & 0x000F) + 8)

	c.KsTo[0] = float64(ee[61] & 0x00FF)
	c.KsTo[1] = float64((ee[61] & 0xFF00) >> 8)
	c.KsTo[2] = float64(ee[62] & 0x00FF)
	c.KsTo[3] = float64((ee[62] & 0xFF00) >> 8)
	for i := 0; i < 4; i++ {
		if c.KsTo[i] > 127 {
			c.KsTo[i] -= 256
		}
		c.KsTo[i] /= float64(ksToScale)
	}
	c.KsTo[4] = -0.0002
}

func (c *CalibrationData) extractCP(ee []uint16) {
	alphaScale := float64(((ee[32] & 0xF000) >> 12) + 27)

	offsetSP0 := int(ee[58] & 0x03FF)
	if offsetSP0 > 511 {
		offsetSP0 -= 1024
	}
	offsetSP1 := int((ee[58] & 0xFC00) >> 10)
	if offsetSP1 > 31 {
		offsetSP1 -= 64
	}
	c.CpOffset[0] = offsetSP0
	c.CpOffset[1] = offsetSP1 + offsetSP0

	alphaSP0 := float64(ee[57] & 0x03FF)
	if alphaSP0 > 511 {
		alphaSP0 -= 1024
	}
	alphaSP0 /= math.Pow(2, alphaScale)

	alphaSP1 := float64((ee[57] & 0xFC00) >> 10)
	if alphaSP1 > 31 {
		alphaSP1 -= 64
	}
	c.CpAlpha[0] = alphaSP0
	c.CpAlpha[1] = (1 + alphaSP1/128) * alphaSP0

	cpKta := float64(ee[59] & 0x00FF)
	if cpKta > 127 {
		cpKta -= 256
	}
	ktaScale1 := float64(((ee[56] & 0x00F0) >> 4) + 8)
	c.CpKta = cpKta / math.Pow(2, ktaScale1)

	cpKv := float64((ee[59] & 0xFF00) >> 8)
	if cpKv > 127 {
		cpKv -= 256
	}
	kvScale := float64((ee[56] & 0x0F00) >> 8)
	c.CpKv = cpKv / math.Pow(2, kvScale)
}

func (c *CalibrationData) extractAlpha(ee []uint16) {
	accRemScale := uint(ee[32] & 0x000F)
	accColumnScale := uint((ee[32] & 0x00F0) >> 4)
	accRowScale := uint((ee[32] & 0x0F00) >> 8)
	alphaScale := float64(((ee[32]&0xF000)>>12) + 30)
	alphaRef := int(ee[33])

	var accRow [Height]int
	for i := 0; i < 6; i++ {
		p := i * 4
		accRow[p+0] = int(ee[34+i] & 0x000F)
		accRow[p+1] = int(ee[34+i]&0x00F0) >> 4
		accRow[p+2] = int(ee[34+i]&0x0F00) >> 8
		accRow[p+3] = int(ee[34+i]&0xF000) >> 12
	}
	for i := range accRow {
		if accRow[i] > 7 {
			accRow[i] -= 16
		}
	}

	var accColumn [Width]int
	for i := 0; i < 8; i++ {
		p := i * 4
		accColumn[p+0] = int(ee[40+i] & 0x000F)
		accColumn[p+1] = int(ee[40+i]&0x00F0) >> 4
		accColumn[p+2] = int(ee[40+i]&0x0F00) >> 8
		accColumn[p+3] = int(ee[40+i]&0xF000) >> 12
	}
	for i := range accColumn {
		if accColumn[i] > 7 {
			accColumn[i] -= 16
		}
	}

	var alphaTemp [PixelCount]float64
	for i := 0; i < Height; i++ {
		for j := 0; j < Width; j++ {
			p := Width*i + j
			a := float64((ee[64+p] & 0x03F0) >> 4)
			if a > 31 {
				a -= 64
			}
			a *= float64(int(1) << accRemScale)
			a += float64(alphaRef) + float64(accRow[i]<<accRowScale) + float64(accColumn[j]<<accColumnScale)
			a /= math.Pow(2, alphaScale)
			a -= c.Tgc * (c.CpAlpha[0] + c.CpAlpha[1]) / 2
			alphaTemp[p] = scaleAlpha / a
		}
	}

	// Renormalize to the largest scale that keeps every coefficient within
	// int16 range, matching the Melexis driver's quantization.
	temp := alphaTemp[0]
	for _, a := range alphaTemp[1:] {
		if a > temp {
			temp = a
		}
	}
	var scale uint8
	for temp < 32767.4 {
		temp *= 2
		scale++
	}
	for i, a := range alphaTemp {
		c.Alpha[i] = int(a*math.Pow(2, float64(scale)) + 0.5)
	}
	c.AlphaScale = scale
}

func (c *CalibrationData) extractOffset(ee []uint16) {
	occRemScale := uint(ee[16] & 0x000F)
	occColumnScale := uint((ee[16] & 0x00F0) >> 4)
	occRowScale := uint((ee[16] & 0x0F00) >> 8)
	offsetRef := int(int16(ee[17]))

	var occRow [Height]int
	for i := 0; i < 6; i++ {
		p := i * 4
		occRow[p+0] = int(ee[18+i] & 0x000F)
		occRow[p+1] = int(ee[18+i]&0x00F0) >> 4
		occRow[p+2] = int(ee[18+i]&0x0F00) >> 8
		occRow[p+3] = int(ee[18+i]&0xF000) >> 12
	}
	for i := range occRow {
		if occRow[i] > 7 {
			occRow[i] -= 16
		}
	}

	var occColumn [Width]int
	for i := 0; i < 8; i++ {
		p := i * 4
		occColumn[p+0] = int(ee[24+i] & 0x000F)
		occColumn[p+1] = int(ee[24+i]&0x00F0) >> 4
		occColumn[p+2] = int(ee[24+i]&0x0F00) >> 8
		occColumn[p+3] = int(ee[24+i]&0xF000) >> 12
	}
	for i := range occColumn {
		if occColumn[i] > 7 {
			occColumn[i] -= 16
		}
	}

	for i := 0; i < Height; i++ {
		for j := 0; j < Width; j++ {
			p := Width*i + j
			off := int(ee[64+p]&0xFC00) >> 10
			if off > 31 {
				off -= 64
			}
			off *= 1 << occRemScale
			c.Offset[p] = offsetRef + occRow[i]<<occRowScale + occColumn[j]<<occColumnScale + off
		}
	}
}

func (c *CalibrationData) extractKtaPixels(ee []uint16) {
	var ktaRC [4]float64
	ktaRC[0] = float64(int8((ee[54] & 0xFF00) >> 8))
	ktaRC[1] = float64(int8((ee[55] & 0xFF00) >> 8))
	ktaRC[2] = float64(int8(ee[54] & 0x00FF))
	ktaRC[3] = float64(int8(ee[55] & 0x00FF))

	ktaScale1 := float64(((ee[56] & 0x00F0) >> 4) + 8)
	ktaScale2 := uint(ee[56] & 0x000F)

	var ktaTemp [PixelCount]float64
	for p := 0; p < PixelCount; p++ {
		split := 2*(p/32-(p/64)*2) + p%2
		k := float64((ee[64+p] & 0x000E) >> 1)
		if k > 3 {
			k -= 8
		}
		k *= float64(int(1) << ktaScale2)
		k += ktaRC[split]
		ktaTemp[p] = k / math.Pow(2, ktaScale1)
	}

	temp := math.Abs(ktaTemp[0])
	for _, k := range ktaTemp[1:] {
		if math.Abs(k) > temp {
			temp = math.Abs(k)
		}
	}
	var scale uint8
	for temp < 63.4 {
		temp *= 2
		scale++
	}
	for i, k := range ktaTemp {
		s := k * math.Pow(2, float64(scale))
		if s < 0 {
			c.Kta[i] = int8(s - 0.5)
		} else {
			c.Kta[i] = int8(s + 0.5)
		}
	}
	c.KtaScale = scale
}

func (c *CalibrationData) extractKvPixels(ee []uint16) {
	var kvT [4]float64
	for i, shift := range []uint{12, 4, 8, 0} {
		v := float64((ee[52] >> shift) & 0x000F)
		if v > 7 {
			v -= 16
		}
		kvT[i] = v
	}

	kvScaleEE := float64((ee[56] & 0x0F00) >> 8)

	var kvTemp [PixelCount]float64
	for p := 0; p < PixelCount; p++ {
		split := 2*(p/32-(p/64)*2) + p%2
		kvTemp[p] = kvT[split] / math.Pow(2, kvScaleEE)
	}

	temp := math.Abs(kvTemp[0])
	for _, k := range kvTemp[1:] {
		if math.Abs(k) > temp {
			temp = math.Abs(k)
		}
	}
	var scale uint8
	for temp < 63.4 {
		temp *= 2
		scale++
	}
	for i, k := range kvTemp {
		s := k * math.Pow(2, float64(scale))
		if s < 0 {
			c.Kv[i] = int8(s - 0.5)
		} else {
			c.Kv[i] = int8(s + 0.5)
		}
	}
	c.KvScale = scale
}

func (c *CalibrationData) extractCILC(ee []uint16) {
	c.CalibrationModeEE = int(((ee[10]&0x0800)>>4) ^ 0x80)

	il0 := float64(ee[53] & 0x003F)
	if il0 > 31 {
		il0 -= 64
	}
	c.IlChessC[0] = il0 / 16

	il1 := float64((ee[53] & 0x07C0) >> 6)
	if il1 > 15 {
		il1 -= 32
	}
	c.IlChessC[1] = il1 / 2

	il2 := float64((ee[53] & 0xF800) >> 11)
	if il2 > 15 {
		il2 -= 32
	}
	c.IlChessC[2] = il2 / 8
}

// extractDeviatingPixels collects the pixels the factory marked defective.
// A sensor with more than four of either kind, or with defective pixels
// touching each other, is out of spec and rejected.
func (c *CalibrationData) extractDeviatingPixels(ee []uint16) error {
	for p := 0; p < PixelCount; p++ {
		switch {
		case ee[64+p] == 0:
			c.BrokenPixels = append(c.BrokenPixels, p)
		case ee[64+p]&0x0001 != 0:
			c.OutlierPixels = append(c.OutlierPixels, p)
		}
	}
	if len(c.BrokenPixels) > 4 {
		return &CalibrationError{Reason: "more than 4 broken pixels"}
	}
	if len(c.OutlierPixels) > 4 {
		return &CalibrationError{Reason: "more than 4 outlier pixels"}
	}
	if len(c.BrokenPixels)+len(c.OutlierPixels) > 4 {
		return &CalibrationError{Reason: "more than 4 defective pixels"}
	}
	defective := append(append([]int{}, c.BrokenPixels...), c.OutlierPixels...)
	for i := 0; i < len(defective); i++ {
		for j := i + 1; j < len(defective); j++ {
			if adjacentPixels(defective[i], defective[j]) {
				return &CalibrationError{Reason: "adjacent defective pixels"}
			}
		}
	}
	return nil
}

func adjacentPixels(p1, p2 int) bool {
	d := p1 - p2
	if d < 0 {
		d = -d
	}
	return d <= 1 || (d >= 31 && d <= 33)
}
