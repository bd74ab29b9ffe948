// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"encoding/binary"
	"time"

	"periph.io/x/periph/conn/i2c"
)

// Transport moves 16-bit words to and from the sensor's register space. It
// can be mocked to test the driver without hardware.
type Transport interface {
	// ReadWords reads len(words) big endian words starting at reg.
	ReadWords(reg uint16, words []uint16) error
	// WriteWord writes one word at reg.
	WriteWord(reg uint16, value uint16) error
}

const (
	// Transient bus failures (NACK under clock stretching) are retried this
	// many times before surfacing.
	busAttempts = 3
	busBackoff  = time.Millisecond

	// The MLX90640 accepts large bursts but some I²C masters cap the
	// transaction size. EEPROM and frame RAM reads are chunked to this many
	// words per transaction.
	defaultMaxTxWords = 128
)

// i2cTransport drives the sensor over an I²C bus with bounded retry and a
// per-operation deadline.
type i2cTransport struct {
	dev        i2c.Dev
	maxTxWords int
	deadline   time.Duration
}

func newI2CTransport(bus i2c.Bus, addr uint16, maxTxWords int, deadline time.Duration) *i2cTransport {
	if maxTxWords <= 0 {
		maxTxWords = defaultMaxTxWords
	}
	return &i2cTransport{
		dev:        i2c.Dev{Addr: addr, Bus: bus},
		maxTxWords: maxTxWords,
		deadline:   deadline,
	}
}

func (t *i2cTransport) ReadWords(reg uint16, words []uint16) error {
	start := time.Now()
	for len(words) > 0 {
		n := len(words)
		if n > t.maxTxWords {
			n = t.maxTxWords
		}
		if err := t.tx(start, "read", reg, func() error {
			var cmd [2]byte
			binary.BigEndian.PutUint16(cmd[:], reg)
			buf := make([]byte, 2*n)
			if err := t.dev.Tx(cmd[:], buf); err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				words[i] = binary.BigEndian.Uint16(buf[2*i:])
			}
			return nil
		}); err != nil {
			return err
		}
		words = words[n:]
		reg += uint16(n)
	}
	return nil
}

func (t *i2cTransport) WriteWord(reg uint16, value uint16) error {
	return t.tx(time.Now(), "write", reg, func() error {
		var cmd [4]byte
		binary.BigEndian.PutUint16(cmd[:2], reg)
		binary.BigEndian.PutUint16(cmd[2:], value)
		return t.dev.Tx(cmd[:], nil)
	})
}

// tx runs one bus transaction with retry on transient failure. A failed
// attempt is retried with a short backoff; once the deadline is exhausted
// the error becomes a timeout instead.
func (t *i2cTransport) tx(start time.Time, op string, reg uint16, f func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = f(); err == nil {
			return nil
		}
		if attempt >= busAttempts {
			return &BusError{Op: op, Reg: reg, Attempts: attempt, Err: err}
		}
		if t.deadline > 0 && time.Since(start) > t.deadline {
			return &TimeoutError{Op: op + " reg", Timeout: t.deadline}
		}
		time.Sleep(busBackoff << uint(attempt-1))
	}
}
