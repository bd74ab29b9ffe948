// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"fmt"
	"log"
	"time"
)

// rawSubpage is one half-frame of raw ADC counts as read from frame RAM,
// together with the control-register snapshot needed by the compute engine
// and the subpage index the hardware reported.
type rawSubpage struct {
	data       [frameWords]uint16
	controlReg uint16
	subpage    int
}

// pollInterval paces the data-ready polling. The sensor paces the caller;
// polling only bounds how late we notice.
const pollInterval = time.Millisecond

// captureSubpage waits for the sensor's data-ready bit, bulk-reads the frame
// RAM and clears the ready flag. It blocks for up to timeout, which callers
// derive from the configured refresh rate.
//
// The subpage index is whatever the hardware reports, not an assumed
// alternation; verifying alternation is the caller's job.
//
// Must be called with d.mu held.
func (d *Dev) captureSubpage(timeout time.Duration) (*rawSubpage, error) {
	start := time.Now()
	var status [1]uint16
	for {
		if err := d.t.ReadWords(regStatus, status[:]); err != nil {
			return nil, err
		}
		if status[0]&statusDataReady != 0 {
			break
		}
		if time.Since(start) > timeout {
			// Leave the transport in a clean state for a retry: reset the
			// ready flag so a half-signaled cycle is not carried over.
			if err := d.t.WriteWord(regStatus, statusClear); err != nil {
				log.Printf("mlx90640: recovery write after timeout failed: %s", err)
			}
			return nil, &TimeoutError{Op: "wait for data ready", Timeout: timeout}
		}
		time.Sleep(pollInterval)
	}

	// Read the frame RAM, then confirm the sensor did not start overwriting
	// it mid-read. A still-set ready bit means the read raced a new
	// integration cycle; re-read a bounded number of times.
	raw := &rawSubpage{}
	for cnt := 0; ; cnt++ {
		if cnt >= 5 {
			return nil, fmt.Errorf("frame RAM kept updating during read")
		}
		if err := d.t.WriteWord(regStatus, statusClear); err != nil {
			return nil, err
		}
		if err := d.t.ReadWords(regFrameRAM, raw.data[:]); err != nil {
			return nil, err
		}
		if err := d.t.ReadWords(regStatus, status[:]); err != nil {
			return nil, err
		}
		if status[0]&statusDataReady == 0 {
			break
		}
	}

	var control [1]uint16
	if err := d.t.ReadWords(regControl, control[:]); err != nil {
		return nil, err
	}
	raw.controlReg = control[0]
	raw.subpage = int(status[0] & statusSubpage)
	return raw, nil
}
