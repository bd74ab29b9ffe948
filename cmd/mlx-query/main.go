// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mlx-query uses the I²C interface to query the camera's internal state.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dude84/go-mlx90640/mlx90640"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	i2cHz := flag.Int("hz", 0, "I²C bus speed")
	addr := flag.Uint("addr", mlx90640.DefaultAddr, "device address")
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	i2cBus, err := i2creg.Open(*i2cName)
	if err != nil {
		return err
	}
	defer i2cBus.Close()
	if *i2cHz != 0 {
		if err := i2cBus.SetSpeed(physic.Frequency(*i2cHz) * physic.Hertz); err != nil {
			return err
		}
	}
	o := mlx90640.DefaultOpts
	o.Addr = uint16(*addr)
	dev, err := mlx90640.New(i2cBus, &o)
	if err != nil {
		return err
	}
	serial, err := dev.GetSerial()
	if err != nil {
		return err
	}
	fmt.Printf("Serial:      0x%012x\n", serial)
	if err := dev.Init(); err != nil {
		return err
	}
	defer dev.Close()
	rate, err := dev.GetRefreshRate()
	if err != nil {
		return err
	}
	fmt.Printf("RefreshRate: %gHz\n", rate)
	res, err := dev.GetResolution()
	if err != nil {
		return err
	}
	fmt.Printf("Resolution:  %d bit ADC\n", 16+res)
	fmt.Printf("Emissivity:  %g\n", dev.GetEmissivity())
	frame, err := dev.GetFrame(false, false)
	if err != nil {
		return err
	}
	fmt.Printf("Ta:          %.2f°C\n", frame.Metadata.Ta)
	fmt.Printf("Vdd:         %.2fV\n", frame.Metadata.Vdd)
	fmt.Printf("Scene:       %.2f°C to %.2f°C\n", frame.Min(), frame.Max())
	fmt.Printf("Subpage:     %d\n", dev.GetSubpageNumber())
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nmlx-query: %s.\n", err)
		os.Exit(1)
	}
}
