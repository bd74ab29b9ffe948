// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mlx-grab captures a single thermal image and saves it as PNG.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io/ioutil"
	"log"
	"os"

	"github.com/dude84/go-mlx90640/mlx90640"
	"github.com/dude84/go-mlx90640/mlx90640test"
	"github.com/dude84/go-mlx90640/thermimage"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	i2cHz := flag.Int("hz", 0, "I²C bus speed")
	addr := flag.Uint("addr", mlx90640.DefaultAddr, "device address")
	rate := flag.Float64("rate", 16, "refresh rate in Hz")
	emissivity := flag.Float64("e", 1.0, "emissivity of the observed surface")
	agc := flag.Bool("agc", false, "save an 8 bit PNG instead of the default 16 bits")
	meta := flag.Bool("meta", false, "print metadata")
	fake := flag.Bool("fake", false, "simulate a camera, useful to test without hardware")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if flag.NArg() != 1 {
		return errors.New("supply path to PNG to save")
	}

	var cam mlx90640.Camera
	if *fake {
		c, err := mlx90640test.New()
		if err != nil {
			return err
		}
		cam = c
	} else {
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
		o.Emissivity = *emissivity
		d, err := mlx90640.New(i2cBus, &o)
		if err != nil {
			return fmt.Errorf("%s\nIf testing without hardware, use -fake to simulate a camera", err)
		}
		cam = d
	}
	if err := cam.Init(); err != nil {
		return err
	}
	defer cam.Close()
	if err := cam.SetRefreshRate(*rate); err != nil {
		return err
	}

	frame, err := cam.GetFrame(true, true)
	if err != nil {
		return err
	}
	if *meta {
		fmt.Printf("CaptureTime: %s\n", frame.Metadata.CaptureTime)
		fmt.Printf("Ta:          %.2f°C\n", frame.Metadata.Ta)
		fmt.Printf("Vdd:         %.2fV\n", frame.Metadata.Vdd)
		fmt.Printf("Subpages:    %v\n", frame.Metadata.Subpages)
		fmt.Printf("Min:         %.2f°C\n", frame.Min())
		fmt.Printf("Max:         %.2f°C\n", frame.Max())
		fmt.Printf("Mean:        %.2f°C\n", frame.Mean())
		if len(frame.Metadata.Uncorrected) != 0 {
			fmt.Printf("Uncorrected: %v\n", frame.Metadata.Uncorrected)
		}
	}
	f, err := os.Create(flag.Args()[0])
	if err != nil {
		return err
	}
	defer f.Close()
	var img image.Image = thermimage.Gray16Linear(frame)
	if *agc {
		img = thermimage.GrayLinear(frame)
	}
	return png.Encode(f, img)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nmlx-grab: %s.\n", err)
		os.Exit(1)
	}
}
