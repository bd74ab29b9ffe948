// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mlx-stream publishes thermal frames to an MQTT broker as JSON until
// interrupted.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/maruel/interrupt"

	"github.com/dude84/go-mlx90640/mlx90640"
	"github.com/dude84/go-mlx90640/mlx90640test"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

// frameMsg is the JSON payload published per frame.
type frameMsg struct {
	Time time.Time `json:"time"`
	Ta   float64   `json:"ta"`
	Min  float64   `json:"min"`
	Max  float64   `json:"max"`
	Mean float64   `json:"mean"`
	Pix  []float64 `json:"pix"`
}

func busFrequency(hz int) physic.Frequency {
	return physic.Frequency(hz) * physic.Hertz
}

// recoverable reports whether a GetFrame failure is worth retrying on the
// next cycle. Ghosted frames and timeouts resync on their own; anything else
// means the device is gone.
func recoverable(err error) bool {
	var capErr *mlx90640.CaptureError
	if errors.As(err, &capErr) {
		return true
	}
	var toErr *mlx90640.TimeoutError
	return errors.As(err, &toErr)
}

func publishJSON(client mqtt.Client, topic string, qos byte, obj interface{}) error {
	msg, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	token := client.Publish(topic, qos, false, msg)
	token.Wait()
	return token.Error()
}

func openCamera(cfg *config, fake bool) (mlx90640.Camera, error) {
	if fake {
		return mlx90640test.New()
	}
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	i2cBus, err := i2creg.Open(cfg.I2C)
	if err != nil {
		return nil, err
	}
	if cfg.I2CHz != 0 {
		if err := i2cBus.SetSpeed(busFrequency(cfg.I2CHz)); err != nil {
			return nil, err
		}
	}
	o := mlx90640.DefaultOpts
	o.Addr = cfg.Addr
	o.Emissivity = cfg.Emissivity
	return mlx90640.New(i2cBus, &o)
}

func mainImpl() error {
	configPath := flag.String("config", "", "path to the YAML configuration")
	fake := flag.Bool("fake", false, "simulate a camera, useful to test without hardware")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	cam, err := openCamera(cfg, *fake)
	if err != nil {
		return err
	}
	if err := cam.Init(); err != nil {
		return err
	}
	defer cam.Close()
	if err := cam.SetRefreshRate(cfg.RefreshRate); err != nil {
		return err
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTT.Connection).SetClientID(cfg.MQTT.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(2 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)

	interrupt.HandleCtrlC()

	frames := 0
	last := time.Now()
	for !interrupt.IsSet() {
		frame, err := cam.GetFrame(true, true)
		if err != nil {
			if !recoverable(err) {
				return err
			}
			// Ghosted frames and timeouts resync on the next cycle.
			log.Printf("mlx-stream: %s", err)
			continue
		}
		msg := frameMsg{
			Time: frame.Metadata.CaptureTime,
			Ta:   frame.Metadata.Ta,
			Min:  frame.Min(),
			Max:  frame.Max(),
			Mean: frame.Mean(),
			Pix:  frame.Pix[:],
		}
		if err := publishJSON(client, cfg.MQTT.Topic, cfg.MQTT.QoS, msg); err != nil {
			return err
		}
		frames++
		if now := time.Now(); now.Sub(last) >= time.Second {
			st := cam.Stats()
			fmt.Printf("%.1f fps  %d good %d ghosted %d timeout\r", float64(frames)/now.Sub(last).Seconds(), st.GoodFrames, st.GhostedFrames, st.Timeouts)
			frames = 0
			last = now
		}
	}
	fmt.Print("\n")
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nmlx-stream: %s.\n", err)
		os.Exit(1)
	}
}
