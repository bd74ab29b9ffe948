// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mlx90640test implements a fake MLX90640 for development without a
// device.
package mlx90640test

import (
	"math/rand"
	"sync"
	"time"

	"github.com/dude84/go-mlx90640/mlx90640"
)

// CameraFake is a fake for mlx90640.Camera. It produces drifting warm blobs
// over a room-temperature background, self-paced at the configured refresh
// rate like the real sensor.
type CameraFake struct {
	mu          sync.Mutex
	noise       *noise
	hz          float64
	resolution  int
	emissivity  float64
	initialized bool
	closed      bool
	lastSubpage int
	stats       mlx90640.Stats
}

// New returns a mock for mlx90640.Camera.
func New() (*CameraFake, error) {
	return &CameraFake{
		noise:       makeNoise(),
		hz:          mlx90640.DefaultOpts.RefreshRate.Hz(),
		resolution:  mlx90640.Resolution18Bit,
		emissivity:  1.0,
		lastSubpage: mlx90640.SubpageUnknown,
	}, nil
}

func (c *CameraFake) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	c.closed = false
	c.lastSubpage = mlx90640.SubpageUnknown
	return nil
}

func (c *CameraFake) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *CameraFake) SetRefreshRate(hz float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.live(); err != nil {
		return err
	}
	c.hz = hz
	return nil
}

func (c *CameraFake) GetRefreshRate() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.hz, nil
}

func (c *CameraFake) SetResolution(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.live(); err != nil {
		return err
	}
	c.resolution = code
	return nil
}

func (c *CameraFake) GetResolution() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.resolution, nil
}

func (c *CameraFake) SetEmissivity(e float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.live(); err != nil {
		return err
	}
	c.emissivity = e
	return nil
}

func (c *CameraFake) GetEmissivity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emissivity
}

func (c *CameraFake) SetReflectedTemp(tr float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live()
}

func (c *CameraFake) GetFrame(interpolateOutliers, correctBadPixels bool) (*mlx90640.Frame, error) {
	c.mu.Lock()
	if err := c.live(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	hz := c.hz
	c.mu.Unlock()

	// Two subpages per frame.
	time.Sleep(time.Duration(2 * float64(time.Second) / hz))

	c.mu.Lock()
	defer c.mu.Unlock()
	f := &mlx90640.Frame{}
	c.noise.update()
	c.noise.render(f)
	f.Metadata.CaptureTime = time.Now().UTC()
	f.Metadata.Ta = 25
	f.Metadata.Vdd = 3.3
	first := 0
	if c.lastSubpage == 0 {
		first = 1
	}
	f.Metadata.Subpages = [2]int{first, 1 - first}
	c.lastSubpage = f.Metadata.Subpages[1]
	c.stats.GoodFrames++
	return f, nil
}

func (c *CameraFake) GetSubpageNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSubpage
}

func (c *CameraFake) GetSerial() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, mlx90640.ErrClosed
	}
	return 0x1234, nil
}

func (c *CameraFake) Stats() mlx90640.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// live must be called with c.mu held.
func (c *CameraFake) live() error {
	if c.closed {
		return mlx90640.ErrClosed
	}
	if !c.initialized {
		return mlx90640.ErrNotInitialized
	}
	return nil
}

var _ mlx90640.Camera = &CameraFake{}

//

type vector struct {
	intensity float64
	x         float64
	y         float64
}

// noise is cheezy but gets us going for testing without a device.
type noise struct {
	rand    *rand.Rand
	vectors []vector
}

func makeNoise() *noise {
	n := &noise{rand: rand.New(rand.NewSource(0))}
	n.vectors = make([]vector, 6)
	for i := range n.vectors {
		n.vectors[i].intensity = n.rand.NormFloat64()*4 + 10
		n.vectors[i].x = n.rand.NormFloat64()*6 + 16
		n.vectors[i].y = n.rand.NormFloat64()*4 + 12
	}
	return n
}

func (n *noise) update() {
	for i := range n.vectors {
		n.vectors[i].intensity += n.rand.NormFloat64() * 0.1
		n.vectors[i].x += n.rand.NormFloat64() * 0.1
		n.vectors[i].y += n.rand.NormFloat64() * 0.1
	}
}

func (n *noise) render(f *mlx90640.Frame) {
	for y := 0; y < mlx90640.Height; y++ {
		fy := float64(y)
		for x := 0; x < mlx90640.Width; x++ {
			fx := float64(x)
			value := 22.0
			for _, vect := range n.vectors {
				distance := (vect.x-fx)*(vect.x-fx) + (vect.y-fy)*(vect.y-fy)
				if distance < 1 {
					distance = 1
				}
				value += vect.intensity / distance
			}
			if value > 40 {
				value = 40
			}
			if value < 15 {
				value = 15
			}
			f.Pix[y*mlx90640.Width+x] = value
		}
	}
}
