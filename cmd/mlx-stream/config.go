// Copyright 2024 The go-mlx90640 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"os"

	"gopkg.in/yaml.v2"
)

// config is the YAML streaming configuration.
type config struct {
	I2C         string     `yaml:"i2c"`
	I2CHz       int        `yaml:"i2chz"`
	Addr        uint16     `yaml:"addr"`
	RefreshRate float64    `yaml:"refreshrate"`
	Emissivity  float64    `yaml:"emissivity"`
	MQTT        mqttConfig `yaml:"mqtt"`
}

type mqttConfig struct {
	Connection string `yaml:"connection"`
	ClientID   string `yaml:"clientid"`
	Topic      string `yaml:"topic"`
	QoS        byte   `yaml:"qos"`
}

func defaultConfig() *config {
	return &config{
		Addr:        0x33,
		RefreshRate: 8,
		Emissivity:  1.0,
		MQTT: mqttConfig{
			Connection: "tcp://127.0.0.1:1883",
			ClientID:   "mlx-stream",
			Topic:      "thermal/frames",
			QoS:        1,
		},
	}
}

func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return nil, err
	}
	return c, nil
}
