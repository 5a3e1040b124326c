// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package motorhat

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/GermanBionicSystems/motorhat/pca9685"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Config describes one board and the stepper motor connected to it.
type Config struct {
	// Bus is the I²C bus name passed to i2creg.Open. Empty is the default bus.
	Bus string `yaml:"bus"`
	// Address is the I²C address of the PCA9685.
	Address uint16 `yaml:"address"`
	// FrequencyHz is the PWM frequency.
	FrequencyHz float64       `yaml:"frequency_hz"`
	LogLevel    string        `yaml:"log_level"`
	Stepper     StepperConfig `yaml:"stepper"`
}

// StepperConfig describes the stepper motor.
type StepperConfig struct {
	// Port is the stepper port, 1 (M1/M2) or 2 (M3/M4).
	Port            int     `yaml:"port"`
	PulsesPerSecond float64 `yaml:"pulses_per_second"`
	// Strength is the current limit, from 0 to 1.
	Strength float64 `yaml:"strength"`
	Lazy     bool    `yaml:"lazy"`
}

// DefaultConfig is used for every setting missing from a configuration
// file.
var DefaultConfig = Config{
	Address:     0x60,
	FrequencyHz: 1600,
	LogLevel:    "info",
	Stepper: StepperConfig{
		Port:            1,
		PulsesPerSecond: 1000,
		Strength:        1,
	},
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes and validates a YAML configuration.
func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("motorhat: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every setting can be applied to the hardware.
func (c *Config) Validate() error {
	if c.Address == 0 || c.Address > 0x7F {
		return fmt.Errorf("motorhat: address 0x%02X is not a 7 bit I²C address", c.Address)
	}
	if !finite(c.FrequencyHz) || c.FrequencyHz <= 0 {
		return fmt.Errorf("motorhat: frequency_hz must be positive, got %g", c.FrequencyHz)
	}
	if p := pca9685.PrescaleFor(c.Frequency()); p < 0 || p > 0xFF {
		return fmt.Errorf("motorhat: frequency_hz %g out of range", c.FrequencyHz)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("motorhat: log_level: %w", err)
	}
	if _, ok := Ports[c.Stepper.Port]; !ok {
		return fmt.Errorf("motorhat: stepper.port must be 1 or 2, got %d", c.Stepper.Port)
	}
	if !finite(c.Stepper.PulsesPerSecond) || c.Stepper.PulsesPerSecond <= 0 {
		return fmt.Errorf("motorhat: stepper.pulses_per_second must be positive, got %g", c.Stepper.PulsesPerSecond)
	}
	if math.IsNaN(c.Stepper.Strength) || c.Stepper.Strength < 0 || c.Stepper.Strength > 1 {
		return fmt.Errorf("motorhat: stepper.strength must be within [0, 1], got %g", c.Stepper.Strength)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Frequency returns FrequencyHz as a physic.Frequency.
func (c *Config) Frequency() physic.Frequency {
	return physic.Frequency(c.FrequencyHz * float64(physic.Hertz))
}

// NewLogger returns a logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("motorhat: log_level: %w", err)
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	return l, nil
}
