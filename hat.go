// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package motorhat

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/motorhat/pca9685"
	"github.com/GermanBionicSystems/motorhat/stepper"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Hat is an initialized board with one stepper motor.
type Hat struct {
	PWM     *pca9685.Dev
	Stepper *stepper.Sequencer

	bus i2c.BusCloser
}

// NewHat initializes the PCA9685 on bus, programs the PWM frequency and
// the stepper strength from cfg. The bus stays owned by the caller.
//
// log may be nil.
func NewHat(bus i2c.Bus, cfg *Config, log logrus.FieldLogger) (*Hat, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pwm, err := pca9685.New(bus, &pca9685.Opts{Addr: cfg.Address, Logger: log})
	if err != nil {
		return nil, err
	}
	if _, err := pwm.SetFrequency(cfg.Frequency()); err != nil {
		return nil, err
	}
	w := Ports[cfg.Stepper.Port]
	m, err := stepper.New(pwm, w[0], w[1], &stepper.Opts{
		PulsesPerSecond: cfg.Stepper.PulsesPerSecond,
		Logger:          log,
		Lazy:            cfg.Stepper.Lazy,
	})
	if err != nil {
		return nil, err
	}
	if err := m.SetStrength(cfg.Stepper.Strength); err != nil {
		return nil, err
	}
	return &Hat{PWM: pwm, Stepper: m}, nil
}

// Open initializes periph, opens the I²C bus named in cfg and returns the
// board on it. Close releases the bus.
func Open(cfg *Config, log logrus.FieldLogger) (*Hat, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("motorhat: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("motorhat: %w", err)
	}
	h, err := NewHat(bus, cfg, log)
	if err != nil {
		return nil, errors.Join(err, bus.Close())
	}
	h.bus = bus
	return h, nil
}

// Halt de-energizes the motor and turns every PWM channel off.
//
// Halt implements conn.Resource.
func (h *Hat) Halt() error {
	err := errors.Join(h.Stepper.Halt(), h.PWM.Halt())
	h.Stepper.Invalidate()
	return err
}

// Close halts the board and closes the bus if it was opened by Open.
func (h *Hat) Close() error {
	err := h.Halt()
	if h.bus != nil {
		err = errors.Join(err, h.bus.Close())
		h.bus = nil
	}
	return err
}

// String implements conn.Resource.
func (h *Hat) String() string {
	return fmt.Sprintf("MotorHat{%s}", h.PWM)
}
