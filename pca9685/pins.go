// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pca9685

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Pin is a single PCA9685 channel seen as an output-only GPIO pin.
//
// Out drives the channel fully on or off. PWM maps gpio.Duty onto the
// 12-bit off tick with the on tick at 0.
type Pin struct {
	dev     *Dev
	channel int
}

// Pin returns the channel as a gpio.PinOut.
func (d *Dev) Pin(channel int) (*Pin, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	return &Pin{dev: d, channel: channel}, nil
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.Name()
}

// Halt turns the channel off.
//
// Halt implements conn.Resource.
func (p *Pin) Halt() error {
	return p.Out(gpio.Low)
}

// Name returns the name of the pin, e.g. "PCA9685_40_3".
func (p *Pin) Name() string {
	return fmt.Sprintf("PCA9685_%02X_%d", p.dev.d.Addr, p.channel)
}

// Number returns the channel number.
func (p *Pin) Number() int {
	return p.channel
}

// Deprecated: returns "PWM"
func (p *Pin) Function() string {
	return "PWM"
}

// Out drives the channel fully on or off.
func (p *Pin) Out(l gpio.Level) error {
	return p.dev.SetPin(p.channel, l)
}

// PWM sets the duty cycle of the channel. If f is not 0 and maps to another
// prescale than the one programmed, the frequency of every channel is
// changed first.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	if f != 0 {
		if err := p.setFrequency(f); err != nil {
			return err
		}
	}
	switch {
	case duty <= 0:
		return p.dev.SetPin(p.channel, gpio.Low)
	case duty >= gpio.DutyMax:
		return p.dev.SetPin(p.channel, gpio.High)
	}
	off := uint16(int64(duty) * int64(MaxTick) / int64(gpio.DutyMax))
	return p.dev.SetChannel(p.channel, 0, off)
}

func (p *Pin) setFrequency(f physic.Frequency) error {
	if want := PrescaleFor(f); want >= 0 && want <= 0xFF {
		cur, err := p.dev.Frequency()
		if err != nil {
			return err
		}
		if cur == FrequencyFor(byte(want)) {
			return nil
		}
	}
	_, err := p.dev.SetFrequency(f)
	return err
}

var _ gpio.PinOut = &Pin{}
