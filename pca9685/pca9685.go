// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pca9685

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// NumChannels is the number of PWM outputs.
	NumChannels = 16
	// MaxTick is the largest on or off counter position.
	MaxTick uint16 = 4095
	// FullTick is the chip's "always on" / "always off" sentinel. It is only
	// written through SetPin and Halt.
	FullTick uint16 = 4096

	// I2CAddr is the factory default address with all address pins low.
	I2CAddr uint16 = 0x40

	// oscillator is the frequency of the internal clock.
	oscillator = 25 * physic.MegaHertz
	// oscStabilize is the time the oscillator needs after leaving sleep.
	oscStabilize = 5 * time.Millisecond
)

var sleep = time.Sleep

// Opts holds the configuration options.
type Opts struct {
	// Addr is the I²C address of the chip. Zero selects I2CAddr.
	Addr uint16
	// Logger receives debug traces of register sequences. Nil discards them.
	Logger logrus.FieldLogger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Addr: I2CAddr,
}

// Dev is a handle to an initialized PCA9685.
type Dev struct {
	mu    sync.Mutex
	d     i2c.Dev
	gc    i2c.Dev
	log   logrus.FieldLogger
	mode1 modeRegister
	mode2 modeRegister
}

// New initializes the PCA9685 and returns a handle once the chip is awake.
//
// All outputs are forced low before the mode registers are touched. The
// outputs are configured as totem pole and the chip answers to the all-call
// address.
func New(bus i2c.Bus, opts *Opts) (*Dev, error) {
	if opts != nil && opts.Addr > 0x7F {
		return nil, fmt.Errorf("%w: address 0x%02X is not a 7 bit I²C address", ErrValidation, opts.Addr)
	}
	d := newDev(bus, opts)
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func newDev(bus i2c.Bus, opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	addr := opts.Addr
	if addr == GeneralCallAddr {
		addr = I2CAddr
	}
	log := opts.Logger
	if log == nil {
		log = discard()
	}
	return &Dev{
		d:     i2c.Dev{Bus: bus, Addr: addr},
		gc:    i2c.Dev{Bus: bus, Addr: GeneralCallAddr},
		log:   log.WithField("dev", fmt.Sprintf("pca9685@0x%02X", addr)),
		mode1: modeRegister{addr: regMode1},
		mode2: modeRegister{addr: regMode2},
	}
}

func (d *Dev) init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &txn{c: &d.d, op: "init"}
	if err := t.writeTicks(regAllLEDOnL, 0, 0); err != nil {
		return err
	}
	d.log.Debug("all channels off")
	if err := d.mode2.write(t, mode2OutDrv); err != nil {
		return err
	}
	if err := d.mode1.write(t, mode1AllCall); err != nil {
		return err
	}
	d.log.Debug("MODE2 OUTDRV and MODE1 ALLCALL set")
	sleep(oscStabilize)
	if _, err := d.mode1.update(t, func(old byte) byte { return old &^ mode1Sleep }); err != nil {
		return err
	}
	sleep(oscStabilize)
	// Every write went through; a failed probe leaves the chip consistent.
	p, err := (&txn{c: &d.d, op: t.op}).read(regPrescale)
	if err != nil {
		return err
	}
	d.log.WithField("frequency", FrequencyFor(p)).Debug("awake")
	return nil
}

// SetChannel programs the on and off counter positions of one channel.
//
// off may be lower than on, in which case the output is high across the end
// of the period.
func (d *Dev) SetChannel(channel int, on, off uint16) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if on > MaxTick || off > MaxTick {
		return fmt.Errorf("%w: ticks (%d, %d) exceed %d", ErrValidation, on, off, MaxTick)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeChannel("set channel", channel, on, off)
}

// SetAllChannels programs every channel at once through the ALL_LED
// registers. Each channel keeps this value until it is written again
// individually.
func (d *Dev) SetAllChannels(on, off uint16) error {
	if on > MaxTick || off > MaxTick {
		return fmt.Errorf("%w: ticks (%d, %d) exceed %d", ErrValidation, on, off, MaxTick)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &txn{c: &d.d, op: "set all channels"}
	return t.writeTicks(regAllLEDOnL, on, off)
}

// SetPin drives a channel fully on (gpio.High) or fully off (gpio.Low),
// without PWM.
func (d *Dev) SetPin(channel int, l gpio.Level) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if l == gpio.High {
		return d.writeChannel("set pin", channel, FullTick, 0)
	}
	return d.writeChannel("set pin", channel, 0, FullTick)
}

// SetFrequency changes the PWM frequency shared by all channels and returns
// the prescale value written.
//
// The frequency must be low enough for the prescale to fit in one byte; the
// chip itself raises any prescale below 3 to 3, which caps the output at
// about 1526 Hz.
func (d *Dev) SetFrequency(f physic.Frequency) (byte, error) {
	if f <= 0 {
		return 0, fmt.Errorf("%w: frequency %s", ErrValidation, f)
	}
	p := PrescaleFor(f)
	if p < 0 || p > 0xFF {
		return 0, fmt.Errorf("%w: frequency %s needs prescale %d", ErrValidation, f, p)
	}
	prescale := byte(p)
	d.log.WithFields(logrus.Fields{"frequency": f, "prescale": prescale}).Debug("setting PWM frequency")

	d.mu.Lock()
	defer d.mu.Unlock()
	t := &txn{c: &d.d, op: "set frequency"}
	// The prescaler can only be written while the oscillator sleeps.
	old, err := d.mode1.read(t)
	if err != nil {
		return 0, err
	}
	if err := d.mode1.write(t, (old&0x7F)|mode1Sleep); err != nil {
		return 0, err
	}
	if err := t.write(regPrescale, prescale); err != nil {
		return 0, err
	}
	if err := d.mode1.write(t, old); err != nil {
		return 0, err
	}
	sleep(oscStabilize)
	if err := d.mode1.write(t, old|mode1Restart); err != nil {
		return 0, err
	}
	return prescale, nil
}

// Frequency returns the PWM frequency derived from the prescale register.
func (d *Dev) Frequency() (physic.Frequency, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &txn{c: &d.d, op: "get frequency"}
	p, err := t.read(regPrescale)
	if err != nil {
		return 0, err
	}
	return FrequencyFor(p), nil
}

// SetInvert inverts the logic state of every output. This is useful when
// the outputs drive an external inverting stage.
func (d *Dev) SetInvert(invert bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &txn{c: &d.d, op: "set invert"}
	_, err := d.mode2.update(t, func(old byte) byte {
		if invert {
			return old | mode2Invert
		}
		return old &^ mode2Invert
	})
	return err
}

// Reset sends the software reset command through the general call address.
// Every PCA9685 on the bus returns to its power-on state.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &txn{c: &d.d, op: "reset"}
	if err := t.send(&d.gc, cmdSoftwareReset); err != nil {
		return err
	}
	d.mode1.got = false
	d.mode2.got = false
	return nil
}

// Halt turns every channel fully off.
//
// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &txn{c: &d.d, op: "halt"}
	return t.writeTicks(regAllLEDOnL, 0, FullTick)
}

// String implements conn.Resource.
func (d *Dev) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mode1.got {
		return fmt.Sprintf("PCA9685{%s}", &d.d)
	}
	return fmt.Sprintf("PCA9685{%s, MODE1=0x%02X}", &d.d, d.mode1.last)
}

func (d *Dev) writeChannel(op string, channel int, on, off uint16) error {
	t := &txn{c: &d.d, op: op}
	return t.writeTicks(regLED0OnL+byte(channelStride*channel), on, off)
}

// PrescaleFor returns the prescale value for the frequency f:
// round(25MHz / (4095 * f)) - 1. The result is not clamped.
func PrescaleFor(f physic.Frequency) int {
	hz := float64(f) / float64(physic.Hertz)
	return int(math.Round(float64(oscillator/physic.Hertz)/(4095*hz))) - 1
}

// FrequencyFor returns the PWM frequency produced by a prescale value.
func FrequencyFor(prescale byte) physic.Frequency {
	return oscillator / physic.Frequency((int64(prescale)+1)*4096)
}

func checkChannel(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: channel %d not in [0, %d)", ErrValidation, channel, NumChannels)
	}
	return nil
}

func discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
