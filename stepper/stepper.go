// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/motorhat/pca9685"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

var (
	// ErrBusy is returned by Step when a step loop is already running on
	// the Sequencer.
	ErrBusy = errors.New("stepper: step loop already running")

	// ErrInvalidSetting is returned when you provide an invalid value.
	ErrInvalidSetting = errors.New("stepper: invalid setting")
)

// Driver is the PWM controller the motor is wired to. *pca9685.Dev
// implements it.
type Driver interface {
	// SetChannel programs the on and off ticks of a channel.
	SetChannel(channel int, on, off uint16) error
	// SetPin drives a channel fully on or fully off.
	SetPin(channel int, l gpio.Level) error
}

// Winding is the wiring of one motor winding to the controller: the
// channel feeding the bridge enable input and the two direction inputs.
type Winding struct {
	PWM int
	IN1 int
	IN2 int
}

// Direction is the rotation direction of a step.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// CoilState is the level of the four direction inputs, in the order they
// are written: winding 1 IN2, winding 2 IN1, winding 1 IN1, winding 2 IN2.
type CoilState [4]gpio.Level

// waveDrive is one electrical cycle; each entry energizes one winding half.
var waveDrive = [...]CoilState{
	{gpio.High, gpio.Low, gpio.Low, gpio.Low},
	{gpio.Low, gpio.High, gpio.Low, gpio.Low},
	{gpio.Low, gpio.Low, gpio.High, gpio.Low},
	{gpio.Low, gpio.Low, gpio.Low, gpio.High},
}

// Summary reports the outcome of a step loop.
type Summary struct {
	// Steps is the number of steps whose coil update completed.
	Steps int
	Dir   Direction
	// Duration runs from the start of the first step to the end of the last
	// wait.
	Duration time.Duration
}

// Opts holds the configuration options.
type Opts struct {
	// PulsesPerSecond is the target step rate.
	PulsesPerSecond float64
	// Clock defaults to SystemClock.
	Clock Clock
	// Logger receives per-step debug traces. Nil discards them.
	Logger logrus.FieldLogger
	// Lazy skips direction pin writes that would not change the level last
	// written by this Sequencer. Call Invalidate after driving the channels
	// through anything else, such as the driver's Halt or Reset.
	Lazy bool
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	PulsesPerSecond: 1000,
}

// Sequencer turns step requests into timed coil updates on a Driver.
type Sequencer struct {
	d        Driver
	w1, w2   Winding
	interval time.Duration
	clock    Clock
	log      logrus.FieldLogger
	lazy     *pinCache

	mu       sync.Mutex
	index    int
	throttle float64

	pulsing atomic.Bool
	running atomic.Bool
}

// New returns a Sequencer for the motor wired to d through w1 and w2. It
// starts at step index 0 with full strength and issues no bus traffic.
func New(d Driver, w1, w2 Winding, opts *Opts) (*Sequencer, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	for _, w := range [...]Winding{w1, w2} {
		for _, ch := range [...]int{w.PWM, w.IN1, w.IN2} {
			if ch < 0 || ch >= pca9685.NumChannels {
				return nil, fmt.Errorf("%w: channel %d in winding %+v", ErrInvalidSetting, ch, w)
			}
		}
	}
	pps := opts.PulsesPerSecond
	if pps <= 0 || math.IsNaN(pps) || math.IsInf(pps, 0) {
		return nil, fmt.Errorf("%w: %g pulses per second", ErrInvalidSetting, pps)
	}
	s := &Sequencer{
		d:        d,
		w1:       w1,
		w2:       w2,
		interval: time.Duration(float64(time.Second) / pps),
		clock:    opts.Clock,
		log:      opts.Logger,
		throttle: 1,
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	if opts.Lazy {
		s.lazy = newPinCache()
	}
	return s, nil
}

// SetStrength limits the current through both windings by setting the duty
// of their enable inputs to floor(fraction * 4095) ticks. fraction must be
// within [0, 1]. The strength persists across Idle.
func (s *Sequencer) SetStrength(fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: strength %g", ErrInvalidSetting, fraction)
	}
	duty := math.Floor(fraction * float64(pca9685.MaxTick))
	for _, ch := range [...]int{s.w1.PWM, s.w2.PWM} {
		if err := s.d.SetChannel(ch, 0, uint16(duty)); err != nil {
			return fmt.Errorf("stepper: set strength: %w", err)
		}
	}
	s.mu.Lock()
	s.throttle = fraction
	s.mu.Unlock()
	return nil
}

// UpdateCoils writes c to the four direction inputs. Pulsing reports true
// while the writes are in flight.
func (s *Sequencer) UpdateCoils(c CoilState) error {
	s.pulsing.Store(true)
	defer s.pulsing.Store(false)
	pins := [...]int{s.w1.IN2, s.w2.IN1, s.w1.IN1, s.w2.IN2}
	for i, ch := range pins {
		if err := s.setPin(ch, c[i]); err != nil {
			return fmt.Errorf("stepper: update coils: %w", err)
		}
	}
	return nil
}

// Idle de-energizes both windings. The strength is left untouched.
//
// Calling Idle while Step runs races with the step loop's own coil updates;
// cancel the Step context first.
func (s *Sequencer) Idle() error {
	return s.UpdateCoils(CoilState{gpio.Low, gpio.Low, gpio.Low, gpio.Low})
}

// Step moves the motor count steps in direction dir, one step every
// 1/PulsesPerSecond. Time spent writing the coils is taken out of the
// wait that follows; a step that overruns the interval is followed
// immediately by the next one.
//
// Step checks ctx before each step and while waiting. On error or
// cancellation the Summary covers the steps completed so far.
func (s *Sequencer) Step(ctx context.Context, dir Direction, count int) (Summary, error) {
	sum := Summary{Dir: dir}
	if dir != Forward && dir != Backward {
		return sum, fmt.Errorf("%w: direction %s", ErrInvalidSetting, dir)
	}
	if !s.running.CompareAndSwap(false, true) {
		return sum, ErrBusy
	}
	defer s.running.Store(false)
	if count <= 0 {
		return sum, nil
	}

	log := s.log.WithFields(logrus.Fields{"dir": dir, "count": count})
	log.Debug("stepping")
	first := s.clock.Now()
	for sum.Steps < count {
		if err := ctx.Err(); err != nil {
			sum.Duration = s.clock.Now().Sub(first)
			return sum, err
		}
		start := s.clock.Now()
		if err := s.UpdateCoils(waveDrive[s.advance(dir)]); err != nil {
			sum.Duration = s.clock.Now().Sub(first)
			return sum, err
		}
		sum.Steps++
		if wait := s.interval - s.clock.Now().Sub(start); wait > 0 {
			log.WithField("wait", wait).Debug("waiting for next step")
			select {
			case <-ctx.Done():
				sum.Duration = s.clock.Now().Sub(first)
				return sum, ctx.Err()
			case <-s.clock.After(wait):
			}
		}
	}
	sum.Duration = s.clock.Now().Sub(first)
	log.WithField("duration", sum.Duration).Debug("done")
	return sum, nil
}

// advance moves the step index one entry in direction dir and returns it.
func (s *Sequencer) advance(dir Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch dir {
	case Forward:
		s.index = (s.index + 1) % len(waveDrive)
	case Backward:
		s.index--
		if s.index < 0 {
			s.index = len(waveDrive) - 1
		}
	}
	return s.index
}

func (s *Sequencer) setPin(channel int, l gpio.Level) error {
	if s.lazy != nil && s.lazy.has(channel, l) {
		return nil
	}
	if err := s.d.SetPin(channel, l); err != nil {
		if s.lazy != nil {
			s.lazy.forget(channel)
		}
		return err
	}
	if s.lazy != nil {
		s.lazy.store(channel, l)
	}
	return nil
}

// Invalidate forgets the levels remembered with Opts.Lazy so that the next
// coil update writes every direction input. It is a no-op otherwise.
func (s *Sequencer) Invalidate() {
	if s.lazy != nil {
		s.lazy.clear()
	}
}

// Index returns the position in the coil table, in [0, 4).
func (s *Sequencer) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Throttle returns the last strength set.
func (s *Sequencer) Throttle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle
}

// Pulsing reports whether a coil update is in flight.
func (s *Sequencer) Pulsing() bool {
	return s.pulsing.Load()
}

// Running reports whether a step loop is in progress.
func (s *Sequencer) Running() bool {
	return s.running.Load()
}

// Interval returns the target time between two steps.
func (s *Sequencer) Interval() time.Duration {
	return s.interval
}

// Halt de-energizes both windings.
//
// Halt implements conn.Resource.
func (s *Sequencer) Halt() error {
	return s.Idle()
}

// String implements conn.Resource.
func (s *Sequencer) String() string {
	return fmt.Sprintf("Stepper{%v, %+v, %+v}", s.d, s.w1, s.w2)
}
