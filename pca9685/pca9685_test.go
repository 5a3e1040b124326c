// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pca9685

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const addr = I2CAddr

// initOps is the bus traffic of a successful New.
var initOps = []i2ctest.IO{
	// All channels low.
	{Addr: addr, W: []byte{0xFA, 0x00}},
	{Addr: addr, W: []byte{0xFB, 0x00}},
	{Addr: addr, W: []byte{0xFC, 0x00}},
	{Addr: addr, W: []byte{0xFD, 0x00}},
	// MODE2 OUTDRV, MODE1 ALLCALL.
	{Addr: addr, W: []byte{0x01, 0x04}},
	{Addr: addr, W: []byte{0x00, 0x01}},
	// Wake up.
	{Addr: addr, W: []byte{0x00}, R: []byte{0x11}},
	{Addr: addr, W: []byte{0x00, 0x01}},
	// Frequency probe.
	{Addr: addr, W: []byte{0xFE}, R: []byte{0x1E}},
}

// stubSleep replaces sleep and records how many bus operations had been
// recorded by rec each time it was called.
func stubSleep(t *testing.T, rec *i2ctest.Record) *[]int {
	var at []int
	sleep = func(d time.Duration) {
		if d < 5*time.Millisecond {
			t.Errorf("sleep(%s) shorter than oscillator stabilization", d)
		}
		n := 0
		if rec != nil {
			n = len(rec.Ops)
		}
		at = append(at, n)
	}
	t.Cleanup(func() { sleep = time.Sleep })
	return &at
}

func TestNew(t *testing.T) {
	pb := &i2ctest.Playback{Ops: initOps, DontPanic: true}
	rec := &i2ctest.Record{Bus: pb}
	sleeps := stubSleep(t, rec)

	dev, err := New(rec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(initOps, rec.Ops, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("init sequence (-want +got):\n%s", diff)
	}
	// After ALLCALL is written, and after the sleep bit is cleared.
	if diff := cmp.Diff([]int{6, 8}, *sleeps); diff != "" {
		t.Errorf("sleep positions (-want +got):\n%s", diff)
	}
	if s := dev.String(); !strings.Contains(s, "MODE1=0x01") {
		t.Errorf("String() = %q", s)
	}
}

func TestNewDefaultAddress(t *testing.T) {
	stubSleep(t, nil)
	pb := &i2ctest.Playback{Ops: initOps, DontPanic: true}
	// Only the logger is set; the zero address must not reach the bus.
	if _, err := New(pb, &Opts{Logger: logrus.New()}); err != nil {
		t.Fatal(err)
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewInvalidAddress(t *testing.T) {
	stubSleep(t, nil)
	rec := &i2ctest.Record{}
	if _, err := New(rec, &Opts{Addr: 0x80}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(rec.Ops) != 0 {
		t.Fatalf("unexpected bus traffic %v", rec.Ops)
	}
}

func TestNewFailure(t *testing.T) {
	for _, test := range []struct {
		name    string
		ops     []i2ctest.IO
		partial bool
	}{
		{
			name: "no device",
		},
		{
			name:    "mode2 write fails",
			ops:     initOps[:4],
			partial: true,
		},
		{
			// Every write reached the chip.
			name: "frequency probe fails",
			ops:  initOps[:len(initOps)-1],
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			stubSleep(t, nil)
			pb := &i2ctest.Playback{Ops: test.ops, DontPanic: true}
			dev, err := New(pb, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if dev != nil {
				t.Fatal("expected no device")
			}
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransportError, got %v", err)
			}
			var pe *PartialWriteError
			if got := errors.As(err, &pe); got != test.partial {
				t.Fatalf("PartialWriteError = %t, want %t: %v", got, test.partial, err)
			}
		})
	}
}

func TestSetChannel(t *testing.T) {
	for _, test := range []struct {
		name    string
		channel int
		on, off uint16
		want    []i2ctest.IO
	}{
		{
			name:    "channel 0",
			channel: 0,
			on:      0,
			off:     2047,
			want: []i2ctest.IO{
				{Addr: addr, W: []byte{0x06, 0x00}},
				{Addr: addr, W: []byte{0x07, 0x00}},
				{Addr: addr, W: []byte{0x08, 0xFF}},
				{Addr: addr, W: []byte{0x09, 0x07}},
			},
		},
		{
			name:    "off before on",
			channel: 3,
			on:      0xABC,
			off:     0x123,
			want: []i2ctest.IO{
				{Addr: addr, W: []byte{0x12, 0xBC}},
				{Addr: addr, W: []byte{0x13, 0x0A}},
				{Addr: addr, W: []byte{0x14, 0x23}},
				{Addr: addr, W: []byte{0x15, 0x01}},
			},
		},
		{
			name:    "last channel",
			channel: 15,
			on:      MaxTick,
			off:     MaxTick,
			want: []i2ctest.IO{
				{Addr: addr, W: []byte{0x42, 0xFF}},
				{Addr: addr, W: []byte{0x43, 0x0F}},
				{Addr: addr, W: []byte{0x44, 0xFF}},
				{Addr: addr, W: []byte{0x45, 0x0F}},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			rec := &i2ctest.Record{}
			dev := newDev(rec, nil)
			if err := dev.SetChannel(test.channel, test.on, test.off); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, rec.Ops, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetChannelValidation(t *testing.T) {
	for _, test := range []struct {
		name    string
		channel int
		on, off uint16
	}{
		{name: "negative channel", channel: -1},
		{name: "channel 16", channel: 16},
		{name: "on tick", channel: 0, on: 4096},
		{name: "off tick", channel: 0, off: 4096},
		{name: "both ticks", channel: 1, on: 0xFFFF, off: 0xFFFF},
	} {
		t.Run(test.name, func(t *testing.T) {
			rec := &i2ctest.Record{}
			dev := newDev(rec, nil)
			err := dev.SetChannel(test.channel, test.on, test.off)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if len(rec.Ops) != 0 {
				t.Fatalf("expected no bus traffic, got %v", rec.Ops)
			}
		})
	}
}

func TestSetChannelPartialWrite(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: addr, W: []byte{0x0A, 0x00}},
			{Addr: addr, W: []byte{0x0B, 0x00}},
		},
		DontPanic: true,
	}
	dev := newDev(pb, nil)
	err := dev.SetChannel(1, 0, 100)
	var pe *PartialWriteError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PartialWriteError, got %v", err)
	}
	if pe.Done != 2 {
		t.Errorf("Done = %d, want 2", pe.Done)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Reg != 0x0C {
		t.Errorf("Reg = 0x%02X, want 0x0C", te.Reg)
	}
}

func TestSetChannelTransportError(t *testing.T) {
	dev := newDev(&i2ctest.Playback{DontPanic: true}, nil)
	err := dev.SetChannel(1, 0, 100)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	var pe *PartialWriteError
	if errors.As(err, &pe) {
		t.Fatalf("nothing was written, got %v", err)
	}
}

func TestSetAllChannels(t *testing.T) {
	rec := &i2ctest.Record{}
	dev := newDev(rec, nil)
	if err := dev.SetAllChannels(0x100, 0x200); err != nil {
		t.Fatal(err)
	}
	want := []i2ctest.IO{
		{Addr: addr, W: []byte{0xFA, 0x00}},
		{Addr: addr, W: []byte{0xFB, 0x01}},
		{Addr: addr, W: []byte{0xFC, 0x00}},
		{Addr: addr, W: []byte{0xFD, 0x02}},
	}
	if diff := cmp.Diff(want, rec.Ops, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if err := dev.SetAllChannels(4096, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSetPin(t *testing.T) {
	rec := &i2ctest.Record{}
	dev := newDev(rec, nil)
	if err := dev.SetPin(9, gpio.High); err != nil {
		t.Fatal(err)
	}
	if err := dev.SetPin(9, gpio.Low); err != nil {
		t.Fatal(err)
	}
	want := []i2ctest.IO{
		{Addr: addr, W: []byte{0x2A, 0x00}},
		{Addr: addr, W: []byte{0x2B, 0x10}},
		{Addr: addr, W: []byte{0x2C, 0x00}},
		{Addr: addr, W: []byte{0x2D, 0x00}},

		{Addr: addr, W: []byte{0x2A, 0x00}},
		{Addr: addr, W: []byte{0x2B, 0x00}},
		{Addr: addr, W: []byte{0x2C, 0x00}},
		{Addr: addr, W: []byte{0x2D, 0x10}},
	}
	if diff := cmp.Diff(want, rec.Ops, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if err := dev.SetPin(16, gpio.High); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSetFrequency(t *testing.T) {
	ops := []i2ctest.IO{
		{Addr: addr, W: []byte{0x00}, R: []byte{0x01}},
		{Addr: addr, W: []byte{0x00, 0x11}},
		{Addr: addr, W: []byte{0xFE, 0x03}},
		{Addr: addr, W: []byte{0x00, 0x01}},
		{Addr: addr, W: []byte{0x00, 0x81}},
	}
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	rec := &i2ctest.Record{Bus: pb}
	sleeps := stubSleep(t, rec)
	dev := newDev(rec, nil)

	p, err := dev.SetFrequency(1600 * physic.Hertz)
	if err != nil {
		t.Fatal(err)
	}
	if p != 3 {
		t.Errorf("prescale = %d, want 3", p)
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
	// The restart bit is only set after the oscillator had time to settle.
	if diff := cmp.Diff([]int{4}, *sleeps); diff != "" {
		t.Errorf("sleep positions (-want +got):\n%s", diff)
	}
}

func TestSetFrequencyKeepsModeBits(t *testing.T) {
	// RESTART already set in the old mode is masked out of the sleep write.
	ops := []i2ctest.IO{
		{Addr: addr, W: []byte{0x00}, R: []byte{0xA1}},
		{Addr: addr, W: []byte{0x00, 0x31}},
		{Addr: addr, W: []byte{0xFE, 0x79}},
		{Addr: addr, W: []byte{0x00, 0xA1}},
		{Addr: addr, W: []byte{0x00, 0xA1}},
	}
	stubSleep(t, nil)
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev := newDev(pb, nil)
	p, err := dev.SetFrequency(50 * physic.Hertz)
	if err != nil {
		t.Fatal(err)
	}
	if p != 121 {
		t.Errorf("prescale = %d, want 121", p)
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSetFrequencyValidation(t *testing.T) {
	for _, f := range []physic.Frequency{0, -physic.Hertz, physic.Hertz, physic.MegaHertz} {
		rec := &i2ctest.Record{}
		dev := newDev(rec, nil)
		if _, err := dev.SetFrequency(f); !errors.Is(err, ErrValidation) {
			t.Errorf("SetFrequency(%s): expected ErrValidation, got %v", f, err)
		}
		if len(rec.Ops) != 0 {
			t.Errorf("SetFrequency(%s): expected no bus traffic, got %v", f, rec.Ops)
		}
	}
}

func TestSetFrequencyPartialWrite(t *testing.T) {
	stubSleep(t, nil)
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: addr, W: []byte{0x00}, R: []byte{0x01}},
			{Addr: addr, W: []byte{0x00, 0x11}},
		},
		DontPanic: true,
	}
	dev := newDev(pb, nil)
	_, err := dev.SetFrequency(1600 * physic.Hertz)
	var pe *PartialWriteError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PartialWriteError, got %v", err)
	}
	if pe.Op != "set frequency" || pe.Done != 1 {
		t.Errorf("unexpected error %#v", pe)
	}
}

func TestFrequency(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: addr, W: []byte{0xFE}, R: []byte{0x03}}},
		DontPanic: true,
	}
	dev := newDev(pb, nil)
	f, err := dev.Frequency()
	if err != nil {
		t.Fatal(err)
	}
	if f != 1525878906*physic.MicroHertz {
		t.Errorf("Frequency() = %s", f)
	}
}

func TestPrescaleFor(t *testing.T) {
	if got := PrescaleFor(1600 * physic.Hertz); got != 3 {
		t.Errorf("PrescaleFor(1600Hz) = %d, want 3", got)
	}
	if got := PrescaleFor(50 * physic.Hertz); got != 121 {
		t.Errorf("PrescaleFor(50Hz) = %d, want 121", got)
	}
	if got := FrequencyFor(3); got != 1525878906*physic.MicroHertz {
		t.Errorf("FrequencyFor(3) = %s", got)
	}
}

func TestFrequencyRoundTrip(t *testing.T) {
	// Written then read back, a frequency lands within one prescale step.
	for hz := int64(24); hz <= 1526; hz++ {
		f := physic.Frequency(hz) * physic.Hertz
		p := PrescaleFor(f)
		if p < 3 || p > 0xFF {
			continue
		}
		got := FrequencyFor(byte(p))
		step := FrequencyFor(byte(p-1)) - got
		diff := got - f
		if diff < 0 {
			diff = -diff
		}
		if diff > step {
			t.Errorf("%s: read back %s (prescale %d), off by %s, more than one step of %s", f, got, p, diff, step)
		}
	}
}

func TestSetInvert(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: addr, W: []byte{0x01}, R: []byte{0x04}},
			{Addr: addr, W: []byte{0x01, 0x14}},
			{Addr: addr, W: []byte{0x01}, R: []byte{0x14}},
			{Addr: addr, W: []byte{0x01, 0x04}},
		},
		DontPanic: true,
	}
	dev := newDev(pb, nil)
	if err := dev.SetInvert(true); err != nil {
		t.Fatal(err)
	}
	if err := dev.SetInvert(false); err != nil {
		t.Fatal(err)
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReset(t *testing.T) {
	rec := &i2ctest.Record{}
	dev := newDev(rec, nil)
	if err := dev.Reset(); err != nil {
		t.Fatal(err)
	}
	want := []i2ctest.IO{{Addr: GeneralCallAddr, W: []byte{0x00}}}
	if diff := cmp.Diff(want, rec.Ops, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	err := newDev(&i2ctest.Playback{DontPanic: true}, nil).Reset()
	var te *TransportError
	if !errors.As(err, &te) || te.Reg != -1 {
		t.Errorf("expected register-less TransportError, got %v", err)
	}
}

func TestHalt(t *testing.T) {
	rec := &i2ctest.Record{}
	dev := newDev(rec, nil)
	if err := dev.Halt(); err != nil {
		t.Fatal(err)
	}
	want := []i2ctest.IO{
		{Addr: addr, W: []byte{0xFA, 0x00}},
		{Addr: addr, W: []byte{0xFB, 0x00}},
		{Addr: addr, W: []byte{0xFC, 0x00}},
		{Addr: addr, W: []byte{0xFD, 0x10}},
	}
	if diff := cmp.Diff(want, rec.Ops, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestConcurrentWritesAreNotInterleaved(t *testing.T) {
	rec := &i2ctest.Record{}
	dev := newDev(rec, nil)
	var wg sync.WaitGroup
	for ch := range NumChannels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dev.SetChannel(ch, 0, uint16(ch)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if len(rec.Ops) != 4*NumChannels {
		t.Fatalf("got %d ops", len(rec.Ops))
	}
	for i := 0; i < len(rec.Ops); i += 4 {
		base := rec.Ops[i].W[0]
		for j := range 4 {
			if got := rec.Ops[i+j].W[0]; got != base+byte(j) {
				t.Fatalf("op %d: register 0x%02X follows 0x%02X", i+j, got, base)
			}
		}
	}
}
