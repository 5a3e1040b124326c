// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pca9685

import (
	"periph.io/x/conn/v3"
)

// Register addresses from the datasheet.
const (
	regMode1     byte = 0x00
	regMode2     byte = 0x01
	regLED0OnL   byte = 0x06
	regAllLEDOnL byte = 0xFA
	regPrescale  byte = 0xFE

	// Each channel owns ON_L, ON_H, OFF_L and OFF_H.
	channelStride = 4
)

// MODE1 bits.
const (
	mode1AllCall byte = 1 << 0
	mode1Sleep   byte = 1 << 4
	mode1Restart byte = 1 << 7
)

// MODE2 bits.
const (
	mode2OutDrv byte = 0x04
	mode2Invert byte = 1 << 4
)

// cmdSoftwareReset is sent to the general call address.
const cmdSoftwareReset byte = 0x00

// GeneralCallAddr is the I²C general call address.
const GeneralCallAddr uint16 = 0x00

// txn issues the register transactions of one logical operation in order
// and remembers how many writes went through, so that a failure part way
// through can be reported as a PartialWriteError.
type txn struct {
	c    conn.Conn
	op   string
	done int
}

func (t *txn) write(reg, v byte) error {
	if err := t.c.Tx([]byte{reg, v}, nil); err != nil {
		return t.fail(int(reg), err)
	}
	t.done++
	return nil
}

func (t *txn) read(reg byte) (byte, error) {
	rx := make([]byte, 1)
	if err := t.c.Tx([]byte{reg}, rx); err != nil {
		return 0, t.fail(int(reg), err)
	}
	return rx[0], nil
}

// send writes a single byte without a register address.
func (t *txn) send(c conn.Conn, b byte) error {
	if err := c.Tx([]byte{b}, nil); err != nil {
		return t.fail(-1, err)
	}
	t.done++
	return nil
}

func (t *txn) fail(reg int, err error) error {
	te := &TransportError{Op: t.op, Reg: reg, Err: err}
	if t.done > 0 {
		return &PartialWriteError{Op: t.op, Done: t.done, Err: te}
	}
	return te
}

// writeTicks writes an on/off tick pair to the four registers starting at
// base, low byte first.
func (t *txn) writeTicks(base byte, on, off uint16) error {
	for i, v := range [...]byte{byte(on & 0xFF), byte(on >> 8), byte(off & 0xFF), byte(off >> 8)} {
		if err := t.write(base+byte(i), v); err != nil {
			return err
		}
	}
	return nil
}

// modeRegister is a read-modify-write view of MODE1 or MODE2. The chip is
// the source of truth: every update reads the register first. The last
// value seen is kept for diagnostics only.
type modeRegister struct {
	addr byte
	got  bool
	last byte
}

func (m *modeRegister) read(t *txn) (byte, error) {
	v, err := t.read(m.addr)
	if err == nil {
		m.got = true
		m.last = v
	}
	return v, err
}

func (m *modeRegister) write(t *txn, v byte) error {
	if err := t.write(m.addr, v); err != nil {
		return err
	}
	m.got = true
	m.last = v
	return nil
}

// update reads the register, computes the new value with fn and writes it
// back. It returns the value read.
func (m *modeRegister) update(t *txn, fn func(old byte) byte) (byte, error) {
	old, err := m.read(t)
	if err != nil {
		return 0, err
	}
	return old, m.write(t, fn(old))
}
