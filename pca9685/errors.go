// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pca9685

import (
	"errors"
	"fmt"
)

// ErrValidation is returned when an address, channel, tick or frequency is
// out of range. No bus transaction has been issued when it is returned.
var ErrValidation = errors.New("pca9685: invalid argument")

// TransportError is returned when an I²C transaction failed.
type TransportError struct {
	// Op is the driver operation that issued the transaction.
	Op string
	// Reg is the register addressed, or -1 for a register-less send.
	Reg int
	// Err is the error returned by the bus.
	Err error
}

func (e *TransportError) Error() string {
	if e.Reg < 0 {
		return fmt.Sprintf("pca9685: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("pca9685: %s: register 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PartialWriteError is returned when an operation made of several register
// writes failed after some of them reached the chip. A read failing after
// the last write of an operation is reported as a plain TransportError. The registers are left
// in an inconsistent state; running the initialization again with New is
// the only way to get back to a known state.
type PartialWriteError struct {
	Op string
	// Done is the number of register writes that succeeded.
	Done int
	// Err is the *TransportError of the failing transaction.
	Err error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%v (after %d register write(s))", e.Err, e.Done)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
