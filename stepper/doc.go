// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stepper sequences a two-winding stepper motor wired to an
// H-bridge whose direction inputs and enable PWM are all driven by PWM
// controller channels, as on the Adafruit DC & Stepper Motor HAT.
//
// The motor is driven in wave (single-coil) mode: each step energizes one
// half of one winding. The current through the windings is limited by the
// PWM duty on the bridge enable inputs, set with SetStrength.
//
// A Sequencer runs at most one step loop at a time. Step returns ErrBusy
// while a loop is running.
package stepper
