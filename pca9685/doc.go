// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pca9685 drives the NXP PCA9685 16-channel, 12-bit PWM controller
// over I²C.
//
// Each channel is programmed with a pair of 12-bit counter positions: the
// tick at which the output turns on and the tick at which it turns off
// within one PWM period. The period itself is shared by all channels and is
// set through the prescale register.
//
// Dev serializes every register sequence it issues, so a single Dev may be
// shared between goroutines. Two Dev values must not be created for the same
// chip.
//
// # Datasheet
//
// https://www.nxp.com/docs/en/data-sheet/PCA9685.pdf
package pca9685
