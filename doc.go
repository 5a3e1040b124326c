// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package motorhat assembles a PCA9685 based stepper motor board: the
// wiring of the motor terminals to PWM channels, a YAML configuration and
// a Hat that brings the chip and one stepper motor up from it.
//
// The drivers themselves live in the pca9685 and stepper sub-packages and
// can be used without this package.
package motorhat
