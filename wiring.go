// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package motorhat

import "github.com/GermanBionicSystems/motorhat/stepper"

// Motor terminals of the board and the PCA9685 channels behind them.
var (
	M1 = stepper.Winding{PWM: 8, IN2: 9, IN1: 10}
	M2 = stepper.Winding{PWM: 13, IN2: 12, IN1: 11}
	M3 = stepper.Winding{PWM: 2, IN2: 3, IN1: 4}
	M4 = stepper.Winding{PWM: 7, IN2: 6, IN1: 5}
)

// Ports maps a stepper port number to the two terminals its windings are
// connected to.
var Ports = map[int][2]stepper.Winding{
	1: {M1, M2},
	2: {M3, M4},
}
