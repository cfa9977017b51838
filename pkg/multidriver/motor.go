// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package multidriver

import (
	"time"

	"multidriver-go/pkg/stepper"
)

// Motor is a single-axis driver the group schedules. The group borrows
// motors: it never creates, closes or replaces them.
type Motor interface {
	// StartMove begins a bounded move; the sign selects direction.
	StartMove(steps int64)

	// NextAction performs one step of the motor's state machine and
	// returns the time until it next needs attention, or 0 when finished.
	// Once finished it must keep returning 0.
	NextAction() time.Duration

	// StartBrake begins a controlled deceleration to a stop.
	StartBrake()

	// Stop halts the motor immediately.
	Stop()

	// CurrentState reports the motion state; only Stopped is significant
	// to the group.
	CurrentState() stepper.State

	// StepsForRotation converts degrees of rotation into steps.
	StepsForRotation(deg float64) int64

	SetMicrostep(microsteps uint)
	Enable()
	Disable()
	SetSpeedProfile(mode stepper.Mode, accel, decel int)
}

var _ Motor = (*stepper.Driver)(nil)
