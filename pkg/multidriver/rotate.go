// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package multidriver

import "multidriver-go/pkg/stepper"

// StepsForRotation converts per-slot rotation amounts into step counts
// using each motor's own conversion. A zero amount contributes 0 steps
// without consulting the motor.
func (g *Group) StepsForRotation(deg ...float64) []int64 {
	steps := make([]int64, len(g.motors))
	for i, m := range g.motors {
		if i < len(deg) && deg[i] != 0 {
			steps[i] = m.StepsForRotation(deg[i])
		}
	}
	return steps
}

func toFloat(deg []int64) []float64 {
	out := make([]float64, len(deg))
	for i, d := range deg {
		out[i] = float64(d)
	}
	return out
}

// StartRotate starts a move given in degrees per slot.
func (g *Group) StartRotate(deg ...float64) {
	g.StartMove(g.StepsForRotation(deg...)...)
}

// Rotate performs a blocking move given in degrees per slot.
func (g *Group) Rotate(deg ...float64) {
	g.Move(g.StepsForRotation(deg...)...)
}

// StartRotateInt starts a move given in whole degrees per slot.
func (g *Group) StartRotateInt(deg ...int64) {
	g.StartRotate(toFloat(deg)...)
}

// RotateInt performs a blocking move given in whole degrees per slot.
func (g *Group) RotateInt(deg ...int64) {
	g.Rotate(toFloat(deg)...)
}

// SetMicrostep sets the same microstep divisor on every motor.
func (g *Group) SetMicrostep(microsteps uint) {
	for _, m := range g.motors {
		m.SetMicrostep(microsteps)
	}
}

// Enable energizes every motor.
func (g *Group) Enable() {
	for _, m := range g.motors {
		m.Enable()
	}
}

// Disable releases every motor.
func (g *Group) Disable() {
	for _, m := range g.motors {
		m.Disable()
	}
}

// SetSpeedProfile applies one speed profile to every motor.
func (g *Group) SetSpeedProfile(mode stepper.Mode, accel, decel int) {
	for _, m := range g.motors {
		m.SetSpeedProfile(mode, accel, decel)
	}
}
