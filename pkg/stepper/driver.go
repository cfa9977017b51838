// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package stepper provides a software model of a basic step/dir stepper
// driver. It generates one pulse per NextAction call and reports the interval
// until the next pulse, following either a constant-speed or a trapezoidal
// (linear acceleration) profile.
package stepper

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// State is the motion state of a driver.
type State int

const (
	Stopped State = iota
	Accelerating
	Cruising
	Decelerating
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Accelerating:
		return "accelerating"
	case Cruising:
		return "cruising"
	case Decelerating:
		return "decelerating"
	default:
		return "unknown"
	}
}

// Mode selects the speed profile.
type Mode int

const (
	ConstantSpeed Mode = iota
	LinearSpeed
)

func (m Mode) String() string {
	switch m {
	case ConstantSpeed:
		return "constant"
	case LinearSpeed:
		return "linear"
	default:
		return "unknown"
	}
}

// ParseMode parses "constant" or "linear".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constant", "constant_speed":
		return ConstantSpeed, nil
	case "linear", "linear_speed":
		return LinearSpeed, nil
	}
	return ConstantSpeed, fmt.Errorf("stepper: unknown speed mode %q", s)
}

// Config holds the mechanical and profile parameters of a driver.
type Config struct {
	// MotorSteps is the number of full steps per revolution.
	MotorSteps int
	// RPM is the cruise speed.
	RPM float64
	// Microsteps is the active microstep divisor.
	Microsteps uint
	// MaxMicrostep is the largest divisor the driver chip supports.
	MaxMicrostep uint
	Mode         Mode
	// Accel and Decel are in full steps/s².
	Accel int
	Decel int
}

// DefaultConfig returns a 200-step motor at 60 RPM, full stepping.
func DefaultConfig() Config {
	return Config{
		MotorSteps:   200,
		RPM:          60,
		Microsteps:   1,
		MaxMicrostep: 128,
		Mode:         ConstantSpeed,
		Accel:        1000,
		Decel:        1000,
	}
}

// Driver is a software step/dir driver. It is not safe for concurrent use;
// the goroutine that ticks it owns it.
type Driver struct {
	name string
	cfg  Config
	pins Pins

	enabled bool
	forward bool

	stepsRemaining int64
	stepCount      int64
	stepsToCruise  int64
	stepsToBrake   int64

	// Pulse bookkeeping in microseconds.
	stepPulse       int64
	cruiseStepPulse int64
	rest            int64

	position int64
}

// New creates a driver. Zero-valued config fields take their defaults and
// nil pins become NopPin.
func New(name string, cfg Config, pins Pins) *Driver {
	def := DefaultConfig()
	if cfg.MotorSteps <= 0 {
		cfg.MotorSteps = def.MotorSteps
	}
	if cfg.RPM <= 0 {
		cfg.RPM = def.RPM
	}
	if cfg.MaxMicrostep == 0 {
		cfg.MaxMicrostep = def.MaxMicrostep
	}
	if !validMicrostep(cfg.Microsteps, cfg.MaxMicrostep) {
		cfg.Microsteps = def.Microsteps
	}
	if cfg.Accel <= 0 {
		cfg.Accel = def.Accel
	}
	if cfg.Decel <= 0 {
		cfg.Decel = def.Decel
	}
	return &Driver{
		name: name,
		cfg:  cfg,
		pins: pins.withDefaults(),
	}
}

// Name returns the driver name.
func (d *Driver) Name() string { return d.name }

// Config returns the current parameters.
func (d *Driver) Config() Config { return d.cfg }

// Microsteps returns the active microstep divisor.
func (d *Driver) Microsteps() uint { return d.cfg.Microsteps }

// Enabled reports whether the driver outputs are enabled.
func (d *Driver) Enabled() bool { return d.enabled }

// Position returns the signed number of steps taken since creation.
func (d *Driver) Position() int64 { return d.position }

// StepsRemaining returns the steps left in the current move.
func (d *Driver) StepsRemaining() int64 { return d.stepsRemaining }

// SetRPM changes the cruise speed for subsequent moves.
func (d *Driver) SetRPM(rpm float64) {
	if rpm > 0 {
		d.cfg.RPM = rpm
	}
}

// SetMicrostep selects a microstep divisor. Values that are not a power of
// two no larger than MaxMicrostep are ignored.
func (d *Driver) SetMicrostep(microsteps uint) {
	if validMicrostep(microsteps, d.cfg.MaxMicrostep) {
		d.cfg.Microsteps = microsteps
	}
}

func validMicrostep(ms, max uint) bool {
	for v := uint(1); v <= max; v <<= 1 {
		if v == ms {
			return true
		}
	}
	return false
}

// SetSpeedProfile selects the profile. Non-positive accel or decel values
// keep the previous setting.
func (d *Driver) SetSpeedProfile(mode Mode, accel, decel int) {
	d.cfg.Mode = mode
	if accel > 0 {
		d.cfg.Accel = accel
	}
	if decel > 0 {
		d.cfg.Decel = decel
	}
}

// Enable energizes the driver. The enable line is active low.
func (d *Driver) Enable() {
	d.pins.Enable.Set(false)
	d.enabled = true
}

// Disable releases the motor.
func (d *Driver) Disable() {
	d.pins.Enable.Set(true)
	d.enabled = false
}

// StepsForRotation converts degrees of shaft rotation into microsteps,
// truncating toward zero.
func (d *Driver) StepsForRotation(deg float64) int64 {
	return int64(deg * float64(d.cfg.MotorSteps) * float64(d.cfg.Microsteps) / 360)
}

// StartMove begins a move of steps microsteps; the sign selects direction.
func (d *Driver) StartMove(steps int64) {
	d.forward = steps >= 0
	if steps < 0 {
		steps = -steps
	}
	d.stepsRemaining = steps
	d.stepCount = 0
	d.rest = 0

	ms := float64(d.cfg.Microsteps)
	switch d.cfg.Mode {
	case LinearSpeed:
		// full steps per second at cruise
		speed := d.cfg.RPM * float64(d.cfg.MotorSteps) / 60
		accel := float64(d.cfg.Accel)
		decel := float64(d.cfg.Decel)

		d.stepsToCruise = int64(speed * speed * ms / (2 * accel))
		d.stepsToBrake = d.stepsToCruise * int64(d.cfg.Accel) / int64(d.cfg.Decel)
		if d.stepsRemaining < d.stepsToCruise+d.stepsToBrake {
			// too short to reach cruise speed
			d.stepsToCruise = int64(float64(d.stepsRemaining) * decel / (accel + decel))
			d.stepsToBrake = d.stepsRemaining - d.stepsToCruise
		}
		// c0 with the 0.676 correction factor for the first interval
		d.stepPulse = int64(1e6 * 0.676 * math.Sqrt(2/accel/ms))
		d.cruiseStepPulse = int64(1e6 / speed / ms)
	default:
		d.stepsToCruise = 0
		d.stepsToBrake = 0
		d.stepPulse = int64(60e6 / float64(d.cfg.MotorSteps) / ms / d.cfg.RPM)
		d.cruiseStepPulse = d.stepPulse
	}
}

// NextAction emits one step pulse and returns the time until the next one
// is due, or 0 once the move is complete. Calling it after completion keeps
// returning 0.
func (d *Driver) NextAction() time.Duration {
	if d.stepsRemaining <= 0 {
		return 0
	}

	// direction is latched on the rising step edge
	d.pins.Dir.Set(d.forward)
	d.pins.Step.Set(true)
	pulse := d.stepPulse
	d.calcStepPulse()
	d.pins.Step.Set(false)

	if d.forward {
		d.position++
	} else {
		d.position--
	}

	if pulse < 1 {
		pulse = 1
	}
	return time.Duration(pulse) * time.Microsecond
}

// calcStepPulse advances the step counters and computes the next interval
// with the integer-remainder ramp recurrence.
func (d *Driver) calcStepPulse() {
	if d.stepsRemaining <= 0 {
		return
	}
	d.stepsRemaining--
	d.stepCount++

	if d.cfg.Mode != LinearSpeed {
		return
	}
	switch d.CurrentState() {
	case Accelerating:
		if d.stepCount < d.stepsToCruise {
			den := 4*d.stepCount + 1
			d.stepPulse -= (2*d.stepPulse + d.rest) / den
			d.rest = (2*d.stepPulse + d.rest) % den
		} else {
			// the series only approximates the target; snap to it
			d.stepPulse = d.cruiseStepPulse
			d.rest = 0
		}
	case Decelerating:
		den := -4*d.stepsRemaining + 1
		d.stepPulse -= (2*d.stepPulse + d.rest) / den
		d.rest = (2*d.stepPulse + d.rest) % den
	}
}

// CurrentState reports the motion state derived from the step counters.
func (d *Driver) CurrentState() State {
	switch {
	case d.stepsRemaining <= 0:
		return Stopped
	case d.stepsRemaining <= d.stepsToBrake:
		return Decelerating
	case d.stepCount <= d.stepsToCruise:
		return Accelerating
	default:
		return Cruising
	}
}

// StartBrake shortens the move so the motor decelerates to a stop using the
// configured profile. It does nothing when already stopped or braking.
func (d *Driver) StartBrake() {
	switch d.CurrentState() {
	case Cruising:
		d.stepsRemaining = d.stepsToBrake
	case Accelerating:
		d.stepsRemaining = d.stepCount * int64(d.cfg.Accel) / int64(d.cfg.Decel)
	}
}

// Stop abandons the move immediately.
func (d *Driver) Stop() {
	d.stepsRemaining = 0
}
