package multidriver

import (
	"time"

	"multidriver-go/pkg/stepper"
)

// call is one recorded motor invocation.
type call struct {
	Motor string
	Op    string
	Arg   int64
}

type callLog struct {
	calls []call
}

func (l *callLog) add(motor, op string, arg int64) {
	l.calls = append(l.calls, call{Motor: motor, Op: op, Arg: arg})
}

// fakeMotor steps at a fixed interval and records every scheduling call.
type fakeMotor struct {
	name       string
	log        *callLog
	interval   time.Duration
	stepsPer90 int64

	remaining  int64
	microsteps uint
	enabled    bool
	mode       stepper.Mode
}

func newFake(name string, log *callLog, interval time.Duration) *fakeMotor {
	return &fakeMotor{name: name, log: log, interval: interval, stepsPer90: 50}
}

func (m *fakeMotor) StartMove(steps int64) {
	m.log.add(m.name, "start", steps)
	if steps < 0 {
		steps = -steps
	}
	m.remaining = steps
}

func (m *fakeMotor) NextAction() time.Duration {
	m.log.add(m.name, "tick", 0)
	if m.remaining == 0 {
		return 0
	}
	m.remaining--
	return m.interval
}

func (m *fakeMotor) StartBrake() {
	m.log.add(m.name, "brake", 0)
	if m.remaining > 2 {
		m.remaining = 2
	}
}

func (m *fakeMotor) Stop() {
	m.log.add(m.name, "stop", 0)
	m.remaining = 0
}

func (m *fakeMotor) CurrentState() stepper.State {
	if m.remaining > 0 {
		return stepper.Cruising
	}
	return stepper.Stopped
}

func (m *fakeMotor) StepsForRotation(deg float64) int64 {
	return int64(deg * float64(m.stepsPer90) / 90)
}

func (m *fakeMotor) SetMicrostep(microsteps uint) { m.microsteps = microsteps }
func (m *fakeMotor) Enable()                      { m.enabled = true }
func (m *fakeMotor) Disable()                     { m.enabled = false }

func (m *fakeMotor) SetSpeedProfile(mode stepper.Mode, accel, decel int) {
	m.mode = mode
}
