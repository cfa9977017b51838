// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package multidriver schedules up to four stepper motors that move at the
// same time, each on its own timing, from a single polling loop.
//
// Every motor reports how long it can wait before it next needs attention.
// A tick services the motors that are due, counts the others down by the
// elapsed interval, and returns the shortest remaining wait. Callers either
// loop on NextAction themselves, interleaving other work between ticks, or
// use Move to block until every motor has finished.
//
// A Group is not safe for concurrent use. One goroutine drives it for the
// lifetime of a move.
package multidriver

import (
	"fmt"
	"strings"
	"time"

	"multidriver-go/pkg/clock"
	"multidriver-go/pkg/errors"
	"multidriver-go/pkg/log"
	"multidriver-go/pkg/stepper"
)

const (
	// MaxMotors is the largest group size.
	MaxMotors = 4

	// MinMotors is the smallest group size.
	MinMotors = 2
)

// DispatchOrder decides which due motor is serviced first within a tick.
// Motors with coincident deadlines always fire on the same tick; the order
// only affects the sequence of calls inside it.
type DispatchOrder int

const (
	// Ascending services slot 0 first.
	Ascending DispatchOrder = iota
	// Descending services the last slot first.
	Descending
)

func (o DispatchOrder) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// ParseDispatchOrder parses "ascending" or "descending". An empty string
// selects Ascending.
func ParseDispatchOrder(s string) (DispatchOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ascending":
		return Ascending, nil
	case "descending":
		return Descending, nil
	}
	return Ascending, errors.New(errors.ErrConfigValidation, fmt.Sprintf("unknown dispatch order %q", s))
}

// startPending marks a newly started motor as due on the first tick.
const startPending = time.Microsecond

// Group drives a fixed set of motors through a shared tick loop.
type Group struct {
	motors []Motor

	// pending[i] is the time until slot i next needs attention; 0 means
	// finished or not moving.
	pending [MaxMotors]time.Duration
	// active has bit i set for slots started by the current move.
	active uint8

	ready    bool
	nextWait time.Duration

	lastEnd      time.Duration
	lastEndKnown bool

	order        DispatchOrder
	clock        clock.Clock
	observer     Observer
	moveObserver MoveObserver
	logger       *log.Logger

	seq       uint64
	moveStart time.Duration
	reported  bool
}

// New creates a group bound to motors, in slot order. It needs between
// MinMotors and MaxMotors non-nil motors.
func New(motors ...Motor) (*Group, error) {
	if len(motors) < MinMotors || len(motors) > MaxMotors {
		return nil, errors.GroupSizeError(len(motors), MinMotors, MaxMotors)
	}
	for i, m := range motors {
		if m == nil {
			return nil, errors.GroupMotorError(i, "motor is nil")
		}
	}
	g := &Group{
		motors:   append([]Motor(nil), motors...),
		ready:    true,
		clock:    clock.System(),
		logger:   log.GetLogger("multidriver"),
		reported: true,
	}
	return g, nil
}

// SetClock replaces the time source used for pacing.
func (g *Group) SetClock(c clock.Clock) {
	g.clock = c
}

// SetDispatchOrder selects the order in which due motors are serviced.
func (g *Group) SetDispatchOrder(o DispatchOrder) {
	g.order = o
}

// DispatchOrder returns the current dispatch order.
func (g *Group) DispatchOrder() DispatchOrder {
	return g.order
}

// SetObserver installs a per-tick observer. Pass nil to remove it.
func (g *Group) SetObserver(o Observer) {
	g.observer = o
}

// SetMoveObserver installs a move start/finish observer.
func (g *Group) SetMoveObserver(o MoveObserver) {
	g.moveObserver = o
}

// SetLogger replaces the group logger.
func (g *Group) SetLogger(l *log.Logger) {
	g.logger = l
}

// Count returns the number of motors in the group.
func (g *Group) Count() int {
	return len(g.motors)
}

// Motor returns the motor in slot i.
func (g *Group) Motor(i int) Motor {
	return g.motors[i]
}

// Ready reports whether no move is in progress.
func (g *Group) Ready() bool {
	return g.ready
}

// NextWait returns the wait computed by the last tick.
func (g *Group) NextWait() time.Duration {
	return g.nextWait
}

// Pending returns the countdown of slot i.
func (g *Group) Pending(i int) time.Duration {
	return g.pending[:len(g.motors)][i]
}

// each calls fn for every slot in dispatch order.
func (g *Group) each(fn func(i int)) {
	n := len(g.motors)
	if g.order == Descending {
		for i := n - 1; i >= 0; i-- {
			fn(i)
		}
		return
	}
	for i := 0; i < n; i++ {
		fn(i)
	}
}

// StartMove begins a move with one signed step count per slot. Missing
// trailing counts are 0 and extra counts are ignored. Motors given 0 steps
// are left untouched for the whole move. The caller then drives the move
// with NextAction until Ready.
func (g *Group) StartMove(steps ...int64) {
	g.active = 0
	g.each(func(i int) {
		var s int64
		if i < len(steps) {
			s = steps[i]
		}
		if s != 0 {
			g.motors[i].StartMove(s)
			g.pending[i] = startPending
			g.active |= 1 << uint(i)
		} else {
			g.pending[i] = 0
		}
	})
	g.ready = false
	g.lastEndKnown = false
	g.nextWait = startPending
	g.seq = 0
	g.moveStart = g.clock.Now()
	g.reported = false

	if g.logger != nil {
		g.logger.WithFields(log.Fields{
			"steps":  steps,
			"active": g.active,
		}).Debug("move started")
	}
	if g.moveObserver != nil {
		g.moveObserver.MoveStarted(steps)
	}
}

// NextAction runs one tick and returns the time until the next tick is due,
// or 0 once every motor has finished.
//
// The tick first waits until the previous result has elapsed since the end
// of the previous tick, measured on the clock, so processing time does not
// accumulate as drift. It then services every due motor, counts the others
// down, and recomputes the shortest strictly positive countdown. A motor is
// due when its countdown is at most the wait, so coincident deadlines fire
// together. Finished motors of the current move stay due and are expected to
// keep reporting 0.
func (g *Group) NextAction() time.Duration {
	var deadline time.Duration
	if g.lastEndKnown {
		deadline = g.lastEnd + g.nextWait
	} else {
		deadline = g.clock.Now() + g.nextWait
	}
	start := clock.SleepUntil(g.clock, deadline)

	var lateness time.Duration
	if g.lastEndKnown && start > deadline {
		lateness = start - deadline
	}
	wait := g.nextWait

	var fired uint8
	g.each(func(i int) {
		if g.active&(1<<uint(i)) == 0 {
			return
		}
		if g.pending[i] <= wait {
			next := g.motors[i].NextAction()
			if next < 0 {
				next = 0
			}
			g.pending[i] = next
			fired |= 1 << uint(i)
		} else {
			g.pending[i] -= wait
		}
	})

	end := g.clock.Now()
	g.lastEnd = end
	g.lastEndKnown = true

	var next time.Duration
	for _, p := range g.pending[:len(g.motors)] {
		if p > 0 && (next == 0 || p < next) {
			next = p
		}
	}
	g.nextWait = next
	g.ready = next == 0
	g.seq++

	if g.observer != nil {
		g.observer(TickEvent{
			Seq:      g.seq,
			Start:    start,
			End:      end,
			Wait:     wait,
			Lateness: lateness,
			Fired:    fired,
			Pending:  g.pending,
			Count:    len(g.motors),
			NextWait: next,
		})
	}
	if g.ready && !g.reported {
		g.finishMove(end)
	}
	return next
}

func (g *Group) finishMove(end time.Duration) {
	g.reported = true
	elapsed := end - g.moveStart
	if g.logger != nil {
		g.logger.WithFields(log.Fields{
			"ticks":   g.seq,
			"elapsed": elapsed.String(),
		}).Debug("move finished")
	}
	if g.moveObserver != nil {
		g.moveObserver.MoveFinished(g.seq, elapsed)
	}
}

// Move runs a whole move and returns once every motor has finished. A motor
// that never reports completion blocks Move forever.
func (g *Group) Move(steps ...int64) {
	g.StartMove(steps...)
	for !g.ready {
		g.NextAction()
	}
}

// StartBrake asks every motor still moving to decelerate to a stop. The
// following ticks drive the deceleration.
func (g *Group) StartBrake() {
	g.each(func(i int) {
		if g.pending[i] > 0 {
			g.motors[i].StartBrake()
		}
	})
}

// Stop halts every motor still moving. The next tick sees them report 0 and
// the group becomes ready.
func (g *Group) Stop() {
	g.each(func(i int) {
		if g.pending[i] > 0 {
			g.motors[i].Stop()
		}
	})
}

// IsRunning asks each motor for its state and reports whether any of them
// is not stopped. It does not consult the countdowns, so it also reflects
// motion started outside the group.
func (g *Group) IsRunning() bool {
	for _, m := range g.motors {
		if m.CurrentState() != stepper.Stopped {
			return true
		}
	}
	return false
}
