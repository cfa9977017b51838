// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package clock provides the monotonic time source used to pace group ticks.
//
// Readings are durations since an arbitrary epoch. The system clock sleeps
// coarsely and then spins for the last SpinThreshold so that wakeups land
// close to the requested deadline.
package clock

import (
	"sync"
	"time"
)

// SpinThreshold is the remaining time below which the system clock busy-waits
// instead of asking the OS to sleep.
const SpinThreshold = 50 * time.Microsecond

// Clock is a monotonic time source.
type Clock interface {
	// Now returns the time elapsed since the clock's epoch.
	Now() time.Duration

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// SleepUntil blocks until c reaches deadline and returns the reading at
// release. It returns immediately if the deadline already passed.
func SleepUntil(c Clock, deadline time.Duration) time.Duration {
	now := c.Now()
	if now < deadline {
		c.Sleep(deadline - now)
		now = c.Now()
	}
	return now
}

// System returns the process-wide system clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Duration {
	return monotonicNow()
}

func (c systemClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := monotonicNow() + d
	if d > SpinThreshold {
		osSleep(d - SpinThreshold)
	}
	for monotonicNow() < deadline {
	}
}

// Manual is a virtual clock. Sleep advances it instantly, so a whole move can
// be simulated without waiting in real time.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual creates a manual clock reading start.
func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

// Now returns the current virtual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep advances virtual time by d.
func (m *Manual) Sleep(d time.Duration) {
	m.Advance(d)
}

// Advance moves virtual time forward by d. Negative values are ignored.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}
