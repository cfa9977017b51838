// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package multidriver

import "time"

// TickEvent describes one completed tick.
type TickEvent struct {
	// Seq numbers ticks from 1 within a move.
	Seq uint64

	// Start is the clock reading when pacing released the tick, End the
	// reading once every due motor was serviced.
	Start time.Duration
	End   time.Duration

	// Wait is the interval the tick was paced against. Lateness is how far
	// past that interval the tick actually started; it is 0 on the first
	// tick of a move.
	Wait     time.Duration
	Lateness time.Duration

	// Fired has bit i set when slot i was due and its motor was called.
	Fired uint8

	// Pending holds every slot's countdown after the tick.
	Pending [MaxMotors]time.Duration
	Count   int

	// NextWait is the value NextAction returned.
	NextWait time.Duration
}

// FiredSlot reports whether slot i was serviced on this tick.
func (e TickEvent) FiredSlot(i int) bool {
	return e.Fired&(1<<uint(i)) != 0
}

// Observer receives one event per tick, synchronously on the ticking
// goroutine. It must not call back into the group.
type Observer func(TickEvent)

// MoveObserver is notified when moves start and finish.
type MoveObserver interface {
	MoveStarted(steps []int64)
	MoveFinished(ticks uint64, elapsed time.Duration)
}

// Chain returns an observer that forwards each event to every non-nil
// observer in order.
func Chain(obs ...Observer) Observer {
	var live []Observer
	for _, o := range obs {
		if o != nil {
			live = append(live, o)
		}
	}
	return func(e TickEvent) {
		for _, o := range live {
			o(e)
		}
	}
}

type moveObservers []MoveObserver

func (m moveObservers) MoveStarted(steps []int64) {
	for _, o := range m {
		o.MoveStarted(steps)
	}
}

func (m moveObservers) MoveFinished(ticks uint64, elapsed time.Duration) {
	for _, o := range m {
		o.MoveFinished(ticks, elapsed)
	}
}

// ChainMove combines move observers, skipping nil ones.
func ChainMove(obs ...MoveObserver) MoveObserver {
	var live moveObservers
	for _, o := range obs {
		if o != nil {
			live = append(live, o)
		}
	}
	return live
}
