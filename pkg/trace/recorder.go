// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package trace records the ticks of a group move and summarises them.
package trace

import (
	"sync"
	"time"

	"multidriver-go/pkg/multidriver"
)

// DefaultCapacity is the number of ticks a Recorder keeps.
const DefaultCapacity = 4096

// Recorder keeps the most recent ticks of the current move in a ring and
// the tick at which each slot finished. It serves as both a tick and a
// move observer, and its reads are safe while another goroutine ticks.
type Recorder struct {
	mu sync.Mutex

	ring  []multidriver.TickEvent
	next  int
	full  bool
	total uint64

	steps    []int64
	finish   [multidriver.MaxMotors]uint64
	dispatch [multidriver.MaxMotors]uint64
	count    int
	ticks    uint64
	elapsed  time.Duration
	done     bool
}

// NewRecorder creates a recorder holding up to capacity ticks. A
// non-positive capacity selects DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{ring: make([]multidriver.TickEvent, capacity)}
}

// Observe records one tick. It has the multidriver.Observer signature.
func (r *Recorder) Observe(e multidriver.TickEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = e
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
	r.total++
	r.count = e.Count

	for i := 0; i < e.Count; i++ {
		if !e.FiredSlot(i) {
			continue
		}
		r.dispatch[i]++
		if r.finish[i] == 0 && e.Pending[i] == 0 {
			r.finish[i] = e.Seq
		}
	}
}

// MoveStarted implements multidriver.MoveObserver. It clears the previous
// move.
func (r *Recorder) MoveStarted(steps []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next, r.full, r.total = 0, false, 0
	r.steps = append(r.steps[:0], steps...)
	r.finish = [multidriver.MaxMotors]uint64{}
	r.dispatch = [multidriver.MaxMotors]uint64{}
	r.ticks, r.elapsed, r.done = 0, 0, false
}

// MoveFinished implements multidriver.MoveObserver.
func (r *Recorder) MoveFinished(ticks uint64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks, r.elapsed, r.done = ticks, elapsed, true
}

// Events returns the retained ticks, oldest first.
func (r *Recorder) Events() []multidriver.TickEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eventsLocked()
}

func (r *Recorder) eventsLocked() []multidriver.TickEvent {
	if !r.full {
		return append([]multidriver.TickEvent(nil), r.ring[:r.next]...)
	}
	out := make([]multidriver.TickEvent, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// Dropped returns how many ticks of the current move fell out of the ring.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total <= uint64(len(r.ring)) {
		return 0
	}
	return r.total - uint64(len(r.ring))
}
