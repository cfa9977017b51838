// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package reactor runs timers and cross-goroutine callbacks on a single
// dispatch goroutine. Everything that touches a motor group runs there, so
// the group itself needs no locking.
package reactor

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"multidriver-go/pkg/clock"
)

// Constants
const (
	NOW   time.Duration = 0
	NEVER time.Duration = math.MaxInt64

	// maxIdle bounds a single sleep of the dispatch loop.
	maxIdle = time.Second
)

// Common errors
var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
	ErrTimeout       = errors.New("reactor: operation timed out")
)

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to park the timer until UpdateTimer.
type TimerCallback func(eventtime time.Duration) time.Duration

// Timer represents a registered timer.
type Timer struct {
	id        uint64
	callback  TimerCallback
	waketime  time.Duration
	isRunning bool
	mu        sync.Mutex
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waketime
}

// Completion represents an async operation that will complete with a result.
type Completion struct {
	reactor *Reactor
	result  interface{}
	done    chan struct{}
	once    sync.Once
}

// Test returns true if the completion has a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the completion has a result.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the result, or nil before completion.
func (c *Completion) Result() interface{} {
	if !c.Test() {
		return nil
	}
	return c.result
}

// Complete sets the completion result and wakes any waiters. Later calls
// are ignored.
func (c *Completion) Complete(result interface{}) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// Wait blocks until the completion is done or the timeout expires.
// Returns the result or timeoutResult if the timeout expires.
func (c *Completion) Wait(timeout time.Duration, timeoutResult interface{}) interface{} {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return c.result
	case <-t.C:
		return timeoutResult
	case <-c.reactor.ctx.Done():
		return timeoutResult
	}
}

// WaitContext blocks until the completion is done, ctx is cancelled or the
// reactor ends.
func (c *Completion) WaitContext(ctx context.Context) (interface{}, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.reactor.ctx.Done():
		// a result that raced with shutdown still wins
		select {
		case <-c.done:
			return c.result, nil
		default:
			return nil, ErrReactorClosed
		}
	}
}

// Reactor manages timers, callbacks, and event dispatch.
type Reactor struct {
	mu          sync.Mutex
	timers      []*Timer
	nextTimerID uint64

	clock clock.Clock

	// Async callback queue; wake is signalled whenever it grows or a
	// timer is added.
	asyncMu    sync.Mutex
	asyncQueue []func(eventtime time.Duration)
	wake       chan struct{}

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// Running state
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a new Reactor reading time from c, or from the system clock
// when c is nil.
func New(c clock.Clock) *Reactor {
	if c == nil {
		c = clock.System()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		clock:  c,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Clock returns the reactor's time source.
func (r *Reactor) Clock() clock.Clock {
	return r.clock
}

// Monotonic returns the current reading of the reactor clock.
func (r *Reactor) Monotonic() time.Duration {
	return r.clock.Now()
}

// Context is cancelled when the reactor ends.
func (r *Reactor) Context() context.Context {
	return r.ctx
}

func (r *Reactor) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RegisterTimer registers a new timer with the given callback and wake time.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime time.Duration) *Timer {
	r.mu.Lock()
	r.nextTimerID++
	timer := &Timer{
		id:       r.nextTimerID,
		callback: callback,
		waketime: waketime,
	}
	r.timers = append(r.timers, timer)
	r.mu.Unlock()

	r.signal()
	return timer
}

// UnregisterTimer removes a timer.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer.mu.Lock()
	timer.waketime = NEVER
	timer.mu.Unlock()

	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer updates a timer's wake time. It has no effect from inside the
// timer's own callback; return the new time instead.
func (r *Reactor) UpdateTimer(timer *Timer, waketime time.Duration) {
	timer.mu.Lock()
	if timer.isRunning {
		timer.mu.Unlock()
		return
	}
	timer.waketime = waketime
	timer.mu.Unlock()
	r.signal()
}

// Completion creates a new Completion object.
func (r *Reactor) Completion() *Completion {
	return &Completion{
		reactor: r,
		done:    make(chan struct{}),
	}
}

// RegisterCallback schedules a one-shot callback at waketime.
// Returns a Completion that will contain the callback's result.
func (r *Reactor) RegisterCallback(callback func(eventtime time.Duration) interface{}, waketime time.Duration) *Completion {
	completion := r.Completion()
	var timer *Timer
	timer = r.RegisterTimer(func(eventtime time.Duration) time.Duration {
		completion.Complete(callback(eventtime))
		r.UnregisterTimer(timer)
		return NEVER
	}, NEVER)
	r.UpdateTimer(timer, waketime)
	return completion
}

// RegisterAsyncCallback runs callback on the dispatch goroutine as soon as
// possible. It is safe from any goroutine, and callbacks run in submission
// order.
func (r *Reactor) RegisterAsyncCallback(callback func(eventtime time.Duration) interface{}) *Completion {
	completion := r.Completion()
	r.asyncMu.Lock()
	r.asyncQueue = append(r.asyncQueue, func(eventtime time.Duration) {
		completion.Complete(callback(eventtime))
	})
	r.asyncMu.Unlock()
	r.signal()
	return completion
}

// Run starts the reactor's dispatch loop.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return // Already running
	}
	r.wg.Add(1)
	go r.dispatchLoop()
}

// End signals the reactor to stop.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait waits for the dispatch loop to exit.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()

	idle := time.NewTimer(maxIdle)
	defer idle.Stop()

	for r.running.Load() {
		r.processAsyncCallbacks()

		delay := r.checkTimers(r.Monotonic())
		if delay <= 0 {
			select {
			case <-r.ctx.Done():
				return
			default:
				continue
			}
		}
		if delay > maxIdle {
			delay = maxIdle
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(delay)
		select {
		case <-idle.C:
		case <-r.wake:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reactor) processAsyncCallbacks() {
	r.asyncMu.Lock()
	queue := r.asyncQueue
	r.asyncQueue = nil
	r.asyncMu.Unlock()

	for _, fn := range queue {
		fn(r.Monotonic())
	}
}

// checkTimers fires due timers and returns the time until the next one.
func (r *Reactor) checkTimers(eventtime time.Duration) time.Duration {
	r.mu.Lock()
	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)
	r.mu.Unlock()

	nextWake := NEVER
	for _, timer := range timers {
		timer.mu.Lock()
		if eventtime >= timer.waketime {
			timer.waketime = NEVER
			timer.isRunning = true
			timer.mu.Unlock()

			newWaketime := timer.callback(eventtime)

			timer.mu.Lock()
			timer.isRunning = false
			if newWaketime < timer.waketime {
				timer.waketime = newWaketime
			}
		}
		if timer.waketime < nextWake {
			nextWake = timer.waketime
		}
		timer.mu.Unlock()
	}

	if nextWake == NEVER {
		return NEVER
	}
	delay := nextWake - r.Monotonic()
	if delay < 0 {
		delay = 0
	}
	return delay
}
