// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package reactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"multidriver-go/pkg/errors"
	"multidriver-go/pkg/log"
	"multidriver-go/pkg/multidriver"
)

// wakeLead is how far ahead of the group's next deadline the move timer
// fires. The group's own pacing covers the remainder.
const wakeLead = time.Millisecond

// MotorStatus is the state of one slot at the last refresh.
type MotorStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Position  int64  `json:"position"`
	PendingUS int64  `json:"pending_us"`
}

// Snapshot is a copy of the group state, safe to read from any goroutine.
type Snapshot struct {
	Group      string        `json:"group"`
	Ready      bool          `json:"ready"`
	Running    bool          `json:"running"`
	MoveID     string        `json:"move_id,omitempty"`
	Moves      uint64        `json:"moves"`
	NextWaitUS int64         `json:"next_wait_us"`
	Motors     []MotorStatus `json:"motors"`
}

// MoveResult describes a finished move.
type MoveResult struct {
	ID      string
	Steps   []int64
	Ticks   uint64
	Elapsed time.Duration
	// Stopped is set when Stop cut the move short.
	Stopped bool
}

// Move is a submitted move.
type Move struct {
	ID    string
	Steps []int64
	done  *Completion
}

// Done is closed when the move finishes.
func (m *Move) Done() <-chan struct{} {
	return m.done.Done()
}

// Wait blocks until the move finishes.
func (m *Move) Wait(ctx context.Context) (MoveResult, error) {
	res, err := m.done.WaitContext(ctx)
	if err != nil {
		return MoveResult{}, err
	}
	return res.(MoveResult), nil
}

// Positioner is implemented by motors that track their position.
type Positioner interface {
	Position() int64
}

// GroupDriver runs a motor group on a reactor. Its methods are safe from
// any goroutine; the group itself is only touched on the dispatch
// goroutine.
type GroupDriver struct {
	r      *Reactor
	group  *multidriver.Group
	name   string
	names  []string
	logger *log.Logger
	timer  *Timer

	// dispatch goroutine only
	current *Move
	start   time.Duration
	ticks   uint64
	stopped bool

	mu        sync.Mutex
	snap      Snapshot
	listeners []func(MoveResult)
}

// NewGroupDriver binds g to r. The group's clock is replaced with the
// reactor's. names label the slots in snapshots; missing names are
// generated.
func NewGroupDriver(r *Reactor, name string, g *multidriver.Group, names []string) *GroupDriver {
	labels := make([]string, g.Count())
	for i := range labels {
		if i < len(names) && names[i] != "" {
			labels[i] = names[i]
		} else {
			labels[i] = fmt.Sprintf("motor%d", i)
		}
	}
	g.SetClock(r.Clock())

	d := &GroupDriver{
		r:      r,
		group:  g,
		name:   name,
		names:  labels,
		logger: log.GetLogger("reactor"),
	}
	d.timer = r.RegisterTimer(d.tick, NEVER)
	d.refresh()
	return d
}

// Name returns the group name.
func (d *GroupDriver) Name() string {
	return d.name
}

// OnMoveComplete registers fn to run on the dispatch goroutine after every
// move. fn must not block.
func (d *GroupDriver) OnMoveComplete(fn func(MoveResult)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Move starts a move with one signed step count per slot. It fails with
// GROUP_BUSY while another move runs. If ctx ends before the reactor
// accepts the request the move may still start.
func (d *GroupDriver) Move(ctx context.Context, steps ...int64) (*Move, error) {
	steps = append([]int64(nil), steps...)
	return d.submit(ctx, "move", func() []int64 { return steps })
}

// Rotate starts a move given in degrees per slot.
func (d *GroupDriver) Rotate(ctx context.Context, deg ...float64) (*Move, error) {
	deg = append([]float64(nil), deg...)
	return d.submit(ctx, "rotate", func() []int64 { return d.group.StepsForRotation(deg...) })
}

func (d *GroupDriver) submit(ctx context.Context, op string, steps func() []int64) (*Move, error) {
	c := d.r.RegisterAsyncCallback(func(now time.Duration) interface{} {
		if d.current != nil {
			return errors.GroupBusyError(op)
		}
		m := &Move{ID: uuid.NewString(), Steps: steps(), done: d.r.Completion()}
		d.current = m
		d.start = now
		d.ticks = 0
		d.stopped = false
		d.group.StartMove(m.Steps...)
		d.r.UpdateTimer(d.timer, now)
		d.refresh()

		d.logger.WithFields(log.Fields{"move_id": m.ID, "steps": m.Steps}).Info("move accepted")
		return m
	})
	res, err := c.WaitContext(ctx)
	if err != nil {
		return nil, err
	}
	if err, ok := res.(error); ok {
		return nil, err
	}
	return res.(*Move), nil
}

// Brake asks every moving motor to decelerate to a stop. It is a no-op
// when idle.
func (d *GroupDriver) Brake(ctx context.Context) error {
	return d.control(ctx, func() {
		d.group.StartBrake()
	})
}

// Stop halts every moving motor at once. The current move then completes
// with Stopped set.
func (d *GroupDriver) Stop(ctx context.Context) error {
	return d.control(ctx, func() {
		d.stopped = true
		d.group.Stop()
	})
}

func (d *GroupDriver) control(ctx context.Context, fn func()) error {
	c := d.r.RegisterAsyncCallback(func(now time.Duration) interface{} {
		if d.current == nil {
			return nil
		}
		fn()
		d.r.UpdateTimer(d.timer, now)
		return nil
	})
	_, err := c.WaitContext(ctx)
	return err
}

// DisableMotors stops any move and releases every motor.
func (d *GroupDriver) DisableMotors(ctx context.Context) error {
	return d.always(ctx, func() {
		if d.current != nil {
			d.stopped = true
			d.group.Stop()
			d.r.UpdateTimer(d.timer, d.r.Monotonic())
		}
		d.group.Disable()
	})
}

// EnableMotors energizes every motor.
func (d *GroupDriver) EnableMotors(ctx context.Context) error {
	return d.always(ctx, d.group.Enable)
}

func (d *GroupDriver) always(ctx context.Context, fn func()) error {
	c := d.r.RegisterAsyncCallback(func(time.Duration) interface{} {
		fn()
		return nil
	})
	_, err := c.WaitContext(ctx)
	return err
}

// Snapshot returns the group state as of the last tick.
func (d *GroupDriver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.snap
	s.Motors = append([]MotorStatus(nil), d.snap.Motors...)
	return s
}

func (d *GroupDriver) tick(eventtime time.Duration) time.Duration {
	if d.current == nil {
		return NEVER
	}
	next := d.group.NextAction()
	d.ticks++
	if next == 0 {
		d.finish()
		return NEVER
	}
	d.refresh()
	return d.r.Monotonic() + next - wakeLead
}

func (d *GroupDriver) finish() {
	m := d.current
	d.current = nil
	res := MoveResult{
		ID:      m.ID,
		Steps:   m.Steps,
		Ticks:   d.ticks,
		Elapsed: d.r.Monotonic() - d.start,
		Stopped: d.stopped,
	}

	d.mu.Lock()
	d.snap.Moves++
	listeners := append(([]func(MoveResult))(nil), d.listeners...)
	d.mu.Unlock()
	d.refresh()

	d.logger.WithFields(log.Fields{
		"move_id": res.ID,
		"ticks":   res.Ticks,
		"elapsed": res.Elapsed.String(),
		"stopped": res.Stopped,
	}).Info("move complete")

	m.done.Complete(res)
	for _, fn := range listeners {
		fn(res)
	}
}

// refresh copies the group state into the snapshot. Dispatch goroutine
// only.
func (d *GroupDriver) refresh() {
	motors := make([]MotorStatus, d.group.Count())
	for i := range motors {
		m := d.group.Motor(i)
		motors[i] = MotorStatus{
			Name:      d.names[i],
			State:     m.CurrentState().String(),
			PendingUS: d.group.Pending(i).Microseconds(),
		}
		if p, ok := m.(Positioner); ok {
			motors[i].Position = p.Position()
		}
	}
	running := d.group.IsRunning()

	d.mu.Lock()
	d.snap.Group = d.name
	d.snap.Ready = d.group.Ready()
	d.snap.Running = running
	d.snap.NextWaitUS = d.group.NextWait().Microseconds()
	d.snap.MoveID = ""
	if d.current != nil {
		d.snap.MoveID = d.current.ID
	}
	d.snap.Motors = motors
	d.mu.Unlock()
}
