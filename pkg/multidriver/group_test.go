package multidriver

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"multidriver-go/pkg/clock"
	"multidriver-go/pkg/errors"
	"multidriver-go/pkg/stepper"
)

const us = time.Microsecond

func newTestGroup(t *testing.T, motors ...Motor) (*Group, *clock.Manual) {
	t.Helper()
	g, err := New(motors...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clk := clock.NewManual(1000 * us)
	g.SetClock(clk)
	g.SetLogger(nil)
	return g, clk
}

// recordTicks installs an observer and returns the slice it appends to.
func recordTicks(g *Group) *[]TickEvent {
	var events []TickEvent
	g.SetObserver(func(e TickEvent) { events = append(events, e) })
	return &events
}

func TestNewValidatesMotors(t *testing.T) {
	log := &callLog{}
	a, b := newFake("a", log, us), newFake("b", log, us)

	tests := []struct {
		name   string
		motors []Motor
		code   errors.ErrorCode
	}{
		{"one motor", []Motor{a}, errors.ErrGroupSize},
		{"five motors", []Motor{a, b, a, b, a}, errors.ErrGroupSize},
		{"nil motor", []Motor{a, nil, b}, errors.ErrGroupMotor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.motors...)
			if !errors.Is(err, tt.code) {
				t.Errorf("New() error = %v, want code %s", err, tt.code)
			}
		})
	}

	g, err := New(a, b, a, b)
	if err != nil {
		t.Fatalf("four motors should be accepted: %v", err)
	}
	if g.Count() != 4 || !g.Ready() {
		t.Errorf("Count() = %d, Ready() = %v", g.Count(), g.Ready())
	}
}

func TestAllZeroMoveIsReadyAfterFirstTick(t *testing.T) {
	log := &callLog{}
	g, _ := newTestGroup(t, newFake("a", log, 10*us), newFake("b", log, 10*us), newFake("c", log, 10*us))

	g.StartMove(0, 0, 0)
	if g.Ready() {
		t.Fatal("Ready() should be false right after StartMove")
	}
	if next := g.NextAction(); next != 0 {
		t.Errorf("NextAction() = %v, want 0", next)
	}
	if !g.Ready() {
		t.Error("Ready() should be true after the first tick")
	}
	if len(log.calls) != 0 {
		t.Errorf("no motor should be called, got %v", log.calls)
	}
}

func TestNotReadyUntilEveryMotorFinishes(t *testing.T) {
	log := &callLog{}
	a := newFake("a", log, 100*us)
	b := newFake("b", log, 250*us)
	g, _ := newTestGroup(t, a, b)

	g.StartMove(3, 2)
	ticks := 0
	for {
		next := g.NextAction()
		ticks++
		if next == 0 {
			break
		}
		if g.Ready() {
			t.Fatalf("Ready() true with next wait %v", next)
		}
		if ticks > 100 {
			t.Fatal("move did not converge")
		}
	}
	if !g.Ready() {
		t.Error("Ready() should be true once NextAction returns 0")
	}
	if ticks != 6 {
		t.Errorf("took %d ticks, want 6", ticks)
	}
}

func TestNextWaitIsMinimumPositivePending(t *testing.T) {
	log := &callLog{}
	g, _ := newTestGroup(t,
		newFake("a", log, 70*us),
		newFake("b", log, 110*us),
		newFake("c", log, 30*us),
		newFake("d", log, 110*us),
	)
	events := recordTicks(g)

	g.Move(7, 4, 0, 9)

	if len(*events) == 0 {
		t.Fatal("no ticks observed")
	}
	for _, e := range *events {
		var want, largest time.Duration
		for _, p := range e.Pending[:e.Count] {
			if p < 0 {
				t.Fatalf("tick %d: negative pending %v", e.Seq, p)
			}
			if p > 0 && (want == 0 || p < want) {
				want = p
			}
			if p > largest {
				largest = p
			}
		}
		if e.NextWait != want {
			t.Errorf("tick %d: NextWait = %v, want %v (pending %v)", e.Seq, e.NextWait, want, e.Pending)
		}
		if e.NextWait > largest {
			t.Errorf("tick %d: NextWait %v exceeds largest pending %v", e.Seq, e.NextWait, largest)
		}
	}
}

func TestZeroStepMotorsAreNeverTouched(t *testing.T) {
	log := &callLog{}
	a, b, c := newFake("a", log, 20*us), newFake("b", log, 20*us), newFake("c", log, 20*us)
	g, _ := newTestGroup(t, a, b, c)

	g.StartMove(0, 200, 0)
	for !g.Ready() {
		if g.IsRunning() != (b.CurrentState() != stepper.Stopped) {
			t.Fatal("IsRunning() should follow the only moving motor")
		}
		g.NextAction()
	}
	if g.IsRunning() {
		t.Error("IsRunning() should be false after the move")
	}

	for _, c := range log.calls {
		if c.Motor != "b" {
			t.Fatalf("motor %s was called: %+v", c.Motor, c)
		}
	}
	if log.calls[0] != (call{Motor: "b", Op: "start", Arg: 200}) {
		t.Errorf("first call = %+v, want start of b", log.calls[0])
	}
	// 200 steps plus the final zero report
	if got := len(log.calls) - 1; got != 201 {
		t.Errorf("b ticked %d times, want 201", got)
	}
}

func TestFinishedMotorsKeepBeingPolled(t *testing.T) {
	log := &callLog{}
	a, b, c := newFake("a", log, 20*us), newFake("b", log, 20*us), newFake("c", log, 20*us)
	g, _ := newTestGroup(t, a, b, c)

	g.Move(1, 5, 0)

	ticks := map[string]int{}
	for _, c := range log.calls {
		if c.Op == "tick" {
			ticks[c.Motor]++
		}
	}
	// a finishes first but is polled until b is done; c never moved
	want := map[string]int{"a": 6, "b": 6}
	if diff := cmp.Diff(want, ticks); diff != "" {
		t.Errorf("ticks per motor (-want +got):\n%s", diff)
	}
}

func TestShorterMoveFinishesFirst(t *testing.T) {
	log := &callLog{}
	g, _ := newTestGroup(t, newFake("a", log, 10*us), newFake("b", log, 10*us))
	events := recordTicks(g)

	g.Move(100, 50)

	finished := [2]uint64{}
	for _, e := range *events {
		for i := 0; i < 2; i++ {
			if finished[i] == 0 && e.Pending[i] == 0 {
				finished[i] = e.Seq
			}
		}
	}
	if finished[1] == 0 || finished[0] == 0 {
		t.Fatalf("a motor never finished: %v", finished)
	}
	if finished[1] >= finished[0] {
		t.Errorf("b finished at tick %d, a at %d; want b first", finished[1], finished[0])
	}
	if finished[1] != 51 || finished[0] != 101 {
		t.Errorf("finish ticks = %v, want [101 51]", finished)
	}
	if !g.Ready() {
		t.Error("Move returned before the group was ready")
	}
}

func TestBrakeAndStopSkipFinishedMotors(t *testing.T) {
	log := &callLog{}
	a, b := newFake("a", log, 10*us), newFake("b", log, 10*us)
	g, _ := newTestGroup(t, a, b)

	g.StartMove(20, 2)
	for g.Pending(1) != 0 {
		g.NextAction()
	}
	if g.Pending(0) == 0 {
		t.Fatal("a should still be moving")
	}

	log.calls = nil
	g.StartBrake()
	want := []call{{Motor: "a", Op: "brake"}}
	if diff := cmp.Diff(want, log.calls); diff != "" {
		t.Errorf("StartBrake calls (-want +got):\n%s", diff)
	}
	if g.Ready() {
		t.Error("StartBrake must not change scheduling state")
	}

	log.calls = nil
	g.Stop()
	want = []call{{Motor: "a", Op: "stop"}}
	if diff := cmp.Diff(want, log.calls); diff != "" {
		t.Errorf("Stop calls (-want +got):\n%s", diff)
	}

	if next := g.NextAction(); next != 0 {
		t.Errorf("tick after Stop returned %v, want 0", next)
	}
	if !g.Ready() {
		t.Error("group should be ready on the tick after Stop")
	}
}

func TestBrakeShortensMove(t *testing.T) {
	log := &callLog{}
	a, b := newFake("a", log, 10*us), newFake("b", log, 10*us)
	g, _ := newTestGroup(t, a, b)

	g.StartMove(100, 100)
	for i := 0; i < 5; i++ {
		g.NextAction()
	}
	g.StartBrake()
	ticks := 0
	for !g.Ready() {
		g.NextAction()
		ticks++
	}
	if ticks > 5 {
		t.Errorf("braked move needed %d more ticks", ticks)
	}
}

func TestRotateMatchesMove(t *testing.T) {
	run := func(fn func(g *Group)) []call {
		log := &callLog{}
		g, _ := newTestGroup(t, newFake("a", log, 40*us), newFake("b", log, 40*us))
		fn(g)
		return log.calls
	}

	moved := run(func(g *Group) { g.Move(50, 50) })
	rotated := run(func(g *Group) { g.Rotate(90, 90) })
	rotatedInt := run(func(g *Group) { g.RotateInt(90, 90) })

	if diff := cmp.Diff(moved, rotated); diff != "" {
		t.Errorf("Rotate(90, 90) differs from Move(50, 50) (-move +rotate):\n%s", diff)
	}
	if diff := cmp.Diff(moved, rotatedInt); diff != "" {
		t.Errorf("RotateInt(90, 90) differs from Move(50, 50) (-move +rotate):\n%s", diff)
	}
}

func TestRotateZeroDegreesSkipsMotor(t *testing.T) {
	log := &callLog{}
	g, _ := newTestGroup(t, newFake("a", log, 10*us), newFake("b", log, 10*us))

	g.StartRotate(0, 180)
	want := []call{{Motor: "b", Op: "start", Arg: 100}}
	if diff := cmp.Diff(want, log.calls); diff != "" {
		t.Errorf("StartRotate calls (-want +got):\n%s", diff)
	}
}

func TestDispatchOrder(t *testing.T) {
	tests := []struct {
		order DispatchOrder
		want  []string
	}{
		{Ascending, []string{"a", "b", "c"}},
		{Descending, []string{"c", "b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			log := &callLog{}
			g, _ := newTestGroup(t, newFake("a", log, 10*us), newFake("b", log, 10*us), newFake("c", log, 10*us))
			g.SetDispatchOrder(tt.order)
			events := recordTicks(g)

			g.StartMove(1, 1, 1)
			log.calls = nil
			g.NextAction()

			var got []string
			for _, c := range log.calls {
				got = append(got, c.Motor)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("dispatch sequence (-want +got):\n%s", diff)
			}
			if (*events)[0].Fired != 0b111 {
				t.Errorf("coincident deadlines should fire together, mask %03b", (*events)[0].Fired)
			}
		})
	}
}

func TestPacingFollowsReportedIntervals(t *testing.T) {
	log := &callLog{}
	g, clk := newTestGroup(t, newFake("a", log, 100*us), newFake("b", log, 250*us))
	events := recordTicks(g)

	g.Move(3, 2)

	wantStarts := []time.Duration{1001 * us, 1101 * us, 1201 * us, 1251 * us, 1301 * us, 1501 * us}
	var starts []time.Duration
	for _, e := range *events {
		starts = append(starts, e.Start)
		if e.Lateness != 0 {
			t.Errorf("tick %d: lateness %v on a virtual clock", e.Seq, e.Lateness)
		}
	}
	if diff := cmp.Diff(wantStarts, starts); diff != "" {
		t.Errorf("tick start times (-want +got):\n%s", diff)
	}
	if clk.Now() != 1501*us {
		t.Errorf("clock ended at %v, want 1501µs", clk.Now())
	}

	wantFired := []uint8{0b11, 0b01, 0b01, 0b10, 0b01, 0b10}
	var fired []uint8
	for _, e := range *events {
		fired = append(fired, e.Fired)
	}
	if diff := cmp.Diff(wantFired, fired); diff != "" {
		t.Errorf("fired masks (-want +got):\n%s", diff)
	}
}

// slowClock advances by a fixed amount on every reading, standing in for
// processing time between ticks.
type slowClock struct {
	*clock.Manual
	step time.Duration
}

func (c slowClock) Now() time.Duration {
	c.Manual.Advance(c.step)
	return c.Manual.Now()
}

func TestPacingAbsorbsProcessingTime(t *testing.T) {
	log := &callLog{}
	g, err := New(newFake("a", log, 100*us), newFake("b", log, 100*us))
	if err != nil {
		t.Fatal(err)
	}
	g.SetLogger(nil)
	clk := slowClock{Manual: clock.NewManual(0), step: 3 * us}
	g.SetClock(clk)
	events := recordTicks(g)

	g.Move(5, 5)

	evs := *events
	for i := 1; i < len(evs); i++ {
		gap := evs[i].Start - evs[i-1].End
		// the wait is measured from the end of the previous tick, so the
		// gap may only exceed it by the clock's own reading overhead
		if gap < evs[i].Wait || gap > evs[i].Wait+2*clk.step {
			t.Errorf("tick %d started %v after the previous one ended, wait %v", evs[i].Seq, gap, evs[i].Wait)
		}
	}
}

type moveCounter struct {
	started  [][]int64
	finished []uint64
	elapsed  []time.Duration
}

func (m *moveCounter) MoveStarted(steps []int64) { m.started = append(m.started, steps) }
func (m *moveCounter) MoveFinished(ticks uint64, elapsed time.Duration) {
	m.finished = append(m.finished, ticks)
	m.elapsed = append(m.elapsed, elapsed)
}

func TestMoveObserver(t *testing.T) {
	log := &callLog{}
	g, _ := newTestGroup(t, newFake("a", log, 100*us), newFake("b", log, 250*us))
	obs := &moveCounter{}
	g.SetMoveObserver(obs)

	g.Move(3, 2)
	// extra ticks after completion must not report again
	g.NextAction()
	g.Move(0, 0)

	if diff := cmp.Diff([][]int64{{3, 2}, {0, 0}}, obs.started); diff != "" {
		t.Errorf("MoveStarted (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{6, 1}, obs.finished); diff != "" {
		t.Errorf("MoveFinished ticks (-want +got):\n%s", diff)
	}
	if obs.elapsed[0] != 501*us {
		t.Errorf("first move elapsed %v, want 501µs", obs.elapsed[0])
	}
}

func TestStartMoveResetsInterruptedMove(t *testing.T) {
	log := &callLog{}
	a, b := newFake("a", log, 10*us), newFake("b", log, 10*us)
	g, _ := newTestGroup(t, a, b)

	g.StartMove(50, 50)
	g.NextAction()
	g.NextAction()

	g.StartMove(0, 3)
	if g.Pending(0) != 0 || g.Pending(1) != startPending || g.NextWait() != startPending {
		t.Fatalf("StartMove did not reset state: pending %v %v, wait %v", g.Pending(0), g.Pending(1), g.NextWait())
	}
	log.calls = nil
	for !g.Ready() {
		g.NextAction()
	}
	for _, c := range log.calls {
		if c.Motor == "a" {
			t.Fatalf("slot a was dropped from the move but got %+v", c)
		}
	}
}

func TestFanOutSetters(t *testing.T) {
	log := &callLog{}
	a, b := newFake("a", log, us), newFake("b", log, us)
	g, _ := newTestGroup(t, a, b)

	g.SetMicrostep(16)
	g.Enable()
	g.SetSpeedProfile(stepper.LinearSpeed, 500, 800)
	for _, m := range []*fakeMotor{a, b} {
		if m.microsteps != 16 || !m.enabled || m.mode != stepper.LinearSpeed {
			t.Errorf("motor %s not configured: %+v", m.name, m)
		}
	}
	g.Disable()
	if a.enabled || b.enabled {
		t.Error("Disable should reach every motor")
	}
}

func TestNegativeIntervalTreatedAsFinished(t *testing.T) {
	log := &callLog{}
	a, b := newFake("a", log, -5*us), newFake("b", log, 10*us)
	g, _ := newTestGroup(t, a, b)

	g.StartMove(4, 1)
	g.NextAction()
	if g.Pending(0) != 0 {
		t.Errorf("negative report should clamp to 0, got %v", g.Pending(0))
	}
}

func TestStepperDriversFinishInProportion(t *testing.T) {
	pa, pb := &stepper.CountingPin{}, &stepper.CountingPin{}
	a := stepper.New("a", stepper.DefaultConfig(), stepper.Pins{Step: pa})
	b := stepper.New("b", stepper.DefaultConfig(), stepper.Pins{Step: pb})
	g, clk := newTestGroup(t, a, b)
	events := recordTicks(g)

	g.Move(100, 50)

	var bDone, aDone time.Duration
	for _, e := range *events {
		if bDone == 0 && e.Pending[1] == 0 {
			bDone = e.End
		}
		if aDone == 0 && e.Pending[0] == 0 {
			aDone = e.End
		}
	}
	if bDone >= aDone {
		t.Errorf("b finished at %v, a at %v; want b first", bDone, aDone)
	}
	if pa.Rises != 100 || pb.Rises != 50 {
		t.Errorf("step pulses a=%d b=%d, want 100 and 50", pa.Rises, pb.Rises)
	}
	if a.Position() != 100 || b.Position() != 50 {
		t.Errorf("positions a=%d b=%d", a.Position(), b.Position())
	}
	// 100 pulses of 5ms after the first tick at +1µs
	if want := 1000*us + time.Microsecond + 100*5*time.Millisecond; clk.Now() != want {
		t.Errorf("move ended at %v, want %v", clk.Now(), want)
	}
}

func TestChainObservers(t *testing.T) {
	log := &callLog{}
	g, _ := newTestGroup(t, newFake("a", log, 10*us), newFake("b", log, 10*us))
	var first, second int
	g.SetObserver(Chain(func(TickEvent) { first++ }, nil, func(TickEvent) { second++ }))
	a, b := &moveCounter{}, &moveCounter{}
	g.SetMoveObserver(ChainMove(a, nil, b))

	g.Move(2, 1)

	if first != 3 || second != 3 {
		t.Errorf("observers saw %d and %d ticks, want 3", first, second)
	}
	if len(a.finished) != 1 || len(b.finished) != 1 {
		t.Errorf("move observers finished %d and %d times", len(a.finished), len(b.finished))
	}
}
