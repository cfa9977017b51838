package stepper

import (
	"testing"
	"time"
)

// drain ticks d until it reports 0 and returns the reported intervals.
func drain(t *testing.T, d *Driver, limit int) []time.Duration {
	t.Helper()
	var out []time.Duration
	for i := 0; i < limit; i++ {
		next := d.NextAction()
		if next == 0 {
			return out
		}
		out = append(out, next)
	}
	t.Fatalf("driver did not finish within %d ticks", limit)
	return nil
}

func TestConstantSpeedPulse(t *testing.T) {
	step := &CountingPin{}
	d := New("x", DefaultConfig(), Pins{Step: step})
	d.StartMove(10)

	pulses := drain(t, d, 100)
	if len(pulses) != 10 {
		t.Fatalf("got %d pulses, want 10", len(pulses))
	}
	// 60e6 / 200 steps / 1 microstep / 60 rpm
	for i, p := range pulses {
		if p != 5000*time.Microsecond {
			t.Errorf("pulse %d = %v, want 5ms", i, p)
		}
	}
	if step.Rises != 10 {
		t.Errorf("step pin rose %d times, want 10", step.Rises)
	}
	if d.Position() != 10 {
		t.Errorf("Position() = %d, want 10", d.Position())
	}
	if d.CurrentState() != Stopped {
		t.Errorf("state = %v, want stopped", d.CurrentState())
	}
	// idempotent after completion
	if next := d.NextAction(); next != 0 {
		t.Errorf("NextAction after finish = %v, want 0", next)
	}
}

func TestReverseMoveSetsDirection(t *testing.T) {
	dir := &CountingPin{High: true}
	d := New("x", DefaultConfig(), Pins{Dir: dir})
	d.StartMove(-3)
	drain(t, d, 10)
	if dir.High {
		t.Error("dir pin should be low for a reverse move")
	}
	if d.Position() != -3 {
		t.Errorf("Position() = %d, want -3", d.Position())
	}
}

func TestLinearSpeedProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = LinearSpeed
	cfg.RPM = 120
	d := New("x", cfg, Pins{})
	d.StartMove(400)

	pulses := drain(t, d, 1000)
	if len(pulses) != 400 {
		t.Fatalf("got %d pulses, want 400", len(pulses))
	}

	cruise := time.Duration(1e6/(120.0*200/60)) * time.Microsecond
	first, mid, last := pulses[0], pulses[len(pulses)/2], pulses[len(pulses)-1]
	if first <= mid {
		t.Errorf("first pulse %v should be longer than cruise pulse %v", first, mid)
	}
	if mid != cruise {
		t.Errorf("mid pulse = %v, want cruise %v", mid, cruise)
	}
	if last <= mid {
		t.Errorf("last pulse %v should be longer than cruise pulse %v", last, mid)
	}
}

func TestLinearShortMoveNeverCruises(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = LinearSpeed
	cfg.RPM = 600
	d := New("x", cfg, Pins{})
	d.StartMove(20)

	sawCruise := false
	for d.CurrentState() != Stopped {
		if d.CurrentState() == Cruising {
			sawCruise = true
		}
		d.NextAction()
	}
	if sawCruise {
		t.Error("short move should go straight from accelerating to decelerating")
	}
}

func TestStartBrakeWhileCruising(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = LinearSpeed
	cfg.RPM = 120
	d := New("x", cfg, Pins{})
	d.StartMove(1000)

	for d.CurrentState() != Cruising {
		d.NextAction()
	}
	taken := d.Position()
	d.StartBrake()
	if d.CurrentState() != Decelerating {
		t.Fatalf("state after brake = %v, want decelerating", d.CurrentState())
	}
	rest := drain(t, d, 2000)
	if total := taken + int64(len(rest)); total >= 1000 {
		t.Errorf("braked move took %d steps, want fewer than 1000", total)
	}
}

func TestStopIsImmediate(t *testing.T) {
	d := New("x", DefaultConfig(), Pins{})
	d.StartMove(50)
	d.NextAction()
	d.Stop()
	if d.StepsRemaining() != 0 {
		t.Errorf("StepsRemaining() = %d, want 0", d.StepsRemaining())
	}
	if next := d.NextAction(); next != 0 {
		t.Errorf("NextAction after Stop = %v, want 0", next)
	}
}

func TestStepsForRotation(t *testing.T) {
	tests := []struct {
		microsteps uint
		deg        float64
		want       int64
	}{
		{1, 90, 50},
		{1, 360, 200},
		{16, 90, 800},
		{1, -45, -25},
		{1, 1, 0},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Microsteps = tt.microsteps
		d := New("x", cfg, Pins{})
		if got := d.StepsForRotation(tt.deg); got != tt.want {
			t.Errorf("StepsForRotation(%v) at 1/%d = %d, want %d", tt.deg, tt.microsteps, got, tt.want)
		}
	}
}

func TestSetMicrostepRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMicrostep = 16
	d := New("x", cfg, Pins{})

	d.SetMicrostep(8)
	if d.Microsteps() != 8 {
		t.Errorf("Microsteps() = %d, want 8", d.Microsteps())
	}
	for _, bad := range []uint{0, 3, 32} {
		d.SetMicrostep(bad)
		if d.Microsteps() != 8 {
			t.Errorf("SetMicrostep(%d) changed divisor to %d", bad, d.Microsteps())
		}
	}
}

func TestEnableActiveLow(t *testing.T) {
	en := &CountingPin{}
	d := New("x", DefaultConfig(), Pins{Enable: en})
	d.Enable()
	if en.High || !d.Enabled() {
		t.Error("Enable should drive the pin low")
	}
	d.Disable()
	if !en.High || d.Enabled() {
		t.Error("Disable should drive the pin high")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"constant": ConstantSpeed, "LINEAR": LinearSpeed, "linear_speed": LinearSpeed} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("cubic"); err == nil {
		t.Error("ParseMode should reject unknown modes")
	}
}
