// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

// Pin is a digital output line.
type Pin interface {
	Set(high bool)
}

// Pins groups the lines of one driver. Nil entries are replaced by NopPin.
type Pins struct {
	Step   Pin
	Dir    Pin
	Enable Pin
}

func (p Pins) withDefaults() Pins {
	if p.Step == nil {
		p.Step = NopPin{}
	}
	if p.Dir == nil {
		p.Dir = NopPin{}
	}
	if p.Enable == nil {
		p.Enable = NopPin{}
	}
	return p
}

// NopPin discards writes.
type NopPin struct{}

func (NopPin) Set(bool) {}

// CountingPin records the level and counts rising edges.
type CountingPin struct {
	High  bool
	Rises int
}

func (p *CountingPin) Set(high bool) {
	if high && !p.High {
		p.Rises++
	}
	p.High = high
}
