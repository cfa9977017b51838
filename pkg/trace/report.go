// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package trace

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Report summarises one move.
type Report struct {
	Steps    []int64
	Complete bool
	Ticks    uint64
	Elapsed  time.Duration

	// Finish holds the tick at which each slot reported completion, 0 for
	// slots that never moved. Dispatch counts the calls made to each slot.
	Finish   []uint64
	Dispatch []uint64

	// Lateness statistics over the retained ticks, excluding the first
	// tick of the move which has no previous deadline.
	Samples      int
	LateMean     time.Duration
	LateStdDev   time.Duration
	LateP99      time.Duration
	LateMax      time.Duration
	MeanInterval time.Duration
}

// Report builds a summary of the current or last move.
func (r *Recorder) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		Steps:    append([]int64(nil), r.steps...),
		Complete: r.done,
		Ticks:    r.ticks,
		Elapsed:  r.elapsed,
		Finish:   append([]uint64(nil), r.finish[:r.count]...),
		Dispatch: append([]uint64(nil), r.dispatch[:r.count]...),
	}
	if !r.done {
		rep.Ticks = r.total
	}

	var late, waits []float64
	for _, e := range r.eventsLocked() {
		if e.Seq <= 1 {
			continue
		}
		late = append(late, float64(e.Lateness))
		waits = append(waits, float64(e.Wait))
	}
	rep.Samples = len(late)
	if len(late) == 0 {
		return rep
	}

	mean, std := stat.MeanStdDev(late, nil)
	if len(late) < 2 {
		std = 0
	}
	sort.Float64s(late)
	rep.LateMean = time.Duration(mean)
	rep.LateStdDev = time.Duration(std)
	rep.LateP99 = time.Duration(stat.Quantile(0.99, stat.Empirical, late, nil))
	rep.LateMax = time.Duration(late[len(late)-1])
	rep.MeanInterval = time.Duration(stat.Mean(waits, nil))
	return rep
}

// WriteTo prints the report as an aligned table.
func (rep Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)

	status := "complete"
	if !rep.Complete {
		status = "in progress"
	}
	fmt.Fprintf(tw, "move\t%v\t%s\n", rep.Steps, status)
	fmt.Fprintf(tw, "ticks\t%d\n", rep.Ticks)
	fmt.Fprintf(tw, "elapsed\t%v\n", rep.Elapsed)
	for i := range rep.Finish {
		fmt.Fprintf(tw, "motor %d\tfinished at tick %d\t%d calls\n", i, rep.Finish[i], rep.Dispatch[i])
	}
	if rep.Samples > 0 {
		fmt.Fprintf(tw, "mean interval\t%v\n", rep.MeanInterval)
		fmt.Fprintf(tw, "lateness\tmean %v\tstddev %v\tp99 %v\tmax %v\n",
			rep.LateMean, rep.LateStdDev, rep.LateP99, rep.LateMax)
	}
	tw.Flush()

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
