// Prometheus metrics for a motor group
//
// GroupMetrics hooks into a group's tick and move observers and exposes
// scheduling counters, pacing lateness and move durations.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"multidriver-go/pkg/multidriver"
)

const namespace = "multidriver"

// GroupMetrics collects metrics for one group.
type GroupMetrics struct {
	motors []string

	ticks        prometheus.Counter
	dispatches   *prometheus.CounterVec
	moves        prometheus.Counter
	moveDuration prometheus.Histogram
	lateness     prometheus.Histogram
	nextWait     prometheus.Gauge
	ready        prometheus.Gauge
}

// NewGroupMetrics registers the group metrics on reg. Motor names label the
// per-slot dispatch counter, in slot order; slots beyond the list are
// labelled by index.
func NewGroupMetrics(reg prometheus.Registerer, group string, motors []string) *GroupMetrics {
	f := promauto.With(reg)
	constLabels := prometheus.Labels{"group": group}

	m := &GroupMetrics{
		motors: append([]string(nil), motors...),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ticks_total",
			Help:        "Scheduling ticks run.",
			ConstLabels: constLabels,
		}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "motor_dispatch_total",
			Help:        "Times a motor was due and serviced.",
			ConstLabels: constLabels,
		}, []string{"motor"}),
		moves: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "moves_total",
			Help:        "Moves completed.",
			ConstLabels: constLabels,
		}),
		moveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "move_duration_seconds",
			Help:        "Wall time from move start to the tick that completed it.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		lateness: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "tick_lateness_seconds",
			Help:        "How far past its deadline a tick started.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		nextWait: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "next_wait_seconds",
			Help:        "Wait returned by the most recent tick.",
			ConstLabels: constLabels,
		}),
		ready: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "ready",
			Help:        "1 when no move is in progress.",
			ConstLabels: constLabels,
		}),
	}
	m.ready.Set(1)
	return m
}

func (m *GroupMetrics) motorLabel(i int) string {
	if i < len(m.motors) {
		return m.motors[i]
	}
	return "slot" + strconv.Itoa(i)
}

// ObserveTick records one tick. It has the multidriver.Observer signature.
func (m *GroupMetrics) ObserveTick(e multidriver.TickEvent) {
	m.ticks.Inc()
	if e.Seq > 1 {
		m.lateness.Observe(e.Lateness.Seconds())
	}
	for i := 0; i < e.Count; i++ {
		if e.FiredSlot(i) {
			m.dispatches.WithLabelValues(m.motorLabel(i)).Inc()
		}
	}
	m.nextWait.Set(e.NextWait.Seconds())
}

// MoveStarted implements multidriver.MoveObserver.
func (m *GroupMetrics) MoveStarted(steps []int64) {
	m.ready.Set(0)
}

// MoveFinished implements multidriver.MoveObserver.
func (m *GroupMetrics) MoveFinished(ticks uint64, elapsed time.Duration) {
	m.moves.Inc()
	m.moveDuration.Observe(elapsed.Seconds())
	m.ready.Set(1)
}
