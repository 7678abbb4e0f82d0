// Package metrics defines the Prometheus collectors shared by the Driver
// and the observer's /metrics endpoint, grounded on the teacher pack's
// promauto-based collector style (see
// betrace-hq-betrace/backend/internal/observability/metrics.go) rather
// than hand-rolling counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScheduledCount is a gauge per Simulation id for the Clock's
	// pending-event count. The observer's runner sets it to 0 when a run
	// starts; nothing updates it with the calendar's count.
	ScheduledCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronosim_scheduled_count",
			Help: "Number of events currently pending on a Simulation's Clock calendar",
		},
		[]string{"simulation_id"},
	)

	// EventsDeliveredTotal is incremented by the observer's runner once per
	// trace event it forwards, labeled by the event's To actor. Runs without
	// trace recording do not update it.
	EventsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronosim_events_delivered_total",
			Help: "Total number of events delivered to actors across all simulations",
		},
		[]string{"simulation_id", "actor"},
	)

	// ClockNowMS reports a Simulation's current virtual time in
	// milliseconds.
	ClockNowMS = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronosim_clock_now_ms",
			Help: "Current virtual clock time, in milliseconds, per simulation",
		},
		[]string{"simulation_id"},
	)

	// QuiescenceWaitSeconds measures how long (real wall-clock time) the
	// Driver spent blocked in WaitForQuiescence per Advance call.
	QuiescenceWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronosim_quiescence_wait_seconds",
			Help:    "Wall-clock time spent waiting for quiescence after advancing the Clock",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10μs to ~650ms
		},
		[]string{"simulation_id"},
	)

	// RunsTotal counts completed Simulation.Run calls, labeled by the
	// TerminationReason they ended with.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronosim_runs_total",
			Help: "Total number of Simulation runs completed, by termination reason",
		},
		[]string{"reason"},
	)

	// ActorsCrashedTotal counts fault.Controller crash injections, labeled
	// by actor name.
	ActorsCrashedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronosim_actors_crashed_total",
			Help: "Total number of actor crash injections",
		},
		[]string{"actor"},
	)
)
