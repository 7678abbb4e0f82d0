// Package runner adapts the teacher's apps/api/internal/simulation.Manager
// (project-dispatching orchestrator around a engine.Engine) into a single
// Simulation-dispatching orchestrator around chronosim/simulation.
// Simulation: one Manager owns at most one running Simulation, built from a
// named YAML Scenario on disk, and streams its trace/stats/completion back
// through a Broadcaster exactly the way the teacher streamed
// protocol.SimulationStateResponse frames.
package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chronosim/core/clock"
	"github.com/chronosim/metrics"
	"github.com/chronosim/protocol"
	"github.com/chronosim/simulation"
	"github.com/chronosim/trace"
)

// Broadcaster is the narrow surface Manager needs to push protocol frames
// out to every connected observer; hub.Hub implements it.
type Broadcaster interface {
	BroadcastJSON(v any) error
}

// Manager orchestrates chronosim Simulations: building one from a named
// scenario file, running it to completion on its own goroutine, and
// broadcasting its trace events and final stats as it goes.
type Manager struct {
	mu sync.Mutex

	broadcaster Broadcaster
	scenarioDir string
	log         zerolog.Logger

	runID   string
	sim     *simulation.Simulation
	running bool
}

// NewManager creates a Manager that loads scenario files from scenarioDir
// (each named "<scenario>.yaml") and reports through broadcaster.
func NewManager(broadcaster Broadcaster, scenarioDir string, log zerolog.Logger) *Manager {
	return &Manager{
		broadcaster: broadcaster,
		scenarioDir: scenarioDir,
		log:         log.With().Str("component", "runner").Logger(),
	}
}

// Start loads req.Scenario from disk, builds a Simulation from it, and
// launches it on a background goroutine. Returns an error immediately if a
// simulation is already running or the scenario cannot be loaded/built;
// errors occurring during the run itself are reported asynchronously as
// protocol.ErrorResponse frames.
func (m *Manager) Start(req protocol.RunSimulationRequest) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("runner: a simulation is already running (run %s)", m.runID)
	}
	m.mu.Unlock()

	path := filepath.Join(m.scenarioDir, req.Scenario+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("runner: reading scenario %q: %w", req.Scenario, err)
	}
	sc, err := simulation.ParseScenario(data)
	if err != nil {
		return fmt.Errorf("runner: parsing scenario %q: %w", req.Scenario, err)
	}
	if req.Duration > 0 {
		sc.Run.DurationMS = clock.Timestamp(req.Duration)
	}
	if req.Trace {
		sc.Trace = true
	}
	if sc.Run.DurationMS <= 0 && sc.Run.MaxDurationMS <= 0 && !sc.Run.UseQuiescence {
		return fmt.Errorf("runner: scenario %q has no stopping condition (duration_ms, max_duration_ms, or use_quiescence)", req.Scenario)
	}

	sim, err := simulation.Build(sc, simulation.NewOptions{Trace: sc.Trace, Logger: m.log})
	if err != nil {
		return fmt.Errorf("runner: building scenario %q: %w", req.Scenario, err)
	}

	runID := sim.ID()
	actorNames := make([]string, 0, len(sc.Actors))
	for _, a := range sc.Actors {
		actorNames = append(actorNames, a.Name)
	}

	m.mu.Lock()
	m.runID = runID
	m.sim = sim
	m.running = true
	m.mu.Unlock()

	if err := m.broadcaster.BroadcastJSON(&protocol.RunStartedResponse{
		Type:     protocol.MsgRunStarted,
		RunID:    runID,
		Scenario: req.Scenario,
		Actors:   actorNames,
	}); err != nil {
		m.log.Warn().Err(err).Msg("broadcasting run_started")
	}

	if sc.Trace {
		go m.pumpTrace(runID, sim.Trace().SubscribeChannel(64))
	}

	go m.runAndReport(sim, runID, sc.RunOptions())

	return nil
}

// pumpTrace forwards trace events onto the wire as they are appended,
// until the subscription channel closes (the Log is never explicitly
// closed today; this goroutine exits when Manager replaces m.sim, since
// the channel is simply abandoned — not ideal, but matches the teacher's
// own fire-and-forget broadcast style for timeline events).
func (m *Manager) pumpTrace(runID string, events <-chan trace.TraceEvent) {
	for ev := range events {
		metrics.EventsDeliveredTotal.WithLabelValues(runID, ev.To).Inc()
		if err := m.broadcaster.BroadcastJSON(protocol.NewTraceEventResponse(runID, ev)); err != nil {
			m.log.Warn().Err(err).Str("run_id", runID).Msg("broadcasting trace_event")
		}
	}
}

func (m *Manager) runAndReport(sim *simulation.Simulation, runID string, opts simulation.RunOptions) {
	metrics.ScheduledCount.WithLabelValues(runID).Set(0)

	if err := sim.Run(opts); err != nil {
		m.log.Error().Err(err).Str("run_id", runID).Msg("simulation run failed")
		m.broadcaster.BroadcastJSON(protocol.NewError("run_error", err.Error()))
	} else {
		metrics.RunsTotal.WithLabelValues(sim.TerminationReason().String()).Inc()
		metrics.ClockNowMS.WithLabelValues(runID).Set(float64(sim.Now()))

		stats := toActorStats(sim.Stats())
		m.broadcaster.BroadcastJSON(&protocol.RunFinishedResponse{
			Type:              protocol.MsgRunFinished,
			RunID:             runID,
			TerminationReason: sim.TerminationReason().String(),
			ActualDuration:    int64(sim.ActualDuration()),
			RealTimeElapsed:   sim.RealTimeElapsed(),
			Actors:            stats,
		})
	}

	sim.Stop()

	m.mu.Lock()
	if m.runID == runID {
		m.running = false
	}
	m.mu.Unlock()
}

// Stop requests early termination of the currently running simulation, if
// its runID matches. It is advisory: the run ends at its next termination
// check (spec.md's check_interval granularity), not instantaneously.
func (m *Manager) Stop(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.sim == nil || m.sim.ID() != runID {
		return fmt.Errorf("runner: no running simulation with id %q", runID)
	}
	m.sim.RequestStop()
	return nil
}

// GetState reports a snapshot of stats for the currently running
// simulation, or a zero-value snapshot if none is running.
func (m *Manager) GetState() *protocol.StatsSnapshotResponse {
	m.mu.Lock()
	sim := m.sim
	runID := m.runID
	running := m.running
	m.mu.Unlock()

	if !running || sim == nil {
		return &protocol.StatsSnapshotResponse{Type: protocol.MsgStatsSnapshot}
	}

	return &protocol.StatsSnapshotResponse{
		Type:        protocol.MsgStatsSnapshot,
		RunID:       runID,
		VirtualTime: int64(sim.Now()),
		Actors:      toActorStats(sim.Stats()),
	}
}

// IsRunning reports whether a simulation is currently in progress.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func toActorStats(snapshots map[string]simulation.Snapshot) []protocol.ActorStats {
	out := make([]protocol.ActorStats, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, protocol.ActorStats{
			Name:          s.Name,
			Status:        s.Status.String(),
			SentCount:     s.SentCount,
			ReceivedCount: s.ReceivedCount,
		})
	}
	return out
}
