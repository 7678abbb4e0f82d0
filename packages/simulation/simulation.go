// Package simulation implements the Definition/SendPattern DSL, the
// SimActor and ServerWrapper runtimes that embody it, and the Simulation
// object and Driver loop that tie them to a Clock. It is chronosim's
// generalization of the teacher's simulation/engine.Engine: the same
// register-actors / advance-in-steps / evaluate-termination shape, driven
// by a virtual Clock instead of a realtime ticker.
package simulation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chronosim/core/clock"
	"github.com/chronosim/fault"
	"github.com/chronosim/metrics"
	"github.com/chronosim/router"
	"github.com/chronosim/trace"
)

// TerminationReason reports why Run stopped.
type TerminationReason int

const (
	ReasonDurationReached TerminationReason = iota
	ReasonMaxDurationReached
	ReasonConditionMet
	ReasonQuiescence
	ReasonStopRequested
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonDurationReached:
		return "duration_reached"
	case ReasonMaxDurationReached:
		return "max_duration_reached"
	case ReasonConditionMet:
		return "condition_met"
	case ReasonQuiescence:
		return "quiescence"
	case ReasonStopRequested:
		return "stop_requested"
	default:
		return "unknown"
	}
}

// defaultCheckInterval is how often (in virtual ms) the termination
// predicate is evaluated when not otherwise specified.
const defaultCheckInterval = clock.Timestamp(100)

// TerminateWhen is a user predicate evaluated against a Simulation
// snapshot; a true result ends the run early.
type TerminateWhen func(sim *Simulation) bool

// Quiescence is a nil TerminateWhen: passing it is the same as leaving
// TerminateWhen unset. Stopping once the Clock's calendar is empty is
// selected with RunOptions.UseQuiescence.
var Quiescence TerminateWhen = nil

// RunOptions configures Simulation.Run.
type RunOptions struct {
	Duration      clock.Timestamp
	MaxDuration   clock.Timestamp
	TerminateWhen TerminateWhen
	UseQuiescence bool
	CheckInterval clock.Timestamp
	Trace         bool
}

// ActorOptions configures AddActor.
type ActorOptions struct {
	Pattern      SendPattern
	Targets      []string
	InitialState any
	OnMatch      []MatchRule
	OnReceive    ReceiveFunc
	// Causal opts this actor into vector-clock tagging of every TraceEvent
	// it records (see trace.CausalClock). It is a no-op unless trace
	// recording itself is enabled, per SPEC_FULL.md's "gated by the same
	// trace_enabled flag to avoid a second on/off knob".
	Causal bool
}

// ProcessOptions configures AddProcess.
type ProcessOptions struct {
	InitArg  any
	Targets  []string
	RealTime bool
}

type actorEntry struct {
	name    string
	kind    string // "simulated" or "real"
	sim     *SimActor
	server  *ServerWrapper
	stats   *Stats
	targets []string
	causal  bool
}

// Simulation is the top-level object: a registry of actors (synthetic and
// real), an owned Clock and Router, an append-only trace, and the
// bookkeeping Run needs to terminate correctly and report why.
type Simulation struct {
	mu sync.Mutex

	id      string
	clk     *clock.Clock
	rt      *router.Router
	tracer  *trace.Log
	faults  *fault.Controller
	log     zerolog.Logger
	actors  map[string]*actorEntry
	started bool

	traceEnabled      bool
	actualDuration    clock.Timestamp
	realTimeElapsedMS int64
	terminatedEarly   bool
	terminationReason TerminationReason
	stopRequested     bool
}

// NewOptions configures New.
type NewOptions struct {
	Trace  bool
	Logger zerolog.Logger
}

// New constructs an empty Simulation with a fresh Clock and Router.
func New(opts NewOptions) *Simulation {
	clk := clock.New()
	logger := opts.Logger
	sim := &Simulation{
		id:           uuid.New().String(),
		clk:          clk,
		tracer:       trace.NewLog(opts.Trace),
		traceEnabled: opts.Trace,
		log:          logger.With().Str("component", "simulation").Logger(),
		actors:       make(map[string]*actorEntry),
	}
	sim.rt = router.New(clk, sim.log)
	sim.faults = fault.NewController(clk, sim, sim.log)
	return sim
}

// ID returns this Simulation's unique identifier.
func (s *Simulation) ID() string { return s.id }

// Clock exposes the owned Clock for callers that need direct access (e.g.
// StartServer's VirtualClock option).
func (s *Simulation) Clock() *clock.Clock { return s.clk }

// Trace exposes the owned trace Log.
func (s *Simulation) Trace() *trace.Log { return s.tracer }

// AddActor registers a synthetic actor. Must be called before Run.
// Returns ErrDuplicateActor for a name collision, or ErrInvalidPattern for
// an unschedulable send-pattern.
func (s *Simulation) AddActor(name string, opts ActorOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("simulation: cannot add actors after Run has started")
	}
	if _, exists := s.actors[name]; exists {
		return ErrDuplicateActor
	}
	if err := Validate(opts.Pattern); err != nil {
		return err
	}

	def := Definition{
		Name:         name,
		Pattern:      opts.Pattern,
		Targets:      opts.Targets,
		InitialState: opts.InitialState,
		OnMatch:      opts.OnMatch,
		OnReceive:    opts.OnReceive,
	}
	stats := NewStats(name)
	actor := NewSimActor(def, s.clk, s.rt, stats, s.tracer, s.log)
	if err := s.rt.Register(name, actor); err != nil {
		return err
	}

	s.actors[name] = &actorEntry{name: name, kind: "simulated", sim: actor, stats: stats, targets: opts.Targets, causal: opts.Causal}
	return nil
}

// wireCausalClocksLocked attaches a trace.CausalClock to every actor that
// opted into Causal tagging, once the full actor roster is known (a vector
// clock needs every participant's name up front, which isn't available
// until AddActor calls stop). Called once, from Run, before the actor loop
// starts. A no-op when trace recording is disabled.
func (s *Simulation) wireCausalClocksLocked() {
	if !s.traceEnabled {
		return
	}
	names := make([]string, 0, len(s.actors))
	for name := range s.actors {
		names = append(names, name)
	}
	for name, entry := range s.actors {
		if entry.sim != nil && entry.causal {
			entry.sim.WithCausalClock(trace.NewCausalClock(name, names))
		}
	}
}

// AddProcess registers a real ServerWrapper-backed process, running
// module behind the protocol of spec.md §4.4. Must be called before Run.
func (s *Simulation) AddProcess(name string, module CallbackModule, opts ProcessOptions) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("simulation: cannot add actors after Run has started")
	}
	if _, exists := s.actors[name]; exists {
		s.mu.Unlock()
		return ErrDuplicateActor
	}
	s.mu.Unlock()

	stats := NewStats(name)
	server, err := StartServer(name, module, opts.InitArg, s.rt, stats, s.tracer, s.log, ServerOption{
		VirtualClock: s.clk,
		RealTime:     opts.RealTime,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[name] = &actorEntry{name: name, kind: "real", server: server, stats: stats, targets: opts.Targets}
	return nil
}

// Faults exposes the fault Controller for this Simulation's actors.
func (s *Simulation) Faults() *fault.Controller { return s.faults }

// Crash implements fault.ActorManager: crashes the named actor/process.
func (s *Simulation) Crash(name, reason string) {
	s.mu.Lock()
	entry, ok := s.actors[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	if entry.sim != nil {
		entry.sim.Crash(reason)
	}
	if entry.server != nil {
		entry.server.Stop()
	}
}

// Recover implements fault.ActorManager: recovers a crashed synthetic
// actor. Real processes do not restart (§4.5: no restart on failure in
// the core).
func (s *Simulation) Recover(name string) {
	s.mu.Lock()
	entry, ok := s.actors[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	if entry.sim != nil {
		entry.sim.Recover()
	}
}

// Run is the single entry point: spawn every synthetic actor's first
// tick, then advance the Clock in steps of CheckInterval (default 100ms),
// evaluating TerminateWhen/quiescence between steps, until MaxDuration (or
// Duration) is reached.
func (s *Simulation) Run(opts RunOptions) error {
	if opts.Duration <= 0 && opts.MaxDuration <= 0 && opts.TerminateWhen == nil && !opts.UseQuiescence {
		return errors.New("simulation: Run requires one of Duration, MaxDuration, TerminateWhen, or UseQuiescence")
	}
	startRealTime := time.Now()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("simulation: Run already called")
	}
	s.started = true
	if opts.Trace {
		s.tracer.SetEnabled(true)
		s.traceEnabled = true
	}
	s.wireCausalClocksLocked()
	entries := make([]*actorEntry, 0, len(s.actors))
	for _, e := range s.actors {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if e.sim != nil {
			if err := e.sim.Start(); err != nil {
				return fmt.Errorf("simulation: starting actor %q: %w", e.name, err)
			}
		}
	}

	// A bare `duration: N` run has no predicate of its own; model it as a
	// hard ceiling so the loop below has a single uniform stopping rule.
	// When a predicate or quiescence IS set, `max_duration` is the ceiling
	// and `duration` is ignored (per spec.md §4.6's tie-break rule).
	ceiling := opts.MaxDuration
	plainDuration := opts.TerminateWhen == nil && !opts.UseQuiescence
	if plainDuration && opts.Duration > 0 {
		ceiling = opts.Duration
	}

	checkInterval := opts.CheckInterval
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}

	reason := ReasonMaxDurationReached
	for {
		s.mu.Lock()
		stopRequested := s.stopRequested
		s.mu.Unlock()
		if stopRequested {
			reason = ReasonStopRequested
			s.mu.Lock()
			s.terminatedEarly = true
			s.mu.Unlock()
			break
		}
		if opts.TerminateWhen != nil && opts.TerminateWhen(s) {
			reason = ReasonConditionMet
			s.mu.Lock()
			s.terminatedEarly = true
			s.mu.Unlock()
			break
		}
		if opts.UseQuiescence && s.clk.ScheduledCount() == 0 {
			reason = ReasonQuiescence
			break
		}

		step := checkInterval
		hasCeiling := ceiling > 0
		if hasCeiling {
			remaining := ceiling - s.clk.Now()
			if remaining <= 0 {
				if plainDuration {
					reason = ReasonDurationReached
				} else {
					reason = ReasonMaxDurationReached
				}
				break
			}
			if remaining < step {
				step = remaining
			}
		}

		s.clk.Advance(step)
		waitStart := time.Now()
		s.clk.WaitForQuiescence()
		metrics.QuiescenceWaitSeconds.WithLabelValues(s.id).Observe(time.Since(waitStart).Seconds())
	}

	s.mu.Lock()
	s.actualDuration = s.clk.Now()
	s.terminationReason = reason
	s.realTimeElapsedMS = time.Since(startRealTime).Milliseconds()
	s.mu.Unlock()
	return nil
}

// Stats returns a snapshot of every actor's current counters.
func (s *Simulation) Stats() map[string]Snapshot {
	s.mu.Lock()
	entries := make([]*actorEntry, 0, len(s.actors))
	for _, e := range s.actors {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make(map[string]Snapshot, len(entries))
	for _, e := range entries {
		out[e.name] = e.stats.Snapshot()
	}
	return out
}

// GetTrace returns a snapshot of the recorded trace (empty if tracing was
// never enabled).
func (s *Simulation) GetTrace() []trace.TraceEvent {
	return s.tracer.Events()
}

// Now returns the Simulation's current virtual time.
func (s *Simulation) Now() clock.Timestamp {
	return s.clk.Now()
}

// ActualDuration returns how much virtual time the run advanced.
func (s *Simulation) ActualDuration() clock.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualDuration
}

// TerminatedEarly reports whether TerminateWhen fired, or a RequestStop was
// honored, before any duration ceiling was reached.
func (s *Simulation) TerminatedEarly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminatedEarly
}

// TerminationReason reports why Run stopped.
func (s *Simulation) TerminationReason() TerminationReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminationReason
}

// RealTimeElapsed returns how much wall-clock time Run actually took, in
// milliseconds. Under a virtual Clock this is normally much smaller than
// ActualDuration; it exists to let callers report how "expensive" a run
// was to produce, independent of the simulated duration.
func (s *Simulation) RealTimeElapsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realTimeElapsedMS
}

// RequestStop asks a running Run loop to end at its next termination
// check, reported as ReasonStopRequested. A request made before Run starts
// ends Run at its first check; a request made after Run has returned has no
// effect.
func (s *Simulation) RequestStop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

// Stop tears down every real process and releases the Simulation's
// resources. Synthetic actors need no teardown beyond dropping references.
func (s *Simulation) Stop() {
	s.mu.Lock()
	entries := make([]*actorEntry, 0, len(s.actors))
	for _, e := range s.actors {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if e.server != nil {
			e.server.Stop()
		}
	}
}
