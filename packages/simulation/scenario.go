package simulation

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/chronosim/core/clock"
)

// Scenario is a YAML-loadable description of a Simulation: a list of
// actor definitions plus the run options to execute them with. It
// generalizes the teacher's protocol.StartSimulationRequest{Project,
// Scenario} pairing (a fixed project enum naming a hardcoded simulation)
// into an arbitrary Definition list, so the observer's `run` subcommand
// can execute the scenarios in spec.md §8's table without recompiling.
type Scenario struct {
	Name   string          `yaml:"name"`
	Trace  bool            `yaml:"trace"`
	Run    ScenarioRun     `yaml:"run"`
	Actors []ScenarioActor `yaml:"actors"`
}

// ScenarioRun mirrors RunOptions in YAML-friendly form. TerminateWhen has
// no YAML representation (it is a Go closure); scenarios that need one
// must be built programmatically instead of loaded from YAML.
type ScenarioRun struct {
	DurationMS      clock.Timestamp `yaml:"duration_ms"`
	MaxDurationMS   clock.Timestamp `yaml:"max_duration_ms"`
	UseQuiescence   bool            `yaml:"use_quiescence"`
	CheckIntervalMS clock.Timestamp `yaml:"check_interval_ms"`
}

// ScenarioActor mirrors ActorOptions for the subset expressible without
// Go closures: OnMatch/OnReceive are not loadable from YAML and must be
// attached by AddActor callers directly, so a YAML-defined actor is
// necessarily purely emissive (a producer) or purely silent (a sink).
type ScenarioActor struct {
	Name    string          `yaml:"name"`
	Pattern ScenarioPattern `yaml:"pattern"`
	Targets []string        `yaml:"targets"`
	Causal  bool            `yaml:"causal"`
}

// ScenarioPattern is the YAML tagged-union encoding of SendPattern: Kind
// selects which of the other fields are meaningful, mirroring how
// MatchPattern/SendPattern are themselves modeled as small closed sums.
type ScenarioPattern struct {
	Kind       string          `yaml:"kind"` // "none", "periodic", "rate", "burst", "self"
	IntervalMS clock.Timestamp `yaml:"interval_ms,omitempty"`
	PerSecond  float64         `yaml:"per_second,omitempty"`
	Count      int             `yaml:"count,omitempty"`
	PeriodMS   clock.Timestamp `yaml:"period_ms,omitempty"`
	DelayMS    clock.Timestamp `yaml:"delay_ms,omitempty"`
	Message    any             `yaml:"message,omitempty"`
}

// ErrUnknownPatternKind is returned by ScenarioPattern.ToSendPattern (and
// so by Build) for a pattern kind it does not recognize.
var ErrUnknownPatternKind = fmt.Errorf("simulation: unknown pattern kind")

// ToSendPattern converts the YAML pattern encoding to a SendPattern,
// using the same constructors a programmatic caller would.
func (p ScenarioPattern) ToSendPattern() (SendPattern, error) {
	switch p.Kind {
	case "", "none":
		return NoSendPattern(), nil
	case "periodic":
		return Periodic(p.IntervalMS, p.Message), nil
	case "rate":
		return Rate(p.PerSecond, p.Message), nil
	case "burst":
		return Burst(p.Count, p.PeriodMS, p.Message), nil
	case "self":
		return SelfMessage(p.DelayMS, p.Message), nil
	default:
		return SendPattern{}, fmt.Errorf("%w: %q", ErrUnknownPatternKind, p.Kind)
	}
}

// ParseScenario parses a YAML document into a Scenario.
func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("simulation: parsing scenario: %w", err)
	}
	return sc, nil
}

// RunOptions converts the scenario's run block to the RunOptions Run
// expects. TerminateWhen is always nil; UseQuiescence/Duration/
// MaxDuration come straight from the YAML.
func (sc Scenario) RunOptions() RunOptions {
	return RunOptions{
		Duration:      sc.Run.DurationMS,
		MaxDuration:   sc.Run.MaxDurationMS,
		UseQuiescence: sc.Run.UseQuiescence,
		CheckInterval: sc.Run.CheckIntervalMS,
		Trace:         sc.Trace,
	}
}

// Build constructs a Simulation from the scenario and registers every
// actor it names, returning the ready-to-Run Simulation.
func Build(sc Scenario, opts NewOptions) (*Simulation, error) {
	sim := New(opts)
	for _, a := range sc.Actors {
		pattern, err := a.Pattern.ToSendPattern()
		if err != nil {
			return nil, fmt.Errorf("simulation: actor %q: %w", a.Name, err)
		}
		if err := sim.AddActor(a.Name, ActorOptions{Pattern: pattern, Targets: a.Targets, Causal: a.Causal}); err != nil {
			return nil, fmt.Errorf("simulation: actor %q: %w", a.Name, err)
		}
	}
	return sim, nil
}
