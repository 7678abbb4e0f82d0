package simulation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronosim/core/clock"
)

func testSim() *Simulation {
	return New(NewOptions{Logger: zerolog.Nop()})
}

// Scenario 1: periodic producer interval=100, one consumer, duration=1000
// => producer.sent=10, consumer.received=10.
func TestSimulation_PeriodicProducerConsumer(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Periodic(100, "tick"),
		Targets: []string{"consumer"},
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{Duration: 1000}))

	stats := sim.Stats()
	assert.EqualValues(t, 10, stats["producer"].SentCount)
	assert.EqualValues(t, 10, stats["consumer"].ReceivedCount)
}

// Scenario 2: rate 50/sec producer, duration=1000 => producer.sent=50.
func TestSimulation_RateProducer(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Rate(50, "tick"),
		Targets: []string{"consumer"},
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{Duration: 1000}))

	stats := sim.Stats()
	assert.EqualValues(t, 50, stats["producer"].SentCount)
}

// Scenario 3: burst count=5 period=500 message=batch, duration=1000
// => producer.sent=10 (two bursts of 5), consumer.received=10.
func TestSimulation_BurstProducer(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Burst(5, 500, "batch"),
		Targets: []string{"consumer"},
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{Duration: 1000}))

	stats := sim.Stats()
	assert.EqualValues(t, 10, stats["producer"].SentCount)
	assert.EqualValues(t, 10, stats["consumer"].ReceivedCount)
}

// Scenario 4: two independent periodic tickers sharing one clock, interval=100,
// advance 1000 => both at sent=10 exactly.
func TestSimulation_SharedClockTickerParity(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("ticker-a", ActorOptions{
		Pattern: Periodic(100, "tick"),
		Targets: []string{"sink-a"},
	}))
	require.NoError(t, sim.AddActor("sink-a", ActorOptions{}))
	require.NoError(t, sim.AddActor("ticker-b", ActorOptions{
		Pattern: Periodic(100, "tick"),
		Targets: []string{"sink-b"},
	}))
	require.NoError(t, sim.AddActor("sink-b", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{Duration: 1000}))

	stats := sim.Stats()
	assert.EqualValues(t, 10, stats["ticker-a"].SentCount)
	assert.EqualValues(t, 10, stats["ticker-b"].SentCount)
}

// Scenario 5: schedule timers at {100, 200, 300} directly on the Clock,
// cancel the 200 one, advance to 350 => only 100 and 300 delivered.
func TestSimulation_CancelPreventsDelivery(t *testing.T) {
	clk := clock.New()
	var delivered []clock.Timestamp
	target := recordingTargetFunc(func(msg any) {
		delivered = append(delivered, clk.Now())
	})

	_, err := clk.ScheduleAfter(target, "a", 100)
	require.NoError(t, err)
	ref200, err := clk.ScheduleAfter(target, "b", 200)
	require.NoError(t, err)
	_, err = clk.ScheduleAfter(target, "c", 300)
	require.NoError(t, err)

	outcome, _ := clk.Cancel(ref200)
	assert.Equal(t, clock.Cancelled, outcome)

	clk.Advance(350)

	assert.Equal(t, []clock.Timestamp{100, 300}, delivered)
}

// Scenario 6: producer periodic 100 => consumer, max_duration=10000,
// terminate_when sent_count >= 10 => terminated_early, actual_duration in
// [1000, 2000], sent_count >= 10.
func TestSimulation_TerminateWhenEarlyStop(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Periodic(100, "data"),
		Targets: []string{"consumer"},
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{}))

	cond := func(s *Simulation) bool {
		return s.Stats()["producer"].SentCount >= 10
	}

	require.NoError(t, sim.Run(RunOptions{MaxDuration: 10000, TerminateWhen: cond}))

	assert.True(t, sim.TerminatedEarly())
	assert.Equal(t, ReasonConditionMet, sim.TerminationReason())
	actual := sim.ActualDuration()
	assert.GreaterOrEqual(t, actual, clock.Timestamp(1000))
	assert.LessOrEqual(t, actual, clock.Timestamp(2000))
	assert.GreaterOrEqual(t, sim.Stats()["producer"].SentCount, uint64(10))
}

// Scenario 7: one-hour ticker interval=1000, duration=3600000 => sent=3600.
// Real wall-clock elapsed is not asserted here (environment-dependent); the
// spec's "<=10s on a modern machine" is a property of the virtual-clock
// design (no sleeping), demonstrated by the other scenarios' instant runs.
func TestSimulation_OneHourTicker(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("ticker", ActorOptions{
		Pattern: Periodic(1000, "tick"),
		Targets: []string{"sink"},
	}))
	require.NoError(t, sim.AddActor("sink", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{Duration: 3600000}))

	assert.EqualValues(t, 3600, sim.Stats()["ticker"].SentCount)
}

// Invariant: monotone now, quiescence termination leaves scheduled_count==0.
func TestSimulation_QuiescenceTermination(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("oneshot", ActorOptions{
		Pattern: SelfMessage(50, "boom"),
		Targets: []string{"sink"},
	}))
	require.NoError(t, sim.AddActor("sink", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{UseQuiescence: true, MaxDuration: 5000}))

	assert.Equal(t, ReasonQuiescence, sim.TerminationReason())
	assert.EqualValues(t, 0, sim.Clock().ScheduledCount())
}

// Invariant: sent_count to a target equals that target's received_count,
// for the simple one-producer-one-consumer topology.
func TestSimulation_SentReceivedParity(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Periodic(10, "x"),
		Targets: []string{"consumer"},
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{Duration: 500}))

	stats := sim.Stats()
	assert.Equal(t, stats["producer"].SentCount, stats["consumer"].ReceivedCount)
}

// Round-trip: two runs of identical Simulations built the same way produce
// identical per-actor counters.
func TestSimulation_DeterministicRoundTrip(t *testing.T) {
	build := func() *Simulation {
		sim := testSim()
		require.NoError(t, sim.AddActor("producer", ActorOptions{
			Pattern: Rate(20, "m"),
			Targets: []string{"consumer"},
		}))
		require.NoError(t, sim.AddActor("consumer", ActorOptions{}))
		require.NoError(t, sim.Run(RunOptions{Duration: 2000}))
		return sim
	}

	a := build()
	b := build()

	assert.Equal(t, a.Stats()["producer"].SentCount, b.Stats()["producer"].SentCount)
	assert.Equal(t, a.Stats()["consumer"].ReceivedCount, b.Stats()["consumer"].ReceivedCount)
}

// AddActor rejects duplicate names and invalid patterns.
func TestSimulation_AddActorValidation(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("a", ActorOptions{Pattern: NoSendPattern()}))
	assert.ErrorIs(t, sim.AddActor("a", ActorOptions{Pattern: NoSendPattern()}), ErrDuplicateActor)

	sim2 := testSim()
	err := sim2.AddActor("bad", ActorOptions{Pattern: Periodic(0, "x")})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

// Run requires at least one stopping condition.
func TestSimulation_RunRequiresStoppingCondition(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("a", ActorOptions{Pattern: NoSendPattern()}))
	err := sim.Run(RunOptions{})
	assert.Error(t, err)
}

// Run may only be called once per Simulation.
func TestSimulation_RunOnlyOnce(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("a", ActorOptions{Pattern: NoSendPattern()}))
	require.NoError(t, sim.Run(RunOptions{Duration: 100}))
	assert.Error(t, sim.Run(RunOptions{Duration: 100}))
}

// Crash/Recover via the fault.ActorManager surface stop an actor from
// receiving further ticks until explicitly recovered.
func TestSimulation_CrashStopsDelivery(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Periodic(100, "tick"),
		Targets: []string{"consumer"},
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{}))

	sim.Faults().CrashNow("consumer", "manual")

	require.NoError(t, sim.Run(RunOptions{Duration: 500}))

	assert.EqualValues(t, 0, sim.Stats()["consumer"].ReceivedCount)
}

// RequestStop, called before Run starts, ends the run at Run's first
// termination check, reporting ReasonStopRequested.
func TestSimulation_RequestStop(t *testing.T) {
	sim := testSim()
	require.NoError(t, sim.AddActor("ticker", ActorOptions{
		Pattern: Periodic(10, "tick"),
		Targets: []string{"sink"},
	}))
	require.NoError(t, sim.AddActor("sink", ActorOptions{}))

	sim.RequestStop()
	require.NoError(t, sim.Run(RunOptions{MaxDuration: 10000}))

	assert.Equal(t, ReasonStopRequested, sim.TerminationReason())
	assert.True(t, sim.TerminatedEarly())
}

// Actors opting into Causal tagging get a vector-clock snapshot on every
// TraceEvent they record, and the receiver's vector dominates the
// sender's (it has merged the sender's component and ticked its own).
func TestSimulation_CausalClockTagsTraceEvents(t *testing.T) {
	sim := New(NewOptions{Logger: zerolog.Nop(), Trace: true})
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Periodic(100, "tick"),
		Targets: []string{"consumer"},
		Causal:  true,
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{Causal: true}))

	require.NoError(t, sim.Run(RunOptions{Duration: 300, Trace: true}))

	events := sim.GetTrace()
	require.NotEmpty(t, events)

	var sawSendCausal, sawReceiveCausal bool
	for _, ev := range events {
		if ev.From == "producer" && ev.To == "consumer" && ev.Causal != nil {
			assert.GreaterOrEqual(t, ev.Causal["producer"], uint64(1))
			sawSendCausal = true
		}
		if ev.To == "consumer" && ev.Causal != nil && ev.Causal["consumer"] > 0 {
			sawReceiveCausal = true
		}
	}
	assert.True(t, sawSendCausal, "expected at least one producer->consumer TraceEvent with a causal vector")
	assert.True(t, sawReceiveCausal, "expected consumer's own component to have ticked on receive")
}

// Actors that do not opt into Causal tagging record TraceEvents with a nil
// vector, leaving only the total (Timestamp, append-order) ordering.
func TestSimulation_NoCausalClockLeavesTraceEventsUntagged(t *testing.T) {
	sim := New(NewOptions{Logger: zerolog.Nop(), Trace: true})
	require.NoError(t, sim.AddActor("producer", ActorOptions{
		Pattern: Periodic(100, "tick"),
		Targets: []string{"consumer"},
	}))
	require.NoError(t, sim.AddActor("consumer", ActorOptions{}))

	require.NoError(t, sim.Run(RunOptions{Duration: 300, Trace: true}))

	for _, ev := range sim.GetTrace() {
		assert.Nil(t, ev.Causal)
	}
}

// recordingTargetFunc adapts a plain func into a clock.Target for
// Scenario 5's direct-Clock test above.
type recordingTargetFunc func(msg any)

func (f recordingTargetFunc) Deliver(msg any) { f(msg) }
