package simulation

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/chronosim/core/clock"
	"github.com/chronosim/core/mailbox"
	"github.com/chronosim/router"
	"github.com/chronosim/trace"
)

// tickSignal is the sentinel a SimActor schedules to itself to drive its
// own send-pattern; it is never routed through the Router, only ever seen
// by the actor's own Deliver.
type tickSignal struct{}

// SimActor embodies a Definition at runtime: it emits send-pattern messages
// on schedule, reacts to incoming messages via OnMatch/OnReceive, and
// records Stats. It implements clock.Target directly — a SimActor has no
// goroutine of its own; Deliver runs synchronously on the Clock's calling
// goroutine, so its "ack" is simply returning once every induced
// ScheduleAfter/Router.Send call has been made.
type SimActor struct {
	mu sync.Mutex

	def     Definition
	state   any
	status  Status
	clk     *clock.Clock
	rt      *router.Router
	stats   *Stats
	tracer  *trace.Log
	causal  *trace.CausalClock
	log     zerolog.Logger
	started bool
}

// NewSimActor constructs a SimActor for def, recording stats under
// def.Name and delivering through rt, scheduling on clk.
func NewSimActor(def Definition, clk *clock.Clock, rt *router.Router, stats *Stats, tracer *trace.Log, log zerolog.Logger) *SimActor {
	return &SimActor{
		def:    def,
		state:  def.InitialState,
		status: StatusAlive,
		clk:    clk,
		rt:     rt,
		stats:  stats,
		tracer: tracer,
		log:    log.With().Str("actor", def.Name).Logger(),
	}
}

// WithCausalClock attaches an optional CausalClock for trace tagging.
func (a *SimActor) WithCausalClock(c *trace.CausalClock) *SimActor {
	a.causal = c
	return a
}

// Start computes and schedules the actor's first tick, per its
// send-pattern. A None pattern never ticks. Start is idempotent.
func (a *SimActor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.started = true

	if err := Validate(a.def.Pattern); err != nil {
		return err
	}

	switch a.def.Pattern.Kind {
	case NonePattern:
		return nil
	default:
		interval, err := IntervalFor(a.def.Pattern)
		if err != nil {
			return err
		}
		_, err = a.clk.ScheduleAfter(a, tickSignal{}, interval)
		return err
	}
}

// Deliver is the clock.Target entry point: it distinguishes the actor's
// own tick signal from an incoming routed envelope and dispatches
// accordingly. Both branches return only once any induced send/reschedule
// has been fully queued, satisfying the quiescence-ack contract.
func (a *SimActor) Deliver(msg any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != StatusAlive {
		return
	}

	switch m := msg.(type) {
	case tickSignal:
		a.onTickLocked()
	case mailbox.Envelope:
		a.onReceiveLocked(m)
	default:
		a.log.Warn().Interface("message", msg).Msg("ignoring message of unrecognized shape")
	}
}

func (a *SimActor) onTickLocked() {
	if a.def.Pattern.Kind == SelfMessagePattern {
		// one-shot, addressed to the actor itself rather than its Targets.
		a.emitLocked(a.def.Name, a.def.Pattern.Message, mailbox.Send)
		return
	}
	for _, payload := range MessagesFor(a.def.Pattern) {
		for _, target := range a.def.Targets {
			a.emitLocked(target, payload, mailbox.Send)
		}
	}

	switch a.def.Pattern.Kind {
	case PeriodicPattern, RatePattern:
		interval, _ := IntervalFor(a.def.Pattern)
		a.clk.ScheduleAfter(a, tickSignal{}, interval)
	case BurstPattern:
		a.clk.ScheduleAfter(a, tickSignal{}, a.def.Pattern.PeriodMS)
	case SelfMessagePattern:
		// one-shot: no reschedule.
	}
}

func (a *SimActor) emitLocked(target string, payload any, msgType mailbox.MessageType) {
	a.stats.RecordSent(payload)

	var vector map[string]uint64
	if a.causal != nil {
		vector = a.causal.Tick()
	}
	if vector != nil {
		a.rt.SendEnvelope(mailbox.Envelope{From: a.def.Name, To: target, Type: msgType, Payload: payload, Causal: vector}, 0)
	} else {
		a.rt.Send(a.def.Name, target, payload, msgType, 0)
	}
	a.recordTraceLocked(a.def.Name, target, payload, msgType, vector)
}

func (a *SimActor) recordTraceLocked(from, to string, payload any, msgType mailbox.MessageType, causal map[string]uint64) {
	if a.tracer == nil {
		return
	}
	a.tracer.Append(trace.TraceEvent{
		Timestamp: a.clk.Now(),
		From:      from,
		To:        to,
		Message:   payload,
		Type:      msgType,
		Causal:    causal,
	})
}

func (a *SimActor) onReceiveLocked(env mailbox.Envelope) {
	a.stats.RecordReceived(env.Payload)

	var vector map[string]uint64
	if a.causal != nil {
		vector = a.causal.Merge(env.Causal)
	}
	a.recordTraceLocked(env.From, a.def.Name, env.Payload, env.Type, vector)

	if reply, matched := Match(a.def, env.Payload); matched {
		a.emitLocked(env.From, reply, mailbox.Send)
		return
	}

	if a.def.OnReceive == nil {
		return
	}

	result := a.def.OnReceive(env.Payload, a.state)
	a.state = result.State

	for _, s := range result.Sends {
		a.emitLocked(s.Target, s.Message, mailbox.Send)
	}
	for _, s := range result.SendAfter {
		a.stats.RecordSent(s.Message)
		a.rt.Send(a.def.Name, s.Target, s.Message, mailbox.Send, s.Delay)
	}
	if result.HasReply && env.ReplyTo != nil {
		select {
		case env.ReplyTo <- result.Reply:
		default:
		}
	}
	if result.Stop {
		a.status = StatusStopped
		a.stats.SetStatus(StatusStopped, "")
	}
}

// Crash marks the actor Crashed: further Deliver calls become no-ops, per
// spec.md §4.1's "scheduling to a dead target... delivery becomes a no-op
// and acks immediately".
func (a *SimActor) Crash(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusCrashed
	a.stats.SetStatus(StatusCrashed, reason)
	a.log.Warn().Str("reason", reason).Msg("actor crashed")
}

// Recover restores the actor to Alive after a Crash. The core runtime
// never calls this on its own (§4.5: no restart on failure) — it exists
// for the fault.Controller to drive explicit recovery.
func (a *SimActor) Recover() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusAlive
	a.stats.SetStatus(StatusAlive, "")
}

// Status reports the actor's current lifecycle state.
func (a *SimActor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}
