// Package router implements the actor registry every send in a Simulation
// goes through: it resolves an ActorId to the clock.Target that owns its
// mailbox and schedules delivery through the Clock, so every cross-actor
// message — even an "immediate" one issued from inside a tick handler —
// obtains a well-ordered (fire_at, seq) slot rather than being written
// directly. It is chronosim's generalization of the teacher's
// network/transport.Transport: same envelope-and-registry shape, the
// latency/packet-loss/partition simulation dropped since this is a virtual
// calendar, not a network (see DESIGN.md).
package router

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/chronosim/core/clock"
	"github.com/chronosim/core/mailbox"
)

// ErrDuplicateActor is returned by Register when name is already bound.
type ErrDuplicateActor struct{ Name string }

func (e *ErrDuplicateActor) Error() string {
	return "router: duplicate actor " + e.Name
}

// Router maps actor names to the clock.Target that owns their mailbox.
type Router struct {
	mu      sync.RWMutex
	targets map[string]clock.Target
	clk     *clock.Clock
	log     zerolog.Logger
}

// New creates a Router that schedules all deliveries on clk.
func New(clk *clock.Clock, log zerolog.Logger) *Router {
	return &Router{
		targets: make(map[string]clock.Target),
		clk:     clk,
		log:     log.With().Str("component", "router").Logger(),
	}
}

// Register binds name to target. Returns ErrDuplicateActor if name is
// already registered.
func (r *Router) Register(name string, target clock.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[name]; exists {
		return &ErrDuplicateActor{Name: name}
	}
	r.targets[name] = target
	return nil
}

// Unregister removes name from the registry, if present.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, name)
}

// Has reports whether name is currently registered.
func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.targets[name]
	return ok
}

// Send schedules delivery of payload from `from` to `to`, tagged msgType,
// after delay virtual milliseconds (0 schedules at now, per
// clock.ScheduleAfter semantics). Sending to an unregistered actor is the
// UnknownTarget case: it is dropped silently with a warning log, never an
// error returned to the caller, matching the source behavior of not
// crashing a run over a stale target.
func (r *Router) Send(from, to string, payload any, msgType mailbox.MessageType, delay clock.Timestamp) (clock.TimerRef, bool) {
	return r.SendEnvelope(mailbox.Envelope{From: from, To: to, Type: msgType, Payload: payload}, delay)
}

// SendEnvelope is Send for a caller that has already built its own
// Envelope — chiefly a sender attaching a Causal vector-clock snapshot,
// which plain Send has no parameter for. Same UnknownTarget handling as
// Send.
func (r *Router) SendEnvelope(env mailbox.Envelope, delay clock.Timestamp) (clock.TimerRef, bool) {
	r.mu.RLock()
	target, ok := r.targets[env.To]
	r.mu.RUnlock()

	if !ok {
		r.log.Warn().Str("from", env.From).Str("to", env.To).Msg("dropping message to unknown target")
		return 0, false
	}

	ref, err := r.clk.ScheduleAfter(target, env, delay)
	if err != nil {
		r.log.Error().Err(err).Str("from", env.From).Str("to", env.To).Msg("invalid delay scheduling send")
		return 0, false
	}
	return ref, true
}

// SendCall is Send specialized for a synchronous Call: it attaches a
// buffered reply channel to the envelope so the callee's ServerWrapper can
// write its reply back without the caller needing direct access to the
// callee. Returns ok=false for the same UnknownTarget case as Send.
func (r *Router) SendCall(from, to string, payload any, delay clock.Timestamp) (replyCh chan any, ok bool) {
	r.mu.RLock()
	target, registered := r.targets[to]
	r.mu.RUnlock()

	if !registered {
		r.log.Warn().Str("from", from).Str("to", to).Msg("dropping call to unknown target")
		return nil, false
	}

	replyCh = make(chan any, 1)
	env := mailbox.Envelope{From: from, To: to, Type: mailbox.Call, Payload: payload, ReplyTo: replyCh}
	if _, err := r.clk.ScheduleAfter(target, env, delay); err != nil {
		r.log.Error().Err(err).Str("from", from).Str("to", to).Msg("invalid delay scheduling call")
		return nil, false
	}
	return replyCh, true
}

// Names returns a snapshot of all currently registered actor names.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for n := range r.targets {
		names = append(names, n)
	}
	return names
}
