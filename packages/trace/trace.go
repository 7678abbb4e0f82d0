// Package trace implements the Simulation's append-only causal trace: the
// ordered TraceEvent log plus live subscriptions (Subscribe,
// SubscribeChannel) for observers (e.g. the runner behind the WebSocket hub
// in apps/observer) to receive events as they're recorded. It generalizes the teacher's visualization/events.EventBus to
// carry chronosim's TraceEvent vocabulary instead of the teacher's
// protocol-specific Event hierarchy.
package trace

import (
	"sync"

	"github.com/chronosim/core/clock"
	"github.com/chronosim/core/mailbox"
)

// TraceEvent is one recorded message send or receive, in the order it was
// appended: (clock.now at append time, arrival order).
type TraceEvent struct {
	Timestamp clock.Timestamp
	From      string
	To        string
	Message   any
	Type      mailbox.MessageType
	// Causal is an optional vector-clock snapshot (see CausalClock), set
	// only when the recording actor has causal tagging enabled; nil
	// otherwise, in which case only the total (Timestamp, append-order)
	// ordering applies.
	Causal map[string]uint64
}

// Listener receives each TraceEvent as it is appended.
type Listener func(TraceEvent)

// Log is the Simulation's owned, serialized trace writer. Appends are
// cheap and append-only; Events() returns a snapshot safe to read while
// the run continues.
type Log struct {
	mu        sync.RWMutex
	enabled   bool
	events    []TraceEvent
	listeners []Listener
	channels  []chan TraceEvent
}

// NewLog creates a Log. When enabled is false, Append is a no-op — callers
// still pay the cost of building the TraceEvent, but nothing is retained or
// broadcast, matching the `trace: bool` opt of Simulation.Run.
func NewLog(enabled bool) *Log {
	return &Log{enabled: enabled}
}

// Enabled reports whether this Log is currently recording.
func (l *Log) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// SetEnabled toggles recording at runtime.
func (l *Log) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Append records ev if the Log is enabled and broadcasts it to every
// subscriber. Safe to call concurrently from multiple actor goroutines;
// calls are serialized under the Log's own lock, matching spec.md §5's
// "trace log is owned by the Simulation; actors append via a serialized
// writer".
func (l *Log) Append(ev TraceEvent) {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}
	l.events = append(l.events, ev)
	listeners := l.listeners
	channels := l.channels
	l.mu.Unlock()

	for _, fn := range listeners {
		go fn(ev)
	}
	for _, ch := range channels {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a callback invoked (in its own goroutine) for every
// future Append.
func (l *Log) Subscribe(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// SubscribeChannel returns a channel fed non-blockingly with future events;
// a slow consumer drops events rather than stalling the simulation.
func (l *Log) SubscribeChannel(bufferSize int) <-chan TraceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan TraceEvent, bufferSize)
	l.channels = append(l.channels, ch)
	return ch
}

// Events returns a snapshot copy of the recorded trace in append order.
func (l *Log) Events() []TraceEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TraceEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len reports how many events have been recorded so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
