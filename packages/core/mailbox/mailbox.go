// Package mailbox implements the ordered FIFO message queue every actor
// reads from. It is chronosim's adaptation of the teacher's message.Queue:
// same channel-backed FIFO shape, generalized to carry the envelope type
// this codebase's Clock/Router/Trace layers expect.
package mailbox

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue once the Mailbox has been closed.
var ErrClosed = errors.New("mailbox: closed")

// MessageType tags how a message arrived, matching spec.md's
// Send/Call/Cast distinction on TraceEvent.
type MessageType int

const (
	Send MessageType = iota
	Call
	Cast
)

func (t MessageType) String() string {
	switch t {
	case Send:
		return "send"
	case Call:
		return "call"
	case Cast:
		return "cast"
	default:
		return "unknown"
	}
}

// Envelope wraps a payload with the delivery metadata the rest of the
// system needs to build a TraceEvent without re-deriving it later.
type Envelope struct {
	From    string
	To      string
	Type    MessageType
	Payload any
	// ReplyTo carries a reply channel for Call envelopes expecting a
	// synchronous response; nil for Send/Cast.
	ReplyTo chan any
	// Causal carries the sender's vector-clock snapshot at send time, when
	// the sending actor has causal trace tagging enabled; nil otherwise.
	Causal map[string]uint64
}

// Mailbox is a bounded FIFO. Writers are any actor holding a reference;
// the sole reader is the owning actor's loop.
type Mailbox struct {
	ch     chan Envelope
	closed chan struct{}
	once   sync.Once
}

// New creates a Mailbox with the given buffer capacity.
func New(capacity int) *Mailbox {
	return &Mailbox{
		ch:     make(chan Envelope, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue appends env to the back of the queue. Returns ErrClosed if the
// Mailbox has been closed. Never sends on the underlying channel after
// close: Close only closes the signal channel, never ch itself, so a
// concurrent Enqueue racing a Close can only ever see ErrClosed or succeed
// cleanly, never panic on a closed channel.
func (m *Mailbox) Enqueue(env Envelope) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- env:
		return nil
	case <-m.closed:
		return ErrClosed
	}
}

// Dequeue removes and returns the front envelope, or ok=false if the
// Mailbox is empty right now.
func (m *Mailbox) Dequeue() (Envelope, bool) {
	select {
	case env := <-m.ch:
		return env, true
	default:
		return Envelope{}, false
	}
}

// DequeueBlocking removes and returns the front envelope, blocking until
// one is available or the Mailbox is closed with nothing left buffered.
func (m *Mailbox) DequeueBlocking() (Envelope, bool) {
	for {
		select {
		case env := <-m.ch:
			return env, true
		default:
		}
		select {
		case env := <-m.ch:
			return env, true
		case <-m.closed:
			select {
			case env := <-m.ch:
				return env, true
			default:
				return Envelope{}, false
			}
		}
	}
}

// Channel exposes the underlying receive channel for use in a select
// alongside other wakeup sources (e.g. a done channel or a Clock wakeup).
func (m *Mailbox) Channel() <-chan Envelope {
	return m.ch
}

// Len reports the number of envelopes currently queued.
func (m *Mailbox) Len() int {
	return len(m.ch)
}

// Close marks the Mailbox closed; further Enqueue calls fail. Already
// buffered envelopes remain readable via Dequeue/DequeueBlocking until
// drained.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		close(m.closed)
	})
}
