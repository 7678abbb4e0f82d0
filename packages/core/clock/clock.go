// Package clock implements the virtual clock: a single-threaded event
// calendar keyed by integer virtual timestamps. It is the substrate the rest
// of chronosim builds on to replace wall-clock waits with a deterministically
// advanceable notion of "now".
package clock

import (
	"container/heap"
	"errors"
	"sync"
)

// Timestamp is a non-negative integer count of virtual milliseconds.
type Timestamp int64

// TimerRef is an opaque handle returned by ScheduleAfter, unique per Clock
// for the Clock's lifetime.
type TimerRef uint64

// Target receives a fired event. Deliver must run the event's full causal
// consequences — including any further ScheduleAfter calls it induces —
// before returning. The Clock will not advance to the next pending event
// until Deliver returns, which is exactly the quiescence-barrier guarantee:
// an actor's reschedule of its own next tick is visible in the calendar
// before any later event fires.
type Target interface {
	Deliver(message any)
}

// CancelOutcome reports what cancelling a TimerRef did.
type CancelOutcome int

const (
	// Cancelled means the event was pending and is now marked dead.
	Cancelled CancelOutcome = iota
	// AlreadyFired means the event had already been delivered.
	AlreadyFired
	// UnknownRef means no event was ever scheduled under that ref on this Clock.
	UnknownRef
)

func (o CancelOutcome) String() string {
	switch o {
	case Cancelled:
		return "cancelled"
	case AlreadyFired:
		return "already_fired"
	case UnknownRef:
		return "unknown"
	default:
		return "unknown"
	}
}

// ErrInvalidDelay is returned by ScheduleAfter for a negative delay.
var ErrInvalidDelay = errors.New("clock: delay must be non-negative")

type event struct {
	fireAt    Timestamp
	seq       uint64
	target    Target
	message   any
	ref       TimerRef
	cancelled bool
	fired     bool
	index     int // position in the heap, maintained by container/heap
}

// eventHeap orders events by (fireAt, seq), the lexicographic order spec.md
// §3 requires: two events at the same fire_at fire in insertion order.
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].fireAt != h[j].fireAt {
		return h[i].fireAt < h[j].fireAt
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Clock is the virtual event calendar described in spec.md §4.1. All methods
// are safe for concurrent use; the calendar itself is mutated under a single
// mutex, matching the "single writer of now" scheduling model of §5.
type Clock struct {
	mu sync.Mutex

	now     Timestamp
	seq     seqCounter
	pending eventHeap
	byRef   map[TimerRef]*event
	nextRef uint64

	// quiescence bookkeeping: outstandingAcks counts deliveries currently in
	// flight (i.e. whose Target.Deliver call has not yet returned). Because
	// Deliver only returns once an event's causal consequences are durably
	// queued, advance() draining the heap to empty with outstandingAcks==0
	// is sufficient for quiescence.
	outstandingAcks int
	cond            *sync.Cond
}

// New creates an empty Clock starting at virtual time 0.
func New() *Clock {
	c := &Clock{
		byRef: make(map[TimerRef]*event),
	}
	c.cond = sync.NewCond(&c.mu)
	heap.Init(&c.pending)
	return c
}

// Now returns the current virtual time.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// ScheduleAfter inserts an event at now+delay. delay==0 schedules at now:
// when called from inside a delivery made by Advance, the event is delivered
// by that same Advance; otherwise it fires on the next Advance/AdvanceToNext
// call.
func (c *Clock) ScheduleAfter(target Target, message any, delay Timestamp) (TimerRef, error) {
	if delay < 0 {
		return 0, ErrInvalidDelay
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextRef++
	ref := TimerRef(c.nextRef)
	e := &event{
		fireAt:  c.now + delay,
		seq:     c.seq.nextSeq(),
		target:  target,
		message: message,
		ref:     ref,
	}
	heap.Push(&c.pending, e)
	c.byRef[ref] = e
	return ref, nil
}

// Cancel marks the referenced event dead in place. It is idempotent and
// race-free with concurrent Advance calls: an event already popped and
// delivered reports AlreadyFired, never silently un-cancels a later retry.
func (c *Clock) Cancel(ref TimerRef) (CancelOutcome, Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byRef[ref]
	if !ok {
		return UnknownRef, 0
	}
	if e.fired {
		return AlreadyFired, 0
	}
	timeLeft := e.fireAt - c.now
	if timeLeft < 0 {
		timeLeft = 0
	}
	e.cancelled = true
	return Cancelled, timeLeft
}

// Advance moves now forward by delta, delivering every pending event with
// fire_at <= new now in (fire_at, seq) order. A negative delta is a no-op:
// now is monotone non-decreasing and the Clock never lets a caller violate
// that invariant.
func (c *Clock) Advance(delta Timestamp) {
	if delta <= 0 {
		return
	}
	c.mu.Lock()
	target := c.now + delta
	c.deliverUntilLocked(target)
	c.now = target
	c.cond.Broadcast()
	c.mu.Unlock()
}

// AdvanceToNext advances to the fire_at of the earliest non-cancelled
// pending event and delivers exactly that one event, returning the delta
// advanced. Calling it on an empty calendar returns 0 and does nothing.
func (c *Clock) AdvanceToNext() Timestamp {
	c.mu.Lock()
	defer func() {
		c.cond.Broadcast()
		c.mu.Unlock()
	}()

	for c.pending.Len() > 0 {
		e := c.pending[0]
		if e.cancelled {
			heap.Pop(&c.pending)
			delete(c.byRef, e.ref)
			continue
		}
		heap.Pop(&c.pending)
		delta := e.fireAt - c.now
		if delta < 0 {
			delta = 0
		}
		c.now = e.fireAt
		c.deliverOneLocked(e)
		return delta
	}
	return 0
}

// deliverUntilLocked pops and delivers every live event with fire_at <=
// deadline, in calendar order. Must be called with c.mu held; it releases
// the lock around each Target.Deliver call so the target may itself call
// back into ScheduleAfter/Cancel without deadlocking, then reacquires it.
func (c *Clock) deliverUntilLocked(deadline Timestamp) {
	for c.pending.Len() > 0 {
		e := c.pending[0]
		if e.fireAt > deadline {
			break
		}
		heap.Pop(&c.pending)
		if e.cancelled {
			delete(c.byRef, e.ref)
			continue
		}
		// now must reflect this event's fire time for the duration of its
		// delivery so any induced ScheduleAfter computes offsets correctly.
		if e.fireAt > c.now {
			c.now = e.fireAt
		}
		c.deliverOneLocked(e)
	}
}

func (c *Clock) deliverOneLocked(e *event) {
	e.fired = true
	delete(c.byRef, e.ref)
	c.outstandingAcks++
	c.mu.Unlock()
	e.target.Deliver(e.message)
	c.mu.Lock()
	c.outstandingAcks--
}

// WaitForQuiescence blocks until no event with fire_at <= now remains
// undelivered and no delivery is currently in flight. Because deliveries are
// synchronous (Target.Deliver only returns once its consequences are
// queued), this returns immediately after any Advance/AdvanceToNext call
// that already drained the calendar to that point; it exists as an explicit
// synchronization point for callers that interleave calls across goroutines.
func (c *Clock) WaitForQuiescence() {
	c.WaitForQuiescenceUntil(0, true)
}

// WaitForQuiescenceUntil is the bounded form: events with fire_at > t are
// ignored. Pass useNow=true (as WaitForQuiescence does) to use the current
// now as the bound instead of a fixed t.
func (c *Clock) WaitForQuiescenceUntil(t Timestamp, useNow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		bound := t
		if useNow {
			bound = c.now
		}
		if c.outstandingAcks == 0 && !c.hasDeliverableLocked(bound) {
			return
		}
		c.cond.Wait()
	}
}

func (c *Clock) hasDeliverableLocked(bound Timestamp) bool {
	for _, e := range c.pending {
		if !e.cancelled && e.fireAt <= bound {
			return true
		}
	}
	return false
}

// ScheduledCount returns the number of live (non-cancelled, undelivered)
// events in the calendar.
func (c *Clock) ScheduledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.pending {
		if !e.cancelled {
			n++
		}
	}
	return n
}

// ScheduledCountUntil returns the number of live events with fire_at <= t.
func (c *Clock) ScheduledCountUntil(t Timestamp) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.pending {
		if !e.cancelled && e.fireAt <= t {
			n++
		}
	}
	return n
}
