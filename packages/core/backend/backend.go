// Package backend implements the TimeBackend abstraction: a per-task switch
// that routes schedule/cancel/sleep/now either to the host OS or to a
// virtual Clock, selected via context.
package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chronosim/core/clock"
)

// ErrNoClockBound is returned by Virtual.ScheduleAfter and Virtual.Sleep when
// the Virtual backend has no Clock bound.
var ErrNoClockBound = errors.New("backend: no clock bound in context")

// Backend is the uniform contract both variants satisfy.
type Backend interface {
	ScheduleAfter(target clock.Target, msg any, delay clock.Timestamp) (clock.TimerRef, error)
	Cancel(ref clock.TimerRef) (clock.CancelOutcome, clock.Timestamp)
	Sleep(ctx context.Context, delay clock.Timestamp) error
	Now() clock.Timestamp
}

// Real delegates to the host OS: time.AfterFunc-backed timers and time.Sleep.
// Its Timestamp unit is milliseconds since an arbitrary Real-backend epoch
// fixed at construction, matching the Virtual backend's "integer ms" scale.
type Real struct {
	epoch time.Time

	mu      sync.Mutex
	timers  map[clock.TimerRef]*time.Timer
	nextRef uint64
}

// NewReal constructs a Real backend whose now() starts at 0.
func NewReal() *Real {
	return &Real{epoch: time.Now(), timers: make(map[clock.TimerRef]*time.Timer)}
}

func (r *Real) Now() clock.Timestamp {
	return clock.Timestamp(time.Since(r.epoch).Milliseconds())
}

func (r *Real) ScheduleAfter(target clock.Target, msg any, delay clock.Timestamp) (clock.TimerRef, error) {
	if delay < 0 {
		return 0, clock.ErrInvalidDelay
	}
	r.mu.Lock()
	r.nextRef++
	ref := clock.TimerRef(r.nextRef)
	r.mu.Unlock()

	timer := time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		target.Deliver(msg)
		r.mu.Lock()
		delete(r.timers, ref)
		r.mu.Unlock()
	})

	r.mu.Lock()
	r.timers[ref] = timer
	r.mu.Unlock()
	return ref, nil
}

func (r *Real) Cancel(ref clock.TimerRef) (clock.CancelOutcome, clock.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[ref]
	if !ok {
		return clock.UnknownRef, 0
	}
	stopped := t.Stop()
	delete(r.timers, ref)
	if !stopped {
		return clock.AlreadyFired, 0
	}
	return clock.Cancelled, 0
}

func (r *Real) Sleep(ctx context.Context, delay clock.Timestamp) error {
	if delay < 0 {
		return clock.ErrInvalidDelay
	}
	t := time.NewTimer(time.Duration(delay) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Virtual forwards every operation to a bound Clock. Sleep is modeled as
// scheduling a wakeup to a one-shot internal target and blocking the caller
// on a channel until the Clock delivers it, so the calling goroutine yields
// exactly the way a mailbox receive would and the Driver remains free to
// advance the Clock.
type Virtual struct {
	clk *clock.Clock
}

// NewVirtual binds a Virtual backend to clk.
func NewVirtual(clk *clock.Clock) *Virtual {
	return &Virtual{clk: clk}
}

func (v *Virtual) Clock() *clock.Clock { return v.clk }

func (v *Virtual) Now() clock.Timestamp {
	return v.clk.Now()
}

func (v *Virtual) ScheduleAfter(target clock.Target, msg any, delay clock.Timestamp) (clock.TimerRef, error) {
	if v.clk == nil {
		return 0, ErrNoClockBound
	}
	return v.clk.ScheduleAfter(target, msg, delay)
}

func (v *Virtual) Cancel(ref clock.TimerRef) (clock.CancelOutcome, clock.Timestamp) {
	return v.clk.Cancel(ref)
}

type wakeupTarget struct {
	done chan struct{}
}

func (w *wakeupTarget) Deliver(any) {
	close(w.done)
}

func (v *Virtual) Sleep(ctx context.Context, delay clock.Timestamp) error {
	if delay < 0 {
		return clock.ErrInvalidDelay
	}
	if v.clk == nil {
		return ErrNoClockBound
	}
	w := &wakeupTarget{done: make(chan struct{})}
	ref, err := v.clk.ScheduleAfter(w, "wakeup", delay)
	if err != nil {
		return err
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		v.clk.Cancel(ref)
		return ctx.Err()
	}
}
