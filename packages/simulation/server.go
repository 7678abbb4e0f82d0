package simulation

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chronosim/core/backend"
	"github.com/chronosim/core/clock"
	"github.com/chronosim/core/mailbox"
	"github.com/chronosim/router"
	"github.com/chronosim/trace"
)

// ErrCallTimeout is returned by ServerWrapper.Call when no reply arrives
// before the timeout elapses.
var ErrCallTimeout = errors.New("simulation: server call timed out")

// ErrUnknownTarget is returned by ServerWrapper.Call when the callee is not
// (or no longer) registered with the Router. Cast returns no error; a cast
// to an unregistered callee is dropped.
var ErrUnknownTarget = errors.New("simulation: unknown target")

// ResultKind discriminates the gen_server-style return shapes a
// CallbackModule method produces.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultReply
	ResultStop
)

// Result is the generic gen_server return value: {Ok, state},
// {Reply, value, state}, {Stop, reason, state}, optionally carrying a
// {Continue, arg} to run immediately after this result is applied.
type Result struct {
	Kind        ResultKind
	State       any
	Reply       any
	StopReason  string
	Continue    any
	HasContinue bool
}

// CallbackModule is the user-supplied server logic a ServerWrapper drives.
// Every method receives the ambient context so it can itself invoke
// backend-routed primitives (ScheduleAfter/Sleep) without depending on this
// package directly.
type CallbackModule interface {
	Init(ctx context.Context, args any) (Result, error)
	HandleCall(ctx context.Context, req any, state any) Result
	HandleCast(ctx context.Context, req any, state any) Result
	HandleInfo(ctx context.Context, msg any, state any) Result
	HandleContinue(ctx context.Context, arg any, state any) Result
	Terminate(ctx context.Context, reason string, state any)
}

type serverMsg struct {
	env mailbox.Envelope
	ack chan struct{}
}

// ServerWrapper runs a CallbackModule behind a single-threaded message
// loop, so any timer call the module makes is dispatched through the
// backend bound in its context — real or virtual — without the module
// needing to know which. It is chronosim's realization of spec.md §4.4,
// generalizing the teacher's one-off HTTP/WebSocket dispatch loop
// (apps/api/cmd/server/main.go's big switch) into a reusable, protocol-
// agnostic callback driver.
type ServerWrapper struct {
	name    string
	module  CallbackModule
	ctx     context.Context
	backend backend.Backend
	rt      *router.Router
	stats   *Stats
	tracer  *trace.Log
	log     zerolog.Logger

	mu       sync.Mutex
	state    any
	status   Status
	inbox    chan serverMsg
	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// ServerOption configures StartServer.
type ServerOption struct {
	VirtualClock *clock.Clock
	RealTime     bool
}

// StartServer constructs and starts a ServerWrapper: it runs module.Init,
// binds the backend selected by opts into the server's context (Real if
// RealTime is set, else Virtual if VirtualClock is set, else the
// process-wide default from backend.FromContext), registers
// itself with rt under name, and launches its message loop goroutine.
func StartServer(name string, module CallbackModule, initArg any, rt *router.Router, stats *Stats, tracer *trace.Log, log zerolog.Logger, opts ServerOption) (*ServerWrapper, error) {
	ctx := context.Background()
	var b backend.Backend
	switch {
	case opts.RealTime:
		b = backend.NewReal()
	case opts.VirtualClock != nil:
		b = backend.NewVirtual(opts.VirtualClock)
	default:
		b = backend.FromContext(ctx)
	}
	ctx = backend.WithBackend(ctx, b)

	s := &ServerWrapper{
		name:    name,
		module:  module,
		ctx:     ctx,
		backend: b,
		rt:      rt,
		stats:   stats,
		tracer:  tracer,
		log:     log.With().Str("server", name).Logger(),
		status:  StatusAlive,
		inbox:   make(chan serverMsg, 16),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	result, err := module.Init(ctx, initArg)
	if err != nil {
		return nil, err
	}
	s.state = result.State

	if err := rt.Register(name, s); err != nil {
		return nil, err
	}

	go s.loop()
	return s, nil
}

// Deliver enqueues env for processing and blocks until the loop's handling
// of it — including any reschedule it induces — has completed. This
// channel-based ack is the ServerWrapper's half of the Clock's
// quiescence-barrier contract: the Clock (or Router) calling Deliver is
// itself a different goroutine from the one running the message loop, so
// the ack has to cross a channel rather than being implicit in a function
// return, unlike SimActor's synchronous Deliver.
func (s *ServerWrapper) Deliver(msg any) {
	env, ok := msg.(mailbox.Envelope)
	if !ok {
		return
	}
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != StatusAlive {
		return
	}

	ack := make(chan struct{})
	select {
	case s.inbox <- serverMsg{env: env, ack: ack}:
	case <-s.stopped:
		return
	}
	select {
	case <-ack:
	case <-s.stopped:
	}
}

func (s *ServerWrapper) loop() {
	for {
		select {
		case m := <-s.inbox:
			s.handle(m.env)
			close(m.ack)
		case <-s.stopCh:
			close(s.stopped)
			return
		}
	}
}

func (s *ServerWrapper) handle(env mailbox.Envelope) {
	s.stats.RecordReceived(env.Payload)
	if s.tracer != nil {
		s.tracer.Append(trace.TraceEvent{Timestamp: s.backend.Now(), From: env.From, To: s.name, Message: env.Payload, Type: env.Type})
	}

	var result Result
	switch env.Type {
	case mailbox.Call:
		result = s.module.HandleCall(s.ctx, env.Payload, s.state)
	case mailbox.Cast:
		result = s.module.HandleCast(s.ctx, env.Payload, s.state)
	default:
		result = s.module.HandleInfo(s.ctx, env.Payload, s.state)
	}
	s.applyResult(env, result)
}

func (s *ServerWrapper) applyResult(env mailbox.Envelope, result Result) {
	s.mu.Lock()
	s.state = result.State
	s.mu.Unlock()

	if result.Kind == ResultReply && env.ReplyTo != nil {
		select {
		case env.ReplyTo <- result.Reply:
		default:
		}
	}

	if result.HasContinue {
		cont := s.module.HandleContinue(s.ctx, result.Continue, s.state)
		s.mu.Lock()
		s.state = cont.State
		s.mu.Unlock()
		if cont.Kind == ResultStop {
			result = cont
		}
	}

	if result.Kind == ResultStop {
		s.mu.Lock()
		s.status = StatusStopped
		s.mu.Unlock()
		s.stats.SetStatus(StatusStopped, result.StopReason)
		s.module.Terminate(s.ctx, result.StopReason, s.state)
		s.stopOnce.Do(func() { close(s.stopCh) })
	}
}

// Call sends req to the server and blocks for its reply, up to timeout
// virtual (or real) milliseconds as measured by this server's ambient
// backend — the redesign chosen for spec.md §9's synchronous-call open
// question: the timeout is scheduled through the same backend the server
// itself uses, so a Driver advancing a Virtual clock past `timeout` is
// what makes the timeout fire, rather than relying on wall-clock time.
func (s *ServerWrapper) Call(ctx context.Context, req any, timeout clock.Timestamp) (any, error) {
	replyCh, ok := s.rt.SendCall(s.name+"-caller", s.name, req, 0)
	if !ok {
		return nil, ErrUnknownTarget
	}

	timeoutDone := make(chan error, 1)
	timeoutCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		timeoutDone <- s.backend.Sleep(timeoutCtx, timeout)
	}()

	select {
	case reply := <-replyCh:
		return reply, nil
	case err := <-timeoutDone:
		if err == nil {
			return nil, ErrCallTimeout
		}
		return nil, err
	}
}

// Cast sends req to the server without waiting for a reply.
func (s *ServerWrapper) Cast(req any) {
	s.rt.Send(s.name+"-caller", s.name, req, mailbox.Cast, 0)
}

// ScheduleAfter schedules msg for delivery to this server after delay,
// via the server's own ambient backend.
func (s *ServerWrapper) ScheduleAfter(msg any, delay clock.Timestamp) (clock.TimerRef, error) {
	env := mailbox.Envelope{From: s.name, To: s.name, Type: mailbox.Send, Payload: msg}
	return s.backend.ScheduleAfter(s, env, delay)
}

// Sleep suspends the calling goroutine for delay, via the server's ambient
// backend.
func (s *ServerWrapper) Sleep(ctx context.Context, delay clock.Timestamp) error {
	return s.backend.Sleep(ctx, delay)
}

// Stop tears down the server's message loop and unregisters it from the
// Router.
func (s *ServerWrapper) Stop() {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusStopped
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.rt.Unregister(s.name)
}

// Status reports the server's current lifecycle state.
func (s *ServerWrapper) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
