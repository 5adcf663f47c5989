package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
)

// Target is the function gated by a [Throttle]. Anything the target needs
// beyond ctx, including a receiver, travels in args.
type Target[A, R any] func(ctx context.Context, args A) (R, error)

// Stats is a snapshot of a Throttle's counters.
type Stats struct {
	Requests       uint64    `json:"requests" yaml:"requests"`
	Invocations    uint64    `json:"invocations" yaml:"invocations"`
	Deferred       uint64    `json:"deferred" yaml:"deferred"`
	Suppressed     uint64    `json:"suppressed" yaml:"suppressed"`
	Failures       uint64    `json:"failures" yaml:"failures"`
	Cancelled      uint64    `json:"cancelled" yaml:"cancelled"`
	Pending        bool      `json:"pending" yaml:"pending"`
	LastInvocation time.Time `json:"lastInvocation" yaml:"lastInvocation"`
}

// Throttle gates calls to a target so that it actually runs at most once
// per refractory period. See the package documentation for the rules.
//
// The zero value is not usable; use [New].
type Throttle[A, R any] struct {
	id      uuid.UUID
	target  Target[A, R]
	period  time.Duration
	clock   Clock
	timer   Timer
	sink    ErrorSink
	logger  *slog.Logger
	tracer  trace.Tracer
	sampled rate.Sometimes

	mu    sync.Mutex
	state state[A, R]
}

type state[A, R any] struct {
	invoked        bool
	lastInvocation time.Time
	lastResult     R

	// inflight counts running invocations; started is the start time of the
	// newest one and extends the window while it runs.
	inflight int
	started  time.Time

	pending *call[A]
	timer   Stopper
	gen     uint64

	disposed bool
	stats    Stats
}

type call[A any] struct {
	ctx  context.Context
	args A
}

type path string

const (
	pathSync     path = "sync"
	pathDeferred path = "deferred"
)

// New wraps target in a Throttle enforcing period between actual invocations.
// The wall clock and [time.AfterFunc] are used unless overridden via options.
func New[A, R any](target Target[A, R], period time.Duration, optFns ...Option) (*Throttle[A, R], error) {
	cfg := config{RefractoryPeriod: period}
	if target != nil {
		cfg.Target = target
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying throttle option: %w", err)
		}
	}

	if opts.clock == nil {
		opts.clock = Real
	}
	if opts.timer == nil {
		opts.timer = Real
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.tracer == nil {
		opts.tracer = noop.NewTracerProvider().Tracer("no-op tracer")
	}

	id := uuid.New()

	t := &Throttle[A, R]{
		id:      id,
		target:  target,
		period:  period,
		clock:   opts.clock,
		timer:   opts.timer,
		sink:    opts.sink,
		logger:  opts.logger.With("throttle", id.String()),
		tracer:  opts.tracer,
		sampled: rate.Sometimes{First: 1, Interval: time.Second},
	}

	if t.sink == nil {
		t.sink = ErrorSinkFunc(func(err error) {
			t.logger.Error("deferred invocation failed", "error", err)
		})
	}

	return t, nil
}

// ID identifies the throttle in logs, spans and errors.
func (t *Throttle[A, R]) ID() uuid.UUID {
	return t.id
}

// Invoke runs the target now if the refractory window has elapsed, returning
// its fresh result. Otherwise it returns the last result immediately and makes
// sure one deferred invocation with args is scheduled for the end of the window.
//
// The error of a synchronous invocation is returned unchanged along with the
// previous result. After [Throttle.Dispose], Invoke returns the last result
// and [ErrDisposed].
func (t *Throttle[A, R]) Invoke(ctx context.Context, args A) (R, error) {
	t.mu.Lock()
	t.state.stats.Requests++

	if t.state.disposed {
		res := t.state.lastResult
		t.mu.Unlock()
		return res, ErrDisposed
	}

	now := t.clock.Now()

	if remaining := t.remaining(now); remaining > 0 {
		// Newest call wins; an earlier pending call is dropped.
		t.state.pending = &call[A]{ctx: context.WithoutCancel(ctx), args: args}
		t.state.stats.Suppressed++
		if t.state.timer == nil {
			t.arm(remaining)
		}
		res := t.state.lastResult
		t.mu.Unlock()

		t.sampled.Do(func() {
			t.logger.Debug("throttle refractory", "remaining", remaining.String(), "suppressed", t.Stats().Suppressed)
		})

		return res, nil
	}

	t.cancel()
	t.begin(now)
	t.mu.Unlock()

	return t.invoke(ctx, args, now, pathSync)
}

// Dispose cancels any pending deferred invocation. The target is not invoked
// again. Dispose is idempotent.
func (t *Throttle[A, R]) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.disposed {
		return
	}

	t.cancel()
	t.state.disposed = true
}

// Stats returns a snapshot of the throttle's counters.
func (t *Throttle[A, R]) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state.stats
	s.Pending = t.state.pending != nil
	s.LastInvocation = t.state.lastInvocation

	return s
}

// /////////////////////////////////////////////////////////////////

// remaining reports how much of the refractory window is left at now.
// Callers must hold t.mu.
func (t *Throttle[A, R]) remaining(now time.Time) time.Duration {
	ref, ok := t.state.lastInvocation, t.state.invoked
	if t.state.inflight > 0 && (!ok || t.state.started.After(ref)) {
		ref, ok = t.state.started, true
	}
	if !ok {
		return 0
	}

	return ref.Add(t.period).Sub(now)
}

// arm schedules the single deferred invocation. Callers must hold t.mu.
func (t *Throttle[A, R]) arm(d time.Duration) {
	if t.state.timer != nil {
		panic(fmt.Errorf("throttle[%s]: %w", t.id, ErrTimerInvariant))
	}

	t.state.gen++
	gen := t.state.gen
	t.state.timer = t.timer.AfterFunc(d, func() { t.fire(gen) })
}

// cancel stops an armed timer and drops the pending call. Callers must hold t.mu.
func (t *Throttle[A, R]) cancel() {
	if t.state.timer == nil {
		t.state.pending = nil
		return
	}

	t.state.timer.Stop()
	t.state.timer = nil
	t.state.gen++
	if t.state.pending != nil {
		t.state.stats.Cancelled++
		t.state.pending = nil
	}
}

// begin marks an invocation started at now as in flight. Callers must hold t.mu.
func (t *Throttle[A, R]) begin(now time.Time) {
	t.state.inflight++
	if now.After(t.state.started) {
		t.state.started = now
	}
}

// fire is the timer callback servicing the pending call.
func (t *Throttle[A, R]) fire(gen uint64) {
	t.mu.Lock()

	// A timer stopped too late to prevent the callback may still get here.
	if gen != t.state.gen || t.state.timer == nil {
		t.mu.Unlock()
		return
	}
	t.state.timer = nil

	pending := t.state.pending
	if pending == nil {
		t.mu.Unlock()
		return
	}
	t.state.pending = nil
	t.state.stats.Deferred++

	now := t.clock.Now()
	t.begin(now)
	t.mu.Unlock()

	if _, err := t.invoke(pending.ctx, pending.args, now, pathDeferred); err != nil {
		t.sink.Report(&InvocationError{
			ThrottleID: t.id,
			Deferred:   true,
			At:         now,
			Err:        err,
		})
	}
}

// invoke calls the target outside the lock and records a successful result.
// begin must have been called for start.
func (t *Throttle[A, R]) invoke(ctx context.Context, args A, start time.Time, p path) (R, error) {
	ctx, span := t.tracer.Start(ctx, "throttle.invoke")
	span.SetAttributes(
		attribute.String("throttle.id", t.id.String()),
		attribute.String("throttle.path", string(p)),
	)
	defer span.End()

	res, err := t.call(ctx, args)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.inflight--
	t.state.stats.Invocations++

	if err != nil {
		t.state.stats.Failures++
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var pe *PanicError
		if errors.As(err, &pe) {
			t.logger.Error("target panicked", "path", p, "panic", pe.Value)
		}

		return t.state.lastResult, err
	}

	// An older overlapping invocation must not clobber a newer result.
	if t.state.invoked && start.Before(t.state.lastInvocation) {
		return res, nil
	}

	t.state.invoked = true
	t.state.lastInvocation = start
	t.state.lastResult = res

	return res, nil
}

func (t *Throttle[A, R]) call(ctx context.Context, args A) (res R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = newPanicError(v)
		}
	}()

	return t.target(ctx, args)
}
