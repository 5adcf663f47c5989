package throttle

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a [Throttle] via [New].
type Option func(*options) error

type options struct {
	clock  Clock
	timer  Timer
	sink   ErrorSink
	logger *slog.Logger
	tracer trace.Tracer
}

// WithClock replaces the wall clock used to measure the refractory window.
func WithClock(c Clock) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("clock must not be nil")
		}
		o.clock = c
		return nil
	}
}

// WithTimer replaces the [time.AfterFunc] based timer used for deferred invocations.
func WithTimer(t Timer) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("timer must not be nil")
		}
		o.timer = t
		return nil
	}
}

// WithErrorSink routes deferred invocation failures to sink. Without it they
// are logged at error level.
func WithErrorSink(sink ErrorSink) Option {
	return func(o *options) error {
		if sink == nil {
			return errors.New("error sink must not be nil")
		}
		o.sink = sink
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer records a span for every actual invocation of the target.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}
