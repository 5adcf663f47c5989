package fetch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/refractory/throttle"
)

// Option is a functional option for configuring a [Resource] via [New].
type Option func(*options) error

type options struct {
	client     *http.Client
	rt         http.RoundTripper
	userAgent  string
	headers    http.Header
	expCode    int
	useJSONNum bool
	rateLimit  *rateLimit
	logger     *slog.Logger
	tracer     trace.Tracer
	throttle   []throttle.Option
}

type rateLimit struct {
	rps   int
	burst int
}

// WithClient replaces the default [http.Client]. The client is copied, so
// later options never modify the caller's value.
func WithClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		o.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to every refresh.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithHeaders adds headers to every refresh.
func WithHeaders(headers map[string][]string) Option {
	return func(o *options) error {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		for k, v := range headers {
			for _, element := range v {
				o.headers.Add(k, element)
			}
		}
		return nil
	}
}

// WithExpectedStatus sets the status code a refresh must answer with.
// It defaults to 200.
func WithExpectedStatus(code int) Option {
	return func(o *options) error {
		if code < 100 || code > 599 {
			return fmt.Errorf("invalid status code %d", code)
		}
		o.expCode = code
		return nil
	}
}

// WithJSONNumber tells the decoder to use [json.Decoder.UseNumber].
func WithJSONNumber() Option {
	return func(o *options) error {
		o.useJSONNum = true
		return nil
	}
}

// WithRateLimit puts a token bucket in front of the transport.
func WithRateLimit(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
		}
		o.rateLimit = &rateLimit{rps: rps, burst: burst}
		return nil
	}
}

// WithLogger injects a custom [slog.Logger], shared with the throttle.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer records a span for every refresh.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// WithThrottleOptions passes options through to the underlying throttle,
// e.g. [throttle.WithErrorSink] to observe failed background refreshes.
func WithThrottleOptions(opts ...throttle.Option) Option {
	return func(o *options) error {
		o.throttle = append(o.throttle, opts...)
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
