// Package fetch keeps a JSON resource fresh for many readers without
// hitting the remote server more than once per refractory period.
//
// Readers call [Resource.Get]. Outside the refractory window the resource is
// fetched right away; inside it the last decoded value is returned and one
// background refresh is scheduled for the end of the window, using the query
// of the newest Get.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/adamwoolhether/refractory/throttle"
)

const maxErrBodySize = 4 << 10

// Resource is a throttled view of a remote JSON document decoded into T.
type Resource[T any] struct {
	client     *http.Client
	endpoint   *url.URL
	headers    http.Header
	expCode    int
	useJSONNum bool
	logger     *slog.Logger
	th         *throttle.Throttle[url.Values, T]
}

// New builds a Resource for rawURL refreshed at most once per period.
// If not specified, a copy of [http.DefaultClient] and [http.DefaultTransport]
// are used.
func New[T any](rawURL string, period time.Duration, optFns ...Option) (*Resource[T], error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	opts := options{expCode: http.StatusOK}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying fetch option: %w", err)
		}
	}

	r := &Resource[T]{
		endpoint:   endpoint,
		headers:    opts.headers,
		expCode:    opts.expCode,
		useJSONNum: opts.useJSONNum,
		logger:     slog.Default(),
	}
	if opts.logger != nil {
		r.logger = opts.logger
	}

	base := http.DefaultClient
	if opts.client != nil {
		base = opts.client
	}
	hc := *base
	r.client = &hc

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case hc.Transport != nil:
		transport = hc.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}
	if opts.rateLimit != nil {
		rt, err := NewRateLimitedTransport(opts.rateLimit.rps, opts.rateLimit.burst, func() *slog.Logger { return r.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring rate limit: %w", err)
		}
		transport = rt
	}
	r.client.Transport = transport

	thOpts := []throttle.Option{throttle.WithLogger(r.logger)}
	if opts.tracer != nil {
		thOpts = append(thOpts, throttle.WithTracer(opts.tracer))
	}
	thOpts = append(thOpts, opts.throttle...)

	th, err := throttle.New(r.fetch, period, thOpts...)
	if err != nil {
		return nil, fmt.Errorf("configuring throttle: %w", err)
	}
	r.th = th

	return r, nil
}

// Get returns the resource, refreshing it now if the refractory window has
// elapsed. query is merged over the URL's own query string.
//
// A refresh error is returned together with the last good value. Errors of
// background refreshes go to the throttle's error sink.
func (r *Resource[T]) Get(ctx context.Context, query url.Values) (T, error) {
	return r.th.Invoke(ctx, query)
}

// Stats reports the underlying throttle counters.
func (r *Resource[T]) Stats() throttle.Stats {
	return r.th.Stats()
}

// Close cancels any scheduled background refresh.
func (r *Resource[T]) Close() {
	r.th.Dispose()
}

// fetch performs one refresh. It is the throttle's target.
func (r *Resource[T]) fetch(ctx context.Context, query url.Values) (T, error) {
	var dest T

	req, err := r.request(ctx, query)
	if err != nil {
		return dest, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return dest, fmt.Errorf("exec http do: %w", err)
	}
	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			r.logger.Error("failed to discard unused body", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			r.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != r.expCode {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		return dest, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			Err:        ErrUnexpectedStatusCode,
		}
	}

	d := json.NewDecoder(resp.Body)
	if r.useJSONNum {
		d.UseNumber()
	}
	if err := d.Decode(&dest); err != nil {
		return dest, fmt.Errorf("decoding body: %w", err)
	}

	r.logger.Debug("resource refreshed", "url", req.URL.Redacted())

	return dest, nil
}

func (r *Resource[T]) request(ctx context.Context, query url.Values) (*http.Request, error) {
	endpoint := *r.endpoint
	if len(query) > 0 {
		merged := endpoint.Query()
		for k, v := range query {
			merged[k] = v
		}
		endpoint.RawQuery = merged.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}
