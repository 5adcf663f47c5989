package fetch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/refractory/fetch"
	"github.com/adamwoolhether/refractory/throttle"
	"github.com/adamwoolhether/refractory/throttle/throttletest"
)

type document struct {
	Version int    `json:"version"`
	Query   string `json:"query"`
}

// server answers with an incrementing version and echoes the q parameter.
type server struct {
	*httptest.Server

	mu      sync.Mutex
	hits    int
	queries []string
	headers []http.Header
	status  int
}

func newServer(t *testing.T) *server {
	t.Helper()

	s := &server{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits++
		hits := s.hits
		status := s.status
		s.queries = append(s.queries, r.URL.Query().Get("q"))
		s.headers = append(s.headers, r.Header.Clone())
		s.mu.Unlock()

		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte("upstream unavailable"))
			return
		}
		if err := json.NewEncoder(w).Encode(document{Version: hits, Query: r.URL.Query().Get("q")}); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *server) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.queries...)
}

func (s *server) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = code
}

func q(v string) url.Values {
	return url.Values{"q": {v}}
}

func newResource(t *testing.T, rawURL string, opts ...fetch.Option) (*fetch.Resource[document], *throttletest.Fake) {
	t.Helper()

	fake := throttletest.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	opts = append(opts, fetch.WithThrottleOptions(throttle.WithClock(fake), throttle.WithTimer(fake)))

	res, err := fetch.New[document](rawURL, 100*time.Millisecond, opts...)
	if err != nil {
		t.Fatalf("creating resource: %v", err)
	}
	t.Cleanup(res.Close)

	return res, fake
}

func TestNew_InvalidURL(t *testing.T) {
	testCases := []struct {
		name string
		url  string
	}{
		{name: "Missing scheme", url: "example.com/doc"},
		{name: "Unsupported scheme", url: "ftp://example.com/doc"},
		{name: "Missing host", url: "http:///doc"},
		{name: "Unparsable", url: "http://[::1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fetch.New[document](tc.url, time.Second)
			if !errors.Is(err, fetch.ErrInvalidURL) {
				t.Errorf("exp err %v; got: %v", fetch.ErrInvalidURL, err)
			}
		})
	}
}

func TestNew_OptionErrors(t *testing.T) {
	testCases := []struct {
		name string
		opt  fetch.Option
	}{
		{name: "Nil client", opt: fetch.WithClient(nil)},
		{name: "Nil transport", opt: fetch.WithTransport(nil)},
		{name: "Bad status", opt: fetch.WithExpectedStatus(42)},
		{name: "Zero rps", opt: fetch.WithRateLimit(0, 1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fetch.New[document]("http://example.com", time.Second, tc.opt); err == nil {
				t.Error("exp option error, got nil")
			}
		})
	}
}

func TestGet_ThrottlesRefresh(t *testing.T) {
	srv := newServer(t)
	res, fake := newResource(t, srv.URL)

	doc, err := res.Get(t.Context(), q("a"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(document{Version: 1, Query: "a"}, doc); diff != "" {
		t.Errorf("first get mismatch (-exp +got):\n%s", diff)
	}

	fake.Advance(10 * time.Millisecond)
	for _, v := range []string{"b", "c"} {
		doc, err = res.Get(t.Context(), q(v))
		if err != nil {
			t.Fatal(err)
		}
		if doc.Version != 1 {
			t.Errorf("exp stale version 1; got %d", doc.Version)
		}
	}

	fake.Advance(90 * time.Millisecond)

	doc, err = res.Get(t.Context(), q("d"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(document{Version: 2, Query: "c"}, doc); diff != "" {
		t.Errorf("refreshed get mismatch (-exp +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c"}, srv.seen()); diff != "" {
		t.Errorf("server queries mismatch (-exp +got):\n%s", diff)
	}

	st := res.Stats()
	if st.Invocations != 2 || st.Deferred != 1 || !st.Pending {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestGet_StatusError(t *testing.T) {
	srv := newServer(t)
	res, fake := newResource(t, srv.URL)

	if _, err := res.Get(t.Context(), nil); err != nil {
		t.Fatal(err)
	}

	srv.setStatus(http.StatusServiceUnavailable)
	fake.Advance(time.Second)

	doc, err := res.Get(t.Context(), nil)
	var se *fetch.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("exp *StatusError; got %v", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || se.Body != "upstream unavailable" {
		t.Errorf("unexpected status error: %+v", se)
	}
	if !errors.Is(err, fetch.ErrUnexpectedStatusCode) {
		t.Errorf("exp %v in chain; got %v", fetch.ErrUnexpectedStatusCode, err)
	}
	if doc.Version != 1 {
		t.Errorf("exp last good version 1; got %d", doc.Version)
	}
}

func TestGet_BackgroundFailureReported(t *testing.T) {
	srv := newServer(t)
	sink := &throttletest.Recorder{}
	res, fake := newResource(t, srv.URL, fetch.WithThrottleOptions(throttle.WithErrorSink(sink)))

	if _, err := res.Get(t.Context(), nil); err != nil {
		t.Fatal(err)
	}

	srv.setStatus(http.StatusBadGateway)
	fake.Advance(10 * time.Millisecond)
	if _, err := res.Get(t.Context(), nil); err != nil {
		t.Fatal(err)
	}
	fake.Advance(90 * time.Millisecond)

	errs := sink.Errors()
	if len(errs) != 1 {
		t.Fatalf("exp one reported error; got %v", errs)
	}
	if !errors.Is(errs[0], fetch.ErrUnexpectedStatusCode) {
		t.Errorf("exp status error; got %v", errs[0])
	}
}

func TestGet_HeadersAndUserAgent(t *testing.T) {
	srv := newServer(t)
	res, _ := newResource(t, srv.URL,
		fetch.WithUserAgent("refractory-test/1.0"),
		fetch.WithHeaders(map[string][]string{"X-Api-Key": {"secret"}}),
	)

	if _, err := res.Get(t.Context(), nil); err != nil {
		t.Fatal(err)
	}

	srv.mu.Lock()
	h := srv.headers[0]
	srv.mu.Unlock()

	if got := h.Get("User-Agent"); got != "refractory-test/1.0" {
		t.Errorf("exp user agent; got %q", got)
	}
	if got := h.Get("X-Api-Key"); got != "secret" {
		t.Errorf("exp api key header; got %q", got)
	}
	if got := h.Get("Accept"); got != "application/json" {
		t.Errorf("exp accept header; got %q", got)
	}
}

func TestGet_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	srv := newServer(t)
	res, _ := newResource(t, srv.URL)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x04, 0x05},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	if _, err := res.Get(ctx, nil); err != nil {
		t.Fatal(err)
	}

	srv.mu.Lock()
	h := srv.headers[0]
	srv.mu.Unlock()

	if h.Get("Traceparent") == "" {
		t.Error("exp traceparent header on refresh")
	}
}

func TestGet_RateLimitedTransport(t *testing.T) {
	srv := newServer(t)

	res, err := fetch.New[document](srv.URL, 0, fetch.WithRateLimit(1000, 5))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()

	for range 3 {
		if _, err := res.Get(t.Context(), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := len(srv.seen()); got != 3 {
		t.Errorf("exp 3 hits with zero period; got %d", got)
	}
}
