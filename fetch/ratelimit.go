package fetch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("rate limit context ended")
)

// rateLimited is an http.RoundTripper placing a token bucket in front of
// the next transport. The refresh throttle bounds how often one Resource
// hits the network; a shared rateLimited transport bounds a fleet of them.
type rateLimited struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	next    http.RoundTripper
	logFn   func() *slog.Logger
}

// NewRateLimitedTransport returns an http.RoundTripper that blocks outbound
// requests until the token bucket allows them. logFn lazily resolves the
// logger at request time; a nil-returning logFn disables logging.
func NewRateLimitedTransport(rps, burst int, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	return &rateLimited{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		next:    next,
		logFn:   logFn,
	}, nil
}

func (rl *rateLimited) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	if logger := rl.logFn(); logger != nil && rl.limiter.Tokens() < 1 {
		start := time.Now()
		defer func() {
			logger.Info("rate limit wait complete", "waited", time.Since(start).String(), "rate", rl.rps, "burst", rl.burst, "path", r.URL.Path)
		}()
	}

	if err := rl.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return rl.next.RoundTrip(r)
}
