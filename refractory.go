// Package refractory exposes builders for call throttles and throttled
// resources.
package refractory

import (
	"time"

	"github.com/adamwoolhether/refractory/fetch"
	"github.com/adamwoolhether/refractory/throttle"
)

// NewThrottle wraps target so it actually runs at most once per period.
// If not specified, the wall clock and time.AfterFunc are used.
func NewThrottle[A, R any](target throttle.Target[A, R], period time.Duration, opts ...throttle.Option) (*throttle.Throttle[A, R], error) {
	return throttle.New(target, period, opts...)
}

// NewResource instantiates a JSON resource refreshed at most once per period.
func NewResource[T any](rawURL string, period time.Duration, opts ...fetch.Option) (*fetch.Resource[T], error) {
	return fetch.New[T](rawURL, period, opts...)
}
