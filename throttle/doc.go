// Package throttle provides a mixed synchronous/deferred invocation gate
// around a single target function.
//
// # Behavior
//
// A call made outside the refractory window runs the target immediately
// and returns its fresh result. A call made inside the window returns the
// last result right away and schedules one deferred invocation for the end
// of the window. However many calls land in the window, only one deferred
// invocation is pending, and it runs with the arguments of the newest call.
//
//	th, err := throttle.New(func(ctx context.Context, q string) (int, error) {
//		return search(ctx, q)
//	}, 100*time.Millisecond)
//	if err != nil {
//		return err
//	}
//	defer th.Dispose()
//
//	n, err := th.Invoke(ctx, "go") // runs search now
//	n, err = th.Invoke(ctx, "gop") // returns the previous n, schedules search("gop")
//
// # Failures
//
// An error from a synchronous invocation is returned to the caller. An error
// from a deferred invocation has no caller waiting on it and is sent to the
// [ErrorSink] configured with [WithErrorSink]. Failed invocations never
// replace the last good result.
//
// # Testing
//
// Time and timers are injected through [WithClock] and [WithTimer]. The
// throttletest package provides a manually advanced fake for both.
package throttle
