package throttletest

import "sync"

// Recorder is a throttle.ErrorSink that keeps every reported error.
type Recorder struct {
	mu   sync.Mutex
	errs []error
}

// Report records err.
func (r *Recorder) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs = append(r.errs, err)
}

// Errors returns a copy of the errors reported so far.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]error, len(r.errs))
	copy(out, r.errs)

	return out
}
