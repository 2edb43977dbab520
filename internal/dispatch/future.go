package dispatch

import (
	"context"
	"sync"
)

// Future is the promise form of a completion. It is completed exactly once by
// the dispatcher when the task reaches its terminal state; duplicate
// completions are ignored.
type Future struct {
	ch chan struct{} // closed when the result is ready

	once sync.Once
	mu   sync.Mutex

	res    Result
	status int
}

func newFuture() *Future {
	return &Future{ch: make(chan struct{})}
}

// complete fulfils the future exactly once. Closing the channel signals all
// waiters that the result is available.
func (f *Future) complete(res Result, status int) {
	f.once.Do(func() {
		f.mu.Lock()
		f.res = res
		f.status = status
		f.mu.Unlock()
		close(f.ch)
	})
}

// Done returns a channel that is closed when the result is ready, for
// select-based waiting.
func (f *Future) Done() <-chan struct{} {
	return f.ch
}

// Wait blocks until the task completes or ctx is cancelled. Note that
// cancelling ctx abandons the wait only; the queued task still runs.
func (f *Future) Wait(ctx context.Context) (Result, int, error) {
	select {
	case <-f.ch:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.res, f.status, nil
	case <-ctx.Done():
		return Result{}, 0, ctx.Err()
	}
}

// Result returns the completion non-blockingly; ok is false if the task has
// not finished yet.
func (f *Future) Result() (res Result, status int, ok bool) {
	select {
	case <-f.ch:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.res, f.status, true
	default:
		return Result{}, 0, false
	}
}
