// Package dispatch implements the serial fetch dispatcher: a FIFO queue of
// HTTP GET requests drained one at a time through a single transport handle.
//
// The dispatcher pops tasks from the queue and executes them via the handle,
// delivering each terminal result exactly once through the task's callback or
// future. Completion always advances the queue, decode failures included.
//
// Key features:
//   - Serial FIFO dispatch (one exchange in flight at a time)
//   - Callbacks fire in strict enqueue order, exactly once each
//   - Per-request uuid keys in the completion registry (duplicate urls allowed)
//   - Future-based completion alongside the callback form
//   - Pause/resume without losing queued tasks
//   - Status 0 for aborted or network-failed exchanges (no JSON decode attempted)
//
// Error handling:
//   - Malformed url → status 0 result (no synchronous error at enqueue)
//   - JSON decode failure → Result.Err set, raw body preserved, queue advances
//   - Callback panic → recovered and logged, queue advances
//   - Abort via Stop/Close → status 0 result, delivered once
package dispatch
