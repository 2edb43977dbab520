package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/httpq/internal/events"
	"github.com/mattjoyce/httpq/internal/journal"
	"github.com/mattjoyce/httpq/internal/log"
	"github.com/mattjoyce/httpq/internal/queue"
	"github.com/mattjoyce/httpq/internal/transport"
)

// Result is the outcome delivered to a completion. Exactly one of Value or
// Err is set for JSON tasks; Text always carries the raw body.
type Result struct {
	// Value is the decoded JSON value (JSON tasks with a non-zero status).
	Value any
	// Text is the raw response body.
	Text string
	// Err reports a decode failure. The queue advances regardless.
	Err error
}

// Callback receives the result, the HTTP status (0 = aborted or network
// failure), and the dispatcher that ran the task.
type Callback func(res Result, status int, d *Dispatcher)

// Recorder records completed fetches. Satisfied by *journal.Journal.
type Recorder interface {
	Record(ctx context.Context, rec journal.Record) error
}

// continuation pairs a task with its completion. Capturing the task here is
// what lets the completion path identify the finished request without any
// shared "current options" lookup.
type continuation struct {
	task   *queue.Task
	cb     Callback
	future *Future
}

// Dispatcher drains the queue one task at a time through a single transport
// handle. Producers may enqueue concurrently; completions fire in strict
// enqueue order because only one exchange is ever outstanding.
type Dispatcher struct {
	handle  *transport.Handle
	queue   *queue.Queue
	hub     *events.Hub
	journal Recorder
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	paused  bool
	current *queue.Task
	pending map[string]*continuation
}

// New creates a Dispatcher. hub and rec may be nil to disable lifecycle
// events and journalling.
func New(handle *transport.Handle, q *queue.Queue, hub *events.Hub, rec Recorder) *Dispatcher {
	if handle == nil {
		handle = transport.NewHandle(nil, "")
	}
	if q == nil {
		q = queue.New(0)
	}
	return &Dispatcher{
		handle:  handle,
		queue:   q,
		hub:     hub,
		journal: rec,
		logger:  log.WithComponent("dispatch"),
		pending: make(map[string]*continuation),
	}
}

// Get enqueues a GET fetch completed through cb. The method is forced to GET.
func (d *Dispatcher) Get(opts queue.Options, cb Callback) error {
	opts.Method = "GET"
	_, err := d.enqueue(opts, cb, nil)
	return err
}

// JSON is Get with JSON decoding forced: on success the callback receives the
// parsed value rather than the raw string.
func (d *Dispatcher) JSON(opts queue.Options, cb Callback) error {
	opts.JSON = true
	return d.Get(opts, cb)
}

// Do enqueues a GET fetch and returns its Future, fulfilled exactly once when
// the task completes.
func (d *Dispatcher) Do(opts queue.Options) (*Future, error) {
	opts.Method = "GET"
	f := newFuture()
	if _, err := d.enqueue(opts, nil, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dispatcher) enqueue(opts queue.Options, cb Callback, f *Future) (*queue.Task, error) {
	task, err := d.queue.Enqueue(opts)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.pending[task.ID] = &continuation{task: task, cb: cb, future: f}
	d.mu.Unlock()

	depth := d.queue.Depth()
	d.logger.Debug("task queued", "request_id", task.ID, "url", task.Options.URL, "queue_depth", depth)
	d.publish(events.TypeTaskQueued, events.TaskInfo{
		RequestID: task.ID,
		Method:    task.Options.Method,
		URL:       task.Options.URL,
		Depth:     depth,
	})

	d.schedule()
	return task, nil
}

// schedule pops the head of the queue and issues it, unless an exchange is
// already in flight or the dispatcher is paused. Invoked after every enqueue,
// after every completion, and on Start. A no-op on an empty idle queue.
func (d *Dispatcher) schedule() {
	d.mu.Lock()
	if d.running || d.paused {
		d.mu.Unlock()
		return
	}
	task := d.queue.Dequeue()
	if task == nil {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.current = task
	d.mu.Unlock()

	d.logger.Debug("task started", "request_id", task.ID, "url", task.Options.URL)
	d.publish(events.TypeTaskStarted, events.TaskInfo{
		RequestID: task.ID,
		Method:    task.Options.Method,
		URL:       task.Options.URL,
		Depth:     d.queue.Depth(),
	})

	go func() {
		res := d.handle.Fetch(context.Background(), task.Options)
		d.complete(task, res)
	}()
}

// complete delivers the terminal result for task, clears its registry entry,
// and advances the queue. It runs on the transport goroutine; with one
// exchange in flight at a time, completions are naturally serialized.
func (d *Dispatcher) complete(task *queue.Task, tres transport.Result) {
	d.mu.Lock()
	cont, ok := d.pending[task.ID]
	d.mu.Unlock()

	res := decode(task.Options, tres)

	if tres.Status > 0 && res.Err == nil {
		task.Status = queue.StatusSucceeded
	} else {
		task.Status = queue.StatusFailed
	}

	var duration time.Duration
	if task.StartedAt != nil {
		duration = time.Since(*task.StartedAt)
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	// Journal and publish before invoking the continuation: a caller that
	// resumes on the future must be able to observe the recorded fetch.
	if d.journal != nil {
		rec := journal.Record{
			RequestID:   task.ID,
			Method:      task.Options.Method,
			URL:         task.Options.URL,
			Status:      tres.Status,
			Bytes:       len(tres.Body),
			Duration:    duration,
			LastError:   errMsg,
			CreatedAt:   task.CreatedAt,
			CompletedAt: time.Now().UTC(),
		}
		if err := d.journal.Record(context.Background(), rec); err != nil {
			d.logger.Error("failed to journal fetch", "request_id", task.ID, "error", err)
		}
	}

	d.publish(events.TypeTaskCompleted, events.TaskInfo{
		RequestID: task.ID,
		Method:    task.Options.Method,
		URL:       task.Options.URL,
		Status:    tres.Status,
		Err:       errMsg,
		Duration:  duration,
		Depth:     d.queue.Depth(),
	})

	if ok {
		d.invoke(cont, res, tres.Status)
	}

	d.mu.Lock()
	delete(d.pending, task.ID)
	d.current = nil
	d.running = false
	d.mu.Unlock()

	d.schedule()
}

// invoke runs the continuation with panic recovery so a misbehaving callback
// can never stall the queue.
func (d *Dispatcher) invoke(cont *continuation, res Result, status int) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("completion callback panicked", "request_id", cont.task.ID, "panic", fmt.Sprint(r))
		}
	}()
	if cont.future != nil {
		cont.future.complete(res, status)
	}
	if cont.cb != nil {
		cont.cb(res, status, d)
	}
}

// decode applies the response decoding policy. Status 0 marks an aborted or
// network-failed exchange, so no JSON decode is attempted even when the task
// asked for it; the raw (likely empty) body passes through unchanged.
func decode(opts queue.Options, tres transport.Result) Result {
	res := Result{Text: string(tres.Body)}
	if !opts.JSON || tres.Status == 0 {
		return res
	}
	var v any
	if err := json.Unmarshal(tres.Body, &v); err != nil {
		res.Err = fmt.Errorf("decode json response: %w", err)
		return res
	}
	res.Value = v
	return res
}

// Stop pauses scheduling and aborts the in-flight exchange, if any. Queued
// tasks stay put; Start resumes them in their original order.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()

	d.handle.Abort()
	d.logger.Info("dispatch paused", "queue_depth", d.queue.Depth())
	d.publish(events.TypePaused, events.TaskInfo{Depth: d.queue.Depth()})
}

// Start resumes queue processing from wherever it left off.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()

	d.logger.Info("dispatch resumed", "queue_depth", d.queue.Depth())
	d.publish(events.TypeResumed, events.TaskInfo{Depth: d.queue.Depth()})
	d.schedule()
}

// Close aborts the in-flight exchange. It does not touch the queue or the
// paused state.
func (d *Dispatcher) Close() {
	d.handle.Abort()
}

// Depth returns the number of queued (not yet started) tasks.
func (d *Dispatcher) Depth() int {
	return d.queue.Depth()
}

// InFlight reports whether an exchange is currently outstanding.
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Current returns the options of the in-flight task, if any.
func (d *Dispatcher) Current() (queue.Options, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return queue.Options{}, false
	}
	return d.current.Options, true
}

func (d *Dispatcher) publish(t events.Type, info events.TaskInfo) {
	if d.hub != nil {
		d.hub.Publish(t, info)
	}
}
