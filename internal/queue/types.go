package queue

import (
	"errors"
	"net/http"
	"net/url"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Options describes a single fetch. URL is the only field callers must set;
// a missing URL is not rejected at enqueue time and surfaces as a
// transport-level failure (status 0) instead.
type Options struct {
	// Method defaults to GET. Only GET is meaningfully supported.
	Method string
	URL    string
	// Params, if set, is merged into the URL query string.
	Params url.Values
	// JSON requests Accept: application/json and decodes the response body.
	JSON bool
	// Header holds optional extra request headers.
	Header http.Header
}

// Task pairs Options with its queue bookkeeping. The completion side
// (callback/future) is owned by the dispatcher, keyed by Task.ID.
type Task struct {
	ID        string
	Options   Options
	Status    Status
	CreatedAt time.Time
	StartedAt *time.Time
}

var ErrQueueFull = errors.New("queue full")
