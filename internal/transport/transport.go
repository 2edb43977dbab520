package transport

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/mattjoyce/httpq/internal/queue"
)

// Doer executes a single HTTP exchange. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is the terminal outcome of one exchange. Status 0 means the call
// never reached a server (aborted, malformed URL, or network failure); Body
// holds whatever raw bytes were received, possibly none.
type Result struct {
	Status int
	Body   []byte
}

// Handle wraps the one reusable transport object the dispatcher owns.
// It executes at most one exchange at a time and is never shared; the
// dispatcher's single-in-flight discipline is what makes the cancel slot safe.
type Handle struct {
	client    Doer
	userAgent string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHandle creates a transport handle. If client is nil, a default
// http.Client is used (connection management stays with net/http).
func NewHandle(client Doer, userAgent string) *Handle {
	if client == nil {
		client = &http.Client{}
	}
	return &Handle{client: client, userAgent: userAgent}
}

// Fetch performs one exchange and blocks until it reaches its terminal state.
// It never returns an error: every failure mode collapses into Status 0, the
// same channel the caller's completion path already handles.
func (h *Handle) Fetch(ctx context.Context, opts queue.Options) Result {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.cancel = nil
		h.mu.Unlock()
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, nil)
	if err != nil {
		return Result{}
	}

	if len(opts.Params) > 0 {
		q := req.URL.Query()
		for k, vs := range opts.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.JSON {
		req.Header.Set("Accept", "application/json")
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// The exchange never completed; treat like an abort.
		return Result{}
	}
	return Result{Status: resp.StatusCode, Body: body}
}

// Abort cancels the in-flight exchange, if any. The blocked Fetch then
// returns a status-0 result.
func (h *Handle) Abort() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()
}
