package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/httpq/internal/log"
	"github.com/mattjoyce/httpq/internal/queue"
	"github.com/mattjoyce/httpq/internal/transport"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// origin tracks how many requests are being served at once so tests can
// verify the single-in-flight invariant.
type origin struct {
	srv *httptest.Server

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newOrigin(t *testing.T) *origin {
	t.Helper()

	o := &origin{}
	track := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			n := o.inFlight.Add(1)
			for {
				max := o.maxInFlight.Load()
				if n <= max || o.maxInFlight.CompareAndSwap(max, n) {
					break
				}
			}
			defer o.inFlight.Add(-1)
			next(w, r)
		}
	}

	r := chi.NewRouter()
	r.Get("/hello", track(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	r.Get("/numbers", track(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[1,2,3]"))
	}))
	r.Get("/bad-json", track(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	r.Get("/echo/{name}", track(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(chi.URLParam(r, "name")))
	}))

	o.srv = httptest.NewServer(r)
	t.Cleanup(o.srv.Close)
	return o
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *origin) {
	t.Helper()
	o := newOrigin(t)
	d := New(transport.NewHandle(nil, ""), queue.New(0), nil, nil)
	return d, o
}

func TestGetRawText(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	done := make(chan struct{})
	err := d.Get(queue.Options{URL: o.srv.URL + "/hello"}, func(res Result, status int, got *Dispatcher) {
		defer close(done)
		assert.Equal(t, 200, status)
		assert.Equal(t, "hello", res.Text)
		assert.Nil(t, res.Value)
		assert.NoError(t, res.Err)
		assert.Same(t, d, got)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestJSONDecodesBody(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	done := make(chan struct{})
	err := d.JSON(queue.Options{URL: o.srv.URL + "/numbers"}, func(res Result, status int, _ *Dispatcher) {
		defer close(done)
		assert.Equal(t, 200, status)
		assert.NoError(t, res.Err)
		assert.Equal(t, []any{float64(1), float64(2), float64(3)}, res.Value)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestCallbacksFireInEnqueueOrderExactlyOnce(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	const n = 8
	var mu sync.Mutex
	var order []string
	counts := make(map[string]int)
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("task-%d", i)
		err := d.Get(queue.Options{URL: o.srv.URL + "/echo/" + name}, func(res Result, status int, _ *Dispatcher) {
			mu.Lock()
			order = append(order, res.Text)
			counts[res.Text]++
			mu.Unlock()
			done <- struct{}{}
		})
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for callbacks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("task-%d", i), order[i], "completion order must match enqueue order")
	}
	for name, c := range counts {
		assert.Equal(t, 1, c, "callback for %s fired %d times", name, c)
	}
	assert.LessOrEqual(t, o.maxInFlight.Load(), int32(1), "more than one exchange was in flight")
}

func TestStatusZeroSkipsJSONDecode(t *testing.T) {
	t.Parallel()

	d := New(transport.NewHandle(nil, ""), queue.New(0), nil, nil)

	done := make(chan struct{})
	// Closed port: the exchange never reaches a server.
	err := d.JSON(queue.Options{URL: "http://127.0.0.1:1/numbers"}, func(res Result, status int, _ *Dispatcher) {
		defer close(done)
		assert.Equal(t, 0, status)
		assert.Nil(t, res.Value)
		assert.NoError(t, res.Err)
		assert.Equal(t, "", res.Text)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestDecodeFailureStillAdvancesQueue(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	first := make(chan Result, 1)
	second := make(chan struct{})

	err := d.JSON(queue.Options{URL: o.srv.URL + "/bad-json"}, func(res Result, status int, _ *Dispatcher) {
		first <- res
	})
	require.NoError(t, err)
	err = d.Get(queue.Options{URL: o.srv.URL + "/hello"}, func(res Result, status int, _ *Dispatcher) {
		close(second)
	})
	require.NoError(t, err)

	select {
	case res := <-first:
		assert.Error(t, res.Err)
		assert.Equal(t, "{not json", res.Text, "raw body must be preserved on decode failure")
	case <-time.After(3 * time.Second):
		t.Fatal("first callback never fired")
	}

	select {
	case <-second:
	case <-time.After(3 * time.Second):
		t.Fatal("queue stalled after decode failure")
	}
}

func TestCallbackPanicStillAdvancesQueue(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	second := make(chan struct{})

	err := d.Get(queue.Options{URL: o.srv.URL + "/hello"}, func(res Result, status int, _ *Dispatcher) {
		panic("misbehaving caller")
	})
	require.NoError(t, err)
	err = d.Get(queue.Options{URL: o.srv.URL + "/hello"}, func(res Result, status int, _ *Dispatcher) {
		close(second)
	})
	require.NoError(t, err)

	select {
	case <-second:
	case <-time.After(3 * time.Second):
		t.Fatal("queue stalled after callback panic")
	}
}

func TestDuplicateURLsEachCompleteOnce(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	var fired atomic.Int32
	done := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		err := d.Get(queue.Options{URL: o.srv.URL + "/hello"}, func(res Result, status int, _ *Dispatcher) {
			fired.Add(1)
			done <- struct{}{}
		})
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for duplicate-url callbacks")
		}
	}
	assert.Equal(t, int32(2), fired.Load(), "both callbacks for the same url must fire")
}

func TestStopStartResumesInOrder(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	d.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("paused-%d", i)
		err := d.Get(queue.Options{URL: o.srv.URL + "/echo/" + name}, func(res Result, status int, _ *Dispatcher) {
			mu.Lock()
			order = append(order, res.Text)
			mu.Unlock()
			done <- struct{}{}
		})
		require.NoError(t, err)
	}

	// Nothing may run while paused.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, d.Depth())
	assert.False(t, d.InFlight())

	d.Start()

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for resumed tasks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"paused-0", "paused-1", "paused-2"}, order)
}

func TestStopAbortsInFlight(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(10 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	d := New(transport.NewHandle(nil, ""), queue.New(0), nil, nil)

	done := make(chan int, 1)
	err := d.Get(queue.Options{URL: srv.URL}, func(res Result, status int, _ *Dispatcher) {
		done <- status
	})
	require.NoError(t, err)

	// Let the exchange get in flight, then pause.
	time.Sleep(100 * time.Millisecond)
	d.Stop()

	select {
	case status := <-done:
		assert.Equal(t, 0, status, "aborted exchange must complete with status 0")
	case <-time.After(3 * time.Second):
		t.Fatal("aborted task never completed")
	}
}

func TestFutureCompletion(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	f, err := d.Do(queue.Options{URL: o.srv.URL + "/hello"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, status, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "hello", res.Text)

	// A completed future answers non-blockingly too.
	res2, status2, ok := f.Result()
	require.True(t, ok)
	assert.Equal(t, status, status2)
	assert.Equal(t, res.Text, res2.Text)
}

func TestQueueFullSurfacesAtEnqueue(t *testing.T) {
	t.Parallel()

	d := New(transport.NewHandle(nil, ""), queue.New(1), nil, nil)
	d.Stop() // hold everything in the queue

	err := d.Get(queue.Options{URL: "http://example.com/1"}, nil)
	require.NoError(t, err)
	err = d.Get(queue.Options{URL: "http://example.com/2"}, nil)
	assert.ErrorIs(t, err, queue.ErrQueueFull)
}

func TestChainedEnqueueFromCallback(t *testing.T) {
	t.Parallel()

	d, o := newTestDispatcher(t)

	done := make(chan string, 1)
	err := d.Get(queue.Options{URL: o.srv.URL + "/echo/first"}, func(res Result, status int, disp *Dispatcher) {
		// Enqueue a follow-up from inside the completion path.
		_ = disp.Get(queue.Options{URL: o.srv.URL + "/echo/second"}, func(res Result, status int, _ *Dispatcher) {
			done <- res.Text
		})
	})
	require.NoError(t, err)

	select {
	case text := <-done:
		assert.Equal(t, "second", text)
	case <-time.After(5 * time.Second):
		t.Fatal("chained task never completed")
	}
}
