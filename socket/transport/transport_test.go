package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanScheduler hands posted tasks to the test goroutine.
type chanScheduler chan func()

func (c chanScheduler) Post(task func()) bool {
	c <- task
	return true
}

func (c chanScheduler) next(t *testing.T) {
	t.Helper()
	select {
	case task := <-c:
		task()
	case <-time.After(5 * time.Second):
		t.Fatal("no completion posted")
	}
}

func TestHTTPURL(t *testing.T) {
	for _, tc := range []struct{ in, http, ws string }{
		{"ws://x/y", "http://x/y", "ws://x/y"},
		{"wss://x/y", "https://x/y", "wss://x/y"},
		{"http://x/y", "http://x/y", "ws://x/y"},
		{"https://x", "https://x", "wss://x"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.http, HTTPURL(tc.in))
			assert.Equal(t, tc.ws, WebSocketURL(tc.in))
		})
	}
}

func TestNewExchange(t *testing.T) {
	x := NewExchange("http://x", NullSession, DefaultProtocol, nil)
	assert.Equal(t, http.MethodPost, x.Method)
	assert.Equal(t, ContentTypeJSON, x.ContentType)
	assert.Equal(t, "null", x.Header.Get(HeaderSession))
	assert.Equal(t, "undefined", x.Header.Get(HeaderProtocol))
}

func TestHTTPExchangerSuccess(t *testing.T) {
	type captured struct {
		header http.Header
		body   string
	}
	reqs := make(chan captured, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		reqs <- captured{header: r.Header.Clone(), body: string(b)}
		w.Write([]byte(`{"messages":["m"]}`))
	}))
	defer ts.Close()

	sched := make(chanScheduler, 1)
	ex := NewHTTPExchanger(sched, WithHeaders(http.Header{"X-Extra": {"1"}}))
	defer ex.Close()

	var body []byte
	ex.Do(NewExchange(ts.URL, "S1", "p", []byte(`{"messages":[]}`)),
		func(b []byte) { body = b },
		func(err error) { t.Errorf("unexpected failure: %v", err) },
	)
	sched.next(t)

	got := <-reqs
	assert.JSONEq(t, `{"messages":["m"]}`, string(body))
	assert.Equal(t, `{"messages":[]}`, got.body)
	assert.Equal(t, "S1", got.header.Get(HeaderSession))
	assert.Equal(t, "p", got.header.Get(HeaderProtocol))
	assert.Equal(t, ContentTypeJSON, got.header.Get("Content-Type"))
	assert.Equal(t, "1", got.header.Get("X-Extra"))
}

func TestHTTPExchangerStatusFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer ts.Close()

	sched := make(chanScheduler, 1)
	ex := NewHTTPExchanger(sched)

	var failure error
	ex.Do(NewExchange(ts.URL, "S1", "p", nil),
		func([]byte) { t.Error("unexpected success") },
		func(err error) { failure = err },
	)
	sched.next(t)

	var se *StatusError
	require.True(t, errors.As(failure, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "session not found", se.Body)
}

func TestHTTPExchangerAbortSuppressesFailure(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	sched := make(chanScheduler, 1)
	ex := NewHTTPExchanger(sched)

	called := false
	call := ex.Do(NewExchange(ts.URL, "S1", "p", nil),
		func([]byte) { called = true },
		func(error) { called = true },
	)
	call.Abort()
	sched.next(t)

	assert.False(t, called)
}

func TestHTTPExchangerTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	sched := make(chanScheduler, 1)
	ex := NewHTTPExchanger(sched, WithTimeout(20*time.Millisecond))

	var failure error
	ex.Do(NewExchange(ts.URL, "S1", "p", nil),
		func([]byte) { t.Error("unexpected success") },
		func(err error) { failure = err },
	)
	sched.next(t)

	assert.ErrorIs(t, failure, context.DeadlineExceeded)
}

func TestPollTransportTake(t *testing.T) {
	pt := NewPollTransport("id", "p", DefaultPollServerConfig())
	assert.Equal(t, "id", pt.ID())
	assert.Equal(t, "p", pt.Protocol())

	got := pt.Take(context.Background(), 0)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	require.NoError(t, pt.Write("a"))
	require.NoError(t, pt.Write("b"))
	assert.Equal(t, []string{"a", "b"}, pt.Take(context.Background(), time.Second))

	go func() {
		time.Sleep(10 * time.Millisecond)
		pt.Write("c")
	}()
	assert.Equal(t, []string{"c"}, pt.Take(context.Background(), 5*time.Second))

	start := time.Now()
	assert.Empty(t, pt.Take(context.Background(), 20*time.Millisecond))
	assert.True(t, time.Since(start) >= 15*time.Millisecond)
}

func TestPollTransportClose(t *testing.T) {
	pt := NewPollTransport("id", "p", PollServerConfig{BufferSize: 1})

	require.NoError(t, pt.Write("a"))
	assert.Error(t, pt.Write("b"), "queue is full")
	pt.Take(context.Background(), 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		pt.Close()
	}()
	assert.Empty(t, pt.Take(context.Background(), 5*time.Second))

	assert.True(t, pt.IsExpired())
	assert.ErrorIs(t, pt.Write("c"), ErrTransportClosed)
	assert.NoError(t, pt.Close())
}

func TestPollTransportExpiry(t *testing.T) {
	pt := NewPollTransport("id", "p", PollServerConfig{DisconnectTimeout: 20 * time.Millisecond})
	assert.False(t, pt.IsExpired())
	time.Sleep(30 * time.Millisecond)
	assert.True(t, pt.IsExpired())
}

func TestPollTransportTakeCancelledKeepsQueue(t *testing.T) {
	pt := NewPollTransport("id", "p", DefaultPollServerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.Nil(t, pt.Take(ctx, 5*time.Second))

	require.NoError(t, pt.Write("kept"))
	assert.Nil(t, pt.Take(ctx, time.Second))
	assert.Equal(t, []string{"kept"}, pt.Take(context.Background(), time.Second))
}
