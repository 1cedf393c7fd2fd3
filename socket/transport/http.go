package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/kleeedolinux/pseudows/debug"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// StatusError is returned for a response outside the 2xx range.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "exchange failed: " + e.Status
	}
	return "exchange failed: " + e.Status + " - " + e.Body
}

// HTTPExchanger issues exchanges with net/http. Each call runs on its own
// goroutine and reports back through the Scheduler.
type HTTPExchanger struct {
	client  *http.Client
	sched   Scheduler
	headers http.Header
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

type HTTPOption func(*HTTPExchanger)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExchanger) {
		e.client = c
	}
}

// WithHeaders adds headers to every exchange.
func WithHeaders(headers http.Header) HTTPOption {
	return func(e *HTTPExchanger) {
		for k, v := range headers {
			e.headers[k] = v
		}
	}
}

// WithTimeout bounds a single exchange. It has to be longer than the
// server's poll timeout or idle drains fail.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(e *HTTPExchanger) {
		e.timeout = timeout
	}
}

func NewHTTPExchanger(sched Scheduler, opts ...HTTPOption) *HTTPExchanger {
	ctx, cancel := context.WithCancel(context.Background())

	e := &HTTPExchanger{
		client:  &http.Client{},
		sched:   sched,
		headers: make(http.Header),
		timeout: 60 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type httpCall struct {
	once    sync.Once
	cancel  context.CancelFunc
	aborted atomic.Bool
}

func (c *httpCall) Abort() {
	c.aborted.Store(true)
	c.once.Do(c.cancel)
}

func (e *HTTPExchanger) Do(x Exchange, onSuccess func([]byte), onFailure func(error)) Call {
	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	call := &httpCall{cancel: cancel}

	go func() {
		body, err := e.roundTrip(ctx, x)
		call.once.Do(cancel)

		posted := e.sched.Post(func() {
			if err != nil {
				if call.aborted.Load() {
					return
				}
				onFailure(err)
				return
			}
			onSuccess(body)
		})
		if !posted {
			debug.Printf("HTTPExchanger: scheduler closed, dropping result for %s", x.URL)
		}
	}()

	return call
}

func (e *HTTPExchanger) roundTrip(ctx context.Context, x Exchange) ([]byte, error) {
	method := x.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, x.URL, bytes.NewReader(x.Body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	for k, values := range e.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	for k, values := range x.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if x.ContentType != "" {
		req.Header.Set("Content-Type", x.ContentType)
	}

	debug.Printf("HTTPExchanger: %s %s (%d bytes)", method, x.URL, len(x.Body))

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, x.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   string(bytes.TrimSpace(body)),
		}
	}

	return body, nil
}

// Close aborts every outstanding exchange. Their failures are still
// reported through the Scheduler.
func (e *HTTPExchanger) Close() error {
	e.cancel()
	return nil
}
