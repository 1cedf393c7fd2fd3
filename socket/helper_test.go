package socket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kleeedolinux/pseudows/socket/transport"
)

type fakeCall struct {
	x         transport.Exchange
	onSuccess func([]byte)
	onFailure func(error)
	aborted   bool
	done      bool
}

func (c *fakeCall) Abort() {
	c.aborted = true
}

// fakeExchanger records exchanges; tests complete them by hand.
type fakeExchanger struct {
	loop           *Loop
	calls          []*fakeCall
	outstanding    int
	maxOutstanding int
}

func newFakeExchanger(loop *Loop) *fakeExchanger {
	return &fakeExchanger{loop: loop}
}

func (f *fakeExchanger) Do(x transport.Exchange, onSuccess func([]byte), onFailure func(error)) transport.Call {
	c := &fakeCall{x: x, onSuccess: onSuccess, onFailure: onFailure}
	f.calls = append(f.calls, c)
	f.outstanding++
	if f.outstanding > f.maxOutstanding {
		f.maxOutstanding = f.outstanding
	}
	return c
}

func (f *fakeExchanger) last(t *testing.T) *fakeCall {
	t.Helper()
	require.NotEmpty(t, f.calls, "no exchange issued")
	return f.calls[len(f.calls)-1]
}

func (f *fakeExchanger) complete(t *testing.T) *fakeCall {
	t.Helper()
	c := f.last(t)
	require.False(t, c.done, "exchange already completed")
	c.done = true
	f.outstanding--
	return c
}

// succeed answers the latest exchange and runs the loop until idle.
func (f *fakeExchanger) succeed(t *testing.T, body string) {
	t.Helper()
	c := f.complete(t)
	f.loop.Post(func() { c.onSuccess([]byte(body)) })
	f.loop.RunPending()
}

func (f *fakeExchanger) fail(t *testing.T, err error) {
	t.Helper()
	c := f.complete(t)
	f.loop.Post(func() {
		if !c.aborted {
			c.onFailure(err)
		}
	})
	f.loop.RunPending()
}

func batchOf(t *testing.T, c *fakeCall) []string {
	t.Helper()
	var req transport.DrainRequest
	require.NoError(t, json.Unmarshal(c.x.Body, &req))
	require.NotNil(t, req.Messages)
	return req.Messages
}

type recorder struct {
	opened   int
	messages []string
	errs     []error
	closed   int
}

func (r *recorder) options() []Option {
	return []Option{
		WithOpenHandler(func() { r.opened++ }),
		WithMessageHandler(func(ev MessageEvent) { r.messages = append(r.messages, ev.Data) }),
		WithErrorHandler(func(err error) { r.errs = append(r.errs, err) }),
		WithCloseHandler(func() { r.closed++ }),
	}
}

type fixture struct {
	loop *Loop
	ex   *fakeExchanger
	rec  *recorder
	s    *Socket
}

func newFixture(t *testing.T, address string, opts ...Option) *fixture {
	t.Helper()
	loop := NewLoop()
	f := &fixture{loop: loop, ex: newFakeExchanger(loop), rec: &recorder{}}
	f.s = New(loop, f.ex, address, append(f.rec.options(), opts...)...)
	loop.RunPending()
	return f
}

// newOpenFixture completes the handshake with session S1. The initial poll
// is left outstanding.
func newOpenFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := newFixture(t, "ws://x/y", opts...)
	f.ex.succeed(t, `{"sessionId":"S1"}`)
	require.Equal(t, Open, f.s.ReadyState())
	require.Len(t, f.ex.calls, 2)
	return f
}
