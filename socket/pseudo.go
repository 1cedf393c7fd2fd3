package socket

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kleeedolinux/pseudows/debug"
	"github.com/kleeedolinux/pseudows/socket/transport"
)

// Socket emulates a full-duplex message socket over request/response
// exchanges. A handshake allocates a session on the server; afterwards the
// socket keeps exactly one drain exchange outstanding, each carrying every
// message queued since the previous one and returning the server's pending
// messages.
//
// Socket state belongs to its Loop. The exported methods post onto the loop
// and may be called from any goroutine; handlers always run on the loop.
type Socket struct {
	loop      *Loop
	exchanger transport.Exchanger
	address   string
	url       string
	protocol  string
	requeue   bool
	log       *slog.Logger

	state atomic.Int32

	idMu      sync.RWMutex
	sessionID SessionID

	pending  []string
	inflight transport.Call
	outbound int
	closing  bool

	onOpen    func()
	onMessage func(MessageEvent)
	onError   func(error)
	onClose   func()
}

type Option func(*Socket)

// WithProtocol sets the sub-protocol name. Empty means "undefined".
func WithProtocol(protocol string) Option {
	return func(s *Socket) {
		if protocol != "" {
			s.protocol = protocol
		}
	}
}

func WithOpenHandler(fn func()) Option {
	return func(s *Socket) {
		s.onOpen = orNoop(fn)
	}
}

func WithMessageHandler(fn func(MessageEvent)) Option {
	return func(s *Socket) {
		if fn != nil {
			s.onMessage = fn
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(s *Socket) {
		if fn != nil {
			s.onError = fn
		}
	}
}

func WithCloseHandler(fn func()) Option {
	return func(s *Socket) {
		s.onClose = orNoop(fn)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Socket) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRequeueOnFailure puts the batch of a failed drain back at the front
// of the queue instead of dropping it.
func WithRequeueOnFailure() Option {
	return func(s *Socket) {
		s.requeue = true
	}
}

func orNoop(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	return fn
}

// New creates a socket for address and posts its handshake onto loop.
// ws:// and wss:// addresses are exchanged over http:// and https://.
func New(loop *Loop, exchanger transport.Exchanger, address string, opts ...Option) *Socket {
	s := &Socket{
		loop:      loop,
		exchanger: exchanger,
		address:   address,
		url:       transport.HTTPURL(address),
		protocol:  transport.DefaultProtocol,
		log:       debug.Logger("socket"),
		onOpen:    func() {},
		onMessage: func(MessageEvent) {},
		onError:   func(error) {},
		onClose:   func() {},
	}

	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("url", s.url, "protocol", s.protocol)

	if !loop.Post(s.establish) {
		s.log.Warn("event loop closed before handshake")
	}

	return s
}

// Dial is New over an HTTPExchanger scheduled on loop.
func Dial(loop *Loop, address string, opts ...Option) *Socket {
	return New(loop, transport.NewHTTPExchanger(loop), address, opts...)
}

func (s *Socket) Send(message string) error {
	if !s.loop.Post(func() { s.send(message) }) {
		return ErrLoopClosed
	}
	return nil
}

func (s *Socket) Close() error {
	if !s.loop.Post(s.close) {
		return ErrLoopClosed
	}
	return nil
}

// CloseWhenDrained closes the socket once every queued message has gone out
// in a successful drain. A failed handshake or drain closes it as well; the
// messages involved are not retried.
func (s *Socket) CloseWhenDrained() error {
	if !s.loop.Post(func() {
		s.closing = true
		s.closeIfDrained()
	}) {
		return ErrLoopClosed
	}
	return nil
}

// closeIfDrained closes a socket marked by CloseWhenDrained once nothing is
// queued and the only exchange in flight, if any, is an empty poll.
func (s *Socket) closeIfDrained() {
	if !s.closing || s.ReadyState() != Open {
		return
	}
	if len(s.pending) == 0 && (s.inflight == nil || s.outbound == 0) {
		s.close()
	}
}

func (s *Socket) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

func (s *Socket) SessionID() SessionID {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.sessionID
}

func (s *Socket) setSessionID(id SessionID) {
	s.idMu.Lock()
	s.sessionID = id
	s.idMu.Unlock()
}

func (s *Socket) Protocol() string {
	return s.protocol
}

// URL is the address exchanges are sent to.
func (s *Socket) URL() string {
	return s.url
}

func (s *Socket) OnOpen(fn func()) {
	s.loop.Post(func() { s.onOpen = orNoop(fn) })
}

func (s *Socket) OnMessage(fn func(MessageEvent)) {
	s.loop.Post(func() {
		if fn == nil {
			fn = func(MessageEvent) {}
		}
		s.onMessage = fn
	})
}

func (s *Socket) OnError(fn func(error)) {
	s.loop.Post(func() {
		if fn == nil {
			fn = func(error) {}
		}
		s.onError = fn
	})
}

func (s *Socket) OnClose(fn func()) {
	s.loop.Post(func() { s.onClose = orNoop(fn) })
}

func (s *Socket) close() {
	if ReadyState(s.state.Swap(int32(Closed))) == Closed {
		return
	}
	s.log.Debug("closed locally", "session", s.SessionID().String(), "queued", len(s.pending))
	s.emitClose()
}

// invoke runs a consumer callback, turning a panic into a *CallbackError.
func (s *Socket) invoke(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Callback: name, Value: r}
		}
	}()
	fn()
	return nil
}

func (s *Socket) emitOpen() {
	if err := s.invoke("open", s.onOpen); err != nil {
		s.emitError(err)
	}
}

func (s *Socket) emitMessage(ev MessageEvent) {
	if err := s.invoke("message", func() { s.onMessage(ev) }); err != nil {
		s.emitError(err)
	}
}

func (s *Socket) emitError(err error) {
	if perr := s.invoke("error", func() { s.onError(err) }); perr != nil {
		s.log.Error("error handler panicked", "error", err, "panic", perr)
	}
}

func (s *Socket) emitClose() {
	if err := s.invoke("close", s.onClose); err != nil {
		s.log.Error("close handler panicked", "panic", err)
	}
}
