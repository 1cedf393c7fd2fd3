package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/kleeedolinux/pseudows/debug"
)

var ErrTransportClosed = errors.New("transport closed")

// ServerTransport is the server end of one session.
type ServerTransport interface {
	Write(message string) error

	Close() error

	ID() string
}

type WebSocketServerTransport struct {
	id           string
	conn         *websocket.Conn
	sendCh       chan string
	closeCh      chan struct{}
	writeWg      sync.WaitGroup
	writeTimeout time.Duration
	readTimeout  time.Duration
	mu           sync.Mutex
	closed       bool
}

type WebSocketServerConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BufferSize   int
}

func DefaultWebSocketServerConfig() WebSocketServerConfig {
	return WebSocketServerConfig{
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  0,
		BufferSize:   100,
	}
}

func NewWebSocketServerTransport(id string, conn *websocket.Conn, config WebSocketServerConfig) *WebSocketServerTransport {
	t := &WebSocketServerTransport{
		id:           id,
		conn:         conn,
		sendCh:       make(chan string, config.BufferSize),
		closeCh:      make(chan struct{}),
		writeTimeout: config.WriteTimeout,
		readTimeout:  config.ReadTimeout,
	}

	t.writeWg.Add(1)
	go t.writePump()

	return t
}

func (t *WebSocketServerTransport) writePump() {
	defer t.writeWg.Done()

	for {
		select {
		case <-t.closeCh:
			return
		case message := <-t.sendCh:
			if t.writeTimeout > 0 {
				t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			}

			if err := t.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				debug.Printf("WebSocketServerTransport %s: write error: %v", t.id, err)
				go t.Close()
				return
			}
		}
	}
}

// Read blocks for the next text message.
func (t *WebSocketServerTransport) Read() (string, error) {
	if t.readTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
	_, message, err := t.conn.ReadMessage()
	if err != nil {
		debug.Printf("WebSocketServerTransport %s: read error: %v", t.id, err)
		return "", err
	}
	return string(message), nil
}

func (t *WebSocketServerTransport) Write(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	select {
	case t.sendCh <- message:
		return nil
	default:
		debug.Printf("WebSocketServerTransport %s: send buffer full, closing connection", t.id)
		go t.Close()
		return errors.New("send buffer full")
	}
}

func (t *WebSocketServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()

	t.writeWg.Wait()

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return t.conn.Close()
}

func (t *WebSocketServerTransport) ID() string {
	return t.id
}

// PollTransport is the server end of an emulated session. Outbound messages
// wait in a queue until the client's next drain collects them.
type PollTransport struct {
	id                string
	protocol          string
	mu                sync.Mutex
	pending           []string
	notify            chan struct{}
	closeCh           chan struct{}
	lastActivity      time.Time
	closed            bool
	disconnectTimeout time.Duration
	bufferSize        int

	// exchangeMu serializes drains of one session.
	exchangeMu sync.Mutex
}

type PollServerConfig struct {
	DisconnectTimeout time.Duration
	BufferSize        int
}

func DefaultPollServerConfig() PollServerConfig {
	return PollServerConfig{
		DisconnectTimeout: 60 * time.Second,
		BufferSize:        1024,
	}
}

func NewPollTransport(id, protocol string, config PollServerConfig) *PollTransport {
	return &PollTransport{
		id:                id,
		protocol:          protocol,
		notify:            make(chan struct{}, 1),
		closeCh:           make(chan struct{}),
		lastActivity:      time.Now(),
		disconnectTimeout: config.DisconnectTimeout,
		bufferSize:        config.BufferSize,
	}
}

func (t *PollTransport) Write(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if t.bufferSize > 0 && len(t.pending) >= t.bufferSize {
		return errors.Errorf("session %s: outbound queue full", t.id)
	}

	t.pending = append(t.pending, message)

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

// Take returns every queued outbound message. With nothing queued it waits
// up to wait for a Write or for Close; the result is then possibly empty,
// never nil. Once ctx is done Take returns nil and leaves the queue for the
// next drain.
func (t *PollTransport) Take(ctx context.Context, wait time.Duration) []string {
	t.touch()
	defer t.touch()

	if ctx.Err() != nil {
		return nil
	}
	if msgs := t.takePending(); len(msgs) > 0 || wait <= 0 {
		return msgs
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-t.notify:
			// The signal may predate the last take.
			if msgs := t.takePending(); len(msgs) > 0 {
				return msgs
			}
		case <-t.closeCh:
			return t.takePending()
		case <-timer.C:
			return t.takePending()
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *PollTransport) takePending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	msgs := t.pending
	t.pending = nil
	if msgs == nil {
		msgs = []string{}
	}
	return msgs
}

func (t *PollTransport) touch() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// Lock holds the session for the duration of one drain.
func (t *PollTransport) Lock() {
	t.exchangeMu.Lock()
}

func (t *PollTransport) Unlock() {
	t.exchangeMu.Unlock()
}

func (t *PollTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closeCh)
	return nil
}

func (t *PollTransport) ID() string {
	return t.id
}

func (t *PollTransport) Protocol() string {
	return t.protocol
}

// IsExpired reports whether the session is closed or has seen no drain for
// longer than the disconnect timeout.
func (t *PollTransport) IsExpired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return true
	}

	return t.disconnectTimeout > 0 && time.Since(t.lastActivity) > t.disconnectTimeout
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
