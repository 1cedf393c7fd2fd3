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

var ErrNotConnected = errors.New("not connected")

// WebSocketTransport is a native WebSocket client, for environments that
// do have persistent sockets. It speaks to the same Server as the emulation.
type WebSocketTransport struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	url          string
	protocol     string
	dialer       *websocket.Dialer
	headers      http.Header
	connected    bool
	writeTimeout time.Duration
	compression  bool
}

type WebSocketOption func(*WebSocketTransport)

func WithWebSocketHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.headers = headers
	}
}

func WithSubprotocol(protocol string) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.protocol = protocol
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.writeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.compression = enabled
	}
}

func NewWebSocketTransport(url string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:          WebSocketURL(url),
		dialer:       websocket.DefaultDialer,
		headers:      make(http.Header),
		writeTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	debug.Printf("WebSocketTransport: connecting to %s", t.url)

	dialer := *t.dialer
	dialer.HandshakeTimeout = 10 * time.Second
	dialer.EnableCompression = t.compression
	if t.protocol != "" {
		dialer.Subprotocols = []string{t.protocol}
	}

	conn, _, err := dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		return errors.Wrapf(err, "dial %s", t.url)
	}

	t.conn = conn
	t.connected = true
	return nil
}

func (t *WebSocketTransport) Send(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return ErrNotConnected
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	return t.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (t *WebSocketTransport) Receive() (string, error) {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return "", ErrNotConnected
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(message), nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	err := t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil {
		debug.Printf("WebSocketTransport: error sending close message: %v", err)
	}

	err = t.conn.Close()
	t.connected = false
	t.conn = nil
	return err
}
