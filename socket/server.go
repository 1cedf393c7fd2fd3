package socket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kleeedolinux/pseudows/debug"
	"github.com/kleeedolinux/pseudows/socket/transport"
)

const maxRequestBody = 8 << 20

// Server terminates the emulation protocol. A POST without a session is a
// handshake; a POST with one is a drain that delivers the client's batch to
// the message handlers and answers with whatever is queued for the client.
// Clients that can open a real WebSocket are served natively on the same
// handler.
type Server struct {
	mu       sync.RWMutex
	conns    map[string]*serverConn
	sessions map[string]*transport.PollTransport
	handlers map[Event][]func(c Conn, data string)

	pollTimeout        time.Duration
	sessionTimeout     time.Duration
	limiter            *rate.Limiter
	compressionEnabled bool
	bufferSize         int
	log                *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

type ServerOption func(*Server)

// WithPollTimeout bounds how long an idle drain is held open waiting for
// outbound messages.
func WithPollTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.pollTimeout = d
	}
}

// WithSessionTimeout expires emulated sessions that stop draining.
func WithSessionTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.sessionTimeout = d
	}
}

// WithHandshakeRate limits how fast new emulated sessions are allocated.
func WithHandshakeRate(limit rate.Limit, burst int) ServerOption {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithCompression(enabled bool) ServerOption {
	return func(s *Server) {
		s.compressionEnabled = enabled
	}
}

// WithBufferSize bounds each session's outbound queue.
func WithBufferSize(size int) ServerOption {
	return func(s *Server) {
		s.bufferSize = size
	}
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		conns:          make(map[string]*serverConn),
		sessions:       make(map[string]*transport.PollTransport),
		handlers:       make(map[Event][]func(c Conn, data string)),
		pollTimeout:    25 * time.Second,
		sessionTimeout: 60 * time.Second,
		bufferSize:     1024,
		log:            debug.Logger("server"),
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupSessions()

	return s
}

func (s *Server) cleanupInterval() time.Duration {
	d := s.sessionTimeout / 2
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

func (s *Server) cleanupSessions() {
	ticker := time.NewTicker(s.cleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			var expired []*serverConn
			s.mu.RLock()
			for id, session := range s.sessions {
				if session.IsExpired() {
					if c, ok := s.conns[id]; ok {
						expired = append(expired, c)
					}
				}
			}
			s.mu.RUnlock()

			for _, c := range expired {
				s.log.Info("session expired", "session", c.ID())
				c.Close()
			}
		}
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r)
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.Header.Get(transport.HeaderSession)
	if sessionID == "" || sessionID == transport.NullSession {
		s.handshake(w, r)
		return
	}

	s.drain(w, r, sessionID)
}

func (s *Server) handshake(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "too many handshakes", http.StatusTooManyRequests)
		return
	}

	protocol := r.Header.Get(transport.HeaderProtocol)
	if protocol == "" {
		protocol = transport.DefaultProtocol
	}

	id := generateID()

	config := transport.DefaultPollServerConfig()
	config.DisconnectTimeout = s.sessionTimeout
	config.BufferSize = s.bufferSize
	pt := transport.NewPollTransport(id, protocol, config)

	c := newServerConn(id, protocol, pt, s.removeConn)

	s.mu.Lock()
	s.sessions[id] = pt
	s.conns[id] = c
	s.mu.Unlock()

	s.log.Debug("handshake", "session", id, "protocol", protocol, "remote", r.RemoteAddr)

	s.trigger(EventConnect, c, "")

	writeJSON(w, transport.HandshakeResponse{SessionID: id})
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request, sessionID string) {
	s.mu.RLock()
	pt, exists := s.sessions[sessionID]
	c := s.conns[sessionID]
	s.mu.RUnlock()

	if !exists || c == nil || pt.IsExpired() {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req transport.DrainRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "malformed drain: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID != "" && req.SessionID != sessionID {
		http.Error(w, "session mismatch", http.StatusBadRequest)
		return
	}

	pt.Lock()
	defer pt.Unlock()

	for _, m := range req.Messages {
		s.trigger(EventMessage, c, m)
	}

	msgs := pt.Take(r.Context(), s.pollTimeout)
	if msgs == nil {
		s.log.Debug("drain abandoned by client", "session", sessionID)
		return
	}

	s.log.Debug("drain", "session", sessionID, "in", len(req.Messages), "out", len(msgs))

	writeJSON(w, transport.DrainResponse{Messages: msgs})
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := transport.Upgrader
	upgrader.EnableCompression = s.compressionEnabled
	upgrader.Subprotocols = websocket.Subprotocols(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	protocol := conn.Subprotocol()
	if protocol == "" {
		protocol = transport.DefaultProtocol
	}

	id := generateID()

	config := transport.DefaultWebSocketServerConfig()
	config.BufferSize = s.bufferSize
	wt := transport.NewWebSocketServerTransport(id, conn, config)

	c := newServerConn(id, protocol, wt, s.removeConn)

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	s.log.Debug("websocket connected", "session", id, "protocol", protocol, "remote", r.RemoteAddr)

	s.trigger(EventConnect, c, "")

	for {
		msg, err := wt.Read()
		if err != nil {
			break
		}
		s.trigger(EventMessage, c, msg)
	}

	c.Close()
}

func (s *Server) removeConn(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	delete(s.sessions, c.id)
	s.mu.Unlock()

	s.log.Debug("disconnected", "session", c.id)

	s.trigger(EventDisconnect, c, "")
}

// HandleFunc registers a handler for connect, message or disconnect.
// Handlers run synchronously, so one session's messages are handled in
// the order the client sent them.
func (s *Server) HandleFunc(event Event, handler func(c Conn, data string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[event] = append(s.handlers[event], handler)
}

func (s *Server) trigger(event Event, c Conn, data string) {
	s.mu.RLock()
	handlers := s.handlers[event]
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(c, data)
	}
}

// Broadcast queues message for every connected client.
func (s *Server) Broadcast(message string) {
	s.mu.RLock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(message); err != nil {
			s.log.Warn("broadcast failed", "session", c.id, "error", err)
		}
	}
}

func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conns)
}

func (s *Server) GetConn(id string) (Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.conns[id]
	if !exists {
		return nil, false
	}
	return c, true
}

// Shutdown closes every session and stops the expiry sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.RLock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Close(); err != nil {
			s.log.Warn("close failed", "session", c.id, "error", err)
		}
	}

	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", transport.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Printf("Server: error writing response: %v", err)
	}
}
