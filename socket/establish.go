package socket

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kleeedolinux/pseudows/socket/transport"
)

// establish issues the one handshake of the socket's lifetime.
func (s *Socket) establish() {
	s.log.Debug("handshake")

	x := transport.NewExchange(s.url, s.SessionID().String(), s.protocol, nil)
	s.inflight = s.exchanger.Do(x, s.handshakeSucceeded, s.handshakeFailed)
}

func (s *Socket) handshakeSucceeded(body []byte) {
	s.release()

	var resp transport.HandshakeResponse
	err := json.Unmarshal(body, &resp)
	if err == nil && resp.SessionID == "" {
		err = errors.New("no sessionId")
	}
	if err != nil {
		err = errors.Wrapf(ErrMalformedResponse, "handshake: %v", err)
		s.log.Warn("handshake failed", "error", err)
		s.emitError(err)
		s.emitClose()
		return
	}

	s.setSessionID(NewSessionID(resp.SessionID))

	if !s.state.CompareAndSwap(int32(Connecting), int32(Open)) {
		s.log.Debug("handshake completed after close", "session", resp.SessionID)
		return
	}
	s.log.Debug("open", "session", resp.SessionID, "queued", len(s.pending))

	s.emitOpen()
	s.drain()
	s.closeIfDrained()
}

func (s *Socket) handshakeFailed(err error) {
	s.inflight = nil
	s.log.Warn("handshake failed", "error", err)
	s.emitClose()
}

// release clears the in-flight marker after a success, aborting the call so
// a late failure for it can never be delivered.
func (s *Socket) release() {
	if s.inflight != nil {
		s.inflight.Abort()
	}
	s.inflight = nil
}
