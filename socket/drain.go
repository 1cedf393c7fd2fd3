package socket

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kleeedolinux/pseudows/socket/transport"
)

func (s *Socket) send(message string) {
	s.pending = append(s.pending, message)

	if s.inflight != nil || !s.SessionID().Valid() {
		return
	}
	s.drain()
}

// drain sends everything queued as one batch. It is a no-op unless the
// socket is open with nothing in flight. An empty batch polls the server.
func (s *Socket) drain() {
	if s.ReadyState() != Open || s.inflight != nil {
		return
	}

	batch := s.pending
	s.pending = nil
	if batch == nil {
		batch = []string{}
	}

	body, err := json.Marshal(transport.DrainRequest{
		SessionID: s.SessionID().String(),
		Protocol:  s.protocol,
		Messages:  batch,
	})
	if err != nil {
		s.pending = append(batch, s.pending...)
		s.emitError(errors.Wrap(err, "encode drain"))
		return
	}

	x := transport.NewExchange(s.url, s.SessionID().String(), s.protocol, body)
	s.outbound = len(batch)
	s.inflight = s.exchanger.Do(x,
		s.drainSucceeded,
		func(err error) { s.drainFailed(batch, err) },
	)
}

func (s *Socket) drainSucceeded(body []byte) {
	var resp transport.DrainResponse
	err := json.Unmarshal(body, &resp)
	if err == nil && resp.Messages == nil {
		err = errors.New("no messages")
	}
	if err != nil {
		s.release()
		s.emitError(errors.Wrapf(ErrMalformedResponse, "drain: %v", err))
		if s.closing {
			s.close()
		}
		return
	}

	// The marker stays set while dispatching so that sends from handlers
	// queue for the next drain.
	for _, m := range resp.Messages {
		s.emitMessage(MessageEvent{Data: m})
	}

	s.release()
	s.drain()
	s.closeIfDrained()
}

func (s *Socket) drainFailed(batch []string, err error) {
	s.inflight = nil

	s.log.Warn("write attempt failed",
		"session", s.SessionID().String(),
		"batch", len(batch),
		"requeued", s.requeue,
		"error", err,
	)

	if s.requeue && len(batch) > 0 {
		s.pending = append(append(make([]string, 0, len(batch)+len(s.pending)), batch...), s.pending...)
	}
	if s.closing {
		s.close()
	}
}
