package transport

import (
	"net/http"
	"strings"
)

const (
	// HeaderSession carries the session identifier, "null" on a handshake.
	HeaderSession = "Pseudo-WebSocket"
	// HeaderProtocol carries the negotiated sub-protocol name.
	HeaderProtocol = "Pseudo-WebSocket-Protocol"

	NullSession     = "null"
	DefaultProtocol = "undefined"
	ContentTypeJSON = "application/json"
)

type HandshakeResponse struct {
	SessionID string `json:"sessionId"`
}

type DrainRequest struct {
	SessionID string   `json:"sessionId"`
	Protocol  string   `json:"protocol"`
	Messages  []string `json:"messages"`
}

type DrainResponse struct {
	Messages []string `json:"messages"`
}

// NewExchange builds a POST exchange carrying the correlation headers.
func NewExchange(url, sessionID, protocol string, body []byte) Exchange {
	h := make(http.Header)
	h.Set(HeaderSession, sessionID)
	h.Set(HeaderProtocol, protocol)
	return Exchange{
		URL:         url,
		Method:      http.MethodPost,
		ContentType: ContentTypeJSON,
		Header:      h,
		Body:        body,
	}
}

// HTTPURL maps a ws:// or wss:// address onto its http(s) equivalent.
// Other addresses are returned unchanged.
func HTTPURL(address string) string {
	switch {
	case strings.HasPrefix(address, "ws://"):
		return "http://" + strings.TrimPrefix(address, "ws://")
	case strings.HasPrefix(address, "wss://"):
		return "https://" + strings.TrimPrefix(address, "wss://")
	}
	return address
}

// WebSocketURL is the inverse of HTTPURL.
func WebSocketURL(address string) string {
	switch {
	case strings.HasPrefix(address, "http://"):
		return "ws://" + strings.TrimPrefix(address, "http://")
	case strings.HasPrefix(address, "https://"):
		return "wss://" + strings.TrimPrefix(address, "https://")
	}
	return address
}
