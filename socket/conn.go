package socket

import (
	"sync"

	"github.com/kleeedolinux/pseudows/debug"
	"github.com/kleeedolinux/pseudows/socket/transport"
)

// Conn is the server's view of one client session, emulated or native.
type Conn interface {
	ID() string

	// Protocol is the sub-protocol the client asked for.
	Protocol() string

	// Send queues message for the client.
	Send(message string) error

	Close() error

	IsConnected() bool
}

type serverConn struct {
	id        string
	protocol  string
	mu        sync.RWMutex
	transport transport.ServerTransport
	connected bool
	onClose   func(*serverConn)
}

func newServerConn(id, protocol string, t transport.ServerTransport, onClose func(*serverConn)) *serverConn {
	debug.Printf("Creating new conn with ID: %s", id)
	return &serverConn{
		id:        id,
		protocol:  protocol,
		transport: t,
		connected: true,
		onClose:   onClose,
	}
}

func (c *serverConn) ID() string {
	return c.id
}

func (c *serverConn) Protocol() string {
	return c.protocol
}

func (c *serverConn) Send(message string) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		debug.Printf("Conn %s: attempted to send to closed conn", c.id)
		return ErrConnectionClosed
	}

	return c.transport.Write(message)
}

func (c *serverConn) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}

	debug.Printf("Conn %s: closing", c.id)
	c.connected = false
	c.mu.Unlock()

	err := c.transport.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
	return err
}

func (c *serverConn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}
