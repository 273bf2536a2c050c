package xiotcp

import (
	"context"
	"fmt"
	"net"
)

// Listener accepts TCP connections and runs the server side of the
// setup handshake on each before handing it to the caller.
type Listener struct {
	ln  net.Listener
	cfg Config
}

// Listen binds addr and returns a Listener ready to Accept.
func Listen(addr string, cfg Config) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("xiotcp: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, cfg: cfg}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks for the next inbound connection, completes the server
// side of the setup handshake, and returns the ready-to-use Conn. ctx
// bounds the setup handshake's wait and, afterwards, the Conn's event
// loop (canceling it closes the Conn); it does not bound the Accept
// call itself.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("xiotcp: accept: %w", err)
	}
	c, err := newConn(raw, l.cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if err := c.start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.waitConnected(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Accept's server side never sends a SETUP_REQ itself: OnSetupMessage,
// driven by RxHandler inside the event loop started by c.start, replies
// to the peer's request and reaches StateConnected on its own.
