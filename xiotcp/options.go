package xiotcp

import (
	"context"

	"github.com/behrlich/xiotcp/datapath"
	"github.com/behrlich/xiotcp/internal/interfaces"
	"github.com/behrlich/xiotcp/taskpool"
)

// Config contains parameters for dialing or accepting a connection.
type Config struct {
	// BufferSz is the send-buffer size this side proposes in
	// SETUP_REQ/advertises in SETUP_RSP (default: 64KiB).
	BufferSz int
	// MaxInIovsz/MaxOutIovsz bound the number of segments this side
	// will place in a single request's recv/read/write descriptor
	// tails (default: 32/32).
	MaxInIovsz  int
	MaxOutIovsz int

	// TaskPoolSize sizes the connection's task pool (default: 256).
	TaskPoolSize int

	// Observer receives datapath notifications (default: NoOpObserver).
	Observer interfaces.Observer
	// Logger receives debug/info messages (default: the
	// internal/logging default logger, tagged with the connection's id).
	Logger interfaces.Logger

	// DisconnectHook is invoked when the datapath sees the connection
	// go down: a peer close or reset observed by a send or receive.
	// Conn.Close does not invoke it.
	DisconnectHook func(c *datapath.Connection, passive bool)

	// Handler is invoked, from the connection's own event-loop
	// goroutine, for every task RxHandler delivers to io_list: a
	// completed inbound request, or a request whose correlated
	// response has just arrived. The handler owns the task from that
	// point on — it must eventually call Core().Pool.Release(t). A
	// reply task passed to Enqueue is released by the send-completion
	// path, but t itself is not, so a handler that enqueues a reply
	// still releases t directly. Nil drops delivered tasks on the
	// floor (release included), which is fine for connections that
	// never expect inbound traffic.
	Handler func(conn *Conn, t *taskpool.Task)
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		BufferSz:     datapath.DefaultMaxSendBufSz,
		MaxInIovsz:   datapath.DefaultMaxInIovsz,
		MaxOutIovsz:  datapath.DefaultMaxOutIovsz,
		TaskPoolSize: datapath.DefaultTaskPoolSize,
	}
}

func (cfg Config) setupParams() datapath.SetupParams {
	p := datapath.SetupParams{
		BufferSz:    cfg.BufferSz,
		MaxInIovsz:  cfg.MaxInIovsz,
		MaxOutIovsz: cfg.MaxOutIovsz,
	}
	if p.BufferSz <= 0 {
		p.BufferSz = datapath.DefaultMaxSendBufSz
	}
	if p.MaxInIovsz <= 0 {
		p.MaxInIovsz = datapath.DefaultMaxInIovsz
	}
	if p.MaxOutIovsz <= 0 {
		p.MaxOutIovsz = datapath.DefaultMaxOutIovsz
	}
	return p
}

// Options bundles optional, rarely-set collaborators, split from
// Config because Config also governs the wire-visible setup
// negotiation. Dial, Listen and Accept do not take an Options value;
// the ctx passed to Dial or Accept is what bounds a connection's
// lifetime (canceling it closes the connection).
type Options struct {
	// Context holds a connection-lifetime context. No function in this
	// package reads it.
	Context context.Context
}
