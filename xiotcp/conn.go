// Package xiotcp is the public transport surface: Dial/Listen set up
// an RDMA-verbs-flavored connection over a plain TCP byte stream, per
// spec.md's overview. Everything below this package (datapath, wire,
// iovec, stream, taskpool, mempool) is reusable without it; xiotcp
// wires those pieces into a runnable epoll event loop.
package xiotcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/behrlich/xiotcp/datapath"
	"github.com/behrlich/xiotcp/internal/interfaces"
	"github.com/behrlich/xiotcp/internal/logging"
	"github.com/behrlich/xiotcp/internal/netfdutil"
	"github.com/behrlich/xiotcp/mempool"
	"github.com/behrlich/xiotcp/stream"
	"github.com/behrlich/xiotcp/taskpool"
)

// Conn is one negotiated datapath connection plus the epoll-driven
// goroutine that owns its fd, per the single-thread-drives-the-fd
// discipline datapath.Connection assumes (spec.md §5).
type Conn struct {
	id   string
	core *datapath.Connection
	raw  net.Conn

	epfd    int
	done    chan struct{}
	runErr  chan error
	readyCh chan struct{}
	submit  chan func(*Conn)
	handler func(conn *Conn, t *taskpool.Task)

	logger *logging.Logger
}

// ID returns the connection's xid-minted identifier, used to correlate
// log lines and metric labels across a connection's lifetime — never
// the wire-visible ltid/rtid, which are per-message and constrained to
// spec.md §4.1's uint16 transport identifier space.
func (c *Conn) ID() string { return c.id }

// Core exposes the underlying datapath.Connection for callers that
// need to prepare and enqueue tasks directly (PrepReqInData,
// PrepReqOutData, Enqueue, and friends in package datapath).
func (c *Conn) Core() *datapath.Connection { return c.core }

// Dial opens a TCP connection to addr and runs the client side of the
// setup handshake before returning.
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	raw, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("xiotcp: dial %s: %w", addr, err)
	}
	c, err := newConn(raw, cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if err := datapath.SendSetupRequest(c.core, cfg.setupParams()); err != nil {
		c.Close()
		return nil, fmt.Errorf("xiotcp: send setup request: %w", err)
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

// newConn wraps an already-established net.Conn (from Dial or from a
// Listener's Accept) in a Conn, wiring up the datapath.Connection and
// its collaborators but not yet starting the handshake or event loop.
func newConn(raw net.Conn, cfg Config) (*Conn, error) {
	fd, err := netfdutil.RawFD(raw)
	if err != nil {
		return nil, fmt.Errorf("xiotcp: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("xiotcp: set nonblocking: %w", err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("xiotcp: epoll_create1: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("xiotcp: epoll_ctl add: %w", err)
	}

	id := xid.New().String()

	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}
	logger := logging.Default().WithConn(id)
	var iface interfaces.Logger = logger
	if cfg.Logger != nil {
		iface = cfg.Logger
	}

	poolSize := cfg.TaskPoolSize
	if poolSize <= 0 {
		poolSize = datapath.DefaultTaskPoolSize
	}
	bufferSz := cfg.BufferSz
	if bufferSz <= 0 {
		bufferSz = datapath.DefaultMaxSendBufSz
	}
	maxInIovsz := cfg.MaxInIovsz
	if maxInIovsz <= 0 {
		maxInIovsz = datapath.DefaultMaxInIovsz
	}
	maxOutIovsz := cfg.MaxOutIovsz
	if maxOutIovsz <= 0 {
		maxOutIovsz = datapath.DefaultMaxOutIovsz
	}

	core := datapath.NewConnection(stream.New(fd), taskpool.NewPool(poolSize), &mempool.Pool{}, observer, iface)
	core.MaxSendBufSz = bufferSz
	core.LocalMaxInIovsz = maxInIovsz
	core.LocalMaxOutIovsz = maxOutIovsz
	if cfg.DisconnectHook != nil {
		core.DisconnectHook = cfg.DisconnectHook
	}

	c := &Conn{
		id:      id,
		core:    core,
		raw:     raw,
		epfd:    epfd,
		done:    make(chan struct{}),
		runErr:  make(chan error, 1),
		readyCh: make(chan struct{}),
		submit:  make(chan func(*Conn), 64),
		logger:  logger,
	}
	c.handler = cfg.Handler
	return c, nil
}

// start seeds the rx pipeline and launches the epoll-driven event-loop
// goroutine: one goroutine owns core for the connection's lifetime,
// the same single-thread-drives-the-fd discipline the teacher's queue
// runner applies to its io_uring submission loop, though unlike that
// runner this goroutine isn't pinned to an OS thread — nothing here
// depends on thread-local kernel state the way ublk's per-queue
// affinity does.
func (c *Conn) start(ctx context.Context) error {
	if err := datapath.SeedRx(c.core); err != nil {
		return fmt.Errorf("xiotcp: seed rx: %w", err)
	}
	go c.ioLoop(ctx)
	return nil
}

// waitConnected blocks until the setup handshake completes, the event
// loop reports an error, or ctx is done — whichever happens first.
// readyCh is only ever closed by the ioLoop goroutine, so this never
// touches core.State directly from the caller's goroutine.
func (c *Conn) waitConnected(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case err := <-c.runErr:
		if err == nil {
			err = fmt.Errorf("xiotcp: connection closed during setup")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ioLoop pumps epoll_wait -> RxHandler -> RunDeferred -> Xmit
// (retrying writes once the fd reports writable) until the context is
// canceled or the connection disconnects. It is the single goroutine
// that ever touches c.core, per datapath.Connection's ownership
// contract: work submitted from other goroutines via Do/Enqueue only
// ever runs here, drained from c.submit once per turn.
func (c *Conn) ioLoop(ctx context.Context) {
	defer close(c.done)

	readyClosed := false
	signalReady := func() {
		if !readyClosed && c.core.State == datapath.StateConnected {
			readyClosed = true
			close(c.readyCh)
		}
	}

	events := make([]unix.EpollEvent, 8)
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		default:
		}

		c.drainSubmit()

		n, err := unix.EpollWait(c.epfd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.runErr <- fmt.Errorf("xiotcp: epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			// HUP/ERR is folded into the IN path: RxHandler's Recv
			// call observes the disconnect as a 0-byte read rather
			// than tearing the connection down here directly.
			if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				if err := c.pumpRx(); err != nil {
					c.runErr <- err
					return
				}
				c.drainIO()
				signalReady()
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				if err := datapath.Xmit(c.core); err != nil {
					c.runErr <- err
					return
				}
				c.core.RunDeferred()
				_, pending := c.core.TxReadyList.Front()
				c.updateEpollOut(pending)
			}
		}

		if c.core.State == datapath.StateDisconnected {
			if !readyClosed {
				c.runErr <- fmt.Errorf("xiotcp: connection closed during setup")
			}
			return
		}
	}
}

// drainSubmit runs every work item queued by Do since the last turn,
// without blocking — the non-blocking counterpart to Do's (possibly
// blocking) send.
func (c *Conn) drainSubmit() {
	for {
		select {
		case fn := <-c.submit:
			fn(c)
		default:
			return
		}
	}
}

// drainIO hands every task RxHandler delivered to io_list this turn to
// the configured Handler, in delivery order. A nil Handler just
// releases delivered tasks back to the pool.
func (c *Conn) drainIO() {
	for {
		t, ok := c.core.IoList.PopFront()
		if !ok {
			return
		}
		if c.handler != nil {
			c.handler(c, t)
		} else {
			c.core.Pool.Release(t)
		}
	}
}

// Do schedules fn to run on the connection's event-loop goroutine,
// the only goroutine allowed to touch Core() directly, and blocks
// until it has been queued (not until it has run). Safe to call from
// any goroutine; returns an error if the connection has already
// stopped accepting work.
func (c *Conn) Do(ctx context.Context, fn func(conn *Conn)) error {
	select {
	case c.submit <- fn:
		return nil
	case <-c.done:
		return fmt.Errorf("xiotcp: connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpRx drives rx_list as far as it will go without blocking (per
// RxHandler's own internal loop-until-EAGAIN contract), then runs
// deferred completion-batch work scheduled along the way.
func (c *Conn) pumpRx() error {
	err := datapath.RxHandler(c.core)
	c.core.RunDeferred()
	return err
}

// updateEpollOut arms or disarms EPOLLOUT readiness notification,
// called after Xmit leaves work on tx_ready_list because the socket's
// send buffer is currently full.
func (c *Conn) updateEpollOut(want bool) {
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(c.core.Engine.FD())}
	unix.EpollCtl(c.epfd, unix.EPOLL_CTL_MOD, c.core.Engine.FD(), &ev)
}

// Enqueue submits t for transmission, arming EPOLLOUT if the socket's
// send buffer can't currently take the whole task. Like every method
// reachable from Core(), it must only be called from the event-loop
// goroutine — from inside a Handler callback or a func passed to Do.
func (c *Conn) Enqueue(t *taskpool.Task) error {
	err := datapath.Enqueue(c.core, t)
	if _, ok := c.core.TxReadyList.Front(); ok {
		c.updateEpollOut(true)
	}
	return err
}

// Close tears down the connection: closes the raw socket (which
// unblocks any outstanding epoll_wait) and the epoll fd. Safe to call
// more than once.
func (c *Conn) Close() error {
	unix.Close(c.epfd)
	if err := c.raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
