// Package stream implements the non-blocking gather-send/scatter-recv
// engine of spec.md §4.2: a thin layer over a raw socket fd that moves
// bytes for one iovec.Descriptor at a time and classifies errno into
// retry/disconnect/fatal outcomes.
//
// An Engine is owned by exactly one goroutine at a time, the same
// single-thread-drives-the-fd discipline the teacher's queue runner
// applies to its io_uring submission loop.
package stream

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/behrlich/xiotcp/iovec"
)

// ErrWouldBlock is returned when the fd is not currently
// readable/writable; the caller should wait for the next epoll
// readiness event and retry, not busy-loop.
var ErrWouldBlock = errors.New("stream: would block")

// ErrDisconnected is returned on a graceful peer close (0-byte recv)
// or a reset/broken-pipe condition on send, per spec.md §9's unified
// disconnect-on-EOF/reset decision.
var ErrDisconnected = errors.New("stream: peer disconnected")

// Engine drives sendmsg/recvmsg-equivalent scatter/gather I/O over a
// single non-blocking fd.
type Engine struct {
	fd int
}

// New wraps fd, which the caller must already have set non-blocking
// (O_NONBLOCK) — Engine never calls fcntl itself, so ownership of the
// blocking-mode flag stays with whoever dialed/accepted the connection.
func New(fd int) *Engine { return &Engine{fd: fd} }

// FD returns the wrapped file descriptor, for registering with epoll.
func (e *Engine) FD() int { return e.fd }

// Send writes as much of d's vector as the socket will currently
// accept and advances d by that amount. It returns ErrWouldBlock if
// the socket accepted zero bytes because the send buffer is full, and
// ErrDisconnected if the peer has reset the connection or closed its
// read side (EPIPE). Any other error is returned unchanged (the raw
// errno), and the caller should treat the connection as fatally broken
// (E_IO).
func (e *Engine) Send(d *iovec.Descriptor) error {
	if d.Done() {
		return nil
	}
	n, err := unix.Writev(e.fd, d.RawVector())
	if err != nil {
		return classifySend(err)
	}
	d.Advance(n)
	return nil
}

// Recv reads into as much of d's vector as the socket currently has
// buffered and advances d by that amount. It returns ErrWouldBlock if
// no data is currently available, and ErrDisconnected on a 0-byte read
// (graceful close) or reset. Any other error is returned unchanged.
func (e *Engine) Recv(d *iovec.Descriptor) error {
	if d.Done() {
		return nil
	}
	n, err := unix.Readv(e.fd, d.RawVector())
	if err != nil {
		return classifyRecv(err)
	}
	if n == 0 {
		return ErrDisconnected
	}
	d.Advance(n)
	return nil
}

func classifySend(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return ErrWouldBlock
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return ErrDisconnected
	default:
		return err
	}
}

func classifyRecv(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return ErrWouldBlock
	case errors.Is(err, unix.ECONNRESET):
		return ErrDisconnected
	default:
		return err
	}
}
