package datapath

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/behrlich/xiotcp/stream"
)

// ErrorKind is the high-level error category named in spec.md §7.
type ErrorKind string

const (
	KindMsgSize         ErrorKind = "MSG_SIZE"
	KindMsgInvalid      ErrorKind = "MSG_INVALID"
	KindNoBufs          ErrorKind = "NO_BUFS"
	KindUserBufOverflow ErrorKind = "USER_BUF_OVERFLOW"
	KindNoUserBufs      ErrorKind = "NO_USER_BUFS"
	KindPartialMsg      ErrorKind = "PARTIAL_MSG"
	KindEIO             ErrorKind = "EIO"
	KindEDisconnect     ErrorKind = "EDISCONNECT"
)

// Error is a structured datapath error: the operation that failed, the
// task it concerns (if any), the error kind, an optional wrapped errno,
// and a human-readable message.
type Error struct {
	Op    string
	Kind  ErrorKind
	Tid   uint16
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Tid != 0:
		return fmt.Sprintf("xiotcp: %s: %s (tid=%d)", e.Op, msg, e.Tid)
	case e.Op != "":
		return fmt.Sprintf("xiotcp: %s: %s", e.Op, msg)
	default:
		return fmt.Sprintf("xiotcp: %s", msg)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by Kind, so callers can write
// errors.Is(err, &datapath.Error{Kind: datapath.KindNoBufs}) to test
// the category without caring about Op/Tid/Inner.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// New builds an Error with no wrapped cause.
func New(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewWithTid builds an Error scoped to a specific task id.
func NewWithTid(op string, kind ErrorKind, tid uint16, msg string) *Error {
	return &Error{Op: op, Kind: kind, Tid: tid, Msg: msg}
}

// Wrap classifies inner (typically a syscall.Errno bubbled up from the
// stream engine) into an Error, mapping ECONNRESET/EPIPE to
// KindEDisconnect and anything else to KindEIO, per spec.md §9's
// unified disconnect-on-EOF/reset decision.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if de, ok := inner.(*Error); ok {
		return de
	}
	if errors.Is(inner, stream.ErrDisconnected) {
		return &Error{Op: op, Kind: KindEDisconnect, Msg: inner.Error(), Inner: inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Kind: classifyErrno(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Kind: KindEIO, Msg: inner.Error(), Inner: inner}
}

func classifyErrno(errno syscall.Errno) ErrorKind {
	switch errno {
	case syscall.ECONNRESET, syscall.EPIPE, syscall.ETIMEDOUT:
		return KindEDisconnect
	default:
		return KindEIO
	}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
