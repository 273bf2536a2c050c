package datapath

import (
	"github.com/behrlich/xiotcp/internal/interfaces"
	"github.com/behrlich/xiotcp/mempool"
	"github.com/behrlich/xiotcp/stream"
	"github.com/behrlich/xiotcp/taskpool"
)

// State is a connection's position in its setup lifecycle, per spec.md §3.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Connection is the core datapath object: a bound stream plus the five
// task lists and negotiated parameters of spec.md §3. Every method on
// Connection is expected to be called from the single goroutine that
// owns the connection's event loop — no internal locking is done, per
// spec.md §5's single-threaded cooperative scheduling model.
type Connection struct {
	Engine   *stream.Engine
	Pool     *taskpool.Pool
	Mem      *mempool.Pool
	Observer interfaces.Observer
	Logger   interfaces.Logger

	State State

	RxList       *taskpool.List
	TxReadyList  *taskpool.List
	InFlightList *taskpool.List
	TxCompList   *taskpool.List
	IoList       *taskpool.List

	TxReadyTasksNum int
	TxCompCnt       int

	MaxSendBufSz     int
	PeerMaxInIovsz   int
	PeerMaxOutIovsz  int
	LocalMaxInIovsz  int
	LocalMaxOutIovsz int

	// DisconnectHook is the external collaborator of spec.md §6's
	// "disconnect hook": on_sock_disconnected(conn, passive_flag). Nil
	// is a valid no-op.
	DisconnectHook func(c *Connection, passive bool)

	// deferred holds callbacks scheduled via ScheduleDeferred — the
	// "schedule deferred work (callback, opaque)" context contract of
	// spec.md §6, implemented as message passing rather than a nested
	// call per spec.md §9.
	deferred []func()
}

// NewConnection constructs a Connection in StateInit, ready to either
// send or receive the setup handshake (spec.md §4.7).
func NewConnection(engine *stream.Engine, pool *taskpool.Pool, mem *mempool.Pool, observer interfaces.Observer, logger interfaces.Logger) *Connection {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Connection{
		Engine:           engine,
		Pool:             pool,
		Mem:              mem,
		Observer:         observer,
		Logger:           logger,
		State:            StateInit,
		RxList:           taskpool.NewList(taskpool.ListRX),
		TxReadyList:      taskpool.NewList(taskpool.ListTXReady),
		InFlightList:     taskpool.NewList(taskpool.ListInFlight),
		TxCompList:       taskpool.NewList(taskpool.ListTXComp),
		IoList:           taskpool.NewList(taskpool.ListIO),
		MaxSendBufSz:     DefaultMaxSendBufSz,
		LocalMaxInIovsz:  DefaultMaxInIovsz,
		LocalMaxOutIovsz: DefaultMaxOutIovsz,
	}
}

// ScheduleDeferred enqueues fn to run on a later call to RunDeferred,
// the mechanism the completion batcher uses to avoid recursing back
// into Xmit from inside itself (spec.md §9).
func (c *Connection) ScheduleDeferred(fn func()) {
	c.deferred = append(c.deferred, fn)
}

// RunDeferred drains and runs every callback scheduled since the last
// call, including ones newly scheduled by callbacks it runs. The
// owning event loop calls this once per turn.
func (c *Connection) RunDeferred() {
	for len(c.deferred) > 0 {
		fn := c.deferred[0]
		c.deferred = c.deferred[1:]
		fn()
	}
}

type noopObserver struct{}

func (noopObserver) NewMessage(uint16, byte, uint64, uint64)     {}
func (noopObserver) SendCompletion(uint16, byte, uint64, uint64) {}
func (noopObserver) AssignInBuf(uint16, uint64, bool)            {}
func (noopObserver) Error(string, uint16)                        {}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}
func (noopLogger) Debugf(string, ...interface{}) {}
