// Package interfaces holds the narrow interface shapes shared between
// the datapath and transport packages, kept separate from their
// implementations to avoid import cycles.
package interfaces

// Logger is the minimal printf-shaped logging sink a component needs;
// both internal/logging.Logger and internal/logging.LogrusLogger
// satisfy it.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives notifications from the datapath's I/O loop, per the
// four events named in spec.md §6. Implementations must be safe for
// concurrent use from whichever goroutine drives the connection's event
// loop; xiotcp never calls these methods from more than one goroutine
// at a time for a given connection, but a shared Observer (e.g. a
// listener's Prometheus collector) is called from many connections'
// loops concurrently.
type Observer interface {
	// NewMessage fires when a complete inbound message has been
	// reassembled and dispatched to the application.
	NewMessage(tid uint16, opcode byte, bytes uint64, latencyNs uint64)
	// SendCompletion fires when an outbound task's completion has been
	// delivered to the application (immediately, for IMM_SEND_COMP, or
	// batched per spec.md §4.5).
	SendCompletion(tid uint16, opcode byte, bytes uint64, latencyNs uint64)
	// AssignInBuf fires once the core has backed (success) or failed to
	// back (!success) an inbound READ request's data segments with
	// mempool buffers; bytes is the peer-declared total. The application
	// cannot supply the buffer through this call.
	AssignInBuf(tid uint16, bytes uint64, success bool)
	// Error fires on any datapath error, tagged with the error kind's
	// string per datapath.ErrorKind.
	Error(kind string, tid uint16)
}
