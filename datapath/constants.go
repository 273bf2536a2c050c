package datapath

// CompletionBatchMax is the number of pending send completions the
// drain engine accumulates before flushing them to the application in
// one batch, per spec.md §4.5.
const CompletionBatchMax = 64

// DefaultMaxSendBufSz is the buffer size this side proposes in
// SETUP_REQ/advertises in SETUP_RSP absent an explicit Config
// override, per spec.md §4.7.
const DefaultMaxSendBufSz = 64 * 1024

// DefaultMaxInIovsz / DefaultMaxOutIovsz are the segment-count caps a
// connection advertises in its setup exchange absent an explicit Config
// override. Setup records the peer's advertised caps as sent (the
// server echoes the client's values back); no minimum is taken against
// the local values.
const (
	DefaultMaxInIovsz  = 32
	DefaultMaxOutIovsz = 32
)

// DefaultTaskPoolSize sizes a connection's taskpool.Pool absent an
// explicit Config override. The pool keeps this size for the
// connection's lifetime; it is not recomputed from the negotiated
// buffer size when setup completes.
const DefaultTaskPoolSize = 256
