// Package taskpool implements the per-connection task pool collaborator
// named in spec.md §6 (alloc/release/lookup_by_ltid) and the Task data
// model of spec.md §3.
package taskpool

import (
	"github.com/behrlich/xiotcp/iovec"
	"github.com/behrlich/xiotcp/wire"
)

// ListKind identifies which of a connection's task lists a Task currently
// belongs to. Spec.md §3's invariant — every task belongs to exactly
// one list — is enforced by Pool/the datapath's list-move helpers,
// which always clear the previous list membership before setting a
// new one.
type ListKind int

const (
	ListNone ListKind = iota
	ListRX
	ListTXReady
	ListInFlight
	ListTXComp
	ListIO
)

func (k ListKind) String() string {
	switch k {
	case ListNone:
		return "NONE"
	case ListRX:
		return "RX"
	case ListTXReady:
		return "TX_READY"
	case ListInFlight:
		return "IN_FLIGHT"
	case ListTXComp:
		return "TX_COMP"
	case ListIO:
		return "IO"
	default:
		return "UNKNOWN"
	}
}

// Segment is a single scatter/gather entry carrying an optional memory
// region handle, the wire-level sibling of wire.SGE once addresses have
// been resolved to local buffers.
type Segment struct {
	Addr   []byte
	Length uint32
	Stag   uint32 // MR handle; unused locally, carried for wire compatibility
}

// MsgView is the header byte range + data segment vector + flags shape
// shared by Task.Omsg (outbound) and Task.Imsg (inbound), per spec.md §3.
type MsgView struct {
	Header   []byte
	Data     [][]byte
	DataMR   bool // true if Data entries are caller-supplied memory regions
	Flags    byte
	UlpImmLen uint64
	Status   uint32
}

// Mbuf is the single owned framing buffer with a cursor, implementing
// the mbuf collaborator contract of spec.md §6: set/get cursor,
// write/read TLV, write raw bytes, payload-length query.
type Mbuf struct {
	Buf      []byte
	cursor   int
	transOff int // offset where the transport header begins, set by SetTransHdr
}

// Grow sets the buffer's length to exactly n, keeping its existing
// bytes. It reallocates (to exactly n bytes) only when the capacity is
// below n; when n is below the current length, the length shrinks.
func (m *Mbuf) Grow(n int) {
	if cap(m.Buf) >= n {
		m.Buf = m.Buf[:n]
		return
	}
	buf := make([]byte, n)
	copy(buf, m.Buf)
	m.Buf = buf
}

// Reset rewinds the cursor and empties the buffer for reuse.
func (m *Mbuf) Reset() {
	m.cursor = 0
	m.transOff = 0
	m.Buf = m.Buf[:0]
}

// Cursor returns the current write/read offset.
func (m *Mbuf) Cursor() int { return m.cursor }

// SetCursor repositions the cursor.
func (m *Mbuf) SetCursor(off int) { m.cursor = off }

// SetTransHdr marks the current cursor as the start of the transport
// header, so a later retransmit or requeue can rewind to it without
// re-walking the TLV prefix.
func (m *Mbuf) SetTransHdr() { m.transOff = m.cursor }

// TransHdrOffset returns the offset recorded by SetTransHdr.
func (m *Mbuf) TransHdrOffset() int { return m.transOff }

// WriteTLV writes a TLV prefix at the cursor and advances past it.
func (m *Mbuf) WriteTLV(t wire.TLV) {
	m.Grow(m.cursor + wire.TLVLen)
	wire.PackTLV(m.Buf[m.cursor:], t)
	m.cursor += wire.TLVLen
}

// ReadTLV reads a TLV prefix at the cursor without advancing it; callers
// call Advance separately once the full TLV region has been received.
func (m *Mbuf) ReadTLV() (wire.TLV, error) {
	return wire.UnpackTLV(m.Buf[m.cursor:])
}

// WriteRaw copies p into the buffer at the cursor and advances past it.
func (m *Mbuf) WriteRaw(p []byte) {
	m.Grow(m.cursor + len(p))
	copy(m.Buf[m.cursor:], p)
	m.cursor += len(p)
}

// Advance moves the cursor forward by n bytes without writing.
func (m *Mbuf) Advance(n int) { m.cursor += n }

// PayloadLen returns the number of bytes written so far, i.e. the TLV's
// payload-length query of spec.md §6.
func (m *Mbuf) PayloadLen() int { return len(m.Buf) }

// Task is the role-polymorphic send/recv descriptor of spec.md §3.
type Task struct {
	TLVType uint16
	Ltid    uint16
	Rtid    uint16

	Omsg MsgView
	Imsg MsgView

	Mbuf Mbuf

	Txd iovec.Descriptor
	Rxd iovec.Descriptor

	TCPOp wire.Opcode

	// SenderTask is a non-owning back-reference, resolved by rtid
	// lookup through the pool, never a retained pointer across
	// releases — see spec.md §9.
	SenderTask *Task

	RecvSGE     []Segment
	ReadSGE     []Segment
	WriteSGE    []Segment
	RspWriteSGE []Segment

	// MoreInBatch / ImmSendComp / SmallZeroCopy mirror the omsg flags
	// named in spec.md §3; Control and Cancelled are the supplemented
	// behaviors from SPEC_FULL.md's "SUPPLEMENTED FEATURES" section.
	MoreInBatch   bool
	ImmSendComp   bool
	SmallZeroCopy bool
	Control       bool
	Cancelled     bool

	kind  ListKind
	owner *List
	next  *Task
	prev  *Task
	inUse bool
}

// ListKind reports which connection list the task currently belongs to.
func (t *Task) ListKind() ListKind { return t.kind }

// reset clears a task back to its zero application state before it is
// handed out by Pool.Alloc, without discarding its backing buffers
// (Mbuf.Buf, segment slices) so repeated allocation doesn't churn the
// allocator.
func (t *Task) reset() {
	t.TLVType = 0
	t.Ltid = 0
	t.Rtid = 0
	t.Omsg = MsgView{}
	t.Imsg = MsgView{}
	t.Mbuf.Reset()
	t.Txd = iovec.Descriptor{}
	t.Rxd = iovec.Descriptor{}
	t.TCPOp = wire.OpSend
	t.SenderTask = nil
	t.RecvSGE = t.RecvSGE[:0]
	t.ReadSGE = t.ReadSGE[:0]
	t.WriteSGE = t.WriteSGE[:0]
	t.RspWriteSGE = t.RspWriteSGE[:0]
	t.MoreInBatch = false
	t.ImmSendComp = false
	t.SmallZeroCopy = false
	t.Control = false
	t.Cancelled = false
	if t.owner != nil {
		t.owner.remove(t)
	}
	t.kind = ListNone
	t.next = nil
	t.prev = nil
}
