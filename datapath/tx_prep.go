package datapath

import (
	"github.com/behrlich/xiotcp/mempool"
	"github.com/behrlich/xiotcp/taskpool"
	"github.com/behrlich/xiotcp/wire"
)

// BufferHint describes one data segment a caller wants to send or
// receive into. Buf is non-nil when the caller supplies its own
// memory-region-backed buffer (referenced directly, zero-copy); Buf is
// nil to have the core allocate the segment instead (Len gives the
// size): from the mempool on the large path, with a plain allocation on
// the small path.
type BufferHint struct {
	Len int
	Buf []byte
}

func sumHintLen(hints []BufferHint) int {
	total := 0
	for _, h := range hints {
		total += h.Len
	}
	return total
}

func sumByteLen(bufs [][]byte) int {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	return total
}

// PrepReqInData prepares a request task's expectation of its response,
// per spec.md §4.3. hints describes the buffers the caller wants the
// eventual response data delivered into; smallZeroCopy forces the large
// (read-sge) path even when the response would otherwise fit inline.
func PrepReqInData(c *Connection, t *taskpool.Task, hints []BufferHint, smallZeroCopy bool) error {
	t.SmallZeroCopy = smallZeroCopy

	if len(hints) == 0 {
		t.RecvSGE = nil
		t.ReadSGE = nil
		return nil
	}

	for _, h := range hints {
		if h.Buf != nil && len(h.Buf) < h.Len {
			return NewWithTid("prep_req_in_data", KindUserBufOverflow, t.Ltid, "caller-supplied buffer shorter than declared length")
		}
	}

	total := sumHintLen(hints)
	if !smallZeroCopy && wire.RspHdrFixedLen+total < c.MaxSendBufSz {
		segs := make([]taskpool.Segment, len(hints))
		for i, h := range hints {
			buf := h.Buf
			if buf == nil {
				buf = make([]byte, h.Len)
			}
			segs[i] = taskpool.Segment{Addr: buf, Length: uint32(h.Len)}
		}
		t.RecvSGE = segs
		t.ReadSGE = nil
		return nil
	}

	if len(hints) > c.PeerMaxOutIovsz {
		return NewWithTid("prep_req_in_data", KindMsgSize, t.Ltid, "hint count exceeds peer's advertised write iovec capacity")
	}

	segs := make([]taskpool.Segment, 0, len(hints))
	var claimed []mempool.Segment
	for _, h := range hints {
		if h.Buf != nil {
			segs = append(segs, taskpool.Segment{Addr: h.Buf, Length: uint32(h.Len)})
			continue
		}
		mseg, ok := c.Mem.Alloc(h.Len)
		if !ok {
			for _, m := range claimed {
				c.Mem.Free(m)
			}
			return NewWithTid("prep_req_in_data", KindNoBufs, t.Ltid, "mempool exhausted")
		}
		claimed = append(claimed, mseg)
		segs = append(segs, taskpool.Segment{Addr: mseg.Buf, Length: uint32(h.Len)})
	}
	t.ReadSGE = segs
	t.RecvSGE = nil
	return nil
}

// PrepReqOutData prepares a request's outbound ULP header and data,
// choosing SEND (inline) or READ (out-of-line, referencing the
// caller's or a pool-allocated buffer) per spec.md §4.3's size test.
// mrProvided is true when every entry of dataSegs is a caller-owned
// buffer that can be referenced without copying.
func PrepReqOutData(c *Connection, t *taskpool.Task, ulpHeader []byte, dataSegs [][]byte, mrProvided bool) error {
	h := wire.ReqHdrFixedLen + len(ulpHeader)
	d := sumByteLen(dataSegs)

	if h+d < c.MaxSendBufSz {
		t.TCPOp = wire.OpSend
		t.Omsg.Header = ulpHeader
		t.Omsg.Data = dataSegs
		t.Omsg.DataMR = mrProvided
		t.Omsg.UlpImmLen = uint64(d)
		return nil
	}

	if len(dataSegs) > c.LocalMaxOutIovsz {
		return NewWithTid("prep_req_out_data", KindMsgSize, t.Ltid, "data segment count exceeds local write iovec capacity")
	}

	segs := make([]taskpool.Segment, 0, len(dataSegs))
	var claimed []mempool.Segment
	for _, seg := range dataSegs {
		if mrProvided {
			segs = append(segs, taskpool.Segment{Addr: seg, Length: uint32(len(seg))})
			continue
		}
		mseg, ok := c.Mem.Alloc(len(seg))
		if !ok {
			for _, m := range claimed {
				c.Mem.Free(m)
			}
			return NewWithTid("prep_req_out_data", KindNoBufs, t.Ltid, "mempool exhausted")
		}
		claimed = append(claimed, mseg)
		copy(mseg.Buf, seg)
		segs = append(segs, taskpool.Segment{Addr: mseg.Buf, Length: uint32(len(seg))})
	}
	t.TCPOp = wire.OpRead
	t.WriteSGE = segs
	t.Omsg.Header = ulpHeader
	t.Omsg.UlpImmLen = uint64(d)
	return nil
}

// PrepRspWrData prepares a response task's outbound ULP header and
// data against the peer's original request, per spec.md §4.4. reqTask
// is the received request this responds to; its ReadSGE holds the
// requester's advertised destination segment lengths.
func PrepRspWrData(c *Connection, reqTask, rspTask *taskpool.Task, ulpHeader []byte, dataSegs [][]byte, mrProvided bool) error {
	rspTask.Rtid = reqTask.Rtid

	h := wire.RspHdrFixedLen + len(ulpHeader)
	d := sumByteLen(dataSegs)

	if d == 0 {
		rspTask.TCPOp = wire.OpSend
		rspTask.Omsg.Header = ulpHeader
		rspTask.Omsg.UlpImmLen = 0
		rspTask.Omsg.Status = uint32(StatusSuccess)
		return nil
	}

	if !reqTask.SmallZeroCopy && h+d < c.MaxSendBufSz {
		rspTask.TCPOp = wire.OpSend
		rspTask.Omsg.Header = ulpHeader
		rspTask.Omsg.Data = dataSegs
		rspTask.Omsg.DataMR = mrProvided
		rspTask.Omsg.UlpImmLen = uint64(d)
		rspTask.Omsg.Status = uint32(StatusSuccess)
		return nil
	}

	if len(reqTask.ReadSGE) == 0 {
		rspTask.TCPOp = wire.OpSend
		rspTask.Omsg.Header = ulpHeader
		rspTask.Omsg.UlpImmLen = 0
		rspTask.Omsg.Status = uint32(StatusPartialMsg)
		return nil
	}

	payload := make([]byte, 0, d)
	for _, seg := range dataSegs {
		payload = append(payload, seg...)
	}
	clipped, status := clipToRequesterSegments(payload, reqTask.ReadSGE)

	rspTask.TCPOp = wire.OpWrite
	rspTask.RspWriteSGE = clipped
	rspTask.Omsg.Header = ulpHeader
	rspTask.Omsg.UlpImmLen = uint64(d)
	rspTask.Omsg.Status = uint32(status)
	return nil
}

// clipToRequesterSegments splits payload across reqSegs' lengths in
// order, producing at most len(reqSegs) output segments. If payload is
// longer than the requester's combined capacity, the excess is dropped
// and status reports StatusMsgSize (spec.md §8 scenario S6); otherwise
// status is StatusSuccess.
func clipToRequesterSegments(payload []byte, reqSegs []taskpool.Segment) ([]taskpool.Segment, Status) {
	var out []taskpool.Segment
	remaining := payload
	for _, rs := range reqSegs {
		if len(remaining) == 0 {
			break
		}
		n := int(rs.Length)
		if n > len(remaining) {
			n = len(remaining)
		}
		out = append(out, taskpool.Segment{Addr: remaining[:n], Length: uint32(n)})
		remaining = remaining[n:]
	}
	if len(remaining) > 0 {
		return out, StatusMsgSize
	}
	return out, StatusSuccess
}
