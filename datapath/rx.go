package datapath

import (
	"errors"

	"github.com/behrlich/xiotcp/iovec"
	"github.com/behrlich/xiotcp/mempool"
	"github.com/behrlich/xiotcp/stream"
	"github.com/behrlich/xiotcp/taskpool"
	"github.com/behrlich/xiotcp/wire"
)

// SeedRx bootstraps rx_list with its first task, so RxHandler always
// has something at its head. Call this once, right after the
// connection is constructed.
func SeedRx(c *Connection) error {
	t, ok := c.Pool.Alloc()
	if !ok {
		return New("seed_rx", KindNoBufs, "task pool exhausted before first receive")
	}
	c.RxList.PushBack(t)
	return nil
}

// RxHandler drives the head of rx_list through as many stages as it
// can without blocking, per spec.md §4.6. It returns nil on EAGAIN
// (the caller re-invokes on the next readable event) and a non-nil
// error only for conditions the application must see (buffer
// exhaustion, malformed input, disconnect).
func RxHandler(c *Connection) error {
	for {
		t, ok := c.RxList.Front()
		if !ok {
			return nil
		}
		advanced, err := rxStep(c, t)
		if err != nil {
			return err
		}
		if !advanced {
			if c.TxReadyTasksNum > 0 {
				return Xmit(c)
			}
			return nil
		}
	}
}

func rxStep(c *Connection, t *taskpool.Task) (bool, error) {
	switch t.Rxd.Stage {
	case iovec.StageStart:
		return rxStart(c, t)
	case iovec.StageTLV:
		return rxTLV(c, t)
	case iovec.StageHeader:
		return rxHeaderStage(c, t)
	case iovec.StageIOData:
		return rxIOData(c, t)
	default:
		return false, New("rx_step", KindMsgInvalid, "task in unknown reassembly stage")
	}
}

// rxStart seeds the next placeholder task (once the connection is
// past setup) and arms t to read the TLV prefix.
func rxStart(c *Connection, t *taskpool.Task) (bool, error) {
	if c.State == StateConnected {
		fresh, ok := c.Pool.Alloc()
		if !ok {
			return false, NewWithTid("rx_start", KindNoBufs, t.Ltid, "task pool exhausted")
		}
		c.RxList.PushBack(fresh)
	}
	t.Mbuf.Grow(wire.TLVLen)
	t.Mbuf.SetCursor(0)
	t.Rxd.Reset([]iovec.Entry{{Ptr: t.Mbuf.Buf[:wire.TLVLen]}})
	t.Rxd.Stage = iovec.StageTLV
	return true, nil
}

func rxTLV(c *Connection, t *taskpool.Task) (bool, error) {
	if done, err := recvInto(c, t); !done || err != nil {
		return false, err
	}
	tlv, err := wire.UnpackTLV(t.Mbuf.Buf[:wire.TLVLen])
	if err != nil {
		return false, New("rx_tlv", KindMsgInvalid, "malformed TLV prefix")
	}
	t.TLVType = tlv.Type
	t.Mbuf.Grow(int(tlv.Len))
	t.Mbuf.SetCursor(0)
	t.Rxd.Reset([]iovec.Entry{{Ptr: t.Mbuf.Buf[:tlv.Len]}})
	t.Rxd.Stage = iovec.StageHeader
	return true, nil
}

func rxHeaderStage(c *Connection, t *taskpool.Task) (bool, error) {
	if done, err := recvInto(c, t); !done || err != nil {
		return false, err
	}

	if wire.IsSetup(t.TLVType) {
		if err := OnSetupMessage(c, t); err != nil {
			return false, err
		}
		c.RxList.PopFront()
		c.Pool.Release(t)
		if c.State == StateConnected {
			// rxStart only pre-seeds a replacement task once Connected;
			// the setup exchange itself ran on the sole bootstrap task
			// from SeedRx, so re-seed now or the rx pipeline stalls.
			if fresh, ok := c.Pool.Alloc(); ok {
				c.RxList.PushBack(fresh)
			}
		}
		return true, nil
	}
	if wire.IsRequest(t.TLVType) {
		return rxRequestHeader(c, t)
	}
	if wire.IsResponse(t.TLVType) {
		return rxResponseHeader(c, t)
	}
	return false, New("rx_header", KindMsgInvalid, "unrecognized TLV message type")
}

func rxRequestHeader(c *Connection, t *taskpool.Task) (bool, error) {
	hdr, err := wire.UnpackRequestHeader(t.Mbuf.Buf)
	if err != nil {
		return false, New("rx_request_header", KindMsgInvalid, "malformed request header")
	}

	pos := wire.ReqHdrFixedLen
	recv, err := wire.UnpackSegments(t.Mbuf.Buf[pos:], int(hdr.RecvNumSGE))
	if err != nil {
		return false, New("rx_request_header", KindMsgInvalid, "truncated recv segment tail")
	}
	pos += wire.SegmentsLen(int(hdr.RecvNumSGE))
	read, err := wire.UnpackSegments(t.Mbuf.Buf[pos:], int(hdr.ReadNumSGE))
	if err != nil {
		return false, New("rx_request_header", KindMsgInvalid, "truncated read segment tail")
	}
	pos += wire.SegmentsLen(int(hdr.ReadNumSGE))
	write, err := wire.UnpackSegments(t.Mbuf.Buf[pos:], int(hdr.WriteNumSGE))
	if err != nil {
		return false, New("rx_request_header", KindMsgInvalid, "truncated write segment tail")
	}
	pos += wire.SegmentsLen(int(hdr.WriteNumSGE))

	t.RecvSGE = toLocalSegments(recv)
	t.ReadSGE = toLocalSegments(read)
	t.WriteSGE = toLocalSegments(write)

	ulpHdrLen := int(hdr.UlpHdrLen)
	if ulpHdrLen > 0 {
		t.Imsg.Header = append([]byte(nil), t.Mbuf.Buf[pos:pos+ulpHdrLen]...)
		pos += ulpHdrLen
	}
	t.Imsg.UlpImmLen = hdr.UlpImmLen
	t.Rtid = hdr.Tid
	t.TCPOp = wire.Opcode(hdr.Opcode)
	t.SmallZeroCopy = hdr.Flags&wire.FlagSmallZeroCopy != 0

	switch t.TCPOp {
	case wire.OpSend:
		if hdr.UlpImmLen > 0 {
			t.Imsg.Data = [][]byte{append([]byte(nil), t.Mbuf.Buf[pos:pos+int(hdr.UlpImmLen)]...)}
		}
		t.Rxd.Stage = iovec.StageIOData
		return deliverRequest(c, t)
	case wire.OpRead:
		if err := rdReqHeader(c, t); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, New("rx_request_header", KindMsgInvalid, "unexpected opcode on request")
	}
}

// rdReqHeader implements spec.md §4.6's inbound buffer acquisition for
// the READ path. Observer is a one-way notification interface (see
// DESIGN.md), so the application cannot supply a buffer here: this
// core always backs the segments with mempool allocations and then
// reports the outcome through AssignInBuf, with the peer-declared total
// length — an application wanting true zero-copy placement instead
// pre-posts buffers via PrepReqInData on its own originating request.
func rdReqHeader(c *Connection, t *taskpool.Task) error {
	segs := make([]taskpool.Segment, len(t.WriteSGE))
	var claimed []mempool.Segment
	var total uint64
	for _, decl := range t.WriteSGE {
		total += uint64(decl.Length)
	}
	for i, decl := range t.WriteSGE {
		mseg, ok := c.Mem.Alloc(int(decl.Length))
		if !ok {
			for _, m := range claimed {
				c.Mem.Free(m)
			}
			c.Observer.AssignInBuf(t.Ltid, total, false)
			return NewWithTid("rd_req_header", KindNoBufs, t.Ltid, "mempool exhausted for inbound data")
		}
		claimed = append(claimed, mseg)
		segs[i] = taskpool.Segment{Addr: mseg.Buf, Length: decl.Length}
	}
	t.WriteSGE = segs
	c.Observer.AssignInBuf(t.Ltid, total, true)

	entries := make([]iovec.Entry, len(segs))
	for i, s := range segs {
		entries[i] = iovec.Entry{Ptr: s.Addr[:s.Length]}
	}
	t.Rxd.Reset(entries)
	t.Rxd.Stage = iovec.StageIOData
	return nil
}

func rxResponseHeader(c *Connection, t *taskpool.Task) (bool, error) {
	hdr, err := wire.UnpackResponseHeader(t.Mbuf.Buf)
	if err != nil {
		return false, New("rx_response_header", KindMsgInvalid, "malformed response header")
	}

	pos := wire.RspHdrFixedLen
	lens, err := wire.UnpackWriteLengths(t.Mbuf.Buf[pos:], int(hdr.WriteNumSGE))
	if err != nil {
		return false, New("rx_response_header", KindMsgInvalid, "truncated write length tail")
	}
	pos += wire.WriteLengthsLen(int(hdr.WriteNumSGE))

	ulpHdrLen := int(hdr.UlpHdrLen)
	var ulpHdr []byte
	if ulpHdrLen > 0 {
		ulpHdr = append([]byte(nil), t.Mbuf.Buf[pos:pos+ulpHdrLen]...)
		pos += ulpHdrLen
	}

	orig, ok := c.Pool.LookupByLtid(hdr.Tid)
	if !ok {
		return false, NewWithTid("rx_response_header", KindMsgInvalid, hdr.Tid, "no originating request for response tid")
	}
	t.SenderTask = orig
	orig.Imsg.Header = ulpHdr
	orig.Imsg.UlpImmLen = hdr.UlpImmLen
	orig.Imsg.Status = hdr.Status
	t.TCPOp = wire.Opcode(hdr.Opcode)

	switch t.TCPOp {
	case wire.OpSend:
		if hdr.UlpImmLen > 0 {
			orig.Imsg.Data = [][]byte{append([]byte(nil), t.Mbuf.Buf[pos:pos+int(hdr.UlpImmLen)]...)}
		}
		t.Rxd.Stage = iovec.StageIOData
		return deliverResponse(c, t)
	case wire.OpWrite:
		dest := orig.RecvSGE
		if len(dest) == 0 {
			dest = orig.ReadSGE
		}
		if len(dest) == 0 {
			return false, NewWithTid("rx_response_header", KindNoUserBufs, orig.Ltid, "no pre-posted response buffer")
		}
		entries := make([]iovec.Entry, 0, len(dest))
		for i, d := range dest {
			if i >= len(lens) {
				break
			}
			n := int(lens[i])
			if n > int(d.Length) {
				n = int(d.Length)
			}
			entries = append(entries, iovec.Entry{Ptr: d.Addr[:n]})
		}
		t.Rxd.Reset(entries)
		t.Rxd.Stage = iovec.StageIOData
		return true, nil
	default:
		return false, New("rx_response_header", KindMsgInvalid, "unexpected opcode on response")
	}
}

func rxIOData(c *Connection, t *taskpool.Task) (bool, error) {
	if !t.Rxd.Done() {
		if done, err := recvInto(c, t); !done || err != nil {
			return false, err
		}
	}
	if wire.IsRequest(t.TLVType) {
		return deliverRequest(c, t)
	}
	return deliverResponse(c, t)
}

// deliverRequest moves a fully reassembled request task to io_list and
// notifies the observer.
func deliverRequest(c *Connection, t *taskpool.Task) (bool, error) {
	c.RxList.PopFront()
	c.IoList.PushBack(t)
	c.Observer.NewMessage(t.Ltid, byte(t.TCPOp), t.Imsg.UlpImmLen, 0)
	return true, nil
}

// deliverResponse stitches a correlated response into its originating
// request task (retained since send-completion per DESIGN.md's Open
// Question decision 4), releases the transient rx-staging task, and
// delivers the original request task to io_list.
func deliverResponse(c *Connection, t *taskpool.Task) (bool, error) {
	c.RxList.PopFront()
	orig := t.SenderTask
	c.Pool.Release(t)
	c.IoList.PushBack(orig)
	c.Observer.NewMessage(orig.Ltid, byte(orig.TCPOp), orig.Imsg.UlpImmLen, 0)
	return true, nil
}

// recvInto drives one non-blocking scatter-recv attempt for t.Rxd,
// classifying would-block as "not yet done, no error" and any
// recvmsg == 0 (graceful EOF) or reset as a unified disconnect
// regardless of stage, per spec.md §9's design note.
func recvInto(c *Connection, t *taskpool.Task) (bool, error) {
	err := c.Engine.Recv(&t.Rxd)
	if err != nil {
		if errors.Is(err, stream.ErrWouldBlock) {
			return false, nil
		}
		if errors.Is(err, stream.ErrDisconnected) {
			disconnect(c, false)
			return false, Wrap("recv", err)
		}
		de := Wrap("recv", err)
		c.Observer.Error(string(de.Kind), t.Ltid)
		return false, de
	}
	return t.Rxd.Done(), nil
}

func disconnect(c *Connection, passive bool) {
	if c.State == StateDisconnected {
		return
	}
	c.State = StateDisconnected
	c.TxReadyList.Each(func(t *taskpool.Task) { c.Observer.Error(string(KindEDisconnect), t.Ltid) })
	c.InFlightList.Each(func(t *taskpool.Task) { c.Observer.Error(string(KindEDisconnect), t.Ltid) })
	if c.DisconnectHook != nil {
		c.DisconnectHook(c, passive)
	}
}

func toLocalSegments(sges []wire.SGE) []taskpool.Segment {
	out := make([]taskpool.Segment, len(sges))
	for i, s := range sges {
		out[i] = taskpool.Segment{Length: s.Length, Stag: s.Stag}
	}
	return out
}
