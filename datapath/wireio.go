package datapath

import (
	"github.com/behrlich/xiotcp/iovec"
	"github.com/behrlich/xiotcp/taskpool"
	"github.com/behrlich/xiotcp/wire"
)

// writeSGEs converts local segment handles into their wire form.
// Addr is always encoded as 0: this transport carries no real remote
// addressing, only segment lengths, since every byte still flows over
// the same stream regardless of placement mode (GLOSSARY: MR).
func writeSGEs(segs []taskpool.Segment) []wire.SGE {
	out := make([]wire.SGE, len(segs))
	for i, s := range segs {
		out[i] = wire.SGE{Addr: 0, Length: s.Length, Stag: s.Stag}
	}
	return out
}

// writeLengths extracts just the length field of each segment, the
// tail format a response header uses for its write segment descriptors.
func writeLengths(segs []taskpool.Segment) []uint32 {
	out := make([]uint32, len(segs))
	for i, s := range segs {
		out[i] = s.Length
	}
	return out
}

// inlineDataLen returns how many bytes of Omsg.Data will be copied
// into the mbuf rather than referenced out-of-line (zero only when
// the data is MR-referenced or there is no inline SEND data at all).
func inlineDataLen(t *taskpool.Task) int {
	if t.Omsg.DataMR || t.TCPOp != wire.OpSend {
		return 0
	}
	return sumByteLen(t.Omsg.Data)
}

// buildRequestHeader serializes t's request header into t.Mbuf: TLV
// prefix, fixed header, trailing segment descriptor tail (recv, then
// read, then write SGEs per spec.md §4.1's fixed ordering), the ULP
// header, and finally any inline (copy-through) SEND data.
func buildRequestHeader(t *taskpool.Task) {
	recv := writeSGEs(t.RecvSGE)
	read := writeSGEs(t.ReadSGE)
	write := writeSGEs(t.WriteSGE)
	tail := wire.SegmentsLen(len(recv)) + wire.SegmentsLen(len(read)) + wire.SegmentsLen(len(write))
	inline := inlineDataLen(t)

	h := wire.RequestHeader{
		Version:     1,
		Flags:       encodeFlags(t),
		ReqHdrLen:   wire.ReqHdrFixedLen,
		Tid:         t.Ltid,
		Opcode:      byte(t.TCPOp),
		RecvNumSGE:  uint16(len(recv)),
		ReadNumSGE:  uint16(len(read)),
		WriteNumSGE: uint16(len(write)),
		UlpHdrLen:   uint16(len(t.Omsg.Header)),
		UlpImmLen:   t.Omsg.UlpImmLen,
	}

	payload := wire.ReqHdrFixedLen + tail + len(t.Omsg.Header) + inline
	t.Mbuf.Grow(wire.TLVLen + payload)
	wire.PackTLV(t.Mbuf.Buf[0:], wire.TLV{Type: wire.TypeRequest, Len: uint32(payload)})
	t.Mbuf.SetCursor(wire.TLVLen)
	t.Mbuf.SetTransHdr()

	pos := wire.TLVLen
	wire.PackRequestHeader(t.Mbuf.Buf[pos:], h)
	pos += wire.ReqHdrFixedLen
	pos += packSGETail(t.Mbuf.Buf[pos:], recv)
	pos += packSGETail(t.Mbuf.Buf[pos:], read)
	pos += packSGETail(t.Mbuf.Buf[pos:], write)
	t.Mbuf.SetCursor(pos)
	t.Mbuf.WriteRaw(t.Omsg.Header)
	for _, d := range inlineSegments(t) {
		t.Mbuf.WriteRaw(d)
	}
}

// buildResponseHeader mirrors buildRequestHeader for a response task,
// whose only trailing descriptor tail is its write segment lengths.
func buildResponseHeader(t *taskpool.Task) {
	write := writeLengths(t.RspWriteSGE)
	tail := wire.WriteLengthsLen(len(write))
	inline := inlineDataLen(t)

	h := wire.ResponseHeader{
		Version:     1,
		Flags:       encodeFlags(t),
		RspHdrLen:   wire.RspHdrFixedLen,
		Tid:         t.Rtid,
		Opcode:      byte(t.TCPOp),
		Status:      t.Omsg.Status,
		WriteNumSGE: uint16(len(write)),
		UlpHdrLen:   uint16(len(t.Omsg.Header)),
		UlpImmLen:   t.Omsg.UlpImmLen,
	}

	payload := wire.RspHdrFixedLen + tail + len(t.Omsg.Header) + inline
	t.Mbuf.Grow(wire.TLVLen + payload)
	wire.PackTLV(t.Mbuf.Buf[0:], wire.TLV{Type: wire.TypeResponse, Len: uint32(payload)})
	t.Mbuf.SetCursor(wire.TLVLen)
	t.Mbuf.SetTransHdr()

	pos := wire.TLVLen
	wire.PackResponseHeader(t.Mbuf.Buf[pos:], h)
	wire.PackWriteLengths(t.Mbuf.Buf[pos+wire.RspHdrFixedLen:], write)
	t.Mbuf.SetCursor(pos + wire.RspHdrFixedLen + tail)
	t.Mbuf.WriteRaw(t.Omsg.Header)
	for _, d := range inlineSegments(t) {
		t.Mbuf.WriteRaw(d)
	}
}

// inlineSegments returns the data segments that must be copied into
// the mbuf (nil unless this is a non-MR SEND carrying data).
func inlineSegments(t *taskpool.Task) [][]byte {
	if t.Omsg.DataMR || t.TCPOp != wire.OpSend {
		return nil
	}
	return t.Omsg.Data
}

func packSGETail(buf []byte, sges []wire.SGE) int {
	wire.PackSegments(buf, sges)
	return wire.SegmentsLen(len(sges))
}

func encodeFlags(t *taskpool.Task) byte {
	var f byte
	if t.SmallZeroCopy {
		f |= wire.FlagSmallZeroCopy
	}
	if t.MoreInBatch {
		f |= wire.FlagMoreInBatch
	}
	if t.ImmSendComp {
		f |= wire.FlagImmSendComp
	}
	return f
}

// buildTxVector assembles the final scatter/gather vector for t: the
// mbuf bytes (TLV + header + inline ULP header/data) followed by any
// out-of-line data segments for READ/WRITE placement or MR-referenced
// SEND data, per spec.md §4.1's wire layout.
func buildTxVector(t *taskpool.Task) {
	entries := []iovec.Entry{{Ptr: t.Mbuf.Buf}}
	switch {
	case t.Omsg.DataMR:
		for _, d := range t.Omsg.Data {
			entries = append(entries, iovec.Entry{Ptr: d})
		}
	case len(t.WriteSGE) > 0 && t.TCPOp == wire.OpRead:
		for _, s := range t.WriteSGE {
			entries = append(entries, iovec.Entry{Ptr: s.Addr[:s.Length]})
		}
	case len(t.RspWriteSGE) > 0 && t.TCPOp == wire.OpWrite:
		for _, s := range t.RspWriteSGE {
			entries = append(entries, iovec.Entry{Ptr: s.Addr[:s.Length]})
		}
	}
	t.Txd.Reset(entries)
}
