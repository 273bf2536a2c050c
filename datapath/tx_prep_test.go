package datapath

import (
	"bytes"
	"testing"

	"github.com/behrlich/xiotcp/mempool"
	"github.com/behrlich/xiotcp/taskpool"
	"github.com/behrlich/xiotcp/wire"
)

func newTestConnection(bufSz int) *Connection {
	c := &Connection{
		Mem:              &mempool.Pool{},
		MaxSendBufSz:     bufSz,
		PeerMaxOutIovsz:  4,
		LocalMaxOutIovsz: 4,
	}
	return c
}

func TestPrepReqInDataSmallPathUsesRecvSGE(t *testing.T) {
	c := newTestConnection(4096)
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	err := PrepReqInData(c, task, []BufferHint{{Len: 64}}, false)
	if err != nil {
		t.Fatalf("prep_req_in_data: %v", err)
	}
	if len(task.RecvSGE) != 1 || task.RecvSGE[0].Length != 64 {
		t.Fatalf("RecvSGE = %+v, want one 64-byte segment", task.RecvSGE)
	}
	if task.ReadSGE != nil {
		t.Errorf("ReadSGE should be unset on the small path, got %+v", task.ReadSGE)
	}
}

func TestPrepReqInDataLargePathUsesReadSGE(t *testing.T) {
	c := newTestConnection(128)
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	err := PrepReqInData(c, task, []BufferHint{{Len: 1024}}, false)
	if err != nil {
		t.Fatalf("prep_req_in_data: %v", err)
	}
	if len(task.ReadSGE) != 1 || task.ReadSGE[0].Length != 1024 {
		t.Fatalf("ReadSGE = %+v, want one 1024-byte segment", task.ReadSGE)
	}
	if task.RecvSGE != nil {
		t.Errorf("RecvSGE should be unset on the large path, got %+v", task.RecvSGE)
	}
}

func TestPrepReqInDataPersistsSmallZeroCopyFlag(t *testing.T) {
	c := newTestConnection(4096)
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	if err := PrepReqInData(c, task, []BufferHint{{Len: 64}}, true); err != nil {
		t.Fatalf("prep_req_in_data: %v", err)
	}
	if !task.SmallZeroCopy {
		t.Error("SmallZeroCopy should be recorded on the task so encodeFlags can serialize it")
	}
	if len(task.ReadSGE) != 1 {
		t.Errorf("ReadSGE = %+v, want one segment (smallZeroCopy forces the large path)", task.ReadSGE)
	}
	if task.RecvSGE != nil {
		t.Errorf("RecvSGE should be unset when smallZeroCopy forces the large path, got %+v", task.RecvSGE)
	}
}

func TestPrepReqInDataRejectsOversizedHintCount(t *testing.T) {
	c := newTestConnection(32)
	c.PeerMaxOutIovsz = 1
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	err := PrepReqInData(c, task, []BufferHint{{Len: 1024}, {Len: 1024}}, false)
	if !IsKind(err, KindMsgSize) {
		t.Fatalf("err = %v, want KindMsgSize", err)
	}
}

func TestPrepReqInDataRejectsShortCallerBuffer(t *testing.T) {
	c := newTestConnection(4096)
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	err := PrepReqInData(c, task, []BufferHint{{Len: 64, Buf: make([]byte, 32)}}, false)
	if !IsKind(err, KindUserBufOverflow) {
		t.Fatalf("err = %v, want KindUserBufOverflow", err)
	}
}

func TestPrepReqOutDataSmallPathIsSend(t *testing.T) {
	c := newTestConnection(4096)
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	err := PrepReqOutData(c, task, []byte("hdr"), [][]byte{[]byte("payload")}, false)
	if err != nil {
		t.Fatalf("prep_req_out_data: %v", err)
	}
	if task.TCPOp != wire.OpSend {
		t.Errorf("TCPOp = %v, want OpSend", task.TCPOp)
	}
	if !bytes.Equal(task.Omsg.Data[0], []byte("payload")) {
		t.Errorf("Omsg.Data = %q, want payload", task.Omsg.Data)
	}
}

func TestPrepReqOutDataLargePathIsRead(t *testing.T) {
	c := newTestConnection(16)
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	big := bytes.Repeat([]byte("x"), 256)
	err := PrepReqOutData(c, task, []byte("h"), [][]byte{big}, false)
	if err != nil {
		t.Fatalf("prep_req_out_data: %v", err)
	}
	if task.TCPOp != wire.OpRead {
		t.Errorf("TCPOp = %v, want OpRead", task.TCPOp)
	}
	if len(task.WriteSGE) != 1 || int(task.WriteSGE[0].Length) != len(big) {
		t.Fatalf("WriteSGE = %+v, want one %d-byte segment", task.WriteSGE, len(big))
	}
	if !bytes.Equal(task.WriteSGE[0].Addr[:len(big)], big) {
		t.Error("WriteSGE buffer does not carry the copied payload")
	}
}

func TestPrepReqOutDataRejectsOversizedSegmentCount(t *testing.T) {
	c := newTestConnection(16)
	c.LocalMaxOutIovsz = 1
	pool := taskpool.NewPool(4)
	task, _ := pool.Alloc()

	big := bytes.Repeat([]byte("x"), 256)
	err := PrepReqOutData(c, task, nil, [][]byte{big, big}, false)
	if !IsKind(err, KindMsgSize) {
		t.Fatalf("err = %v, want KindMsgSize", err)
	}
}

func TestPrepRspWrDataZeroLengthIsSuccessSend(t *testing.T) {
	c := newTestConnection(4096)
	pool := taskpool.NewPool(4)
	reqTask, _ := pool.Alloc()
	rspTask, _ := pool.Alloc()

	if err := PrepRspWrData(c, reqTask, rspTask, nil, nil, false); err != nil {
		t.Fatalf("prep_rsp_wr_data: %v", err)
	}
	if rspTask.TCPOp != wire.OpSend {
		t.Errorf("TCPOp = %v, want OpSend", rspTask.TCPOp)
	}
	if Status(rspTask.Omsg.Status) != StatusSuccess {
		t.Errorf("Status = %v, want StatusSuccess", Status(rspTask.Omsg.Status))
	}
}

func TestPrepRspWrDataNoRequesterBufferIsPartialMsg(t *testing.T) {
	c := newTestConnection(8)
	pool := taskpool.NewPool(4)
	reqTask, _ := pool.Alloc()
	rspTask, _ := pool.Alloc()

	big := bytes.Repeat([]byte("y"), 64)
	if err := PrepRspWrData(c, reqTask, rspTask, nil, [][]byte{big}, false); err != nil {
		t.Fatalf("prep_rsp_wr_data: %v", err)
	}
	if rspTask.TCPOp != wire.OpSend {
		t.Errorf("TCPOp = %v, want OpSend", rspTask.TCPOp)
	}
	if Status(rspTask.Omsg.Status) != StatusPartialMsg {
		t.Errorf("Status = %v, want StatusPartialMsg", Status(rspTask.Omsg.Status))
	}
}

// TestPrepRspWrDataWriteModeFitsWithinCapacity covers scenario S5: the
// response payload fits within the requester's advertised buffers.
func TestPrepRspWrDataWriteModeFitsWithinCapacity(t *testing.T) {
	c := newTestConnection(8)
	pool := taskpool.NewPool(4)
	reqTask, _ := pool.Alloc()
	rspTask, _ := pool.Alloc()
	reqTask.ReadSGE = []taskpool.Segment{{Length: 32}, {Length: 32}}

	payload := bytes.Repeat([]byte("z"), 48)
	if err := PrepRspWrData(c, reqTask, rspTask, nil, [][]byte{payload}, false); err != nil {
		t.Fatalf("prep_rsp_wr_data: %v", err)
	}
	if rspTask.TCPOp != wire.OpWrite {
		t.Errorf("TCPOp = %v, want OpWrite", rspTask.TCPOp)
	}
	if Status(rspTask.Omsg.Status) != StatusSuccess {
		t.Errorf("Status = %v, want StatusSuccess", Status(rspTask.Omsg.Status))
	}
	var total int
	for _, s := range rspTask.RspWriteSGE {
		total += int(s.Length)
	}
	if total != len(payload) {
		t.Errorf("clipped total = %d, want %d", total, len(payload))
	}
}

// TestPrepRspWrDataWriteModeTruncates covers scenario S6: the response
// payload exceeds the requester's combined buffer capacity.
func TestPrepRspWrDataWriteModeTruncates(t *testing.T) {
	c := newTestConnection(8)
	pool := taskpool.NewPool(4)
	reqTask, _ := pool.Alloc()
	rspTask, _ := pool.Alloc()
	reqTask.ReadSGE = []taskpool.Segment{{Length: 16}}

	payload := bytes.Repeat([]byte("z"), 48)
	if err := PrepRspWrData(c, reqTask, rspTask, nil, [][]byte{payload}, false); err != nil {
		t.Fatalf("prep_rsp_wr_data: %v", err)
	}
	if Status(rspTask.Omsg.Status) != StatusMsgSize {
		t.Errorf("Status = %v, want StatusMsgSize", Status(rspTask.Omsg.Status))
	}
	var total int
	for _, s := range rspTask.RspWriteSGE {
		total += int(s.Length)
	}
	if total != 16 {
		t.Errorf("clipped total = %d, want 16 (truncated to requester capacity)", total)
	}
}

// TestPrepRspWrDataHonorsRequestersSmallZeroCopyFlag covers the
// SMALL_ZERO_COPY case: the requester's flag, not the fresh response
// task's (always-false) copy of it, decides whether a payload small
// enough to fit inline is still forced onto the write path.
func TestPrepRspWrDataHonorsRequestersSmallZeroCopyFlag(t *testing.T) {
	c := newTestConnection(4096)
	pool := taskpool.NewPool(4)
	reqTask, _ := pool.Alloc()
	rspTask, _ := pool.Alloc()
	reqTask.SmallZeroCopy = true
	reqTask.ReadSGE = []taskpool.Segment{{Length: 64}}

	payload := []byte("small enough to inline")
	if err := PrepRspWrData(c, reqTask, rspTask, nil, [][]byte{payload}, false); err != nil {
		t.Fatalf("prep_rsp_wr_data: %v", err)
	}
	if rspTask.TCPOp != wire.OpWrite {
		t.Errorf("TCPOp = %v, want OpWrite (requester's SmallZeroCopy must force the write path)", rspTask.TCPOp)
	}
}

func TestClipToRequesterSegmentsSplitsInOrder(t *testing.T) {
	payload := []byte("abcdefgh")
	segs := []taskpool.Segment{{Length: 3}, {Length: 5}}

	clipped, status := clipToRequesterSegments(payload, segs)
	if status != StatusSuccess {
		t.Fatalf("status = %v, want StatusSuccess", status)
	}
	if len(clipped) != 2 {
		t.Fatalf("clipped = %+v, want 2 segments", clipped)
	}
	if string(clipped[0].Addr) != "abc" || string(clipped[1].Addr) != "defgh" {
		t.Errorf("clipped = %q/%q, want abc/defgh", clipped[0].Addr, clipped[1].Addr)
	}
}
