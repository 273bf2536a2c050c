package datapath

import (
	"errors"

	"github.com/behrlich/xiotcp/stream"
	"github.com/behrlich/xiotcp/taskpool"
	"github.com/behrlich/xiotcp/wire"
)

// Enqueue finalizes a prepared outbound task's wire bytes and places
// it at the back of the ready list. Unless t.MoreInBatch is set (more
// tasks from the same batch are still being prepared), it immediately
// drives the drain engine.
func Enqueue(c *Connection, t *taskpool.Task) error {
	switch t.TLVType {
	case wire.TypeRequest:
		buildRequestHeader(t)
		buildTxVector(t)
	case wire.TypeResponse:
		buildResponseHeader(t)
		buildTxVector(t)
	case wire.TypeSetupRequest, wire.TypeSetupReply:
		// setup.go has already serialized the PDU and built t.Txd.
	default:
		return New("enqueue", KindMsgInvalid, "task has no TLV type set")
	}

	c.TxReadyList.PushBack(t)
	c.TxReadyTasksNum++
	if t.MoreInBatch {
		return nil
	}
	return Xmit(c)
}

// Xmit drains tx_ready_list front-first, per spec.md §4.5: each task's
// txd is handed to the stream engine; on success it moves to
// in_flight_list and the completion batcher's trigger conditions are
// checked. Xmit stops (returning nil) on the first retryable
// (would-block) condition — the caller re-drives on the next writable
// event, per the "Open Question" decision in DESIGN.md against
// speculative re-arm.
func Xmit(c *Connection) error {
	for {
		t, ok := c.TxReadyList.Front()
		if !ok {
			return nil
		}

		err := c.Engine.Send(&t.Txd)
		if err != nil {
			if errors.Is(err, stream.ErrWouldBlock) {
				return nil
			}
			if errors.Is(err, stream.ErrDisconnected) {
				disconnect(c, false)
				return Wrap("xmit", err)
			}
			de := Wrap("xmit", err)
			c.Observer.Error(string(de.Kind), t.Ltid)
			return de
		}
		if !t.Txd.Done() {
			return nil
		}

		c.TxReadyList.PopFront()
		c.TxReadyTasksNum--
		c.InFlightList.PushBack(t)
		c.TxCompCnt++

		if c.TxCompCnt >= CompletionBatchMax || t.Control || t.ImmSendComp {
			c.TxCompCnt = 0
			trigger := t
			c.ScheduleDeferred(func() { runCompletionBatch(c, trigger) })
		}
	}
}

// runCompletionBatch walks in_flight_list front-first, moving every
// task up to and including trigger to tx_comp_list, emits a
// send-completion notification per task (skipping ones tagged
// CANCEL, per spec.md §4.5's cancellation note), then releases
// response tasks (their work is done) while retaining request tasks
// until their response is correlated and delivered by the rx pipeline
// (see DESIGN.md's Open Question decision 4). It re-invokes Xmit if
// new ready work has accumulated while this batch was deferred.
func runCompletionBatch(c *Connection, trigger *taskpool.Task) {
	for {
		head, ok := c.InFlightList.PopFront()
		if !ok {
			break
		}
		c.TxCompList.PushBack(head)

		if !head.Cancelled {
			c.Observer.SendCompletion(head.Ltid, byte(head.TCPOp), head.Omsg.UlpImmLen, 0)
		}

		// Only outbound requests await a correlated response; responses
		// and setup control messages are done once sent.
		if head.TLVType != wire.TypeRequest {
			c.TxCompList.Remove(head)
			c.Pool.Release(head)
		}

		if head == trigger {
			break
		}
	}
	if c.TxReadyTasksNum > 0 {
		c.ScheduleDeferred(func() { Xmit(c) })
	}
}
