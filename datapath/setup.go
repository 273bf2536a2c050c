package datapath

import (
	"github.com/behrlich/xiotcp/iovec"
	"github.com/behrlich/xiotcp/taskpool"
	"github.com/behrlich/xiotcp/wire"
)

// SetupParams is the negotiated trio of spec.md §4.7: a buffer size
// and each side's advertised segment-count caps.
type SetupParams struct {
	BufferSz    int
	MaxInIovsz  int
	MaxOutIovsz int
}

// SendSetupRequest is the client side of the setup handshake: it
// proposes params and transitions the connection to Connecting. The
// server side replies from OnSetupMessage once the request arrives.
func SendSetupRequest(c *Connection, params SetupParams) error {
	t, ok := c.Pool.Alloc()
	if !ok {
		return New("send_setup_request", KindNoBufs, "task pool exhausted before setup")
	}
	t.TLVType = wire.TypeSetupRequest
	t.Control = true
	t.ImmSendComp = true

	c.LocalMaxInIovsz = params.MaxInIovsz
	c.LocalMaxOutIovsz = params.MaxOutIovsz
	buildSetupMessage(t, wire.SetupPDU{
		BufferSz:    uint32(params.BufferSz),
		MaxInIovsz:  uint16(params.MaxInIovsz),
		MaxOutIovsz: uint16(params.MaxOutIovsz),
	})

	c.State = StateConnecting
	return Enqueue(c, t)
}

// OnSetupMessage handles an inbound SETUP_REQ or SETUP_RSP, per
// spec.md §4.7. t is the rx-staging task whose Mbuf holds the decoded
// TLV payload (header stage already completed by the caller).
func OnSetupMessage(c *Connection, t *taskpool.Task) error {
	pdu, err := wire.UnpackSetupPDU(t.Mbuf.Buf)
	if err != nil {
		return New("on_setup_message", KindMsgInvalid, "malformed setup PDU")
	}

	switch t.TLVType {
	case wire.TypeSetupRequest:
		return onSetupRequest(c, pdu)
	case wire.TypeSetupReply:
		return onSetupReply(c, pdu)
	default:
		return New("on_setup_message", KindMsgInvalid, "not a setup message")
	}
}

// onSetupRequest is the server side: reply with buffer_sz clamped to
// our own local cap and echo the peer's iovsz advertisements back.
func onSetupRequest(c *Connection, req wire.SetupPDU) error {
	negotiated := int(req.BufferSz)
	if c.MaxSendBufSz < negotiated {
		negotiated = c.MaxSendBufSz
	}

	c.PeerMaxInIovsz = int(req.MaxInIovsz)
	c.PeerMaxOutIovsz = int(req.MaxOutIovsz)
	adoptNegotiatedParams(c, negotiated)

	rsp, ok := c.Pool.Alloc()
	if !ok {
		return New("on_setup_request", KindNoBufs, "task pool exhausted replying to setup")
	}
	rsp.TLVType = wire.TypeSetupReply
	rsp.Control = true
	rsp.ImmSendComp = true
	buildSetupMessage(rsp, wire.SetupPDU{
		BufferSz:    uint32(negotiated),
		MaxInIovsz:  req.MaxInIovsz,
		MaxOutIovsz: req.MaxOutIovsz,
	})

	c.State = StateConnected
	c.Observer.NewMessage(0, 0, 0, 0)
	return Enqueue(c, rsp)
}

// onSetupReply is the client side: adopt the server's negotiated
// buffer size as our own max_send_buf_sz.
func onSetupReply(c *Connection, rsp wire.SetupPDU) error {
	c.PeerMaxInIovsz = int(rsp.MaxInIovsz)
	c.PeerMaxOutIovsz = int(rsp.MaxOutIovsz)
	adoptNegotiatedParams(c, int(rsp.BufferSz))

	c.State = StateConnected
	c.Observer.NewMessage(0, 0, 0, 0)
	return nil
}

func adoptNegotiatedParams(c *Connection, bufferSz int) {
	c.MaxSendBufSz = bufferSz
}

// buildSetupMessage serializes a raw TLV-prefixed setup PDU directly
// into t.Mbuf/t.Txd — setup messages have no transport header or
// segment tail, so they bypass buildRequestHeader/buildResponseHeader.
func buildSetupMessage(t *taskpool.Task, pdu wire.SetupPDU) {
	total := wire.TLVLen + wire.SetupPDULen
	t.Mbuf.Grow(total)
	wire.PackTLV(t.Mbuf.Buf[0:], wire.TLV{Type: t.TLVType, Len: uint32(wire.SetupPDULen)})
	wire.PackSetupPDU(t.Mbuf.Buf[wire.TLVLen:], pdu)
	t.Mbuf.SetCursor(total)
	t.Txd.Reset([]iovec.Entry{{Ptr: t.Mbuf.Buf}})
}
