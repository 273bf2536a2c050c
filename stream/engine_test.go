package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/behrlich/xiotcp/iovec"
)

func newEnginePair(t *testing.T) (*Engine, *Engine) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	a, b := New(fds[0]), New(fds[1])
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return a, b
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := newEnginePair(t)

	payload := []byte("setup request payload")
	txd := iovec.NewSingle(append([]byte(nil), payload...))
	require.NoError(t, a.Send(txd))
	require.True(t, txd.Done())

	recvBuf := make([]byte, len(payload))
	rxd := iovec.NewSingle(recvBuf)
	require.NoError(t, b.Recv(rxd))
	require.True(t, rxd.Done())
	require.Equal(t, payload, recvBuf)
}

func TestSendRecvScatterGather(t *testing.T) {
	a, b := newEnginePair(t)

	part1 := []byte("hello ")
	part2 := []byte("world")
	txd := &iovec.Descriptor{}
	txd.Reset([]iovec.Entry{{Ptr: part1}, {Ptr: part2}})
	require.NoError(t, a.Send(txd))
	require.True(t, txd.Done())

	buf1 := make([]byte, 6)
	buf2 := make([]byte, 5)
	rxd := &iovec.Descriptor{}
	rxd.Reset([]iovec.Entry{{Ptr: buf1}, {Ptr: buf2}})

	for !rxd.Done() {
		err := b.Recv(rxd)
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("unexpected recv error: %v", err)
		}
	}
	require.Equal(t, "hello ", string(buf1))
	require.Equal(t, "world", string(buf2))
}

func TestRecvReturnsWouldBlockWhenIdle(t *testing.T) {
	_, b := newEnginePair(t)

	buf := make([]byte, 16)
	rxd := iovec.NewSingle(buf)
	err := b.Recv(rxd)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestRecvReturnsDisconnectedOnPeerClose(t *testing.T) {
	a, b := newEnginePair(t)
	require.NoError(t, unix.Close(a.fd))

	buf := make([]byte, 16)
	rxd := iovec.NewSingle(buf)

	var err error
	require.Eventually(t, func() bool {
		err = b.Recv(rxd)
		return err != ErrWouldBlock
	}, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestSendAdvancesDescriptorByBytesWritten(t *testing.T) {
	a, _ := newEnginePair(t)

	// A single Writev on a fresh socketpair buffer should accept the
	// whole small payload in one call; this asserts Send's bookkeeping
	// (Advance called with the syscall's return value) rather than
	// forcing a genuine short write, which the kernel's socket buffer
	// sizing makes unreliable to trigger deterministically in a test.
	payload := make([]byte, 4096)
	txd := iovec.NewSingle(payload)
	require.NoError(t, a.Send(txd))
	require.Equal(t, 0, txd.TotIOVByteLen)
}
