package datapath

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/behrlich/xiotcp/mempool"
	"github.com/behrlich/xiotcp/stream"
	"github.com/behrlich/xiotcp/taskpool"
)

// newConnPair returns two Connections wired to opposite ends of a
// non-blocking unix socketpair, each with its own task pool and
// mempool, ready for the setup handshake. Mirrors stream package's
// newEnginePair helper.
func newConnPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})

	a := NewConnection(stream.New(fds[0]), taskpool.NewPool(64), &mempool.Pool{}, nil, nil)
	b := NewConnection(stream.New(fds[1]), taskpool.NewPool(64), &mempool.Pool{}, nil, nil)
	return a, b
}

// recordingObserver captures every callback it receives, for
// assertions on ordering and payload.
type recordingObserver struct {
	newMessages     []observed
	sendCompletions []observed
	assignInBufs    []assignInBufCall
	errors          []errorCall
}

type observed struct {
	tid       uint16
	opcode    byte
	bytes     uint64
	latencyNs uint64
}

type assignInBufCall struct {
	tid     uint16
	bytes   uint64
	success bool
}

type errorCall struct {
	kind string
	tid  uint16
}

func (o *recordingObserver) NewMessage(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	o.newMessages = append(o.newMessages, observed{tid, opcode, bytes, latencyNs})
}

func (o *recordingObserver) SendCompletion(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	o.sendCompletions = append(o.sendCompletions, observed{tid, opcode, bytes, latencyNs})
}

func (o *recordingObserver) AssignInBuf(tid uint16, bytes uint64, success bool) {
	o.assignInBufs = append(o.assignInBufs, assignInBufCall{tid, bytes, success})
}

func (o *recordingObserver) Error(kind string, tid uint16) {
	o.errors = append(o.errors, errorCall{kind, tid})
}

// drainRx pumps RxHandler until it stops advancing or errors, draining
// any deferred completion-batch work in between — a test's stand-in
// for the owning event loop's per-turn RunDeferred call.
func drainRx(t *testing.T, c *Connection) error {
	t.Helper()
	for i := 0; i < 64; i++ {
		if err := RxHandler(c); err != nil {
			return err
		}
		c.RunDeferred()
	}
	return nil
}

func mustSetup(t *testing.T, client, server *Connection) {
	t.Helper()
	client.Observer = &recordingObserver{}
	server.Observer = &recordingObserver{}

	if err := SendSetupRequest(client, SetupParams{BufferSz: 65536, MaxInIovsz: 4, MaxOutIovsz: 4}); err != nil {
		t.Fatalf("send_setup_request: %v", err)
	}
	if err := SeedRx(server); err != nil {
		t.Fatalf("seed_rx(server): %v", err)
	}
	if err := drainRx(t, server); err != nil {
		t.Fatalf("drain_rx(server): %v", err)
	}
	if err := SeedRx(client); err != nil {
		t.Fatalf("seed_rx(client): %v", err)
	}
	if err := drainRx(t, client); err != nil {
		t.Fatalf("drain_rx(client): %v", err)
	}

	if client.State != StateConnected {
		t.Fatalf("client state = %v, want Connected", client.State)
	}
	if server.State != StateConnected {
		t.Fatalf("server state = %v, want Connected", server.State)
	}
}
