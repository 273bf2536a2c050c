package datapath

import "testing"

// TestSetupHandshakeNegotiatesBufferSize covers scenario S1: client
// proposes 128KiB, server caps its own advertisement at 64KiB, so the
// negotiated buffer_sz both sides adopt is the smaller value.
func TestSetupHandshakeNegotiatesBufferSize(t *testing.T) {
	client, server := newConnPair(t)
	server.MaxSendBufSz = 64 * 1024
	client.Observer = &recordingObserver{}
	server.Observer = &recordingObserver{}

	if err := SendSetupRequest(client, SetupParams{BufferSz: 128 * 1024, MaxInIovsz: 4, MaxOutIovsz: 4}); err != nil {
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

	if server.MaxSendBufSz != 64*1024 {
		t.Errorf("server.MaxSendBufSz = %d, want 65536", server.MaxSendBufSz)
	}
	if client.MaxSendBufSz != 64*1024 {
		t.Errorf("client.MaxSendBufSz = %d, want 65536", client.MaxSendBufSz)
	}
	if server.PeerMaxInIovsz != 4 || server.PeerMaxOutIovsz != 4 {
		t.Errorf("server peer iovsz = (%d,%d), want (4,4)", server.PeerMaxInIovsz, server.PeerMaxOutIovsz)
	}
	if client.State != StateConnected || server.State != StateConnected {
		t.Fatalf("client/server state = %v/%v, want Connected/Connected", client.State, server.State)
	}

	co := client.Observer.(*recordingObserver)
	so := server.Observer.(*recordingObserver)
	if len(co.newMessages) != 1 {
		t.Errorf("client observer got %d NewMessage calls, want 1", len(co.newMessages))
	}
	if len(so.newMessages) != 1 {
		t.Errorf("server observer got %d NewMessage calls, want 1", len(so.newMessages))
	}
}
