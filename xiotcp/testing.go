package xiotcp

import "sync"

// MessageEvent records a single NewMessage observer call.
type MessageEvent struct {
	Tid       uint16
	Opcode    byte
	Bytes     uint64
	LatencyNs uint64
}

// CompletionEvent records a single SendCompletion observer call.
type CompletionEvent struct {
	Tid       uint16
	Opcode    byte
	Bytes     uint64
	LatencyNs uint64
}

// AssignInBufEvent records a single AssignInBuf observer call.
type AssignInBufEvent struct {
	Tid     uint16
	Bytes   uint64
	Success bool
}

// ErrorEvent records a single Error observer call.
type ErrorEvent struct {
	Kind string
	Tid  uint16
}

// MockObserver is a test double for interfaces.Observer that records
// every call it receives, for assertions in tests of code that reports
// through an interfaces.Observer.
type MockObserver struct {
	mu sync.Mutex

	Messages     []MessageEvent
	Completions  []CompletionEvent
	AssignInBufs []AssignInBufEvent
	Errors       []ErrorEvent
}

// NewMockObserver returns a ready-to-use MockObserver.
func NewMockObserver() *MockObserver { return &MockObserver{} }

func (m *MockObserver) NewMessage(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, MessageEvent{tid, opcode, bytes, latencyNs})
}

func (m *MockObserver) SendCompletion(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completions = append(m.Completions, CompletionEvent{tid, opcode, bytes, latencyNs})
}

func (m *MockObserver) AssignInBuf(tid uint16, bytes uint64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssignInBufs = append(m.AssignInBufs, AssignInBufEvent{tid, bytes, success})
}

func (m *MockObserver) Error(kind string, tid uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, ErrorEvent{kind, tid})
}

// MessageCount returns the number of NewMessage calls observed so far.
func (m *MockObserver) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// CompletionCount returns the number of SendCompletion calls observed
// so far.
func (m *MockObserver) CompletionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Completions)
}

// Reset clears all recorded events.
func (m *MockObserver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.Completions = nil
	m.AssignInBufs = nil
	m.Errors = nil
}

// Compile-time interface check against the narrow interface xiotcp
// components actually depend on.
var _ interface {
	NewMessage(tid uint16, opcode byte, bytes uint64, latencyNs uint64)
	SendCompletion(tid uint16, opcode byte, bytes uint64, latencyNs uint64)
	AssignInBuf(tid uint16, bytes uint64, success bool)
	Error(kind string, tid uint16)
} = (*MockObserver)(nil)
