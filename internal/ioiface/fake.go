package ioiface

import "sync"

// FakeMux is an in-memory, single-threaded ReadinessMux used by tests that
// drive the reactor deterministically without real sockets — the spec
// explicitly frames Stream/Listener/ReadinessMux/ControlSignal as fakeable
// capabilities (§4.1/§6).
type FakeMux struct {
	mu      sync.Mutex
	flags   map[int]Flag
	pending []Event
}

func NewFakeMux() *FakeMux {
	return &FakeMux{flags: make(map[int]Flag)}
}

func (m *FakeMux) Add(fd int, flags Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[fd] = flags
	return nil
}

func (m *FakeMux) Modify(fd int, flags Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flags[fd]; !ok {
		return ErrFakeNotRegistered
	}
	m.flags[fd] = flags
	return nil
}

func (m *FakeMux) Remove(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, fd)
	return nil
}

// Raise queues a readiness event for delivery on the next Wait. Tests use
// this to simulate the OS reporting a descriptor as ready.
func (m *FakeMux) Raise(fd int, flags Flag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.flags[fd]; ok {
		flags &= sub | ErrorFlag
	}
	if flags == 0 {
		return
	}
	m.pending = append(m.pending, Event{FD: fd, Flags: flags})
}

// Wait returns the batch of events queued by Raise since the last Wait call.
// It never blocks in the fake; callers that need blocking semantics for a
// test should not call Wait until Raise has been used.
func (m *FakeMux) Wait() ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.pending
	m.pending = nil
	return events, nil
}

func (m *FakeMux) Close() error { return nil }

// FakeControlSignal is an in-memory ControlSignal for tests.
type FakeControlSignal struct {
	mu    sync.Mutex
	value uint64
	fd    int
}

func NewFakeControlSignal(fd int) *FakeControlSignal {
	return &FakeControlSignal{fd: fd}
}

func (c *FakeControlSignal) FD() int { return c.fd }

func (c *FakeControlSignal) Read() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.value
	c.value = 0
	return v, nil
}

func (c *FakeControlSignal) Signal(value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += value
	return nil
}

func (c *FakeControlSignal) Close() error { return nil }

// ErrFakeNotRegistered is returned by FakeMux.Modify for a descriptor that
// was never (or no longer) registered via Add.
var ErrFakeNotRegistered = fakeError("ioiface: fd not registered with fake mux")

type fakeError string

func (e fakeError) Error() string { return string(e) }

// FakeStream is an in-memory Stream: Feed queues bytes for Read to return
// (simulating what arrived on the wire), and Written hands back what was
// passed to Write so tests can assert on server responses.
type FakeStream struct {
	mu       sync.Mutex
	fd       int
	inbox    []byte
	written  []byte
	closed   bool
	maxWrite int // if > 0, caps bytes accepted per Write call (simulates a full socket buffer)
}

func NewFakeStream(fd int) *FakeStream {
	return &FakeStream{fd: fd}
}

func (s *FakeStream) FD() int { return s.fd }

// Feed appends bytes that a subsequent Read will return.
func (s *FakeStream) Feed(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, b...)
}

// SetMaxWrite bounds how many bytes a single Write call accepts, used to
// exercise the partial-write path (§8 property #10, scenario S3).
func (s *FakeStream) SetMaxWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxWrite = n
}

// Written returns everything written since the previous Written call and
// clears it, so each call sees only the responses that followed it.
func (s *FakeStream) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.written))
	copy(out, s.written)
	s.written = s.written[:0]
	return out
}

func (s *FakeStream) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && len(s.inbox) == 0 {
		return 0, ErrPeerClosed
	}
	if len(s.inbox) == 0 {
		return 0, ErrWouldBlock
	}
	n := copy(buf, s.inbox)
	s.inbox = s.inbox[n:]
	return n, nil
}

func (s *FakeStream) Write(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(buf) == 0 {
		return 0, nil
	}
	n := len(buf)
	if s.maxWrite > 0 && n > s.maxWrite {
		n = s.maxWrite
	}
	s.written = append(s.written, buf[:n]...)
	return n, nil
}

// CloseFromPeer simulates the remote end closing the connection: the next
// Read once the inbox drains will return ErrPeerClosed.
func (s *FakeStream) CloseFromPeer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *FakeStream) Close() error { return nil }

// FakeListener hands out pre-seeded FakeStreams one at a time.
type FakeListener struct {
	mu      sync.Mutex
	fd      int
	pending []Stream
}

func NewFakeListener(fd int) *FakeListener {
	return &FakeListener{fd: fd}
}

func (l *FakeListener) FD() int { return l.fd }

// QueueConn makes s returnable from the next Accept call.
func (l *FakeListener) QueueConn(s Stream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, s)
}

func (l *FakeListener) Accept() (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil, ErrWouldBlock
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s, nil
}

func (l *FakeListener) Close() error { return nil }
