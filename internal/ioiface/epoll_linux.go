//go:build linux

package ioiface

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

var nativeEndian = binary.LittleEndian

// EpollMux is the concrete ReadinessMux backing the reactor on Linux,
// grounded on the registration/flag-translation idiom of xtaci/gaio's
// poller and the golang.org/x/sys/unix epoll usage in a real TCP server
// (github.com/kstaniek/go-ampio-server).
type EpollMux struct {
	epfd int
}

// NewEpollMux creates an epoll instance.
func NewEpollMux() (*EpollMux, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ioiface: epoll_create1: %w", err)
	}
	return &EpollMux{epfd: fd}, nil
}

func toEpollEvents(f Flag) uint32 {
	var ev uint32
	if f.Has(Readable) {
		ev |= unix.EPOLLIN
	}
	if f.Has(Writable) {
		ev |= unix.EPOLLOUT
	}
	// Errors and hangups are always reported by the kernel regardless of
	// the requested mask; no explicit flag is needed to opt in.
	return ev
}

func fromEpollEvents(ev uint32) Flag {
	var f Flag
	if ev&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
		f |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		f |= Writable
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		f |= ErrorFlag
	}
	return f
}

func (m *EpollMux) Add(fd int, flags Flag) error {
	ev := unix.EpollEvent{Events: toEpollEvents(flags), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("ioiface: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (m *EpollMux) Modify(fd int, flags Flag) error {
	ev := unix.EpollEvent{Events: toEpollEvents(flags), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("ioiface: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (m *EpollMux) Remove(fd int) error {
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("ioiface: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

const maxEpollEvents = 256

// Wait blocks until at least one descriptor is ready, per the spec's
// "blocks until >= 1 ready" contract (§4.1). A -1 timeout means "forever";
// EINTR is retried transparently.
func (m *EpollMux) Wait() ([]Event, error) {
	raw := make([]unix.EpollEvent, maxEpollEvents)
	for {
		n, err := unix.EpollWait(m.epfd, raw, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("ioiface: epoll_wait: %w", err)
		}
		events := make([]Event, n)
		for i := 0; i < n; i++ {
			events[i] = Event{FD: int(raw[i].Fd), Flags: fromEpollEvents(raw[i].Events)}
		}
		return events, nil
	}
}

func (m *EpollMux) Close() error {
	return unix.Close(m.epfd)
}

// tcpListener is the non-blocking Listener implementation backing the
// reactor's accept side.
type tcpListener struct {
	fd   int
	addr unix.Sockaddr
}

// ListenTCP binds and listens on port using raw, non-blocking sockets so the
// resulting fd can be driven entirely by the reactor's epoll loop (a
// net.Listener keeps its fd behind an internal poller that the reactor
// cannot share).
func ListenTCP(port int) (Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("ioiface: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioiface: setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioiface: bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioiface: listen :%d: %w", port, err)
	}
	return &tcpListener{fd: fd, addr: sa}, nil
}

func (l *tcpListener) FD() int { return l.fd }

func (l *tcpListener) Accept() (Stream, error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("ioiface: accept: %w", err)
	}
	return &tcpStream{fd: nfd}, nil
}

func (l *tcpListener) Close() error { return unix.Close(l.fd) }

// tcpStream is the non-blocking Stream implementation for accepted clients.
type tcpStream struct {
	fd int
}

func (s *tcpStream) FD() int { return s.fd }

func (s *tcpStream) Read(buf []byte) (int, error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("ioiface: read: %w", err)
	}
	if n == 0 {
		return 0, ErrPeerClosed
	}
	return n, nil
}

func (s *tcpStream) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.EPIPE || err == unix.ECONNRESET {
			return 0, ErrPeerClosed
		}
		return 0, fmt.Errorf("ioiface: write: %w", err)
	}
	return n, nil
}

func (s *tcpStream) Close() error { return unix.Close(s.fd) }

// eventfdSignal is the ControlSignal implementation, backed by eventfd(2) —
// the natural Linux primitive for "a readable descriptor that yields an
// 8-byte little-endian unsigned integer" (§6).
type eventfdSignal struct {
	fd int
}

// NewEventfdSignal creates an eventfd-backed control signal in counter mode
// (no EFD_SEMAPHORE): each read drains and returns the accumulated sum of
// all pending writes.
func NewEventfdSignal() (ControlSignal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("ioiface: eventfd: %w", err)
	}
	return &eventfdSignal{fd: fd}, nil
}

func (c *eventfdSignal) FD() int { return c.fd }

func (c *eventfdSignal) Read() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(c.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	if n != 8 {
		return 0, fmt.Errorf("ioiface: short eventfd read: %d bytes", n)
	}
	return nativeEndian.Uint64(buf[:]), nil
}

func (c *eventfdSignal) Signal(value uint64) error {
	var buf [8]byte
	nativeEndian.PutUint64(buf[:], value)
	_, err := unix.Write(c.fd, buf[:])
	return err
}

func (c *eventfdSignal) Close() error { return unix.Close(c.fd) }
