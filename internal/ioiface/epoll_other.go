//go:build !linux

package ioiface

import "errors"

// ErrUnsupportedPlatform is returned by the epoll-backed constructors on any
// platform other than Linux. The reactor's readiness-mux contract (§4.1) is
// deliberately Linux-only here; porting to kqueue (darwin/bsd) would add a
// second poller backend with no new protocol behavior, so it is left as a
// named, explicit gap rather than attempted speculatively.
var ErrUnsupportedPlatform = errors.New("ioiface: epoll reactor is only implemented for linux")

func NewEpollMux() (*EpollMux, error) { return nil, ErrUnsupportedPlatform }

// EpollMux is declared here too so non-linux builds still type-check
// references to *ioiface.EpollMux in platform-neutral code.
type EpollMux struct{}

func (m *EpollMux) Add(fd int, flags Flag) error    { return ErrUnsupportedPlatform }
func (m *EpollMux) Modify(fd int, flags Flag) error { return ErrUnsupportedPlatform }
func (m *EpollMux) Remove(fd int) error             { return ErrUnsupportedPlatform }
func (m *EpollMux) Wait() ([]Event, error)          { return nil, ErrUnsupportedPlatform }
func (m *EpollMux) Close() error                    { return nil }

func ListenTCP(port int) (Listener, error) { return nil, ErrUnsupportedPlatform }

func NewEventfdSignal() (ControlSignal, error) { return nil, ErrUnsupportedPlatform }
