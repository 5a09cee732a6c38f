//go:build linux

package stream

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socket wraps a UDP socket so that the poll loop can wait on several of
// them at once and drain datagrams without blocking.
type socket struct {
	conn *net.UDPConn
	rc   syscall.RawConn
	fd   int
}

func newSocket(conn *net.UDPConn) (*socket, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("raw socket: %w", err)
	}
	s := &socket{conn: conn, rc: rc, fd: -1}
	if err := rc.Control(func(fd uintptr) { s.fd = int(fd) }); err != nil {
		return nil, fmt.Errorf("raw socket: %w", err)
	}
	return s, nil
}

// reuseListenConfig lets several waveforms on one host share the
// discovery port.
func reuseListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// connect restricts the socket to a single peer so that plain sends go to
// the radio and datagrams from anyone else are discarded by the kernel.
func (s *socket) connect(addr *net.UDPAddr) error {
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To4())
	var connErr error
	if err := s.rc.Control(func(fd uintptr) { connErr = unix.Connect(int(fd), sa) }); err != nil {
		return err
	}
	return connErr
}

func (s *socket) send(b []byte) error {
	_, err := s.conn.Write(b)
	return err
}

func (s *socket) recv(b []byte) (int, error) {
	var n int
	var recvErr error
	err := s.rc.Read(func(fd uintptr) bool {
		n, _, recvErr = unix.Recvfrom(int(fd), b, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, err
	}
	if errors.Is(recvErr, unix.EAGAIN) || errors.Is(recvErr, unix.EWOULDBLOCK) {
		return 0, errWouldBlock
	}
	return n, recvErr
}

// waitReadable blocks for at most timeout until one of socks has a
// datagram, recording which ones in ready.
func waitReadable(socks []*socket, timeout time.Duration, ready []bool) error {
	var fds [2]unix.PollFd
	for i, s := range socks {
		fds[i] = unix.PollFd{Fd: int32(s.fd), Events: unix.POLLIN}
		ready[i] = false
	}
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	_, err := unix.Poll(fds[:len(socks)], ms)
	if errors.Is(err, unix.EINTR) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	for i := range socks {
		ready[i] = fds[i].Revents&(unix.POLLIN|unix.POLLERR) != 0
	}
	return nil
}
