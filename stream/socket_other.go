//go:build !linux

package stream

import (
	"errors"
	"net"
	"os"
	"time"
)

// socket falls back to deadline reads where poll(2) on raw descriptors is
// unavailable.
type socket struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	wait   time.Duration
}

func newSocket(conn *net.UDPConn) (*socket, error) {
	return &socket{conn: conn, wait: time.Millisecond}, nil
}

func reuseListenConfig() *net.ListenConfig {
	return &net.ListenConfig{}
}

func (s *socket) connect(addr *net.UDPAddr) error {
	s.remote = addr
	return nil
}

func (s *socket) send(b []byte) error {
	if s.remote == nil {
		return errors.New("socket not connected")
	}
	_, err := s.conn.WriteToUDP(b, s.remote)
	return err
}

func (s *socket) recv(b []byte) (int, error) {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.wait)); err != nil {
			return 0, err
		}
		n, from, err := s.conn.ReadFromUDP(b)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, errWouldBlock
		}
		if err != nil {
			return 0, err
		}
		if s.remote != nil && !from.IP.Equal(s.remote.IP) {
			continue
		}
		return n, nil
	}
}

func waitReadable(socks []*socket, timeout time.Duration, ready []bool) error {
	for i, s := range socks {
		s.wait = timeout / time.Duration(len(socks))
		ready[i] = true
	}
	return nil
}
