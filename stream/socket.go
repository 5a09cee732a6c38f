package stream

import (
	"errors"
	"net"
)

var errWouldBlock = errors.New("no datagram pending")

func resolveRadio(ip string, port int) (*net.UDPAddr, error) {
	addr := net.ParseIP(ip)
	if addr == nil || addr.To4() == nil {
		return nil, errors.New("radio address is not IPv4: " + ip)
	}
	return &net.UDPAddr{IP: addr.To4(), Port: port}, nil
}
