package stream

import "github.com/kc2g-flex-tools/flexdv/vita"

// packetRing is a fixed set of receive buffers handed out in rotation so
// that the poll loop never allocates per datagram.
type packetRing struct {
	slab []byte
	size int
	n    int
	next int
}

func newPacketRing(n int) *packetRing {
	size := vita.MaxPacketSize
	return &packetRing{slab: make([]byte, n*size), size: size, n: n}
}

// Next returns the next buffer. Its previous contents are overwritten once
// the ring wraps.
func (r *packetRing) Next() []byte {
	i := r.next
	r.next = (r.next + 1) % r.n
	return r.slab[i*r.size : (i+1)*r.size : (i+1)*r.size]
}
