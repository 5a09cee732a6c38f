package audio

import (
	"encoding/binary"

	"github.com/smallnest/ringbuffer"
)

// FIFO is a bounded queue of 16-bit samples with one producer and one
// consumer. Writes and reads are all-or-nothing.
type FIFO struct {
	rb   *ringbuffer.RingBuffer
	wbuf []byte
	rbuf []byte
}

func NewFIFO(capacitySamples int) *FIFO {
	return &FIFO{rb: ringbuffer.New(capacitySamples * 2)}
}

// Write queues samples, or drops all of them and returns false if they
// do not fit.
func (f *FIFO) Write(samples []int16) bool {
	if len(samples) == 0 {
		return true
	}
	if f.rb.Free() < len(samples)*2 {
		return false
	}
	f.wbuf = f.wbuf[:0]
	for _, s := range samples {
		f.wbuf = binary.LittleEndian.AppendUint16(f.wbuf, uint16(s))
	}
	n, err := f.rb.Write(f.wbuf)
	return err == nil && n == len(f.wbuf)
}

// Read fills dst completely, or leaves the FIFO untouched and returns false
// if fewer than len(dst) samples are queued.
func (f *FIFO) Read(dst []int16) bool {
	if len(dst) == 0 {
		return true
	}
	need := len(dst) * 2
	if f.rb.Length() < need {
		return false
	}
	if cap(f.rbuf) < need {
		f.rbuf = make([]byte, need)
	}
	buf := f.rbuf[:need]
	if n, err := f.rb.Read(buf); err != nil || n != need {
		return false
	}
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return true
}

// Len returns the number of queued samples.
func (f *FIFO) Len() int {
	return f.rb.Length() / 2
}

// Reset discards all queued samples.
func (f *FIFO) Reset() {
	f.rb.Reset()
}

// Queues are the four sample FIFOs shared between the network side and the
// audio pipeline. The network side produces into the In queues and
// consumes the Out queues.
type Queues struct {
	TxIn, TxOut *FIFO
	RxIn, RxOut *FIFO
}

// DefaultFIFOSamples holds a little over one second at 24 kHz.
const DefaultFIFOSamples = 32768

func NewQueues(capacitySamples int) Queues {
	return Queues{
		TxIn:  NewFIFO(capacitySamples),
		TxOut: NewFIFO(capacitySamples),
		RxIn:  NewFIFO(capacitySamples),
		RxOut: NewFIFO(capacitySamples),
	}
}
