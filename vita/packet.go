// Package vita encodes and decodes the VITA-49 packets a SmartSDR radio
// exchanges with waveforms: discovery broadcasts, waveform audio and meters.
package vita

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	HeaderSize     = 28
	MaxPayloadSize = 1440
	MaxPacketSize  = HeaderSize + MaxPayloadSize

	// MaxSamples is the number of 32-bit words a payload can carry.
	MaxSamples = MaxPayloadSize / 4
)

const (
	PacketTypeIFData  uint8 = 0x18
	PacketTypeExtData uint8 = 0x38
)

var (
	ErrShortPacket      = errors.New("packet shorter than VITA header")
	ErrForeignPacket    = errors.New("packet class id is not FlexRadio")
	ErrTruncated        = errors.New("packet shorter than its length field")
	ErrPayloadAlignment = errors.New("payload length is not a multiple of 4")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum VITA payload")
)

// Header is the fixed 28-byte prefix of every packet. All fields are
// big-endian on the wire.
type Header struct {
	PacketType    uint8
	TimestampType uint8
	// Length counts 32-bit words, header included.
	Length        uint16
	StreamID      uint32
	ClassID       uint64
	TimestampInt  uint32
	TimestampFrac uint64
}

// PayloadSize reports the payload byte count implied by Length.
func (h Header) PayloadSize() int {
	n := int(h.Length)*4 - HeaderSize
	if n < 0 {
		return 0
	}
	return n
}

// OUI returns the vendor tag embedded in the class id.
func (h Header) OUI() uint32 {
	return uint32(h.ClassID>>32) & OUIMask
}

type Packet struct {
	Header
	Payload Payload
}

// Encode serializes p into a new buffer. Length is derived from the
// payload and written back into p.
func Encode(p *Packet) ([]byte, error) {
	return AppendEncode(make([]byte, 0, MaxPacketSize), p)
}

// AppendEncode is like Encode but appends to dst.
func AppendEncode(dst []byte, p *Packet) ([]byte, error) {
	size := 0
	if p.Payload != nil {
		size = p.Payload.size()
	}
	if size%4 != 0 {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadAlignment, size)
	}
	if size > MaxPayloadSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
	}
	p.Length = uint16((HeaderSize + size) / 4)

	dst = appendHeader(dst, p.Header)
	if p.Payload != nil {
		dst = p.Payload.appendTo(dst)
	}
	return dst, nil
}

func appendHeader(dst []byte, h Header) []byte {
	dst = append(dst, h.PacketType, h.TimestampType)
	dst = binary.BigEndian.AppendUint16(dst, h.Length)
	dst = binary.BigEndian.AppendUint32(dst, h.StreamID)
	dst = binary.BigEndian.AppendUint64(dst, h.ClassID)
	dst = binary.BigEndian.AppendUint32(dst, h.TimestampInt)
	dst = binary.BigEndian.AppendUint64(dst, h.TimestampFrac)
	return dst
}

// DecodeHeader parses the fixed header and rejects packets that are too
// short or were not sent by a FlexRadio.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortPacket
	}
	h := Header{
		PacketType:    b[0],
		TimestampType: b[1],
		Length:        binary.BigEndian.Uint16(b[2:4]),
		StreamID:      binary.BigEndian.Uint32(b[4:8]),
		ClassID:       binary.BigEndian.Uint64(b[8:16]),
		TimestampInt:  binary.BigEndian.Uint32(b[16:20]),
		TimestampFrac: binary.BigEndian.Uint64(b[20:28]),
	}
	if h.OUI() != FlexOUI {
		return h, ErrForeignPacket
	}
	return h, nil
}

// Decode parses a whole datagram. The payload variant is chosen from the
// packet's classification: discovery packets carry raw text, meter packets
// carry id/value pairs and everything else carries float samples.
func Decode(b []byte) (*Packet, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	n := h.PayloadSize()
	if HeaderSize+n > len(b) {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncated, HeaderSize+n, len(b))
	}
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	body := b[HeaderSize : HeaderSize+n]

	p := &Packet{Header: h}
	switch Classify(h) {
	case KindDiscovery, KindOther:
		p.Payload = RawPayload(append([]byte(nil), body...))
	case KindMeter:
		p.Payload = decodeMeters(body)
	default:
		p.Payload = decodeSamples(body)
	}
	return p, nil
}

func decodeSamples(b []byte) SamplePayload {
	out := make(SamplePayload, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out
}

func decodeMeters(b []byte) MeterPayload {
	out := make(MeterPayload, len(b)/4)
	for i := range out {
		out[i] = Meter{
			ID:    binary.BigEndian.Uint16(b[i*4:]),
			Value: int16(binary.BigEndian.Uint16(b[i*4+2:])),
		}
	}
	return out
}
