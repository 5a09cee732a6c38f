package vita

import (
	"encoding/binary"
	"math"
)

// Payload is one of RawPayload, SamplePayload or MeterPayload.
type Payload interface {
	size() int
	appendTo(dst []byte) []byte
}

// RawPayload is uninterpreted payload bytes, used for discovery text.
type RawPayload []byte

func (p RawPayload) size() int { return len(p) }

func (p RawPayload) appendTo(dst []byte) []byte { return append(dst, p...) }

// SamplePayload holds IEEE-754 32-bit IF samples. Audio streams interleave
// two identical channels per sample.
type SamplePayload []float32

func (p SamplePayload) size() int { return len(p) * 4 }

func (p SamplePayload) appendTo(dst []byte) []byte {
	for _, s := range p {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

type Meter struct {
	ID    uint16
	Value int16
}

type MeterPayload []Meter

func (p MeterPayload) size() int { return len(p) * 4 }

func (p MeterPayload) appendTo(dst []byte) []byte {
	for _, m := range p {
		dst = binary.BigEndian.AppendUint16(dst, m.ID)
		dst = binary.BigEndian.AppendUint16(dst, uint16(m.Value))
	}
	return dst
}

// MeterValue converts a dB reading into the radio's fixed-point meter
// representation (1/128 dB steps), saturating at the int16 range.
func MeterValue(db float32) int16 {
	v := math.Round(float64(db) * 128)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
