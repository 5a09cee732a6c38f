package vita

import "time"

// Integer timestamp kinds (TSI).
const (
	TSINone  uint8 = 0
	TSIUTC   uint8 = 1
	TSIGPS   uint8 = 2
	TSIOther uint8 = 3
)

// Fractional timestamp kinds (TSF).
const (
	TSFNone        uint8 = 0
	TSFSampleCount uint8 = 1
	TSFRealTime    uint8 = 2
	TSFFreeRunning uint8 = 3
)

// TimestampType packs the TSI, TSF and 4-bit packet count into the second
// header byte.
func TimestampType(tsi, tsf uint8, count uint8) uint8 {
	return (tsi&0x3)<<6 | (tsf&0x3)<<4 | count&0xF
}

// SplitTimestampType is the inverse of TimestampType.
func SplitTimestampType(b uint8) (tsi, tsf, count uint8) {
	return b >> 6, (b >> 4) & 0x3, b & 0xF
}

// SetRealTime stamps h with UTC seconds and nanoseconds.
func SetRealTime(h *Header, t time.Time, count uint8) {
	h.TimestampType = TimestampType(TSIUTC, TSFRealTime, count)
	h.TimestampInt = uint32(t.Unix())
	h.TimestampFrac = uint64(t.Nanosecond())
}

// SetSequence stamps h the legacy way: UTC seconds with the packet
// sequence number stored in the fractional field.
func SetSequence(h *Header, t time.Time, seq uint64) {
	h.TimestampType = TimestampType(TSIUTC, TSFSampleCount, uint8(seq))
	h.TimestampInt = uint32(t.Unix())
	h.TimestampFrac = seq
}
