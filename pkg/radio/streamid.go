package radio

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamID represents a FlexRadio VITA stream identifier
type StreamID uint32

// String returns the stream ID formatted as a hex string
func (s StreamID) String() string {
	return fmt.Sprintf("0x%08X", uint32(s))
}

// IsValid returns true if the stream ID is non-zero
func (s StreamID) IsValid() bool {
	return s != 0
}

// ParseStreamID parses a hex string, with or without a 0x prefix, into a
// StreamID
func ParseStreamID(s string) (StreamID, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	id, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse stream id %q: %w", s, err)
	}
	return StreamID(id), nil
}

// StreamSet is the set of stream ids a waveform exchanges audio on, as
// negotiated with the radio.
type StreamSet struct {
	TxIn, TxOut StreamID
	RxIn, RxOut StreamID
}

// ParseStreamSet extracts tx_in, tx_out, rx_in and rx_out from a parsed
// parameter map. ok is false unless all four are present and valid.
func ParseStreamSet(params map[string]string) (set StreamSet, ok bool) {
	fields := []struct {
		key string
		dst *StreamID
	}{
		{"tx_in", &set.TxIn},
		{"tx_out", &set.TxOut},
		{"rx_in", &set.RxIn},
		{"rx_out", &set.RxOut},
	}
	for _, f := range fields {
		v, found := params[f.key]
		if !found {
			return StreamSet{}, false
		}
		id, err := ParseStreamID(v)
		if err != nil || !id.IsValid() {
			return StreamSet{}, false
		}
		*f.dst = id
	}
	return set, true
}
