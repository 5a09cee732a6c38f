package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamID(t *testing.T) {
	for _, in := range []string{"0x84000001", "0X84000001", "84000001"} {
		id, err := ParseStreamID(in)
		require.NoError(t, err, in)
		assert.Equal(t, StreamID(0x84000001), id)
	}
	_, err := ParseStreamID("stream")
	assert.Error(t, err)
	assert.Equal(t, "0x0000002A", StreamID(42).String())
}

func TestParseStreamSet(t *testing.T) {
	set, ok := ParseStreamSet(map[string]string{
		"tx_in": "0x81000001", "tx_out": "0x01000001",
		"rx_in": "0x81000000", "rx_out": "0x01000000",
	})
	require.True(t, ok)
	assert.Equal(t, StreamSet{TxIn: 0x81000001, TxOut: 0x01000001, RxIn: 0x81000000, RxOut: 0x01000000}, set)

	_, ok = ParseStreamSet(map[string]string{"tx_in": "0x81000001"})
	assert.False(t, ok)

	_, ok = ParseStreamSet(map[string]string{"tx_in": "0", "tx_out": "1", "rx_in": "2", "rx_out": "3"})
	assert.False(t, ok)
}
