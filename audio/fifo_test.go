package audio

import (
	"bytes"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFIFOAllOrNothing(t *testing.T) {
	f := NewFIFO(4)
	require.True(t, f.Write([]int16{1, -2, 3}))
	assert.Equal(t, 3, f.Len())

	assert.False(t, f.Write([]int16{4, 5}), "only one slot free")
	assert.Equal(t, 3, f.Len())

	out := make([]int16, 4)
	assert.False(t, f.Read(out))
	assert.Equal(t, 3, f.Len())

	out = out[:2]
	require.True(t, f.Read(out))
	assert.Equal(t, []int16{1, -2}, out)

	f.Reset()
	assert.Zero(t, f.Len())
}

func TestFIFOPreservesSamples(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOfN(rapid.Int16(), 1, 512).Draw(t, "in")
		f := NewFIFO(512)
		require.True(t, f.Write(in))
		out := make([]int16, len(in))
		require.True(t, f.Read(out))
		assert.Equal(t, in, out)
	})
}

func TestGainFromDB(t *testing.T) {
	assert.InDelta(t, 1.0, GainFromDB(0), 1e-9)
	assert.InDelta(t, 2.8184, GainFromDB(9), 1e-4)
	assert.InDelta(t, 0.5012, GainFromDB(-6), 1e-4)
}

func TestPassthroughStep(t *testing.T) {
	q := NewQueues(64)
	p := NewPassthrough(q, 10*time.Millisecond, log.New(&bytes.Buffer{}))

	require.True(t, q.RxIn.Write([]int16{1, 2, 3}))
	require.True(t, q.TxIn.Write([]int16{9}))
	p.Step()

	assert.Zero(t, q.RxIn.Len())
	rx := make([]int16, 3)
	require.True(t, q.RxOut.Read(rx))
	assert.Equal(t, []int16{1, 2, 3}, rx)
	tx := make([]int16, 1)
	require.True(t, q.TxOut.Read(tx))
	assert.Equal(t, []int16{9}, tx)
}

func TestPassthroughReportsRxLevel(t *testing.T) {
	q := NewQueues(64)
	p := NewPassthrough(q, 10*time.Millisecond, log.New(&bytes.Buffer{}))
	var levels []float32
	p.OnRxLevel = func(db float32) { levels = append(levels, db) }

	p.Step()
	assert.Empty(t, levels, "nothing moved")

	require.True(t, q.RxIn.Write([]int16{32767, -32767}))
	require.True(t, q.TxIn.Write([]int16{100}))
	p.Step()
	require.Len(t, levels, 1)
	assert.InDelta(t, 0, levels[0], 0.01)
}

func TestLevelDBFS(t *testing.T) {
	assert.Equal(t, float32(-100), LevelDBFS(nil))
	assert.Equal(t, float32(-100), LevelDBFS([]int16{0, 0}))
	assert.InDelta(t, -6.02, LevelDBFS([]int16{16384, -16384}), 0.01)
}
