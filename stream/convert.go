package stream

import (
	"encoding/binary"
	"math"

	"github.com/kc2g-flex-tools/flexdv/vita"
)

const fullScale = 32767

// toSample soft-clips a float sample and rounds it to 16 bits.
func toSample(f float32) int16 {
	return int16(math.Round(math.Tanh(float64(f)) * fullScale))
}

// decodeStereo converts the first channel of each interleaved stereo pair
// in a waveform payload into dst and returns the number of samples.
func decodeStereo(payload []byte, dst []int16) int {
	n := min(len(payload)/8, len(dst))
	for i := 0; i < n; i++ {
		bits := binary.BigEndian.Uint32(payload[i*8:])
		dst[i] = toSample(math.Float32frombits(bits))
	}
	return n
}

// encodeStereo scales samples by gain and duplicates each into both
// channels of dst.
func encodeStereo(samples []int16, gain float32, dst vita.SamplePayload) vita.SamplePayload {
	dst = dst[:0]
	for _, s := range samples {
		f := float32(s) / fullScale * gain
		dst = append(dst, f, f)
	}
	return dst
}
