package audio

import "math"

// SampleRate is the radio's waveform audio rate.
const SampleRate = 24000

// GainFromDB converts a dB figure to a linear amplitude factor.
func GainFromDB(db float64) float64 {
	return math.Exp(db / 20 * math.Ln10)
}
