// Package testutil holds deterministic signal generators shared by tests.
package testutil

import (
	"math"
	"math/rand"
)

// Sine generates a 16-bit sine wave at freqHz.
func Sine(freqHz float64, sampleRate int, amplitude float64, length int) []int16 {
	out := make([]int16, length)
	step := 2 * math.Pi * freqHz / float64(sampleRate)
	for i := range out {
		out[i] = clip(amplitude * math.Sin(step*float64(i)))
	}
	return out
}

// Noise generates uniform white noise in [-amplitude, amplitude] with a fixed
// seed for reproducibility.
func Noise(seed int64, amplitude float64, length int) []int16 {
	out := make([]int16, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = clip((rng.Float64()*2 - 1) * amplitude)
	}
	return out
}

// Silence returns length zero samples.
func Silence(length int) []int16 {
	return make([]int16, length)
}

func clip(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
