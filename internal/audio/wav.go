package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoSamples is returned for a nil or empty sample array.
	ErrNoSamples = errors.New("no audio samples")
	// ErrNonFinite is returned when a sample is NaN or infinite.
	ErrNonFinite = errors.New("non-finite audio sample")
)

// CheckSamples verifies that samples form a usable audio signal: non-empty
// and free of NaN/Inf values.
func CheckSamples(samples []float32) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}

	return nil
}

// Duration returns the playback length of mono samples at sampleRate, in seconds.
func Duration(samples []float32, sampleRate int) float64 {
	if sampleRate < 1 {
		return 0
	}

	return float64(len(samples)) / float64(sampleRate)
}
