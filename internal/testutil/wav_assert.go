package testutil

import (
	"bytes"
	"testing"

	"github.com/example/spark-tts-server/internal/audio"
)

// AssertValidWAV fails tb unless data is a non-empty canonical WAV
// (mono, 16 kHz, 16-bit PCM) that decodes cleanly.
func AssertValidWAV(tb testing.TB, data []byte) {
	tb.Helper()

	decodeCanonical(tb, data)
}

// AssertWAVDurationApprox asserts that the canonical WAV duration falls within
// [minSec, maxSec].
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	samples := decodeCanonical(tb, data)
	if d := audio.Duration(samples, audio.SampleRate); d < minSec || d > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", d, minSec, maxSec)
	}
}

func decodeCanonical(tb testing.TB, data []byte) []float32 {
	tb.Helper()

	if !bytes.HasPrefix(data, []byte("RIFF")) {
		tb.Fatalf("WAV: missing RIFF header (%d bytes)", len(data))
	}

	f, err := audio.Probe(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}
	if !f.PCM {
		tb.Fatalf("WAV: not integer PCM: %s", f)
	}

	samples, err := audio.DecodeCanonical(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}
	if err := audio.CheckSamples(samples); err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	return samples
}
