package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Downmix averages interleaved multi-channel samples into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}

	return out
}

// Resample converts mono samples from one rate to another. Equal rates
// return the input unchanged. The output length is len(samples)*to/from,
// rounded, so the filter tail is flushed rather than dropped.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from < 1 || to < 1 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}

	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	res := make([]float32, 0, want)

	// Process may reuse its output buffer, so convert before flushing.
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", from, to, err)
	}
	res = appendF32(res, out, want)

	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush resampler %d -> %d: %w", from, to, err)
	}
	res = appendF32(res, tail, want)

	// Pad if the filter delivered fewer than want samples.
	return res[:want], nil
}

func appendF32(dst []float32, src []float64, limit int) []float32 {
	for _, s := range src {
		if len(dst) == limit {
			break
		}
		dst = append(dst, float32(s))
	}

	return dst
}

// Canonicalize turns interleaved samples in format f into mono 16 kHz samples.
func Canonicalize(samples []float32, f Format) ([]float32, error) {
	mono := Downmix(samples, f.Channels)

	return Resample(mono, f.SampleRate, SampleRate)
}
