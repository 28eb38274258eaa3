package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// Canonical format: the only shape the inference engine accepts as reference
// audio and the shape every synthesized file is written in.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16
)

// pcmFormatTag is the WAVE format code for integer PCM.
const pcmFormatTag = 1

var (
	// ErrFormatMismatch is returned when a decoded WAV is not canonical.
	ErrFormatMismatch = errors.New("WAV format mismatch")
	// ErrInvalidWAV is returned for input that is not a readable RIFF/WAVE file.
	ErrInvalidWAV = errors.New("invalid WAV file")
)

// Format describes the stream parameters of a WAV file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	PCM        bool
}

// Canonical is the mono 16 kHz 16-bit PCM format.
func Canonical() Format {
	return Format{SampleRate: SampleRate, Channels: Channels, BitDepth: BitDepth, PCM: true}
}

// IsCanonical reports whether f is mono 16 kHz 16-bit integer PCM.
func (f Format) IsCanonical() bool {
	return f == Canonical()
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit (pcm=%t)", f.SampleRate, f.Channels, f.BitDepth, f.PCM)
}

func newDecoder(data []byte) (*wav.Decoder, Format, error) {
	if len(data) == 0 {
		return nil, Format{}, fmt.Errorf("%w: empty input", ErrInvalidWAV)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, ErrInvalidWAV
	}

	f := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		PCM:        dec.WavAudioFormat == pcmFormatTag,
	}
	if f.SampleRate < 1 || f.Channels < 1 {
		return nil, Format{}, fmt.Errorf("%w: %s", ErrInvalidWAV, f)
	}

	return dec, f, nil
}

// Probe reads only the WAV header and returns its format.
func Probe(data []byte) (Format, error) {
	_, f, err := newDecoder(data)
	return f, err
}

// DecodeWAV decodes any PCM WAV and returns interleaved float32 samples in
// [-1, 1] together with the source format.
func DecodeWAV(data []byte) ([]float32, Format, error) {
	dec, f, err := newDecoder(data)
	if err != nil {
		return nil, Format{}, err
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, f, nil
}

// DecodeCanonical decodes a WAV and validates that it is mono 16 kHz 16-bit PCM.
func DecodeCanonical(data []byte) ([]float32, error) {
	samples, f, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	if f.SampleRate != SampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, f.SampleRate, SampleRate)
	}
	if f.Channels != Channels {
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, f.Channels, Channels)
	}
	if f.BitDepth != BitDepth {
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, f.BitDepth, BitDepth)
	}

	return samples, nil
}
