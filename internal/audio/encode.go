package audio

import (
	"bytes"
	"fmt"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// EncodeWAV encodes mono float32 PCM samples as a 16-bit PCM WAV at sampleRate.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	return EncodeWAVFormat(samples, Format{SampleRate: sampleRate, Channels: 1, BitDepth: BitDepth, PCM: true})
}

// EncodeWAVFormat encodes interleaved float32 samples using the rate, channel
// count and bit depth of f.
func EncodeWAVFormat(samples []float32, f Format) ([]byte, error) {
	if f.SampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.BitDepth == 0 {
		f.BitDepth = BitDepth
	}

	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker; bytes.Buffer is not one.
	sw := &seekBuffer{buf: &buf}

	enc := wav.NewEncoder(sw, f.SampleRate, f.BitDepth, f.Channels, pcmFormatTag)

	pcmBuf := &goaudio.Float32Buffer{
		Data:           clampAll(samples),
		Format:         &goaudio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels},
		SourceBitDepth: f.BitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return nil, fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return buf.Bytes(), nil
}

func clampAll(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = max(-1, min(1, s))
	}

	return out
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}
	// Writing in the middle (header patch on Close): overwrite in place.
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		data = append(data, p[n:]...)
		s.buf.Reset()
		s.buf.Write(data)
		n = len(p)
	}
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case 0: // io.SeekStart
		newPos = int(offset)
	case 1: // io.SeekCurrent
		newPos = s.pos + int(offset)
	case 2: // io.SeekEnd
		newPos = s.buf.Len() + int(offset)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seek before start")
	}
	s.pos = newPos
	return int64(newPos), nil
}
