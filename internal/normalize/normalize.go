// Package normalize turns uploaded reference audio of any container into the
// canonical mono 16 kHz PCM WAV form consumed by the inference engine.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/spark-tts-server/internal/audio"
)

var (
	// ErrNormalizationFailed wraps every failure to produce canonical audio.
	ErrNormalizationFailed = errors.New("audio normalization failed")
	// ErrUnreadableAudio marks uploads that are empty or not decodable.
	ErrUnreadableAudio = errors.New("unreadable audio upload")
)

// ReferenceAudio is a raw upload together with its declared filename.
type ReferenceAudio struct {
	Data     []byte
	Filename string
}

// Ext returns the lower-cased declared extension including the dot.
func (r ReferenceAudio) Ext() string {
	return strings.ToLower(filepath.Ext(r.Filename))
}

// NormalizedAudio points at a canonical WAV owned by the caller's Scratch.
type NormalizedAudio struct {
	Path       string
	Source     audio.Format
	Transcoded bool
	Resampled  bool
}

// Normalizer converts ReferenceAudio into NormalizedAudio.
type Normalizer struct {
	transcoder Transcoder
	log        *slog.Logger
}

// New returns a Normalizer that delegates non-WAV input to t.
func New(t Transcoder, log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}

	return &Normalizer{transcoder: t, log: log}
}

// IsWAV reports whether a declared extension names a WAV container.
func IsWAV(ext string) bool {
	return ext == ".wav" || ext == ".wave"
}

// Normalize writes ref into scratch as canonical audio. WAV uploads that are
// already canonical are written unchanged; other WAVs are converted in
// process; everything else goes through the transcoder exactly once. All
// intermediate files are tracked by scratch and removed by its Release.
func (n *Normalizer) Normalize(ctx context.Context, scratch *Scratch, ref ReferenceAudio) (*NormalizedAudio, error) {
	if len(ref.Data) == 0 {
		return nil, fmt.Errorf("%w: %w: empty upload %q", ErrNormalizationFailed, ErrUnreadableAudio, ref.Filename)
	}

	if IsWAV(ref.Ext()) {
		return n.fromWAV(scratch, ref)
	}

	return n.transcode(ctx, scratch, ref)
}

func (n *Normalizer) fromWAV(scratch *Scratch, ref ReferenceAudio) (*NormalizedAudio, error) {
	f, err := audio.Probe(ref.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %q: %w", ErrNormalizationFailed, ErrUnreadableAudio, ref.Filename, err)
	}

	if f.IsCanonical() {
		path, err := scratch.WriteFile("ref-*.wav", ref.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
		}

		return &NormalizedAudio{Path: path, Source: f}, nil
	}

	samples, _, err := audio.DecodeWAV(ref.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrNormalizationFailed, ErrUnreadableAudio, err)
	}

	mono, err := audio.Canonicalize(samples, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
	}

	data, err := audio.EncodeWAV(mono, audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
	}

	path, err := scratch.WriteFile("ref-*.wav", data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
	}

	n.log.Debug("reference wav canonicalized",
		slog.String("source_format", f.String()),
		slog.Int("samples", len(mono)),
	)

	return &NormalizedAudio{Path: path, Source: f, Resampled: true}, nil
}

func (n *Normalizer) transcode(ctx context.Context, scratch *Scratch, ref ReferenceAudio) (*NormalizedAudio, error) {
	if n.transcoder == nil {
		return nil, fmt.Errorf("%w: no transcoder configured for %q", ErrNormalizationFailed, ref.Ext())
	}

	ext := ref.Ext()
	if ext == "" {
		ext = ".bin"
	}

	inPath, err := scratch.WriteFile("upload-*"+ext, ref.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
	}

	outPath, err := scratch.Reserve("ref-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
	}

	target := Target{SampleRate: audio.SampleRate, Channels: audio.Channels, Format: "wav"}
	if err := n.transcoder.Transcode(ctx, inPath, outPath, target); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read transcoded output: %w", ErrNormalizationFailed, err)
	}

	f, err := audio.Probe(data)
	if err != nil {
		return nil, fmt.Errorf("%w: transcoder output: %w", ErrNormalizationFailed, err)
	}
	if !f.IsCanonical() {
		return nil, fmt.Errorf("%w: transcoder produced %s", ErrNormalizationFailed, f)
	}

	n.log.Debug("reference audio transcoded",
		slog.String("ext", ref.Ext()),
		slog.Int("input_bytes", len(ref.Data)),
		slog.Int("output_bytes", len(data)),
	)

	return &NormalizedAudio{Path: outPath, Source: f, Transcoded: true}, nil
}
